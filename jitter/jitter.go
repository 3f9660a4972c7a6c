// Package jitter derives cryptographically-bound micro-delays from a
// session secret.
//
// A delay ("jitter") is a small, bounded number of microseconds attached
// to one input event. The value is an HMAC-SHA256 of the event payload
// under the session secret, mapped into a configured range, so the
// sequence of delays can only be produced by someone holding the secret
// while the events occurred. The Phys engine additionally folds a
// hardware timing sample into each value; the Pure engine uses the
// secret and input alone.
package jitter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"physjitter/entropy"
)

// JitterDomainTag separates jitter HMACs from every other use of the
// session secret. It is part of the v1 wire format.
const JitterDomainTag = "physjitter/v1/jitter"

// Default engine configuration.
const (
	DefaultMinJitter      = 500  // microseconds
	DefaultRange          = 2500 // so delays land in [500, 3000)
	DefaultMinEntropyBits = 8
)

// ErrZeroRange rejects engine construction with an empty jitter range.
var ErrZeroRange = errors.New("jitter: range must be positive")

// InsufficientEntropyError reports a hardware sample below the
// configured entropy floor.
type InsufficientEntropyError struct {
	Required uint8
	Found    uint8
}

func (e *InsufficientEntropyError) Error() string {
	return fmt.Sprintf("jitter: insufficient entropy: %d bits found, %d required",
		e.Found, e.Required)
}

// Engine maps (secret, input, entropy) to a delay in microseconds.
// Implementations are deterministic over their inputs.
type Engine interface {
	ComputeJitter(secret *[32]byte, inputs []byte, ent entropy.PhysHash) uint32
}

// Pure derives jitter from the secret and inputs alone:
//
//	jmin + be_u64(HMAC-SHA256(secret, tag || inputs)[0:8]) mod range
//
// The modulo bias of a 64-bit value over a range below 2^16 is
// negligible. The secret only enters the constant-time HMAC; the modulo
// operates on a public-range integer.
type Pure struct {
	min uint32
	rng uint32
}

// NewPure creates a Pure engine for delays in [min, min+rng).
func NewPure(min, rng uint32) (*Pure, error) {
	if rng == 0 {
		return nil, ErrZeroRange
	}
	return &Pure{min: min, rng: rng}, nil
}

// DefaultPure returns a Pure engine with the default 500..3000 range.
func DefaultPure() *Pure {
	return &Pure{min: DefaultMinJitter, rng: DefaultRange}
}

// ComputeJitter implements Engine. The entropy argument is ignored.
func (p *Pure) ComputeJitter(secret *[32]byte, inputs []byte, _ entropy.PhysHash) uint32 {
	return p.derive(secret, nil, inputs)
}

// derive runs the tagged HMAC and maps the leading 8 bytes into range.
func (p *Pure) derive(secret *[32]byte, prefix, inputs []byte) uint32 {
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(JitterDomainTag))
	mac.Write(prefix)
	mac.Write(inputs)
	sum := mac.Sum(nil)

	raw := binary.BigEndian.Uint64(sum[:8])
	return p.min + uint32(raw%uint64(p.rng))
}

// Min returns the lower bound of the delay range.
func (p *Pure) Min() uint32 { return p.min }

// Range returns the width of the delay range.
func (p *Pure) Range() uint32 { return p.rng }

// Phys couples an entropy source with the HMAC mapping. The entropy
// hash is prepended to the inputs before the HMAC; the advisory bits
// value is never part of the MAC preimage.
type Phys struct {
	pure    Pure
	source  entropy.Source
	minBits uint8
}

// NewPhys creates a Phys engine over the given source for delays in
// [min, min+rng), rejecting samples below minBits of estimated entropy.
func NewPhys(source entropy.Source, min, rng uint32, minBits uint8) (*Phys, error) {
	if rng == 0 {
		return nil, ErrZeroRange
	}
	return &Phys{
		pure:    Pure{min: min, rng: rng},
		source:  source,
		minBits: minBits,
	}, nil
}

// ComputeJitter implements Engine using an already-collected sample.
func (p *Phys) ComputeJitter(secret *[32]byte, inputs []byte, ent entropy.PhysHash) uint32 {
	return p.pure.derive(secret, ent.Hash[:], inputs)
}

// Sample draws a fresh entropy sample, enforces the floor, and computes
// the delay. The returned PhysHash is the exact sample bound into the
// delay.
func (p *Phys) Sample(secret *[32]byte, inputs []byte) (uint32, entropy.PhysHash, error) {
	ph, err := p.source.Sample(inputs)
	if err != nil {
		return 0, entropy.PhysHash{}, err
	}
	if !entropy.Validate(ph, p.minBits) {
		return 0, ph, &InsufficientEntropyError{Required: p.minBits, Found: ph.Bits}
	}
	return p.ComputeJitter(secret, inputs, ph), ph, nil
}

// MinBits returns the configured entropy floor.
func (p *Phys) MinBits() uint8 { return p.minBits }
