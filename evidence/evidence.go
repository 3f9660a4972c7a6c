// Package evidence implements tamper-evident evidence records and the
// append-only chain that binds them together.
//
// Each record links one input event to its computed jitter. The chain
// carries a running 32-byte MAC updated on every append:
//
//	chain_mac' = H(chain_mac || canonical_bytes(record))
//
// where H is unkeyed SHA-256, or HMAC-SHA256 under a key derived from
// the session secret for keyed chains. Hashing always operates on the
// canonical binary encoding, never on JSON, so the MAC is reproducible
// across platforms and serializer versions.
package evidence

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"physjitter/entropy"
	"physjitter/internal/security"
)

// ChainDomainTag separates the chain MAC key from every other use of
// the session secret. It is part of the v1 wire format.
const ChainDomainTag = "physjitter/v1/chain"

// Evidence errors.
var (
	ErrSequenceGap         = errors.New("evidence: sequence discontinuity")
	ErrTimestampRegression = errors.New("evidence: timestamp regression")
	ErrMalformedRecord     = errors.New("evidence: malformed record")
	ErrChainMACMismatch    = errors.New("evidence: chain MAC mismatch")
)

// Kind tags the evidence variant.
type Kind uint8

const (
	// KindPhys marks a record produced with hardware timing entropy.
	KindPhys Kind = 0x01
	// KindPure marks a record produced from the secret and input alone.
	KindPure Kind = 0x02
)

func (k Kind) String() string {
	switch k {
	case KindPhys:
		return "phys"
	case KindPure:
		return "pure"
	default:
		return "unknown"
	}
}

// Record is one immutable evidence entry.
//
// Entropy is present exactly when Kind is KindPhys. Adding a future
// variant is a breaking wire-format change and would require a new
// domain tag.
type Record struct {
	Kind        Kind
	Sequence    uint64
	TimestampNS uint64
	InputHash   [32]byte
	Entropy     *entropy.PhysHash
	Jitter      uint32
}

// canonicalSize is the encoded length: tag + sequence + timestamp +
// input hash + jitter, plus entropy hash + bits for Phys records.
const (
	canonicalSizePure = 1 + 8 + 8 + 32 + 4
	canonicalSizePhys = canonicalSizePure + 32 + 1
)

// CanonicalBytes returns the deterministic binary encoding used for all
// hashing and MAC computation. Field order and widths are fixed by the
// v1 wire format:
//
//	tag(1) || sequence(8 BE) || timestamp_ns(8 BE) || input_hash(32)
//	|| [entropy_hash(32) || entropy_bits(1)] || jitter(4 BE)
func (r *Record) CanonicalBytes() []byte {
	size := canonicalSizePure
	if r.Kind == KindPhys {
		size = canonicalSizePhys
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(r.Kind))
	buf = binary.BigEndian.AppendUint64(buf, r.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, r.TimestampNS)
	buf = append(buf, r.InputHash[:]...)
	if r.Kind == KindPhys && r.Entropy != nil {
		buf = append(buf, r.Entropy.Hash[:]...)
		buf = append(buf, r.Entropy.Bits)
	}
	buf = binary.BigEndian.AppendUint32(buf, r.Jitter)
	return buf
}

// Equal compares two records without short-circuiting on the first
// differing byte. The variant tag (and therefore length) is public.
func (r *Record) Equal(o *Record) bool {
	return security.ConstantTimeCompare(r.CanonicalBytes(), o.CanonicalBytes())
}

// validate checks structural invariants before a record enters a chain.
func (r *Record) validate() error {
	switch r.Kind {
	case KindPhys:
		if r.Entropy == nil {
			return fmt.Errorf("%w: phys record without entropy", ErrMalformedRecord)
		}
		if r.Entropy.Bits > entropy.MaxBits {
			return fmt.Errorf("%w: entropy bits %d out of range", ErrMalformedRecord, r.Entropy.Bits)
		}
	case KindPure:
		if r.Entropy != nil {
			return fmt.Errorf("%w: pure record carries entropy", ErrMalformedRecord)
		}
	default:
		return fmt.Errorf("%w: unknown variant %#x", ErrMalformedRecord, byte(r.Kind))
	}
	return nil
}

// DeriveChainKey derives the keyed-chain MAC key from a session secret:
// HMAC-SHA256(secret, ChainDomainTag).
func DeriveChainKey(secret *[32]byte) [32]byte {
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(ChainDomainTag))

	var key [32]byte
	copy(key[:], mac.Sum(nil))
	return key
}

// Chain is an append-only sequence of evidence records with a running
// MAC. It is mutated only by Append; records are never reordered or
// deleted.
type Chain struct {
	records  []Record
	mac      [32]byte
	chainKey *security.Buffer // nil for unkeyed chains
}

// NewChain creates an empty unkeyed chain (SHA-256 stepping).
func NewChain() *Chain {
	return &Chain{}
}

// NewKeyedChain creates an empty chain whose MAC steps use HMAC-SHA256
// under a key derived from secret. The derived key is held in wiped,
// lock-backed memory; call Destroy when done.
func NewKeyedChain(secret *[32]byte) *Chain {
	key := DeriveChainKey(secret)
	return &Chain{chainKey: security.BufferFrom(key[:])}
}

// Append validates and appends a record, advancing the chain MAC.
// Sequence numbers must increase by exactly one from zero, and
// timestamps must be non-decreasing.
func (c *Chain) Append(r Record) error {
	if err := r.validate(); err != nil {
		return err
	}

	if want := uint64(len(c.records)); r.Sequence != want {
		return fmt.Errorf("%w: got %d, want %d", ErrSequenceGap, r.Sequence, want)
	}
	if n := len(c.records); n > 0 && r.TimestampNS < c.records[n-1].TimestampNS {
		return fmt.Errorf("%w: %d after %d", ErrTimestampRegression,
			r.TimestampNS, c.records[n-1].TimestampNS)
	}

	c.mac = c.step(c.mac, r.CanonicalBytes())
	c.records = append(c.records, r)
	return nil
}

// step computes one MAC transition.
func (c *Chain) step(prev [32]byte, canonical []byte) [32]byte {
	var h hash.Hash
	if c.chainKey != nil {
		h = hmac.New(sha256.New, c.chainKey.Bytes())
	} else {
		h = sha256.New()
	}
	h.Write(prev[:])
	h.Write(canonical)

	var next [32]byte
	copy(next[:], h.Sum(nil))
	return next
}

// Len returns the number of records.
func (c *Chain) Len() int { return len(c.records) }

// Records returns a copy of the record sequence.
func (c *Chain) Records() []Record {
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Record returns the record at index i.
func (c *Chain) Record(i int) Record { return c.records[i] }

// MAC returns the current chain MAC.
func (c *Chain) MAC() [32]byte { return c.mac }

// Keyed reports whether the chain steps with a derived HMAC key.
func (c *Chain) Keyed() bool { return c.chainKey != nil }

// PhysRatio returns the fraction of Phys records, or 0 for an empty
// chain.
func (c *Chain) PhysRatio() float64 {
	if len(c.records) == 0 {
		return 0
	}
	phys := 0
	for i := range c.records {
		if c.records[i].Kind == KindPhys {
			phys++
		}
	}
	return float64(phys) / float64(len(c.records))
}

// ValidateSequences reports whether sequence numbers are 0,1,2,... with
// no gap.
func (c *Chain) ValidateSequences() bool {
	for i := range c.records {
		if c.records[i].Sequence != uint64(i) {
			return false
		}
	}
	return true
}

// ValidateTimestamps reports whether timestamps are non-decreasing.
func (c *Chain) ValidateTimestamps() bool {
	for i := 1; i < len(c.records); i++ {
		if c.records[i].TimestampNS < c.records[i-1].TimestampNS {
			return false
		}
	}
	return true
}

// VerifyIntegrity recomputes the MAC from zero over all records and
// compares it to the stored MAC in constant time.
func (c *Chain) VerifyIntegrity() bool {
	var mac [32]byte
	for i := range c.records {
		mac = c.step(mac, c.records[i].CanonicalBytes())
	}
	return security.ConstantTimeEqual32(mac, c.mac)
}

// Verify recomputes a MAC over records and compares it to mac in
// constant time. Pass the session secret for keyed chains, nil for
// unkeyed ones.
func Verify(records []Record, mac [32]byte, secret *[32]byte) bool {
	c := NewChain()
	if secret != nil {
		c = NewKeyedChain(secret)
		defer c.Destroy()
	}

	var got [32]byte
	for i := range records {
		got = c.step(got, records[i].CanonicalBytes())
	}
	return security.ConstantTimeEqual32(got, mac)
}

// Destroy wipes the derived chain key, if any. The chain must not be
// appended to afterwards.
func (c *Chain) Destroy() {
	if c.chainKey != nil {
		c.chainKey.Destroy()
	}
}
