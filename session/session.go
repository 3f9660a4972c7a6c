// Package session ties the engines, the evidence chain, and the session
// secret together.
//
// A Session exclusively owns one 32-byte secret: the secret keys the
// evidence chain, drives the jitter HMACs, and is scrubbed from memory
// when the session is closed. One session, one chain, one thread at a
// time; sessions are not safe for concurrent use.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"physjitter/evidence"
	"physjitter/human"
	"physjitter/internal/security"
	"physjitter/jitter"
)

// ErrClosed rejects operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Session owns a zeroizing secret, a hybrid engine, and a keyed
// evidence chain. Sequence numbers are assigned here, monotonically
// from zero.
type Session struct {
	secret *security.Buffer
	engine *jitter.Hybrid
	chain  *evidence.Chain
	seq    uint64
	closed bool
}

// New creates a session over a keyed chain derived from secret, using
// the default hybrid engine. The local copy of the secret is wiped; the
// caller should discard its own.
func New(secret [32]byte) (*Session, error) {
	engine, err := jitter.NewHybrid(jitter.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return WithEngine(secret, engine), nil
}

// WithEngine creates a session with a caller-configured hybrid engine.
func WithEngine(secret [32]byte, engine *jitter.Hybrid) *Session {
	chain := evidence.NewKeyedChain(&secret)
	return &Session{
		secret: security.BufferFrom(secret[:]),
		engine: engine,
		chain:  chain,
	}
}

// Random creates a session with a fresh secret from the OS CSPRNG.
func Random() (*Session, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("session: generate secret: %w", err)
	}
	return New(secret)
}

// DeriveSessionSecret derives a per-session secret from a master key
// using HKDF-SHA256 extract-then-expand with the context string as the
// info parameter.
func DeriveSessionSecret(masterKey []byte, context string) ([32]byte, error) {
	var secret [32]byte
	if len(masterKey) == 0 {
		return secret, errors.New("session: empty master key")
	}

	r := hkdf.New(sha256.New, masterKey, nil, []byte(context))
	if _, err := io.ReadFull(r, secret[:]); err != nil {
		return secret, fmt.Errorf("session: derive secret: %w", err)
	}
	return secret, nil
}

// Sample computes the jitter and evidence record for one input event
// and appends the record to the chain. It fails only on a closed
// session or a regressing injected clock; under normal operation every
// event yields a record, falling back to the Pure variant on any
// hardware-level failure.
func (s *Session) Sample(inputs []byte) (uint32, *evidence.Record, error) {
	if s.closed {
		return 0, nil, ErrClosed
	}

	j, rec := s.engine.Sample(s.secretRef(), s.seq, inputs)
	if err := s.chain.Append(rec); err != nil {
		return 0, nil, err
	}
	s.seq++

	return j, &rec, nil
}

// Validate extracts the delay sequence and inter-key intervals from the
// chain and evaluates them against the model.
func (s *Session) Validate(m *human.Model) human.ValidationResult {
	records := s.chain.Records()

	jitters := make([]uint32, len(records))
	for i := range records {
		jitters[i] = records[i].Jitter
	}

	var intervals []uint64
	if len(records) > 1 {
		intervals = make([]uint64, len(records)-1)
		for i := 1; i < len(records); i++ {
			intervals[i-1] = records[i].TimestampNS - records[i-1].TimestampNS
		}
	}

	return m.ValidateWithIntervals(jitters, intervals)
}

// ExportJSON serializes the chain with its stored MAC.
func (s *Session) ExportJSON() ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.chain.ExportJSON()
}

// Import reconstructs a session from an exported chain. The secret must
// be the one that keyed the chain; the MAC is recomputed on import and
// a mismatch fails. Sampling resumes after the last imported record.
func Import(secret [32]byte, data []byte) (*Session, error) {
	chain, err := evidence.ImportJSON(data, &secret)
	if err != nil {
		return nil, err
	}

	engine, err := jitter.NewHybrid(jitter.DefaultConfig())
	if err != nil {
		chain.Destroy()
		return nil, err
	}

	return &Session{
		secret: security.BufferFrom(secret[:]),
		engine: engine,
		chain:  chain,
		seq:    uint64(chain.Len()),
	}, nil
}

// VerifyIntegrity recomputes the chain MAC under the owned secret and
// compares it to the stored MAC in constant time.
func (s *Session) VerifyIntegrity() bool {
	if s.closed {
		return false
	}
	return s.chain.VerifyIntegrity()
}

// PhysRatio returns the fraction of Phys records in the chain.
func (s *Session) PhysRatio() float64 { return s.chain.PhysRatio() }

// PhysAvailable reports whether the engine's construction probe found
// usable hardware entropy.
func (s *Session) PhysAvailable() bool { return s.engine.PhysAvailable() }

// Len returns the number of collected records.
func (s *Session) Len() int { return s.chain.Len() }

// Records returns a copy of the collected evidence.
func (s *Session) Records() []evidence.Record { return s.chain.Records() }

// Close scrubs the secret and the derived chain key. Safe to call more
// than once; all operations fail afterwards.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.secret.Destroy()
	s.chain.Destroy()
}

// secretRef views the owned secret as a fixed-size array pointer for
// the HMAC paths. The memory stays owned by the session buffer.
func (s *Session) secretRef() *[32]byte {
	return (*[32]byte)(s.secret.Bytes())
}
