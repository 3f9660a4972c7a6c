package jitter

import (
	"crypto/sha256"
	"time"

	"physjitter/entropy"
	"physjitter/evidence"
)

// Config tunes a Hybrid engine. Start from DefaultConfig and adjust.
type Config struct {
	// MinEntropyBits is the floor below which a hardware sample is
	// discarded in favor of the Pure fallback.
	MinEntropyBits uint8

	// MinJitter and Range bound the delay: [MinJitter, MinJitter+Range).
	MinJitter uint32
	Range     uint32

	// Source supplies entropy samples. Nil selects the platform timing
	// counter.
	Source entropy.Source

	// Now returns the current monotonic wall clock in nanoseconds.
	// Nil selects the system clock. Tests inject fixed timestamps here.
	Now func() uint64
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MinEntropyBits: DefaultMinEntropyBits,
		MinJitter:      DefaultMinJitter,
		Range:          DefaultRange,
	}
}

// Hybrid tries the Phys engine for every event and falls back to Pure
// on hardware failure or insufficient entropy, marking each record with
// the engine that produced it. Sampling never fails: evidence
// collection is never silently dropped.
//
// The Phys/Pure branch is decided solely from public values (hardware
// availability, the advisory entropy estimate, configuration); no
// secret bits influence the decision.
type Hybrid struct {
	phys *Phys
	pure *Pure

	now func() uint64

	physAvailable bool
}

// NewHybrid builds a Hybrid engine and probes the entropy source once.
func NewHybrid(cfg Config) (*Hybrid, error) {
	if cfg.Range == 0 {
		return nil, ErrZeroRange
	}

	source := cfg.Source
	if source == nil {
		source = entropy.NewTimingSource()
	}

	phys, err := NewPhys(source, cfg.MinJitter, cfg.Range, cfg.MinEntropyBits)
	if err != nil {
		return nil, err
	}
	pure, err := NewPure(cfg.MinJitter, cfg.Range)
	if err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		// Wall-clock origin advanced by the monotonic reading, so the
		// value never steps backwards.
		base := time.Now()
		now = func() uint64 { return uint64(base.UnixNano()) + uint64(time.Since(base)) }
	}

	h := &Hybrid{phys: phys, pure: pure, now: now}

	// Probe: one sample decides whether the hardware path is usable at
	// all. Individual samples are still attempted per event.
	if ph, err := source.Sample(nil); err == nil && entropy.Validate(ph, cfg.MinEntropyBits) {
		h.physAvailable = true
	}

	return h, nil
}

// Sample computes the delay and evidence record for one input event.
// The sequence number is assigned by the caller (the owning Session);
// the engine itself is stateless across events.
func (h *Hybrid) Sample(secret *[32]byte, sequence uint64, inputs []byte) (uint32, evidence.Record) {
	ts := h.now()
	inputHash := sha256.Sum256(inputs)

	if j, ph, err := h.phys.Sample(secret, inputs); err == nil {
		ent := ph
		return j, evidence.Record{
			Kind:        evidence.KindPhys,
			Sequence:    sequence,
			TimestampNS: ts,
			InputHash:   inputHash,
			Entropy:     &ent,
			Jitter:      j,
		}
	}

	// Hardware failure or a low-entropy sample: fall back to Pure.
	j := h.pure.ComputeJitter(secret, inputs, entropy.PhysHash{})
	return j, evidence.Record{
		Kind:        evidence.KindPure,
		Sequence:    sequence,
		TimestampNS: ts,
		InputHash:   inputHash,
		Jitter:      j,
	}
}

// PhysAvailable reports whether the construction-time probe produced a
// high-entropy hardware sample.
func (h *Hybrid) PhysAvailable() bool { return h.physAvailable }

// MinJitter returns the lower bound of the delay range.
func (h *Hybrid) MinJitter() uint32 { return h.pure.Min() }

// Range returns the width of the delay range.
func (h *Hybrid) Range() uint32 { return h.pure.Range() }

// MinEntropyBits returns the configured entropy floor.
func (h *Hybrid) MinEntropyBits() uint8 { return h.phys.MinBits() }
