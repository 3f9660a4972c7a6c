package jitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"physjitter/entropy"
	"physjitter/evidence"
)

// noisyCounters produce a high-variance delta sequence estimating to
// 15 bits, comfortably above the default 8-bit entropy floor.
var noisyCounters = []uint64{0, 13, 14, 90, 95, 300, 301, 1000}

func fixedClock(start uint64) func() uint64 {
	t := start
	return func() uint64 {
		t++
		return t
	}
}

func TestHybridPhysPath(t *testing.T) {
	h, err := NewHybrid(Config{
		MinEntropyBits: 4,
		MinJitter:      500,
		Range:          2500,
		Source:         &entropy.StaticSource{Counters: noisyCounters},
		Now:            fixedClock(0),
	})
	require.NoError(t, err)
	assert.True(t, h.PhysAvailable())

	j, rec := h.Sample(&testSecret, 0, []byte("a"))

	assert.Equal(t, evidence.KindPhys, rec.Kind)
	assert.Equal(t, uint64(0), rec.Sequence)
	assert.Equal(t, j, rec.Jitter)
	require.NotNil(t, rec.Entropy)
	assert.GreaterOrEqual(t, rec.Entropy.Bits, uint8(4))
	assert.True(t, j >= 500 && j < 3000)
}

func TestHybridFallbackOnHardwareFailure(t *testing.T) {
	h, err := NewHybrid(Config{
		MinEntropyBits: 8,
		MinJitter:      500,
		Range:          2500,
		Source:         &entropy.StaticSource{Err: entropy.ErrHardwareUnavailable},
		Now:            fixedClock(0),
	})
	require.NoError(t, err)
	assert.False(t, h.PhysAvailable())

	j, rec := h.Sample(&testSecret, 0, []byte("a"))

	assert.Equal(t, evidence.KindPure, rec.Kind)
	assert.Nil(t, rec.Entropy)
	assert.Equal(t, j, rec.Jitter)

	// The Pure fallback matches a standalone Pure engine: the evidence
	// remains externally recomputable.
	pure := DefaultPure()
	assert.Equal(t, pure.ComputeJitter(&testSecret, []byte("a"), entropy.PhysHash{}), j)
}

func TestHybridFallbackOnLowEntropy(t *testing.T) {
	// The noisy counters estimate to roughly 15 bits; a floor of 64
	// rejects every sample, as it would on real hardware delivering
	// ~12 bits.
	h, err := NewHybrid(Config{
		MinEntropyBits: 64,
		MinJitter:      500,
		Range:          2500,
		Source:         &entropy.StaticSource{Counters: noisyCounters},
		Now:            fixedClock(0),
	})
	require.NoError(t, err)

	for i := uint64(0); i < 8; i++ {
		_, rec := h.Sample(&testSecret, i, []byte{byte(i)})
		if rec.Kind != evidence.KindPure {
			t.Fatalf("sample %d: expected pure fallback, got %s", i, rec.Kind)
		}
	}
}

func TestHybridTimestampsFromClock(t *testing.T) {
	h, err := NewHybrid(Config{
		MinEntropyBits: 0,
		MinJitter:      500,
		Range:          2500,
		Source:         &entropy.StaticSource{Counters: noisyCounters},
		Now:            fixedClock(100),
	})
	require.NoError(t, err)

	_, r0 := h.Sample(&testSecret, 0, []byte("a"))
	_, r1 := h.Sample(&testSecret, 1, []byte("b"))

	assert.Equal(t, uint64(101), r0.TimestampNS)
	assert.Equal(t, uint64(102), r1.TimestampNS)
}

func TestHybridInputHash(t *testing.T) {
	h, err := NewHybrid(Config{
		MinEntropyBits: 0,
		MinJitter:      500,
		Range:          2500,
		Source:         &entropy.StaticSource{Counters: noisyCounters},
		Now:            fixedClock(0),
	})
	require.NoError(t, err)

	_, rec := h.Sample(&testSecret, 0, []byte("abc"))

	// InputHash is the SHA-256 of the caller-supplied bytes.
	// sha256("abc") is the classic FIPS 180 test vector.
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		hexString(rec.InputHash))
}

func hexString(h [32]byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = digits[b>>4]
		out[i*2+1] = digits[b&0x0f]
	}
	return string(out)
}

func TestHybridDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint8(DefaultMinEntropyBits), cfg.MinEntropyBits)
	assert.Equal(t, uint32(DefaultMinJitter), cfg.MinJitter)
	assert.Equal(t, uint32(DefaultRange), cfg.Range)

	cfg.Source = &entropy.StaticSource{Counters: noisyCounters}
	h, err := NewHybrid(cfg)
	require.NoError(t, err)

	assert.Equal(t, uint32(500), h.MinJitter())
	assert.Equal(t, uint32(2500), h.Range())
	assert.Equal(t, uint8(8), h.MinEntropyBits())
}

func TestHybridDeterministicEvidence(t *testing.T) {
	// Two engines over identical sources and clocks produce identical
	// evidence streams for identical inputs.
	build := func() *Hybrid {
		h, err := NewHybrid(Config{
			MinEntropyBits: 0,
			MinJitter:      500,
			Range:          2500,
			Source:         &entropy.StaticSource{Counters: noisyCounters},
			Now:            fixedClock(0),
		})
		require.NoError(t, err)
		return h
	}

	a := build()
	b := build()

	for i := uint64(0); i < 5; i++ {
		_, ra := a.Sample(&testSecret, i, []byte{byte(i)})
		_, rb := b.Sample(&testSecret, i, []byte{byte(i)})
		if !ra.Equal(&rb) {
			t.Fatalf("sample %d: evidence diverged", i)
		}
	}
}
