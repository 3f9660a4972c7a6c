package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"physjitter/entropy"
	"physjitter/evidence"
	"physjitter/human"
	"physjitter/jitter"
)

var zeroSecret [32]byte

// offlineSession builds a session with no usable hardware counter and a
// deterministic nanosecond clock starting at start+1.
func offlineSession(t *testing.T, secret [32]byte, start uint64) *Session {
	t.Helper()

	tick := start
	engine, err := jitter.NewHybrid(jitter.Config{
		MinEntropyBits: jitter.DefaultMinEntropyBits,
		MinJitter:      jitter.DefaultMinJitter,
		Range:          jitter.DefaultRange,
		Source:         &entropy.StaticSource{Err: entropy.ErrHardwareUnavailable},
		Now: func() uint64 {
			tick++
			return tick
		},
	})
	require.NoError(t, err)

	return WithEngine(secret, engine)
}

func TestSessionOfflineCollection(t *testing.T) {
	s := offlineSession(t, zeroSecret, 0)
	defer s.Close()

	for _, input := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		j, rec, err := s.Sample(input)
		require.NoError(t, err)
		assert.Equal(t, evidence.KindPure, rec.Kind)
		assert.Equal(t, j, rec.Jitter)
	}

	require.Equal(t, 3, s.Len())
	records := s.Records()
	for i, rec := range records {
		assert.Equal(t, uint64(i), rec.Sequence)
		assert.Equal(t, uint64(i+1), rec.TimestampNS)
	}

	assert.True(t, s.chain.ValidateSequences())
	assert.True(t, s.VerifyIntegrity())
	assert.Equal(t, 0.0, s.PhysRatio())
	assert.False(t, s.PhysAvailable())

	// Mutating a record's jitter breaks keyed verification.
	tampered := s.Records()
	tampered[1].Jitter = 12345
	assert.False(t, evidence.Verify(tampered, s.chain.MAC(), &zeroSecret))
}

func TestSessionShortSequenceInconclusive(t *testing.T) {
	s := offlineSession(t, zeroSecret, 0)
	defer s.Close()

	for _, input := range []string{"a", "b", "c"} {
		_, _, err := s.Sample([]byte(input))
		require.NoError(t, err)
	}

	result := s.Validate(human.Baseline())
	assert.True(t, result.IsHuman)
	assert.Empty(t, result.Anomalies)
}

func TestSessionUniformDelaysLookHuman(t *testing.T) {
	// HMAC-derived delays are uniform over [500, 3000): with a realistic
	// clock spacing none of the detectors should fire.
	secret := [32]byte{0x42}
	tick := uint64(0)
	engine, err := jitter.NewHybrid(jitter.Config{
		MinEntropyBits: 8,
		MinJitter:      500,
		Range:          2500,
		Source:         &entropy.StaticSource{Err: entropy.ErrHardwareUnavailable},
		Now: func() uint64 {
			tick += 120_000_000 // 120ms between keys
			return tick
		},
	})
	require.NoError(t, err)

	s := WithEngine(secret, engine)
	defer s.Close()

	for i := 0; i < 64; i++ {
		_, _, err := s.Sample([]byte{byte(i), byte(i >> 4), 0x5a})
		require.NoError(t, err)
	}

	result := s.Validate(human.Baseline())
	assert.True(t, result.IsHuman, "anomalies: %v", result.Anomalies)
}

func TestSessionImpossibleEntropyFloor(t *testing.T) {
	// A floor of 64 bits on a source delivering ~15: every sample falls
	// back to Pure.
	engine, err := jitter.NewHybrid(jitter.Config{
		MinEntropyBits: 64,
		MinJitter:      500,
		Range:          2500,
		Source:         &entropy.StaticSource{Counters: []uint64{0, 13, 14, 90, 95, 300, 301, 1000}},
		Now:            func() uint64 { return 1 },
	})
	require.NoError(t, err)

	s := WithEngine(zeroSecret, engine)
	defer s.Close()

	for i := 0; i < 8; i++ {
		_, rec, err := s.Sample([]byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, evidence.KindPure, rec.Kind)
	}
	assert.Equal(t, 0.0, s.PhysRatio())
	assert.False(t, s.PhysAvailable())
}

func TestSessionPhysPath(t *testing.T) {
	engine, err := jitter.NewHybrid(jitter.Config{
		MinEntropyBits: 4,
		MinJitter:      500,
		Range:          2500,
		Source:         &entropy.StaticSource{Counters: []uint64{0, 13, 14, 90, 95, 300, 301, 1000}},
		Now:            func() uint64 { return 7 },
	})
	require.NoError(t, err)

	s := WithEngine(zeroSecret, engine)
	defer s.Close()

	_, rec, err := s.Sample([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, evidence.KindPhys, rec.Kind)
	require.NotNil(t, rec.Entropy)
	assert.True(t, s.PhysAvailable())
	assert.Equal(t, 1.0, s.PhysRatio())
	assert.True(t, s.VerifyIntegrity())
}

func TestSessionExportImportRoundTrip(t *testing.T) {
	s := offlineSession(t, zeroSecret, 100)
	defer s.Close()

	for i := 0; i < 5; i++ {
		_, _, err := s.Sample([]byte{byte(i)})
		require.NoError(t, err)
	}

	data, err := s.ExportJSON()
	require.NoError(t, err)

	imported, err := Import(zeroSecret, data)
	require.NoError(t, err)
	defer imported.Close()

	assert.Equal(t, s.Records(), imported.Records())
	assert.True(t, imported.VerifyIntegrity())

	// Sampling resumes after the last imported record.
	_, rec, err := imported.Sample([]byte("next"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.Sequence)
}

func TestSessionImportRejectsTamper(t *testing.T) {
	s := offlineSession(t, zeroSecret, 0)
	defer s.Close()

	_, _, err := s.Sample([]byte("a"))
	require.NoError(t, err)

	data, err := s.ExportJSON()
	require.NoError(t, err)

	tampered := []byte(string(data))
	// Bump the jitter value in place.
	for i := range tampered {
		if tampered[i] == ':' && i > 8 && string(tampered[i-8:i]) == `"jitter"` {
			tampered[i+2] ^= 0x01
			break
		}
	}
	require.NotEqual(t, data, tampered)

	_, err = Import(zeroSecret, tampered)
	assert.True(t, errors.Is(err, evidence.ErrChainMACMismatch))
}

func TestSessionImportWrongSecret(t *testing.T) {
	s := offlineSession(t, zeroSecret, 0)
	defer s.Close()

	_, _, err := s.Sample([]byte("a"))
	require.NoError(t, err)

	data, err := s.ExportJSON()
	require.NoError(t, err)

	wrong := [32]byte{0xff}
	_, err = Import(wrong, data)
	assert.True(t, errors.Is(err, evidence.ErrChainMACMismatch))
}

func TestSessionClose(t *testing.T) {
	s := offlineSession(t, zeroSecret, 0)

	_, _, err := s.Sample([]byte("a"))
	require.NoError(t, err)

	s.Close()
	s.Close() // idempotent

	_, _, err = s.Sample([]byte("b"))
	assert.True(t, errors.Is(err, ErrClosed))

	_, err = s.ExportJSON()
	assert.True(t, errors.Is(err, ErrClosed))

	assert.False(t, s.VerifyIntegrity())
}

func TestRandomSessionsDistinct(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	defer a.Close()

	b, err := Random()
	require.NoError(t, err)
	defer b.Close()

	// Distinct secrets produce distinct chain MACs for the same input.
	_, ra, err := a.Sample([]byte("same"))
	require.NoError(t, err)
	_, rb, err := b.Sample([]byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a.chain.MAC(), b.chain.MAC())
	assert.Equal(t, ra.InputHash, rb.InputHash)
}

func TestDeriveSessionSecret(t *testing.T) {
	master := []byte("a sufficiently long master key material")

	a, err := DeriveSessionSecret(master, "document-1")
	require.NoError(t, err)
	b, err := DeriveSessionSecret(master, "document-1")
	require.NoError(t, err)
	c, err := DeriveSessionSecret(master, "document-2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, [32]byte{}, a)

	_, err = DeriveSessionSecret(nil, "ctx")
	assert.Error(t, err)
}
