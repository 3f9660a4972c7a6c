package watcher

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"physjitter/evidence"
)

// fakeSampler records sampled inputs and fabricates evidence.
type fakeSampler struct {
	inputs [][]byte
	seq    uint64
	err    error
}

func (f *fakeSampler) Sample(inputs []byte) (uint32, *evidence.Record, error) {
	if f.err != nil {
		return 0, nil, f.err
	}

	in := make([]byte, len(inputs))
	copy(in, inputs)
	f.inputs = append(f.inputs, in)

	rec := &evidence.Record{
		Kind:      evidence.KindPure,
		Sequence:  f.seq,
		InputHash: sha256.Sum256(inputs),
		Jitter:    1234,
	}
	f.seq++
	return 1234, rec, nil
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	hash, size, err := hashFile(path)
	require.NoError(t, err)

	assert.Equal(t, sha256.Sum256([]byte("hello world")), hash)
	assert.Equal(t, int64(11), size)

	_, _, err = hashFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestWitnessSamplesContentHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("draft one"), 0o600))

	sampler := &fakeSampler{}
	w, err := New(sampler, []string{dir}, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.fs.Close()

	w.witness(path)

	require.Len(t, sampler.inputs, 1)
	expected := sha256.Sum256([]byte("draft one"))
	assert.Equal(t, expected[:], sampler.inputs[0])

	// An event was emitted.
	select {
	case ev := <-w.events:
		assert.Equal(t, path, ev.Path)
		assert.Equal(t, expected, ev.Hash)
		assert.Equal(t, uint32(1234), ev.Jitter)
	default:
		t.Fatal("no event emitted")
	}
}

func TestWitnessSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("stable"), 0o600))

	sampler := &fakeSampler{}
	w, err := New(sampler, []string{dir}, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.fs.Close()

	w.witness(path)
	w.witness(path)
	assert.Len(t, sampler.inputs, 1)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o600))
	w.witness(path)
	assert.Len(t, sampler.inputs, 2)
}

func TestSettledRespectsDebounce(t *testing.T) {
	sampler := &fakeSampler{}
	w, err := New(sampler, nil, 100*time.Millisecond)
	require.NoError(t, err)
	defer w.fs.Close()

	w.markDirty("/tmp/a")

	// Immediately after the change nothing has settled.
	assert.Empty(t, w.settled(time.Now()))

	// After the debounce window the path is ready exactly once.
	later := time.Now().Add(200 * time.Millisecond)
	assert.Equal(t, []string{"/tmp/a"}, w.settled(later))
	assert.Empty(t, w.settled(later))
}

func TestEndToEndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "story.md")

	sampler := &fakeSampler{}
	w, err := New(sampler, []string{dir}, 50*time.Millisecond)
	require.NoError(t, err)

	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("chapter one"), 0o600))

	select {
	case ev := <-w.Events():
		assert.Equal(t, path, ev.Path)
		assert.Equal(t, sha256.Sum256([]byte("chapter one")), ev.Hash)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for witness event")
	}
}

func TestNewRejectsNilSampler(t *testing.T) {
	_, err := New(nil, nil, time.Second)
	assert.Error(t, err)
}

func TestNewRejectsMissingPath(t *testing.T) {
	_, err := New(&fakeSampler{}, []string{"/nonexistent/path/here"}, time.Second)
	assert.Error(t, err)
}
