//go:build unix

// Package security provides memory hygiene primitives for secret material.
//
// Secrets handled by this module (session seeds, derived chain keys) live
// in Buffer values: the backing memory is wiped on Destroy and, where the
// platform allows it, locked against swapping.
package security

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a byte slice that is zeroed when destroyed.
// Use it for seeds, derived keys, and anything else that must not
// outlive its owner in readable memory.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// NewBuffer allocates a Buffer of the given size.
// The memory is locked with mlock when privileges allow; failure to lock
// is not fatal.
func NewBuffer(size int) *Buffer {
	b := &Buffer{data: make([]byte, size)}
	b.lock()

	runtime.SetFinalizer(b, func(b *Buffer) {
		b.Destroy()
	})

	return b
}

// BufferFrom copies data into a new Buffer and wipes the original slice.
func BufferFrom(data []byte) *Buffer {
	b := NewBuffer(len(data))
	copy(b.data, data)
	Wipe(data)
	return b
}

// Bytes returns the underlying slice. Do not retain it; the memory is
// invalid after Destroy.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Len returns the buffer length, or 0 after Destroy.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Destroy wipes and releases the buffer. Safe to call more than once.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return
	}

	wipeBytes(b.data)
	if b.locked {
		b.unlock()
	}
	b.data = nil
}

func (b *Buffer) lock() {
	if len(b.data) == 0 {
		return
	}

	if err := unix.Mlock(b.data); err == nil {
		b.locked = true
	}
}

func (b *Buffer) unlock() {
	if len(b.data) == 0 {
		return
	}

	unix.Munlock(b.data)
	b.locked = false
}
