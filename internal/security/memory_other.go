//go:build !unix

// Package security provides memory hygiene primitives for secret material.
//
// On this platform no memory locking is attempted; buffers are still
// wiped on Destroy.
package security

import (
	"runtime"
	"sync"
)

// Buffer is a byte slice that is zeroed when destroyed.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

// NewBuffer allocates a Buffer of the given size.
func NewBuffer(size int) *Buffer {
	b := &Buffer{data: make([]byte, size)}

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
	b.data = nil
}
