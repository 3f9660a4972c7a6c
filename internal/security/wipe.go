package security

import (
	"crypto/subtle"
	"runtime"
)

// Wipe overwrites a byte slice with zeros.
func Wipe(data []byte) {
	wipeBytes(data)
}

// Wipe32 overwrites a 32-byte array with zeros.
func Wipe32(data *[32]byte) {
	wipeBytes(data[:])
}

func wipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}

	for i := range data {
		data[i] = 0
	}

	// Keep the slice alive until the writes complete.
	runtime.KeepAlive(data)
}

// ConstantTimeCompare compares two byte slices in constant time.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeEqual32 compares two 32-byte values in constant time.
func ConstantTimeEqual32(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
