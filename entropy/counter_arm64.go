//go:build arm64

package entropy

const counterAvailable = true

// readCounter returns the virtual counter-timer (CNTVCT_EL0).
// Implemented in counter_arm64.s.
func readCounter() uint64
