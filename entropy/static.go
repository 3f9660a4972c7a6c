package entropy

// StaticSource replays a fixed set of counter values instead of reading
// hardware. It computes the same mix as TimingSource, so tests can pin
// the exact PhysHash an engine will see. A non-nil Err is returned from
// every Sample call, which makes the source double as a hardware-failure
// stand-in.
type StaticSource struct {
	Counters []uint64
	Err      error
}

// Sample mixes inputs with the stored counter values.
func (s *StaticSource) Sample(inputs []byte) (PhysHash, error) {
	if s.Err != nil {
		return PhysHash{}, s.Err
	}
	return mixCounters(inputs, s.Counters), nil
}
