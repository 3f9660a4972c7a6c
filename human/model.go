// Package human validates collected jitter sequences against a
// statistical model of human keystroke timing.
//
// A Model runs a fixed battery of anomaly detectors over the ordered
// delay sequence (and, when available, the inter-key intervals) and
// reports every detector that fires. A sequence is considered human
// exactly when no detector fires. Short sequences are inconclusive and
// pass by default: absence of evidence is not evidence of automation.
package human

import (
	"fmt"
	"math"
	"time"
)

// AnomalyKind identifies one detector.
type AnomalyKind int

const (
	// AnomalyOutOfRange fires when a delay falls outside the model range.
	AnomalyOutOfRange AnomalyKind = iota
	// AnomalyPerfectTiming fires on three or more identical consecutive
	// delays.
	AnomalyPerfectTiming
	// AnomalyLowVariance fires when the sample standard deviation is
	// implausibly small.
	AnomalyLowVariance
	// AnomalyRepeatingPattern fires when a short period repeats exactly.
	AnomalyRepeatingPattern
	// AnomalyDistributionMismatch fires when the sample mean strays too
	// far from the model mean.
	AnomalyDistributionMismatch
	// AnomalyIntervalTooShort fires on inter-key intervals faster than
	// humanly possible.
	AnomalyIntervalTooShort
	// AnomalyIntervalTooLong fires on intervals long enough to indicate
	// the sequence is not continuous typing.
	AnomalyIntervalTooLong
)

func (k AnomalyKind) String() string {
	switch k {
	case AnomalyOutOfRange:
		return "out_of_range"
	case AnomalyPerfectTiming:
		return "perfect_timing"
	case AnomalyLowVariance:
		return "low_variance"
	case AnomalyRepeatingPattern:
		return "repeating_pattern"
	case AnomalyDistributionMismatch:
		return "distribution_mismatch"
	case AnomalyIntervalTooShort:
		return "interval_too_short"
	case AnomalyIntervalTooLong:
		return "interval_too_long"
	default:
		return "unknown"
	}
}

// Anomaly is one detector hit with a human-readable detail.
type Anomaly struct {
	Kind   AnomalyKind
	Detail string
}

// ValidationResult is the outcome of a validation run. Anomalies are
// ordered by detector.
type ValidationResult struct {
	IsHuman   bool
	Anomalies []Anomaly
}

// Params holds every model constant. Construct custom models by filling
// all fields; Baseline supplies the reference values.
type Params struct {
	// MeanMicros and StdDevMicros describe the expected delay
	// distribution.
	MeanMicros   float64
	StdDevMicros float64

	// RangeLowMicros and RangeHighMicros bound acceptable delays.
	RangeLowMicros  uint32
	RangeHighMicros uint32

	// MinIKI and MaxIKI bound plausible inter-key intervals.
	MinIKI time.Duration
	MaxIKI time.Duration

	// MinStdDevMicros is the variance floor below which typing looks
	// scripted.
	MinStdDevMicros float64

	// VarianceWindow is the minimum sample count before the variance
	// detector applies.
	VarianceWindow int

	// PatternWindow bounds the tail inspected for repeating patterns.
	PatternWindow int

	// MinSamples is the count below which validation is inconclusive.
	MinSamples int
}

// Model evaluates jitter sequences against fixed parameters.
type Model struct {
	params Params
}

// NewModel builds a model from explicit parameters.
func NewModel(p Params) *Model {
	return &Model{params: p}
}

// Baseline returns the model describing the aggregate delay
// distribution over the reference corpus of ~136M real keystrokes.
func Baseline() *Model {
	return NewModel(Params{
		MeanMicros:      1750,
		StdDevMicros:    250,
		RangeLowMicros:  500,
		RangeHighMicros: 3000,
		MinIKI:          30 * time.Millisecond,
		MaxIKI:          5 * time.Second,
		MinStdDevMicros: 25,
		VarianceWindow:  8,
		PatternWindow:   16,
		MinSamples:      4,
	})
}

// Params returns a copy of the model parameters.
func (m *Model) Params() Params { return m.params }

// Validate runs the five delay detectors in order over the jitter
// sequence. Sequences shorter than MinSamples are inconclusive and
// return IsHuman=true with no anomalies.
func (m *Model) Validate(jitters []uint32) ValidationResult {
	if len(jitters) < m.params.MinSamples {
		return ValidationResult{IsHuman: true}
	}

	var anomalies []Anomaly
	appendIf := func(a *Anomaly) {
		if a != nil {
			anomalies = append(anomalies, *a)
		}
	}

	appendIf(m.detectOutOfRange(jitters))
	appendIf(m.detectPerfectTiming(jitters))
	appendIf(m.detectLowVariance(jitters))
	appendIf(m.detectRepeatingPattern(jitters))
	appendIf(m.detectDistributionMismatch(jitters))

	return ValidationResult{IsHuman: len(anomalies) == 0, Anomalies: anomalies}
}

// ValidateWithIntervals runs Validate and additionally checks the
// inter-key intervals (nanoseconds between successive timestamps).
// The MinSamples gate applies to the jitter sequence.
func (m *Model) ValidateWithIntervals(jitters []uint32, intervalsNS []uint64) ValidationResult {
	if len(jitters) < m.params.MinSamples {
		return ValidationResult{IsHuman: true}
	}

	result := m.Validate(jitters)
	result.Anomalies = append(result.Anomalies, m.ValidateIKI(intervalsNS)...)
	result.IsHuman = len(result.Anomalies) == 0
	return result
}

// ValidateIKI checks inter-key intervals against the plausible bounds.
func (m *Model) ValidateIKI(intervalsNS []uint64) []Anomaly {
	tooShort, tooLong := 0, 0
	minNS := uint64(m.params.MinIKI.Nanoseconds())
	maxNS := uint64(m.params.MaxIKI.Nanoseconds())

	for _, iv := range intervalsNS {
		if iv < minNS {
			tooShort++
		} else if iv > maxNS {
			tooLong++
		}
	}

	var anomalies []Anomaly
	if tooShort > 0 {
		anomalies = append(anomalies, Anomaly{
			Kind:   AnomalyIntervalTooShort,
			Detail: fmt.Sprintf("%d intervals below %v", tooShort, m.params.MinIKI),
		})
	}
	if tooLong > 0 {
		anomalies = append(anomalies, Anomaly{
			Kind:   AnomalyIntervalTooLong,
			Detail: fmt.Sprintf("%d intervals above %v", tooLong, m.params.MaxIKI),
		})
	}
	return anomalies
}

func (m *Model) detectOutOfRange(jitters []uint32) *Anomaly {
	count := 0
	first := -1
	for i, j := range jitters {
		if j < m.params.RangeLowMicros || j > m.params.RangeHighMicros {
			count++
			if first < 0 {
				first = i
			}
		}
	}
	if count == 0 {
		return nil
	}
	return &Anomaly{
		Kind: AnomalyOutOfRange,
		Detail: fmt.Sprintf("%d delays outside [%d, %d]us, first at index %d",
			count, m.params.RangeLowMicros, m.params.RangeHighMicros, first),
	}
}

func (m *Model) detectPerfectTiming(jitters []uint32) *Anomaly {
	run, maxRun := 1, 1
	var value uint32
	for i := 1; i < len(jitters); i++ {
		if jitters[i] == jitters[i-1] {
			run++
			if run > maxRun {
				maxRun = run
				value = jitters[i]
			}
		} else {
			run = 1
		}
	}
	if maxRun < 3 {
		return nil
	}
	return &Anomaly{
		Kind:   AnomalyPerfectTiming,
		Detail: fmt.Sprintf("%d consecutive identical delays of %dus", maxRun, value),
	}
}

func (m *Model) detectLowVariance(jitters []uint32) *Anomaly {
	if len(jitters) < m.params.VarianceWindow {
		return nil
	}

	std := sampleStdDev(jitters)
	if std >= m.params.MinStdDevMicros {
		return nil
	}
	return &Anomaly{
		Kind: AnomalyLowVariance,
		Detail: fmt.Sprintf("standard deviation %.1fus below threshold %.1fus",
			std, m.params.MinStdDevMicros),
	}
}

// detectRepeatingPattern looks for an exact period p in {2..5} repeating
// at least three times within the tail window. Constant blocks are the
// perfect-timing detector's domain and are skipped here.
func (m *Model) detectRepeatingPattern(jitters []uint32) *Anomaly {
	window := jitters
	if m.params.PatternWindow > 0 && len(window) > m.params.PatternWindow {
		window = window[len(window)-m.params.PatternWindow:]
	}

	for p := 2; p <= 5; p++ {
		span := 3 * p // three full repetitions
		for start := 0; start+span <= len(window); start++ {
			if isConstant(window[start : start+p]) {
				continue
			}
			match := true
			for k := 0; k < span-p; k++ {
				if window[start+k] != window[start+k+p] {
					match = false
					break
				}
			}
			if match {
				return &Anomaly{
					Kind: AnomalyRepeatingPattern,
					Detail: fmt.Sprintf("period-%d pattern repeats 3+ times starting at window index %d",
						p, start),
				}
			}
		}
	}
	return nil
}

func (m *Model) detectDistributionMismatch(jitters []uint32) *Anomaly {
	mean := sampleMean(jitters)
	limit := 3 * m.params.StdDevMicros
	diff := math.Abs(mean - m.params.MeanMicros)
	if diff <= limit {
		return nil
	}
	return &Anomaly{
		Kind: AnomalyDistributionMismatch,
		Detail: fmt.Sprintf("sample mean %.1fus deviates %.1fus from model mean %.1fus (limit %.1fus)",
			mean, diff, m.params.MeanMicros, limit),
	}
}

func isConstant(vals []uint32) bool {
	for i := 1; i < len(vals); i++ {
		if vals[i] != vals[0] {
			return false
		}
	}
	return true
}

func sampleMean(vals []uint32) float64 {
	var sum float64
	for _, v := range vals {
		sum += float64(v)
	}
	return sum / float64(len(vals))
}

// sampleStdDev computes the n-1 denominator standard deviation.
func sampleStdDev(vals []uint32) float64 {
	if len(vals) < 2 {
		return 0
	}
	mean := sampleMean(vals)
	var sum float64
	for _, v := range vals {
		d := float64(v) - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}
