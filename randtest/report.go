package randtest

import (
	"fmt"
	"strings"
)

// Report aggregates all five statistics for one sample. It is a pure
// function of the input bytes; no state is kept between analyses.
type Report struct {
	SampleSize         int
	Monobit            MonobitResult
	Runs               RunsResult
	ChiSquare          ChiSquareResult
	EntropyBitsPerByte float64
	SerialCorrelation  float64
}

// Analyze computes a full Report over data. All statistics tolerate empty or
// near-empty input, reporting sentinel values instead of failing.
func Analyze(data []byte) Report {
	return Report{
		SampleSize:         len(data),
		Monobit:            Monobit(data),
		Runs:               Runs(data),
		ChiSquare:          ByteChiSquare(data),
		EntropyBitsPerByte: ShannonEntropy(data),
		SerialCorrelation:  SerialCorrelation(data),
	}
}

// Small reports whether the sample is too small for the results to be taken
// seriously.
func (r Report) Small() bool { return r.SampleSize < SmallSampleThreshold }

// String renders the report as a multi-line console block.
func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sample size: %d bytes\n", r.SampleSize)
	fmt.Fprintf(&sb, "Shannon entropy: %.5f / 8.00000 bits/byte\n", r.EntropyBitsPerByte)
	fmt.Fprintf(&sb, "Serial correlation: %.6f\n", r.SerialCorrelation)
	sb.WriteString("\nMonobit frequency:\n")
	fmt.Fprintf(&sb, "  ones: %d zeros: %d\n", r.Monobit.Ones, r.Monobit.Zeros)
	fmt.Fprintf(&sb, "  z: %.4f p-value: %.6f\n", r.Monobit.Z, r.Monobit.P)
	sb.WriteString("\nRuns test:\n")
	fmt.Fprintf(&sb, "  runs: %d expected: %.2f\n", r.Runs.Runs, r.Runs.Expected)
	fmt.Fprintf(&sb, "  z: %.4f p-value: %.6f\n", r.Runs.Z, r.Runs.P)
	sb.WriteString("\nByte chi-square:\n")
	fmt.Fprintf(&sb, "  chi^2: %.2f df=255 p~: %.6f\n", r.ChiSquare.Stat, r.ChiSquare.P)
	return sb.String()
}
