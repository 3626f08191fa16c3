// Package randtest runs basic statistical randomness diagnostics over a byte
// sample: monobit frequency, Wald-Wolfowitz bit runs, 256-bin byte
// chi-square, Shannon entropy per byte and circular lag-1 serial
// correlation.
//
// These are sanity checks, not a substitute for full suites like NIST STS or
// Dieharder. For reliable assessment use larger samples, multiple MB and up.
package randtest

import (
	"math"
	"math/bits"
)

// SmallSampleThreshold is the sample size in bytes below which results are
// considered unreliable.
const SmallSampleThreshold = 1024

// MonobitResult reports the bit-level ones/zeros imbalance.
type MonobitResult struct {
	P     float64
	Z     float64
	Ones  int
	Zeros int
}

// RunsResult reports the maximal same-bit run count against the binomial
// expectation.
type RunsResult struct {
	P        float64
	Z        float64
	Runs     int
	Expected float64
}

// ChiSquareResult reports the 256-bin byte frequency statistic (df=255) and
// an approximate p-value.
type ChiSquareResult struct {
	Stat float64
	P    float64
}

// Monobit runs the monobit frequency test. For a random sample the number of
// one bits is binomial around n/2, so z = |ones-zeros|/sqrt(n) and the
// two-sided p-value is erfc(z/sqrt(2)). Empty input yields zeros throughout.
func Monobit(data []byte) MonobitResult {
	n := len(data) * 8
	if n == 0 {
		return MonobitResult{}
	}
	ones := 0
	for _, b := range data {
		ones += bits.OnesCount8(b)
	}
	zeros := n - ones
	z := math.Abs(float64(ones-zeros)) / math.Sqrt(float64(n))
	return MonobitResult{
		P:     math.Erfc(z / math.Sqrt2),
		Z:     z,
		Ones:  ones,
		Zeros: zeros,
	}
}

// Runs runs the Wald-Wolfowitz runs test on the bit sequence (MSB first in
// each byte). Degenerate inputs return sentinels rather than failing: fewer
// than two bits yields all zeros, and a constant bit stream yields one run
// with a zero p-value and an infinite z.
func Runs(data []byte) RunsResult {
	n := len(data) * 8
	if n < 2 {
		return RunsResult{}
	}
	ones := 0
	for _, b := range data {
		ones += bits.OnesCount8(b)
	}
	zeros := n - ones
	if ones == 0 || zeros == 0 {
		return RunsResult{Runs: 1, Z: math.Inf(1)}
	}

	runs := 1
	prev := data[0] >> 7
	for i := 1; i < n; i++ {
		bit := (data[i/8] >> (7 - uint(i%8))) & 1
		if bit != prev {
			runs++
			prev = bit
		}
	}

	oz := float64(ones) * float64(zeros)
	fn := float64(n)
	expected := 1 + 2*oz/fn
	variance := (2 * oz * (2*oz - fn)) / (fn * fn * (fn - 1))
	if variance <= 0 {
		return RunsResult{Runs: runs, Expected: expected, Z: math.Inf(1)}
	}
	z := (float64(runs) - expected) / math.Sqrt(variance)
	return RunsResult{
		P:        math.Erfc(math.Abs(z) / math.Sqrt2),
		Z:        z,
		Runs:     runs,
		Expected: expected,
	}
}

// ByteChiSquare computes the chi-square statistic of the byte value
// distribution over 256 bins with df=255. The p-value comes from the
// Wilson-Hilferty cube-root normal approximation; rough, but indicative.
func ByteChiSquare(data []byte) ChiSquareResult {
	n := len(data)
	if n == 0 {
		return ChiSquareResult{}
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	expected := float64(n) / 256.0
	chi := 0.0
	for _, c := range counts {
		diff := float64(c) - expected
		chi += diff * diff / expected
	}

	const df = 255.0
	c := math.Cbrt(chi / df)
	mu := 1 - 2/(9*df)
	sigma := math.Sqrt(2 / (9 * df))
	z := (c - mu) / sigma
	p := 1 - 0.5*(1+math.Erf(z/math.Sqrt2))
	return ChiSquareResult{Stat: chi, P: p}
}

// ShannonEntropy returns the empirical entropy of the byte distribution in
// bits per byte, at most 8.0 for a uniform distribution. Empty input is 0.
func ShannonEntropy(data []byte) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// SerialCorrelation returns the circular lag-1 Pearson correlation
// coefficient over byte values, or 0 when the variance denominator vanishes
// or the sample has fewer than two bytes.
func SerialCorrelation(data []byte) float64 {
	n := len(data)
	if n < 2 {
		return 0
	}
	var s1, s2, s12 float64
	for i, b := range data {
		v := float64(b)
		s1 += v
		s2 += v * v
		s12 += v * float64(data[(i+1)%n])
	}
	fn := float64(n)
	numerator := fn*s12 - s1*s1
	denominator := fn*s2 - s1*s1
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
