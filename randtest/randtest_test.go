package randtest_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Thiagojm/bbrng/randtest"
)

func TestMonobitAllZeros(t *testing.T) {
	r := randtest.Monobit(make([]byte, 1000))
	require.Equal(t, 0, r.Ones)
	require.Equal(t, 8000, r.Zeros)
	// 8000 zero bits is a z of sqrt(8000); p collapses to ~0
	require.InDelta(t, math.Sqrt(8000), r.Z, 1e-9)
	require.Less(t, r.P, 1e-12)
}

func TestMonobitBalanced(t *testing.T) {
	// 0xAA has four ones and four zeros per byte
	data := make([]byte, 512)
	for i := range data {
		data[i] = 0xAA
	}
	r := randtest.Monobit(data)
	require.Equal(t, r.Ones, r.Zeros)
	require.Equal(t, 0.0, r.Z)
	require.InDelta(t, 1.0, r.P, 1e-12)
}

func TestMonobitEmpty(t *testing.T) {
	r := randtest.Monobit(nil)
	require.Zero(t, r.Ones)
	require.Zero(t, r.Zeros)
	require.Zero(t, r.P)
	require.Zero(t, r.Z)
}

func TestRunsAlternatingBits(t *testing.T) {
	// 10101010... over 16 bytes: every bit alternates, 128 runs of length 1
	data := make([]byte, 16)
	for i := range data {
		data[i] = 0xAA
	}
	r := randtest.Runs(data)
	require.Equal(t, 128, r.Runs)
	require.InDelta(t, 65.0, r.Expected, 1e-9) // 1 + 2*64*64/128
	require.Less(t, r.P, 1e-12)
}

func TestRunsConstantBits(t *testing.T) {
	r := randtest.Runs([]byte{0xFF, 0xFF})
	require.Equal(t, 1, r.Runs)
	require.True(t, math.IsInf(r.Z, 1))
	require.Zero(t, r.P)
}

func TestRunsTinyInput(t *testing.T) {
	r := randtest.Runs(nil)
	require.Zero(t, r.Runs)
	require.Zero(t, r.P)
}

func TestShannonEntropyUniform(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	require.Equal(t, 8.0, randtest.ShannonEntropy(data))
}

func TestShannonEntropyDegenerate(t *testing.T) {
	require.Zero(t, randtest.ShannonEntropy(nil))
	// a constant byte carries no information
	require.Zero(t, randtest.ShannonEntropy(make([]byte, 100)))
}

func TestByteChiSquareUniform(t *testing.T) {
	// exactly uniform distribution gives a chi-square of zero
	data := make([]byte, 256*4)
	for i := range data {
		data[i] = byte(i % 256)
	}
	r := randtest.ByteChiSquare(data)
	require.Zero(t, r.Stat)
	// chi=0 is far below the df=255 expectation, p approaches 1
	require.Greater(t, r.P, 0.999)
}

func TestByteChiSquareConstant(t *testing.T) {
	// everything in one bin: chi = 255*n
	data := make([]byte, 1024)
	r := randtest.ByteChiSquare(data)
	require.InDelta(t, 255.0*1024, r.Stat, 1e-6)
	require.Less(t, r.P, 1e-12)
}

func TestByteChiSquareEmpty(t *testing.T) {
	r := randtest.ByteChiSquare(nil)
	require.Zero(t, r.Stat)
	require.Zero(t, r.P)
}

func TestSerialCorrelationAlternating(t *testing.T) {
	// 0,255,0,255... is perfectly anti-correlated at lag 1
	data := make([]byte, 64)
	for i := range data {
		if i%2 == 1 {
			data[i] = 255
		}
	}
	require.InDelta(t, -1.0, randtest.SerialCorrelation(data), 1e-9)
}

func TestSerialCorrelationRamp(t *testing.T) {
	// a repeated ramp is strongly positively correlated
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	require.Greater(t, randtest.SerialCorrelation(data), 0.9)
}

func TestSerialCorrelationDegenerate(t *testing.T) {
	require.Zero(t, randtest.SerialCorrelation(nil))
	require.Zero(t, randtest.SerialCorrelation([]byte{7}))
	// constant data has zero variance
	require.Zero(t, randtest.SerialCorrelation(make([]byte, 16)))
}

func TestAnalyzeAggregates(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	rep := randtest.Analyze(data)
	require.Equal(t, 256, rep.SampleSize)
	require.Equal(t, 8.0, rep.EntropyBitsPerByte)
	require.Equal(t, randtest.Monobit(data), rep.Monobit)
	require.Equal(t, randtest.Runs(data), rep.Runs)
	require.True(t, rep.Small())

	out := rep.String()
	require.Contains(t, out, "Sample size: 256 bytes")
	require.Contains(t, out, "Shannon entropy: 8.00000")
	require.Contains(t, out, "Byte chi-square:")
}

func TestLoadSampleRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.bin")
	want := []byte{0x00, 0x01, 0xFE, 0xFF}
	require.NoError(t, os.WriteFile(path, want, 0o644))

	got, err := randtest.LoadSample(path, false)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadSampleHex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.hex")
	require.NoError(t, os.WriteFile(path, []byte("  deadbeef\n"), 0o644))

	got, err := randtest.LoadSample(path, true)
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, got)
}

func TestLoadSampleBadHex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.hex")
	require.NoError(t, os.WriteFile(path, []byte("not hex"), 0o644))

	_, err := randtest.LoadSample(path, true)
	require.Error(t, err)
}
