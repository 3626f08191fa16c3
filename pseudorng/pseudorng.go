// Package pseudorng is a software stand-in for the hardware entropy sources,
// useful as a control group when validating collected samples.
package pseudorng

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	mrand "math/rand"
)

// ReadBytes returns n bytes from the operating system CSPRNG.
func ReadBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("pseudorng: byte count must be positive")
	}
	buf := make([]byte, n)
	if _, err := crand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadBits returns bitCount random bits packed MSB-first per byte; unused
// trailing bits of the final byte are zeroed.
func ReadBits(bitCount int) ([]byte, error) {
	if bitCount <= 0 {
		return nil, errors.New("pseudorng: bit count must be positive")
	}
	data, err := ReadBytes((bitCount + 7) / 8)
	if err != nil {
		return nil, err
	}
	if extra := (8 - bitCount%8) % 8; extra != 0 {
		data[len(data)-1] &= 0xFF << extra
	}
	return data, nil
}

// Generator is a deterministic PRNG for reproducible streams, e.g. known-bad
// fixtures for the statistical tests.
type Generator struct {
	r *mrand.Rand
}

// NewGenerator seeds a deterministic generator. A zero seed draws a random
// one from the OS CSPRNG.
func NewGenerator(seed uint64) (*Generator, error) {
	if seed == 0 {
		var s [8]byte
		if _, err := crand.Read(s[:]); err != nil {
			return nil, err
		}
		seed = binary.LittleEndian.Uint64(s[:])
	}
	return &Generator{r: mrand.New(mrand.NewSource(int64(seed)))}, nil
}

// ReadBytes returns n bytes from the deterministic stream.
func (g *Generator) ReadBytes(n int) ([]byte, error) {
	if g == nil || g.r == nil {
		return nil, errors.New("pseudorng: generator is nil")
	}
	if n <= 0 {
		return nil, errors.New("pseudorng: byte count must be positive")
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(g.r.Intn(256))
	}
	return buf, nil
}
