// Package whiten reduces bias and correlation in raw entropy by XOR folding:
// each fold XORs the second half of the buffer into the first and halves the
// length, so every output bit combines 2^folds input bits.
package whiten

import (
	"errors"
	"fmt"
)

// ErrBadLength means the input length does not divide by 2^folds, or the
// fold count is negative.
var ErrBadLength = errors.New("whiten: input length not divisible by 2^folds")

// Fold applies folds XOR folds to data and returns the shortened result,
// len(data)>>folds bytes long. folds == 0 returns an unshared copy of data.
//
// The transform is linear and deterministic: output bit i is the XOR of
// 2^folds input bits at fixed strided positions. Size-limited reads are
// folded chunk by chunk and concatenated.
func Fold(data []byte, folds int) ([]byte, error) {
	if folds < 0 {
		return nil, fmt.Errorf("%w: negative fold count %d", ErrBadLength, folds)
	}
	out := make([]byte, len(data))
	copy(out, data)
	if folds == 0 {
		return out, nil
	}

	// divisibility by 2^folds, checked iteratively to sidestep shift overflow
	n := len(data)
	for i := 0; i < folds; i++ {
		if n%2 != 0 {
			return nil, fmt.Errorf("%w: length %d, folds %d", ErrBadLength, len(data), folds)
		}
		n /= 2
	}

	length := len(out)
	for i := 0; i < folds; i++ {
		half := length / 2
		for j := 0; j < half; j++ {
			out[j] ^= out[half+j]
		}
		length = half
	}
	return out[:length], nil
}
