package randtest

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// LoadSample reads a byte sample from path. With hexEncoded set the file is
// treated as a textual hexadecimal dump (surrounding whitespace ignored)
// instead of raw binary.
func LoadSample(path string, hexEncoded bool) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !hexEncoded {
		return raw, nil
	}
	data, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decoding hex sample %s: %w", path, err)
	}
	return data, nil
}
