// Package naming builds the timestamped file names used for collected
// entropy samples, so the analysis tools can recover the collection
// parameters from a path alone.
package naming

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Device identifies the entropy source a sample came from.
type Device string

const (
	DeviceBitBabbler Device = "bitb"
	DeviceTrueRNG    Device = "trng"
	DevicePseudo     Device = "pseudo"
)

// Validate checks whether d is one of the known source identifiers.
func (d Device) Validate() error {
	switch d {
	case DeviceBitBabbler, DeviceTrueRNG, DevicePseudo:
		return nil
	}
	return fmt.Errorf("invalid device: %q (allowed: bitb, trng, pseudo)", string(d))
}

// BuildBaseName builds the base file name:
//
//	YYYYMMDDTHHMMSS_{device}_s{bits}_i{interval}[_f{folds}]
//
// where bits is the sample size in bits per collection, interval the seconds
// between collections, and the folds segment appears only when XOR folding
// was applied.
func BuildBaseName(now time.Time, device Device, bits, intervalSeconds, folds int) (string, error) {
	if err := device.Validate(); err != nil {
		return "", err
	}
	if bits <= 0 {
		return "", errors.New("bits must be > 0")
	}
	if intervalSeconds <= 0 {
		return "", errors.New("intervalSeconds must be > 0")
	}
	if folds < 0 {
		return "", errors.New("folds must be >= 0")
	}
	base := fmt.Sprintf("%s_%s_s%d_i%d", now.Format("20060102T150405"), string(device), bits, intervalSeconds)
	if folds > 0 {
		base += fmt.Sprintf("_f%d", folds)
	}
	return base, nil
}

// WithExt appends an extension to a base name; a leading dot on ext is
// accepted and normalized.
func WithExt(base, ext string) string {
	if ext == "" {
		return base
	}
	return base + "." + strings.TrimPrefix(ext, ".")
}

// BuildBinCSVPaths builds the .bin and .csv paths for one collection run
// inside dir (dir may be empty for the working directory).
func BuildBinCSVPaths(dir string, now time.Time, device Device, bits, intervalSeconds, folds int) (binPath, csvPath string, err error) {
	base, err := BuildBaseName(now, device, bits, intervalSeconds, folds)
	if err != nil {
		return "", "", err
	}
	binPath = WithExt(base, "bin")
	csvPath = WithExt(base, "csv")
	if dir != "" {
		binPath = filepath.Join(dir, binPath)
		csvPath = filepath.Join(dir, csvPath)
	}
	return binPath, csvPath, nil
}
