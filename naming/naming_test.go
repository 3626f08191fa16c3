package naming_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thiagojm/bbrng/naming"
)

var testTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestBuildBaseName(t *testing.T) {
	got, err := naming.BuildBaseName(testTime, naming.DeviceBitBabbler, 2048, 1, 0)
	require.NoError(t, err)
	require.Equal(t, "20250314T092653_bitb_s2048_i1", got)

	got, err = naming.BuildBaseName(testTime, naming.DeviceTrueRNG, 256, 5, 0)
	require.NoError(t, err)
	require.Equal(t, "20250314T092653_trng_s256_i5", got)
}

func TestBuildBaseNameFoldSegment(t *testing.T) {
	got, err := naming.BuildBaseName(testTime, naming.DeviceBitBabbler, 2048, 1, 3)
	require.NoError(t, err)
	require.Equal(t, "20250314T092653_bitb_s2048_i1_f3", got)
}

func TestBuildBaseNameRejectsBadArgs(t *testing.T) {
	_, err := naming.BuildBaseName(testTime, naming.Device("quantum"), 2048, 1, 0)
	require.Error(t, err)
	_, err = naming.BuildBaseName(testTime, naming.DevicePseudo, 0, 1, 0)
	require.Error(t, err)
	_, err = naming.BuildBaseName(testTime, naming.DevicePseudo, 2048, 0, 0)
	require.Error(t, err)
	_, err = naming.BuildBaseName(testTime, naming.DevicePseudo, 2048, 1, -1)
	require.Error(t, err)
}

func TestDeviceValidate(t *testing.T) {
	require.NoError(t, naming.DeviceBitBabbler.Validate())
	require.NoError(t, naming.DeviceTrueRNG.Validate())
	require.NoError(t, naming.DevicePseudo.Validate())
	require.Error(t, naming.Device("").Validate())
	require.Error(t, naming.Device("BITB").Validate())
}

func TestWithExt(t *testing.T) {
	require.Equal(t, "base.bin", naming.WithExt("base", "bin"))
	require.Equal(t, "base.csv", naming.WithExt("base", ".csv"))
	require.Equal(t, "base", naming.WithExt("base", ""))
}

func TestBuildBinCSVPaths(t *testing.T) {
	bin, csv, err := naming.BuildBinCSVPaths("data", testTime, naming.DevicePseudo, 512, 2, 1)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("data", "20250314T092653_pseudo_s512_i2_f1.bin"), bin)
	require.Equal(t, filepath.Join("data", "20250314T092653_pseudo_s512_i2_f1.csv"), csv)

	bin, csv, err = naming.BuildBinCSVPaths("", testTime, naming.DevicePseudo, 512, 2, 0)
	require.NoError(t, err)
	require.Equal(t, "20250314T092653_pseudo_s512_i2.bin", bin)
	require.Equal(t, "20250314T092653_pseudo_s512_i2.csv", csv)
}
