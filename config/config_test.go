package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Thiagojm/bbrng/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bbrng.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, "bitb", cfg.Device)
	require.Equal(t, "data", cfg.OutDir)
	require.Zero(t, cfg.Bitrate)
	require.Zero(t, cfg.Folds)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
device: trng
bitrate: 1000000
latency_ms: 16
serial: "BB000123"
folds: 2
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "trng", cfg.Device)
	require.Equal(t, 1_000_000, cfg.Bitrate)
	require.Equal(t, 16, cfg.LatencyMs)
	require.Equal(t, "BB000123", cfg.Serial)
	require.Equal(t, 2, cfg.Folds)
	// unset keys keep the built-in default
	require.Equal(t, "data", cfg.OutDir)
}

func TestLoadPartialFile(t *testing.T) {
	path := writeFile(t, "outdir: /tmp/samples\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/samples", cfg.OutDir)
	require.Equal(t, "bitb", cfg.Device)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad device":    "device: quantum\n",
		"bad bitrate":   "bitrate: -1\n",
		"latency high":  "latency_ms: 256\n",
		"latency low":   "latency_ms: -1\n",
		"negative fold": "folds: -1\n",
		"bad yaml":      "device: [unclosed\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, content))
			require.Error(t, err)
		})
	}
}
