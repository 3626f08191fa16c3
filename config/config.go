// Package config loads optional YAML defaults for the command-line tools.
// Flags always override file values; the file just saves retyping device
// parameters.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the tool defaults. Zero fields mean "use the built-in
// default".
type Config struct {
	// Device selects the entropy source: bitb, trng or pseudo.
	Device string `yaml:"device"`
	// Bitrate is the target MPSSE clock in Hz.
	Bitrate int `yaml:"bitrate"`
	// LatencyMs is the FTDI latency timer (1..255, 0 = derive).
	LatencyMs int `yaml:"latency_ms"`
	// Serial restricts discovery to one device.
	Serial string `yaml:"serial"`
	// Folds is the default XOR-fold count.
	Folds int `yaml:"folds"`
	// OutDir is where collected samples are written.
	OutDir string `yaml:"outdir"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Device: "bitb",
		OutDir: "data",
	}
}

// Load reads a YAML config file and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Device {
	case "", "bitb", "trng", "pseudo":
	default:
		return fmt.Errorf("invalid device %q (allowed: bitb, trng, pseudo)", c.Device)
	}
	if c.Bitrate < 0 {
		return fmt.Errorf("bitrate must not be negative")
	}
	if c.LatencyMs < 0 || c.LatencyMs > 255 {
		return fmt.Errorf("latency_ms must be 0..255")
	}
	if c.Folds < 0 {
		return fmt.Errorf("folds must not be negative")
	}
	return nil
}
