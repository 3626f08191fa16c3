package bbusb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Thiagojm/bbrng/whiten"
)

const (
	// MinBitrate and MaxBitrate bound the achievable MPSSE clock.
	MinBitrate = 458
	MaxBitrate = 30_000_000

	// MaxReadLen is the single-command read ceiling; the MPSSE read opcode
	// encodes length-minus-one in 16 bits.
	MaxReadLen = 65536

	defaultBitrate    = 2_500_000
	defaultEnableMask = 0x0F
)

// RealBitrate quantizes a requested bitrate to the nearest achievable MPSSE
// clock. The chip divides a 30 MHz base clock by an integer divisor, so the
// result is the fastest 30_000_000/N not exceeding the request, clamped to
// [MinBitrate, MaxBitrate]. Idempotent: RealBitrate(RealBitrate(x)) == RealBitrate(x).
func RealBitrate(bitrate int) int {
	if bitrate >= MaxBitrate {
		return MaxBitrate
	}
	if bitrate <= MinBitrate {
		return MinBitrate
	}
	return MaxBitrate / (MaxBitrate / bitrate)
}

// Config holds the tunable device parameters. The zero value selects the
// defaults: 2.5 MHz clock, derived latency, all four control lines enabled,
// active-high idle polarity.
type Config struct {
	// Bitrate is the target serial clock in Hz; quantized via RealBitrate.
	Bitrate int
	// LatencyMs overrides the FTDI latency timer (1..255). Zero derives it
	// from the packet transfer time.
	LatencyMs int
	// EnableMask selects which auxiliary control lines the chip drives
	// (low 4 bits). Zero means the default 0x0F (all enabled).
	EnableMask byte
	// DisablePolarity sets the idle level pattern for disabled lines
	// (low 4 bits).
	DisablePolarity byte
}

type devState int

const (
	stateConfigured devState = iota
	stateInitialized
	stateClosed
)

// Device drives a BitBabbler over an open Transport session. It owns the
// session exclusively: construct with NewDevice, call Init once, then issue
// reads; Close releases the transport. Not safe for concurrent use.
type Device struct {
	tr Transport

	bitrate   int
	latencyMs uint8
	// high-nibble GPIO patterns derived once from Config
	enableBits   byte
	polarityBits byte

	st devState
}

// NewDevice derives the effective clock, GPIO nibbles and latency timer from
// cfg and binds them to the transport session. No I/O happens until Init.
func NewDevice(tr Transport, cfg Config) *Device {
	bitrate := cfg.Bitrate
	if bitrate == 0 {
		bitrate = defaultBitrate
	}
	mask := cfg.EnableMask
	if mask == 0 {
		mask = defaultEnableMask
	}

	d := &Device{
		tr:      tr,
		bitrate: RealBitrate(bitrate),
		// 8-bit masked arithmetic, exactly: the enable mask is inverted
		// into an output-disable nibble, the polarity goes in uninverted.
		enableBits:   ((^mask) << 4) & 0xF0,
		polarityBits: (cfg.DisablePolarity << 4) & 0xF0,
	}

	if cfg.LatencyMs >= 1 && cfg.LatencyMs <= 255 {
		d.latencyMs = uint8(cfg.LatencyMs)
	} else {
		d.latencyMs = defaultLatency(tr.MaxPacketSize(), d.bitrate)
	}
	return d
}

// defaultLatency sizes the FTDI latency timer to a little over one full
// packet transfer time at the effective bitrate.
func defaultLatency(maxPacket, bitrate int) uint8 {
	packetMs := float64(maxPacket) * 8000 / float64(bitrate)
	ms := int(math.Ceil(packetMs)) + 2
	if ms < 1 {
		ms = 1
	}
	if ms > 255 {
		ms = 255
	}
	return uint8(ms)
}

// Bitrate reports the effective (quantized) bitrate in Hz.
func (d *Device) Bitrate() int { return d.bitrate }

// Latency reports the latency timer value in milliseconds.
func (d *Device) Latency() uint8 { return d.latencyMs }

// Init synchronizes the bridge's MPSSE state machine and programs the
// BitBabbler configuration: plain 30 MHz clocking (no divide-by-5, adaptive
// or 3-phase modes), GPIO levels and directions, clock divisor, loopback off.
// The configuration block is fire-and-forget; only a failed handshake fails
// Init. A short settle sleep and one best-effort flush follow, the flush
// failure being deliberately ignored.
func (d *Device) Init(ctx context.Context) error {
	if d.st != stateConfigured {
		return fmt.Errorf("%w: Init on %s device", ErrInvalidState, d.stateName())
	}
	if err := d.tr.SyncMPSSE(ctx, d.latencyMs); err != nil {
		return err
	}

	clkDiv := uint16(MaxBitrate/d.bitrate - 1)
	cmd := []byte{
		mpsseNoClkDiv5,
		mpsseNoAdaptiveClk,
		mpsseNo3PhaseClk,
		mpsseSetDataLow,
		d.polarityBits,        // levels: CLK, DO, CS low plus idle polarity
		0x0B | d.enableBits,   // directions: CLK, DO, CS outputs plus enables
		mpsseSetDataHigh,
		0x00, // high pins low
		0x00, // high pins as inputs
		mpsseSetClkDivisor,
		byte(clkDiv & 0xFF),
		byte(clkDiv >> 8),
		mpsseNoLoopback,
	}
	if err := d.tr.Write(ctx, cmd); err != nil {
		return err
	}
	time.Sleep(30 * time.Millisecond)
	_ = d.tr.Flush(ctx)

	d.st = stateInitialized
	return nil
}

// ReadEntropy clocks in n raw bytes from the device, 1 <= n <= MaxReadLen.
func (d *Device) ReadEntropy(ctx context.Context, n int) ([]byte, error) {
	if d.st != stateInitialized {
		return nil, fmt.Errorf("%w: read on %s device", ErrInvalidState, d.stateName())
	}
	if n < 1 || n > MaxReadLen {
		return nil, fmt.Errorf("%w: byte count %d outside 1..%d", ErrInvalidParameter, n, MaxReadLen)
	}
	cmd := []byte{
		mpsseDataByteInPosMSB,
		byte((n - 1) & 0xFF),
		byte((n - 1) >> 8),
		mpsseSendImmediate,
	}
	if err := d.tr.Write(ctx, cmd); err != nil {
		return nil, err
	}
	return d.tr.ReadData(ctx, n)
}

// ReadEntropyFolded produces exactly outLen whitened bytes. With folds == 0
// it is a plain read, chunked to the single-command ceiling. With folds > 0
// each chunk reads chunkOut<<folds raw bytes (kept within MaxReadLen) and
// XOR-folds them independently; chunked folding concatenates to the same
// result as folding one contiguous read.
func (d *Device) ReadEntropyFolded(ctx context.Context, outLen, folds int) ([]byte, error) {
	if outLen < 1 {
		return nil, fmt.Errorf("%w: output length %d must be positive", ErrInvalidParameter, outLen)
	}
	if folds < 0 {
		return nil, fmt.Errorf("%w: negative fold count %d", ErrInvalidParameter, folds)
	}

	out := make([]byte, 0, outLen)
	if folds == 0 {
		for remain := outLen; remain > 0; {
			chunk := min(remain, MaxReadLen)
			raw, err := d.ReadEntropy(ctx, chunk)
			if err != nil {
				return nil, err
			}
			out = append(out, raw...)
			remain -= chunk
		}
		return out, nil
	}

	if MaxReadLen>>folds < 1 {
		return nil, fmt.Errorf("%w: fold count %d exceeds the %d-byte read ceiling", ErrInvalidParameter, folds, MaxReadLen)
	}
	for remain := outLen; remain > 0; {
		chunkOut := min(remain, MaxReadLen>>folds)
		raw, err := d.ReadEntropy(ctx, chunkOut<<folds)
		if err != nil {
			return nil, err
		}
		folded, err := whiten.Fold(raw, folds)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		out = append(out, folded...)
		remain -= len(folded)
	}
	return out, nil
}

// Close releases the transport session. Safe to call more than once; reads
// after Close fail with ErrInvalidState.
func (d *Device) Close() error {
	if d.st == stateClosed {
		return nil
	}
	d.st = stateClosed
	return d.tr.Close()
}

func (d *Device) stateName() string {
	switch d.st {
	case stateConfigured:
		return "uninitialized"
	case stateInitialized:
		return "initialized"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Open discovers, claims and initializes the first matching BitBabbler in
// one step. It tries the canonical VID:PID first, then falls back to a
// descriptor-string scan, matching serial when non-empty.
func Open(ctx context.Context, cfg Config, serial string) (*Device, error) {
	tr, err := Find(VendorID, ProductID, serial)
	if errors.Is(err, ErrDeviceNotFound) {
		tr, err = FindAny(serial)
	}
	if err != nil {
		return nil, err
	}
	d := NewDevice(tr, cfg)
	if err := d.Init(ctx); err != nil {
		_ = tr.Close()
		return nil, err
	}
	return d, nil
}
