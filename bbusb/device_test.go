package bbusb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thiagojm/bbrng/whiten"
)

// fakeTransport is an in-memory Transport: it records every command block
// and serves reads from a deterministic byte counter so chunked reads see
// one continuous stream.
type fakeTransport struct {
	writes    [][]byte
	syncCalls int
	syncErr   error
	flushes   int
	closed    bool
	next      byte
	maxPacket int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{maxPacket: 512}
}

func (f *fakeTransport) SyncMPSSE(ctx context.Context, latencyMs uint8) error {
	f.syncCalls++
	return f.syncErr
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeTransport) ReadData(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		out[i] = f.next
		f.next++
	}
	return out, nil
}

func (f *fakeTransport) Flush(ctx context.Context) error {
	f.flushes++
	return nil
}

func (f *fakeTransport) MaxPacketSize() int { return f.maxPacket }

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func initDevice(t *testing.T, cfg Config) (*Device, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	d := NewDevice(tr, cfg)
	require.NoError(t, d.Init(context.Background()))
	tr.writes = nil // drop the init block; tests inspect read commands
	return d, tr
}

func TestRealBitrateClamps(t *testing.T) {
	require.Equal(t, MinBitrate, RealBitrate(0))
	require.Equal(t, MinBitrate, RealBitrate(457))
	require.Equal(t, MinBitrate, RealBitrate(MinBitrate))
	require.Equal(t, MaxBitrate, RealBitrate(MaxBitrate))
	require.Equal(t, MaxBitrate, RealBitrate(MaxBitrate+1))
}

func TestRealBitrateQuantizes(t *testing.T) {
	// 30 MHz / 12 = 2.5 MHz exactly
	require.Equal(t, 2_500_000, RealBitrate(2_500_000))
	// 2.6 MHz still induces divisor 11: 30 MHz / 11 = 2727272
	require.Equal(t, 2_727_272, RealBitrate(2_600_000))
	require.Equal(t, 15_000_000, RealBitrate(16_000_000))
}

func TestRealBitrateIdempotentAndMonotonic(t *testing.T) {
	samples := []int{458, 459, 1000, 9600, 115200, 1_000_000, 2_499_999,
		2_500_000, 7_123_456, 14_999_999, 15_000_000, 29_999_999, 30_000_000}
	prev := 0
	for _, x := range samples {
		r := RealBitrate(x)
		require.GreaterOrEqual(t, r, MinBitrate, "x=%d", x)
		require.LessOrEqual(t, r, MaxBitrate, "x=%d", x)
		require.Equal(t, r, RealBitrate(r), "idempotence at x=%d", x)
		require.GreaterOrEqual(t, r, prev, "monotonic at x=%d", x)
		prev = r
	}
}

func TestConfigNibbles(t *testing.T) {
	tr := newFakeTransport()

	// default enable mask 0x0F inverts to an all-zero high nibble
	d := NewDevice(tr, Config{})
	require.Equal(t, byte(0x00), d.enableBits)
	require.Equal(t, byte(0x00), d.polarityBits)

	// mask 0x05: ^0x05 = 0xFA, shifted into the high nibble = 0xA0
	d = NewDevice(tr, Config{EnableMask: 0x05, DisablePolarity: 0x03})
	require.Equal(t, byte(0xA0), d.enableBits)
	// polarity is shifted uninverted
	require.Equal(t, byte(0x30), d.polarityBits)
}

func TestDefaultLatencyFromPacketTime(t *testing.T) {
	tr := newFakeTransport() // 512-byte packets
	// 512 bytes * 8000 / 2.5 MHz = 1.6384 ms; ceil + 2 = 4
	d := NewDevice(tr, Config{})
	require.Equal(t, uint8(4), d.Latency())

	// slow clock drives the derived value into the 255 ceiling
	d = NewDevice(tr, Config{Bitrate: MinBitrate})
	require.Equal(t, uint8(255), d.Latency())

	// explicit latency wins
	d = NewDevice(tr, Config{LatencyMs: 7})
	require.Equal(t, uint8(7), d.Latency())
}

func TestInitWritesConfigurationBlock(t *testing.T) {
	tr := newFakeTransport()
	d := NewDevice(tr, Config{Bitrate: 2_500_000})
	require.NoError(t, d.Init(context.Background()))

	require.Equal(t, 1, tr.syncCalls)
	require.Equal(t, 1, tr.flushes)
	require.Len(t, tr.writes, 1)

	// divisor for 2.5 MHz is 11, little-endian
	want := []byte{
		0x8A, 0x97, 0x8D,
		0x80, 0x00, 0x0B,
		0x82, 0x00, 0x00,
		0x86, 0x0B, 0x00,
		0x85,
	}
	require.Equal(t, want, tr.writes[0])
}

func TestInitPropagatesHandshakeFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.syncErr = ErrInitFailed
	d := NewDevice(tr, Config{})
	err := d.Init(context.Background())
	require.ErrorIs(t, err, ErrInitFailed)
	// a failed handshake never reaches the configuration write
	require.Empty(t, tr.writes)
}

func TestReadEntropyCommandBytes(t *testing.T) {
	d, tr := initDevice(t, Config{})

	data, err := d.ReadEntropy(context.Background(), 4096)
	require.NoError(t, err)
	require.Len(t, data, 4096)
	require.Len(t, tr.writes, 1)
	// opcode, (n-1) little-endian, send-immediate
	require.Equal(t, []byte{0x20, 0xFF, 0x0F, 0x87}, tr.writes[0])
}

func TestReadEntropyBounds(t *testing.T) {
	d, tr := initDevice(t, Config{})

	_, err := d.ReadEntropy(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = d.ReadEntropy(context.Background(), 65537)
	require.ErrorIs(t, err, ErrInvalidParameter)
	require.Empty(t, tr.writes, "invalid requests must not reach the device")

	data, err := d.ReadEntropy(context.Background(), 65536)
	require.NoError(t, err)
	require.Len(t, data, 65536)
	require.Equal(t, []byte{0x20, 0xFF, 0xFF, 0x87}, tr.writes[0])
}

func TestReadBeforeInitRejected(t *testing.T) {
	tr := newFakeTransport()
	d := NewDevice(tr, Config{})
	_, err := d.ReadEntropy(context.Background(), 16)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = d.ReadEntropyFolded(context.Background(), 16, 1)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReadAfterCloseRejected(t *testing.T) {
	d, tr := initDevice(t, Config{})
	require.NoError(t, d.Close())
	require.True(t, tr.closed)
	_, err := d.ReadEntropy(context.Background(), 16)
	require.ErrorIs(t, err, ErrInvalidState)
	// Close is idempotent
	require.NoError(t, d.Close())
}

func TestReadEntropyFoldedMatchesManualFold(t *testing.T) {
	d, _ := initDevice(t, Config{})
	ctx := context.Background()

	// single-chunk case: folded output equals folding one contiguous read
	got, err := d.ReadEntropyFolded(ctx, 1024, 3)
	require.NoError(t, err)
	require.Len(t, got, 1024)

	ref, _ := initDevice(t, Config{})
	raw, err := ref.ReadEntropy(ctx, 1024<<3)
	require.NoError(t, err)
	want, err := whiten.Fold(raw, 3)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestReadEntropyFoldedChunks(t *testing.T) {
	d, tr := initDevice(t, Config{})
	ctx := context.Background()

	// folds=3 caps each chunk at 8192 output bytes; 9000 needs two chunks
	got, err := d.ReadEntropyFolded(ctx, 9000, 3)
	require.NoError(t, err)
	require.Len(t, got, 9000)
	require.Len(t, tr.writes, 2)
	// first chunk reads the full 65536 raw bytes, second 808<<3
	require.Equal(t, []byte{0x20, 0xFF, 0xFF, 0x87}, tr.writes[0])
	n := 808<<3 - 1
	require.Equal(t, []byte{0x20, byte(n & 0xFF), byte(n >> 8), 0x87}, tr.writes[1])

	// equals the concatenation of per-chunk folds over the same stream
	ref, _ := initDevice(t, Config{})
	raw1, err := ref.ReadEntropy(ctx, 65536)
	require.NoError(t, err)
	raw2, err := ref.ReadEntropy(ctx, 808<<3)
	require.NoError(t, err)
	f1, err := whiten.Fold(raw1, 3)
	require.NoError(t, err)
	f2, err := whiten.Fold(raw2, 3)
	require.NoError(t, err)
	require.Equal(t, append(f1, f2...), got)
}

func TestReadEntropyFoldedZeroFoldsChunksPlainReads(t *testing.T) {
	d, tr := initDevice(t, Config{})

	got, err := d.ReadEntropyFolded(context.Background(), 70000, 0)
	require.NoError(t, err)
	require.Len(t, got, 70000)
	require.Len(t, tr.writes, 2)
	require.Equal(t, []byte{0x20, 0xFF, 0xFF, 0x87}, tr.writes[0])
	n := 70000 - 65536 - 1
	require.Equal(t, []byte{0x20, byte(n & 0xFF), byte(n >> 8), 0x87}, tr.writes[1])

	// the stream itself is passed through untouched
	require.Equal(t, byte(0), got[0])
	require.Equal(t, byte(255), got[255])
}

func TestReadEntropyFoldedParameterErrors(t *testing.T) {
	d, _ := initDevice(t, Config{})
	ctx := context.Background()

	_, err := d.ReadEntropyFolded(ctx, 0, 1)
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = d.ReadEntropyFolded(ctx, 16, -1)
	require.ErrorIs(t, err, ErrInvalidParameter)
	// 65536>>17 == 0: no chunk size can satisfy the read ceiling
	_, err = d.ReadEntropyFolded(ctx, 16, 17)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestCollectDeliversSamples(t *testing.T) {
	d, _ := initDevice(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := d.Collect(ctx, 32, 1, 10*time.Millisecond)
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	require.Len(t, first.Data, 32)
	second := <-ch
	require.NoError(t, second.Err)
	require.Len(t, second.Data, 32)

	cancel()
	for range ch {
	}
}

func TestCollectParameterErrors(t *testing.T) {
	d, _ := initDevice(t, Config{})
	ctx := context.Background()

	_, err := d.Collect(ctx, 0, 0, time.Second)
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = d.Collect(ctx, 32, -1, time.Second)
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = d.Collect(ctx, 32, 0, 0)
	require.ErrorIs(t, err, ErrInvalidParameter)

	require.NoError(t, d.Close())
	_, err = d.Collect(ctx, 32, 0, time.Second)
	require.ErrorIs(t, err, ErrInvalidState)
}
