package bbusb

import (
	"context"
	"fmt"
	"time"
)

// Sample is the outcome of one periodic read.
type Sample struct {
	// When the read completed.
	Timestamp time.Time
	// Data holds the whitened output bytes; nil when Err is set.
	Data []byte
	// Err is non-nil when the read failed. The collector keeps running;
	// stopping on error is the consumer's decision.
	Err error
}

// ReadFunc produces one sample's worth of bytes.
type ReadFunc func(ctx context.Context) ([]byte, error)

// CollectAtInterval invokes read immediately and then once per interval,
// sending each result on the returned channel. The channel closes when ctx
// is cancelled. There is no retry: each failed read is forwarded as-is.
func CollectAtInterval(ctx context.Context, read ReadFunc, interval time.Duration) (<-chan Sample, error) {
	if read == nil {
		return nil, fmt.Errorf("%w: nil read function", ErrInvalidParameter)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidParameter)
	}

	out := make(chan Sample)
	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			data, err := read(ctx)
			select {
			case out <- Sample{Timestamp: time.Now(), Data: data, Err: err}:
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Collect runs periodic folded reads on the device session. byteCount is the
// whitened output size per sample. The device must be initialized and must
// not be used for other I/O while the collector runs; the session remains
// owned by the caller and is not closed when the collector stops.
func (d *Device) Collect(ctx context.Context, byteCount, folds int, interval time.Duration) (<-chan Sample, error) {
	if byteCount <= 0 {
		return nil, fmt.Errorf("%w: byte count must be positive", ErrInvalidParameter)
	}
	if folds < 0 {
		return nil, fmt.Errorf("%w: negative fold count %d", ErrInvalidParameter, folds)
	}
	if d.st != stateInitialized {
		return nil, fmt.Errorf("%w: collect on %s device", ErrInvalidState, d.stateName())
	}
	return CollectAtInterval(ctx, func(ctx context.Context) ([]byte, error) {
		return d.ReadEntropyFolded(ctx, byteCount, folds)
	}, interval)
}
