package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"math/bits"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thiagojm/bbrng/bbusb"
	"github.com/Thiagojm/bbrng/naming"
	"github.com/Thiagojm/bbrng/pseudorng"
	"github.com/Thiagojm/bbrng/truerng"
)

var (
	collectBits     int
	collectInterval int
	collectDevice   string
	collectOutDir   string
	collectFold     int
	collectDev      *deviceFlags
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Periodically collect samples to .bin and .csv files",
	Long: `Read a fixed number of bits from the chosen source at a fixed
interval, appending raw bytes to a .bin file and per-sample ones counts to a
.csv file. File names encode the collection parameters. Stops on Ctrl+C or
on the first read error.`,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().IntVar(&collectBits, "bits", 2048, "bits per sample")
	collectCmd.Flags().IntVar(&collectInterval, "interval", 1, "seconds between samples")
	collectCmd.Flags().StringVar(&collectDevice, "device", "bitb", "entropy source: bitb|trng|pseudo")
	collectCmd.Flags().StringVar(&collectOutDir, "outdir", "data", "output directory")
	collectCmd.Flags().IntVar(&collectFold, "fold", 0, "XOR-fold count (0 = none)")
	collectDev = addDeviceFlags(collectCmd)
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	if collectBits <= 0 {
		return errors.New("--bits must be > 0")
	}
	if collectInterval <= 0 {
		return errors.New("--interval must be > 0")
	}
	dev := naming.Device(effString(cmd, "device", collectDevice, cfg.Device))
	if err := dev.Validate(); err != nil {
		return err
	}
	folds := effInt(cmd, "fold", collectFold, cfg.Folds)
	outDir := effString(cmd, "outdir", collectOutDir, cfg.OutDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating outdir: %w", err)
	}

	start := time.Now()
	binPath, csvPath, err := naming.BuildBinCSVPaths(outDir, start, dev, collectBits, collectInterval, folds)
	if err != nil {
		return err
	}
	binFile, err := os.OpenFile(binPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer binFile.Close()
	binBuf := bufio.NewWriter(binFile)
	defer binBuf.Flush()

	csvFile, err := os.OpenFile(csvPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer csvFile.Close()
	csvBuf := bufio.NewWriter(csvFile)
	defer csvBuf.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	byteCount := (collectBits + 7) / 8
	interval := time.Duration(collectInterval) * time.Second

	samples, cleanup, err := collectSource(ctx, cmd, dev, byteCount, folds, interval)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Printf("collecting %d bits every %s from %s into %s", collectBits, interval, dev, binPath)
	sampleNum := 0
	for sample := range samples {
		if sample.Err != nil {
			if errors.Is(sample.Err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read: %w", sample.Err)
		}

		batch := maskTrailing(sample.Data, collectBits)
		if _, err := binBuf.Write(batch); err != nil {
			return fmt.Errorf("write bin: %w", err)
		}
		_ = binBuf.Flush()

		ones := countOnes(batch, collectBits)
		sampleNum++
		ts := sample.Timestamp.Format("20060102T15:04:05")
		if _, err := fmt.Fprintf(csvBuf, "%s,%d\n", ts, ones); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		_ = csvBuf.Flush()

		fmt.Printf("sample %d: ones=%d/%d at %s\n", sampleNum, ones, collectBits, ts)
	}
	return nil
}

// collectSource wires the chosen device to a sample channel. The cleanup
// function releases whatever session the source holds.
func collectSource(ctx context.Context, cmd *cobra.Command, dev naming.Device, byteCount, folds int, interval time.Duration) (<-chan bbusb.Sample, func(), error) {
	switch dev {
	case naming.DeviceBitBabbler:
		d, err := collectDev.open(ctx, cmd)
		if err != nil {
			return nil, nil, err
		}
		ch, err := d.Collect(ctx, byteCount, folds, interval)
		if err != nil {
			_ = d.Close()
			return nil, nil, err
		}
		return ch, func() { _ = d.Close() }, nil
	case naming.DeviceTrueRNG:
		present, err := truerng.Detect()
		if err != nil {
			return nil, nil, err
		}
		if !present {
			return nil, nil, errors.New("TrueRNG device not found")
		}
		ch, err := bbusb.CollectAtInterval(ctx, func(context.Context) ([]byte, error) {
			return foldedSoftRead(truerng.ReadBytes, byteCount, folds)
		}, interval)
		return ch, func() {}, err
	case naming.DevicePseudo:
		ch, err := bbusb.CollectAtInterval(ctx, func(context.Context) ([]byte, error) {
			return foldedSoftRead(pseudorng.ReadBytes, byteCount, folds)
		}, interval)
		return ch, func() {}, err
	}
	return nil, nil, fmt.Errorf("unsupported device %q", dev)
}

// maskTrailing zeroes the unused trailing bits of the final byte so ones
// counts stay consistent when bitCount is not a multiple of 8.
func maskTrailing(buf []byte, bitCount int) []byte {
	if len(buf) == 0 || bitCount%8 == 0 {
		return buf
	}
	excess := 8 - bitCount%8
	buf[len(buf)-1] &= 0xFF << excess
	return buf
}

// countOnes counts set bits in buf, considering only bitCount bits total.
func countOnes(buf []byte, bitCount int) int {
	if bitCount <= 0 || len(buf) == 0 {
		return 0
	}
	used := min((bitCount+7)/8, len(buf))
	total := 0
	for i := 0; i < used-1; i++ {
		total += bits.OnesCount8(buf[i])
	}
	last := buf[used-1]
	if rem := bitCount - (used-1)*8; rem < 8 && rem > 0 {
		last &= 0xFF << (8 - rem)
	}
	return total + bits.OnesCount8(last)
}
