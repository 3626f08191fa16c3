package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Thiagojm/bbrng/pseudorng"
	"github.com/Thiagojm/bbrng/randtest"
	"github.com/Thiagojm/bbrng/truerng"
	"github.com/Thiagojm/bbrng/whiten"
)

var (
	testFile   string
	testHex    bool
	testBytes  int
	testFold   int
	testDevice string
	testDev    *deviceFlags
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run statistical randomness tests on a sample",
	Long: `Compute monobit, runs, byte chi-square, Shannon entropy and serial
correlation statistics over a byte sample, read either from a device
(--bytes, --device) or from a file (--file, optionally --hex).`,
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVar(&testFile, "file", "", "read sample from file instead of device")
	testCmd.Flags().BoolVar(&testHex, "hex", false, "treat file input as a hex string")
	testCmd.Flags().IntVar(&testBytes, "bytes", 0, "read this many bytes from the device")
	testCmd.Flags().IntVar(&testFold, "fold", 0, "XOR-fold count for device reads (0 = none)")
	testCmd.Flags().StringVar(&testDevice, "device", "bitb", "entropy source: bitb|trng|pseudo")
	testDev = addDeviceFlags(testCmd)
	testCmd.MarkFlagsMutuallyExclusive("file", "bytes")
	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	data, err := testSample(cmd)
	if err != nil {
		return err
	}

	report := randtest.Analyze(data)
	if report.Small() {
		fmt.Fprintf(os.Stderr, "warning: small sample size (%d bytes); results may be unreliable\n", report.SampleSize)
	}
	fmt.Print(report.String())
	return nil
}

func testSample(cmd *cobra.Command) ([]byte, error) {
	if testFile != "" {
		return randtest.LoadSample(testFile, testHex)
	}
	if testBytes <= 0 {
		return nil, errors.New("either --file or --bytes is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	folds := effInt(cmd, "fold", testFold, cfg.Folds)
	switch effString(cmd, "device", testDevice, cfg.Device) {
	case "bitb":
		d, err := testDev.open(ctx, cmd)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return d.ReadEntropyFolded(ctx, testBytes, folds)
	case "trng":
		return foldedSoftRead(truerng.ReadBytes, testBytes, folds)
	case "pseudo":
		return foldedSoftRead(pseudorng.ReadBytes, testBytes, folds)
	}
	return nil, fmt.Errorf("invalid --device %q (allowed: bitb, trng, pseudo)", testDevice)
}

// foldedSoftRead mirrors the device driver's whitening semantics for the
// non-MPSSE sources: read outLen<<folds raw bytes, fold down to outLen.
func foldedSoftRead(read func(int) ([]byte, error), outLen, folds int) ([]byte, error) {
	if folds < 0 {
		return nil, errors.New("fold count must not be negative")
	}
	raw, err := read(outLen << folds)
	if err != nil {
		return nil, err
	}
	return whiten.Fold(raw, folds)
}
