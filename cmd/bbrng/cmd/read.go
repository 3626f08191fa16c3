package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	readBytes int
	readFold  int
	readHex   bool
	readOut   string
	readDev   *deviceFlags
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read random bytes from a BitBabbler",
	Long: `Open the first matching BitBabbler, apply the requested XOR folding,
and write the bytes to stdout or a file. --bytes counts output bytes after
folding.`,
	RunE: runRead,
}

func init() {
	readCmd.Flags().IntVar(&readBytes, "bytes", 0, "number of output bytes to read (after folding)")
	readCmd.Flags().IntVar(&readFold, "fold", 0, "XOR-fold count (0 = none)")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "emit hex instead of raw bytes")
	readCmd.Flags().StringVarP(&readOut, "out", "o", "", "output file (defaults to stdout)")
	readDev = addDeviceFlags(readCmd)
	_ = readCmd.MarkFlagRequired("bytes")
	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	d, err := readDev.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	data, err := d.ReadEntropyFolded(ctx, readBytes, effInt(cmd, "fold", readFold, cfg.Folds))
	if err != nil {
		return err
	}
	return writeOutput(data, readOut, readHex)
}

func writeOutput(data []byte, path string, asHex bool) error {
	out := data
	if asHex {
		out = []byte(hex.EncodeToString(data))
	}
	if path != "" {
		return os.WriteFile(path, out, 0o644)
	}
	if asHex {
		fmt.Println(string(out))
		return nil
	}
	_, err := os.Stdout.Write(out)
	return err
}
