package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Thiagojm/bbrng/bbusb"
)

// deviceFlags groups the BitBabbler session parameters shared by the
// commands that open the device.
type deviceFlags struct {
	serial  string
	bitrate int
	latency int
}

func addDeviceFlags(cmd *cobra.Command) *deviceFlags {
	df := &deviceFlags{}
	cmd.Flags().StringVar(&df.serial, "serial", "", "match device by serial number")
	cmd.Flags().IntVar(&df.bitrate, "bitrate", 0, "MPSSE clock in Hz (default 2500000)")
	cmd.Flags().IntVar(&df.latency, "latency", 0, "FTDI latency timer in ms (1..255, 0 = derive)")
	return df
}

// open discovers and initializes a BitBabbler with the merged flag/config
// parameters.
func (df *deviceFlags) open(ctx context.Context, cmd *cobra.Command) (*bbusb.Device, error) {
	return bbusb.Open(ctx, bbusb.Config{
		Bitrate:   effInt(cmd, "bitrate", df.bitrate, cfg.Bitrate),
		LatencyMs: effInt(cmd, "latency", df.latency, cfg.LatencyMs),
	}, effString(cmd, "serial", df.serial, cfg.Serial))
}
