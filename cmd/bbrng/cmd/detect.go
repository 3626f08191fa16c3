package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thiagojm/bbrng/bbusb"
	"github.com/Thiagojm/bbrng/truerng"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "List connected entropy devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, devices, err := bbusb.Present()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("No BitBabbler devices found (VID 0x%04X PID 0x%04X)\n", bbusb.VendorID, bbusb.ProductID)
		}
		for i, d := range devices {
			fmt.Printf("BitBabbler %d:\n", i+1)
			if d.Description != "" {
				fmt.Printf("  Name: %s\n", d.Description)
			}
			if d.Serial != "" {
				fmt.Printf("  Serial: %s\n", d.Serial)
			}
			if d.Path != "" {
				fmt.Printf("  Path: %s\n", d.Path)
			}
		}

		if present, err := truerng.Detect(); err == nil && present {
			if port, perr := truerng.FindPort(); perr == nil {
				fmt.Printf("TrueRNG: %s\n", port)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
