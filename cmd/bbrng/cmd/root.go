package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thiagojm/bbrng/config"
)

var (
	cfgPath string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bbrng",
	Short: "BitBabbler hardware RNG toolkit",
	Long: `Read, whiten, collect and statistically validate entropy from a
BitBabbler USB hardware random-number generator.

Examples:
  bbrng detect                         # list connected devices
  bbrng read --bytes 256 --fold 1 --hex
  bbrng test --bytes 65536 --fold 3    # read from device and run the test suite
  bbrng test --file sample.bin         # validate a stored sample
  bbrng collect --bits 2048 --interval 1
  bbrng export data/20250101T120000_bitb_s2048_i1.bin`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgPath == "" {
			cfg = config.Default()
			return nil
		}
		c, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command, reporting failures with a non-zero exit
// status.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML defaults file")
}

// flag/config merge helpers: an explicitly set flag wins, then a non-zero
// config value, then the flag's built-in default.

func effInt(cmd *cobra.Command, name string, flagVal, cfgVal int) int {
	if !cmd.Flags().Changed(name) && cfgVal != 0 {
		return cfgVal
	}
	return flagVal
}

func effString(cmd *cobra.Command, name, flagVal, cfgVal string) string {
	if !cmd.Flags().Changed(name) && cfgVal != "" {
		return cfgVal
	}
	return flagVal
}
