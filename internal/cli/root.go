package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/config"
)

var (
	configPath string
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "checkout",
		Short: "M-Pesa checkout service",
		Long: `checkout pushes M-Pesa payment requests to the payments backend and
follows each one until it is confirmed, rejected or times out.

Settings come from --config (YAML) and CHECKOUT_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
