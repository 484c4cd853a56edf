package main

import (
	"fmt"
	"os"

	"github.com/alexbotov/betledger/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "betledger",
	Short: "Custodial wager balance ledger",
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a TOML config file")
	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		hashSecretCmd(),
	)
}

// loadConfig reads --config when given, otherwise the environment only
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
