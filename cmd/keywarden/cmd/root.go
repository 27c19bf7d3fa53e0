// Package cmd provides the CLI commands for Keywarden.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keywarden/keywarden/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "keywarden",
	Short: "Keywarden - organization password-policy service",
	Long: `Keywarden maintains the live set of organizational policies for the
active account, folds master-password policies into one enforced record,
evaluates candidate passwords against it, and resolves reset-password
auto-enrollment.

Quick start:
  1. Create a config file: keywarden.yaml
  2. Run: keywarden serve --user <account-id>

Configuration:
  Config is loaded from keywarden.yaml in the current directory,
  $HOME/.keywarden/, or /etc/keywarden/.

  Environment variables can override config values with the KEYWARDEN_ prefix.
  Example: KEYWARDEN_SERVER_HTTP_ADDR=:9090

Commands:
  serve        Start the policy service
  hash-secret  Generate SHA256 hash for an API secret
  reset        Remove persistent state files
  version      Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./keywarden.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
