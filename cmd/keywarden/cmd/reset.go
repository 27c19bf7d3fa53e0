package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keywarden/keywarden/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove persistent state files",
	Long: `Reset Keywarden by removing the configured policy store.

For the file driver this removes the vault file, its backup, and the
lock file. For the sqlite driver it removes the database file. All
accounts and their policies are lost.

Examples:
  # Reset with confirmation
  keywarden reset

  # Reset without prompting
  keywarden reset --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	var targets []string
	switch cfg.Store.Driver {
	case "file":
		targets = []string{cfg.Store.Path, cfg.Store.Path + ".bak", cfg.Store.Path + ".lock"}
	case "sqlite":
		targets = []string{cfg.Store.Path}
	default:
		fmt.Fprintln(os.Stderr, "Nothing to reset: the memory store has no persistent state.")
		return nil
	}

	var existing []string
	for _, path := range targets {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset: no state files found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, path := range existing {
		fmt.Fprintf(os.Stderr, "  - %s\n", path)
	}

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var failures int
	for _, path := range existing {
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", path, err)
			failures++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", path)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d file(s) could not be removed", failures)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. Keywarden will start fresh on next launch.")
	return nil
}
