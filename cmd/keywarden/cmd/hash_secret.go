package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret [secret]",
	Short: "Generate SHA256 hash for an API secret",
	Long: `Generate a SHA256 hash of an API secret for use in config.

The output format is "sha256:<hex>" which can be directly used
in the auth.api_secret_hash field.

Example:
  keywarden hash-secret "my-api-secret"
  # Output: sha256:7d5e8c...

Security note: The secret will appear in shell history.
Consider clearing history after use or using an environment variable:
  keywarden hash-secret "$MY_API_SECRET"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		hash := sha256.Sum256([]byte(args[0]))
		fmt.Printf("sha256:%s\n", hex.EncodeToString(hash[:]))
	},
}

func init() {
	rootCmd.AddCommand(hashSecretCmd)
}
