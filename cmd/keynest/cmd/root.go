package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "keynest",
	Short: "KeyNest stores API keys encrypted under a passphrase",
	Long: `KeyNest encrypts API keys and other secrets with a key derived from a
passphrase (Argon2id + AES-256-GCM). Only the encrypted bundle is stored;
the passphrase never leaves the caller.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}
