package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keynest/keynest/secretcipher"
)

var (
	passphraseLength  int
	passphraseCount   int
	passphraseGrouped bool
)

// passphraseGroupSize is the group width used by --grouped.
const passphraseGroupSize = 4

var passphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Generate random passphrases",
	Long: `Generate passphrases containing upper and lower case letters, digits and
symbols. Look-alike characters (0/O, 1/l/I) are never used.

--grouped inserts spaces for reading aloud or copying by hand; the spaces are
not part of the passphrase.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if passphraseCount < 1 {
			return errors.New("--count must be at least 1")
		}
		for range passphraseCount {
			p, err := secretcipher.GeneratePassphrase(passphraseLength)
			if err != nil {
				return err
			}
			if passphraseGrouped {
				p = secretcipher.FormatGroups(p, passphraseGroupSize)
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passphraseCmd)
	passphraseCmd.Flags().IntVarP(&passphraseLength, "length", "l", secretcipher.DefaultPassphraseLength,
		fmt.Sprintf("Passphrase length (minimum %d)", secretcipher.MinGeneratedPassphraseLength))
	passphraseCmd.Flags().IntVarP(&passphraseCount, "count", "n", 1, "Number of passphrases to generate")
	passphraseCmd.Flags().BoolVar(&passphraseGrouped, "grouped", false, "Split output into space-separated groups")
}
