package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keynest/keynest/internal/ui"
	"github.com/keynest/keynest/secretcipher"
)

var decryptPassphraseStdin bool

var errInvalidPassphrase = errors.New("invalid passphrase or corrupted bundle")

var decryptCmd = &cobra.Command{
	Use:   "decrypt <bundle>",
	Short: "Decrypt a bundle",
	Long: `Decrypt a bundle produced by "keynest encrypt" or stored by the server
and print the secret to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := secretcipher.BundleProfile(args[0])
		if err != nil {
			return errInvalidPassphrase
		}

		passphrase, err := readPassphrase(cmd, decryptPassphraseStdin, false)
		if err != nil {
			return err
		}

		secret, err := secretcipher.Decrypt(args[0], passphrase)
		if err != nil {
			if errors.Is(err, secretcipher.ErrDecryption) || errors.Is(err, secretcipher.ErrMalformedBundle) {
				return errInvalidPassphrase
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		if profile < secretcipher.DefaultProfile {
			fmt.Fprintln(cmd.ErrOrStderr(), ui.Warning.Sprintf(
				"Bundle uses the %s profile; re-encrypt with %s to strengthen it",
				profile, ui.Flag.Sprintf("--kdf-profile %s", secretcipher.DefaultProfile)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().BoolVar(&decryptPassphraseStdin, "passphrase-stdin", false, "Read the passphrase from the first line of stdin")
}
