package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keynest/keynest/internal/ui"
	"github.com/keynest/keynest/secretcipher"
)

var (
	encryptSecret          string
	encryptProfile         string
	encryptPassphraseStdin bool
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a secret into a bundle",
	Long: `Encrypt a secret with a passphrase and print the resulting bundle.

The secret is read from --secret or, when omitted, from stdin. The passphrase
is prompted for without echo, or read from the first line of stdin with
--passphrase-stdin (which then requires --secret).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := secretcipher.ParseProfile(encryptProfile)
		if err != nil {
			return err
		}

		secret := encryptSecret
		if !cmd.Flags().Changed("secret") {
			if encryptPassphraseStdin {
				return errors.New("--passphrase-stdin requires --secret")
			}
			if secret, err = readInput(cmd.InOrStdin()); err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
		}

		passphrase, err := readPassphrase(cmd, encryptPassphraseStdin, true)
		if err != nil {
			return err
		}

		bundle, err := secretcipher.New(secretcipher.WithProfile(profile)).Encrypt(secret, passphrase)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), bundle)
		fmt.Fprintln(cmd.ErrOrStderr(), ui.Success.Sprintf("Encrypted with the %s profile", profile))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encryptCmd)
	encryptCmd.Flags().StringVar(&encryptSecret, "secret", "", "Secret to encrypt (read from stdin when omitted)")
	encryptCmd.Flags().StringVar(&encryptProfile, "kdf-profile", secretcipher.DefaultProfile.String(),
		"Argon2id profile: interactive, moderate or sensitive")
	encryptCmd.Flags().BoolVar(&encryptPassphraseStdin, "passphrase-stdin", false, "Read the passphrase from the first line of stdin")
}
