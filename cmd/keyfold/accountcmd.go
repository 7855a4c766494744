package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"keyfold/pkg/account"
)

var registerName string

var registerCmd = &cobra.Command{
	Use:   "register [email]",
	Short: "Create a new local account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptNewPassword()
		if err != nil {
			return err
		}

		sess, phrase, err := svc.Register(cmd.Context(), args[0], password, registerName)
		if err != nil {
			return err
		}

		if err := account.SaveSession(cfg.SessionPath(), sess); err != nil {
			return err
		}

		fmt.Printf("Account %s created.\n\n", sess.Email)
		color.Yellow("Your recovery phrase (write it down, it is shown only once):")
		printPhrase(phrase)
		fmt.Println()
		color.Yellow("Anyone with these words can reset your password.")
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Unlock the vault for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword("Password")
		if err != nil {
			return err
		}

		sess, err := svc.Login(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		if err := account.SaveSession(cfg.SessionPath(), sess); err != nil {
			return err
		}

		color.Green("Logged in as %s", sess.Email)
		if sess.MustChangePassword {
			color.Yellow("You must change your password: run 'keyfold passwd'")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Lock the vault and forget the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := account.ClearSession(cfg.SessionPath()); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the master password, re-encrypting all secrets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		current, err := promptPassword("Current password")
		if err != nil {
			return err
		}
		next, err := promptNewPassword()
		if err != nil {
			return err
		}

		if err := svc.ChangePassword(cmd.Context(), sess, current, next); err != nil {
			return err
		}
		if err := account.SaveSession(cfg.SessionPath(), sess); err != nil {
			return err
		}

		color.Green("Password changed; all secrets re-encrypted")
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover [email]",
	Short: "Reset a forgotten password with the recovery phrase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		ch, err := svc.NewRecoveryChallenge(cmd.Context(), email)
		if err != nil {
			return err
		}

		fmt.Println("Answer with the requested words of your recovery phrase.")
		answers := make([]string, len(ch.Positions))
		for i, pos := range ch.Positions {
			answers[i], err = promptLine(fmt.Sprintf("Word #%d", pos+1))
			if err != nil {
				return err
			}
		}

		next, err := promptNewPassword()
		if err != nil {
			return err
		}

		// A surviving session for this email still holds the old key; it
		// is what lets recovery re-encrypt the existing secrets.
		var oldKey []byte
		if prev, err := account.LoadSession(cfg.SessionPath()); err == nil {
			if prev.Email == email {
				oldKey = prev.Key
			} else {
				prev.Wipe()
			}
		}

		sess, err := svc.Recover(cmd.Context(), email, oldKey, ch, answers, next)
		if err != nil {
			return err
		}
		if err := account.SaveSession(cfg.SessionPath(), sess); err != nil {
			return err
		}

		color.Green("Password reset; logged in as %s", sess.Email)
		return nil
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Account operations",
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the account and every record it owns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		if !confirm(fmt.Sprintf("Permanently delete %s and all its data?", sess.Email)) {
			fmt.Println("Aborted")
			return nil
		}
		password, err := promptPassword("Password")
		if err != nil {
			return err
		}

		blobs, err := svc.Delete(cmd.Context(), sess, password)
		if err != nil {
			return err
		}
		for _, ref := range blobs {
			vault.Remove(ref.RelPath)
		}
		if err := account.ClearSession(cfg.SessionPath()); err != nil {
			return err
		}

		fmt.Println("Account deleted")
		return nil
	},
}

var accountMnemonicCmd = &cobra.Command{
	Use:   "mnemonic",
	Short: "Show the stored recovery phrase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		password, err := promptPassword("Password")
		if err != nil {
			return err
		}
		phrase, err := svc.RevealMnemonic(cmd.Context(), sess, password)
		if err != nil {
			return err
		}
		printPhrase(phrase)
		return nil
	},
}

func printPhrase(phrase []string) {
	numbered := make([]string, len(phrase))
	for i, word := range phrase {
		numbered[i] = fmt.Sprintf("%d.%s", i+1, word)
	}
	fmt.Printf("  %s\n", strings.Join(numbered, " "))
}

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "Display name for the account")

	accountCmd.AddCommand(accountDeleteCmd)
	accountCmd.AddCommand(accountMnemonicCmd)
}
