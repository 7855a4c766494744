package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"keyfold/internal/logging"
	"keyfold/pkg/account"
	"keyfold/pkg/blobvault"
	"keyfold/pkg/config"
	"keyfold/pkg/store"
)

var (
	cfgPath string

	cfg    *config.Config
	logger *zap.Logger
	st     store.Store
	vault  *blobvault.Vault
	svc    *account.Service

	opener blobvault.Opener = blobvault.SystemOpener()
)

var rootCmd = &cobra.Command{
	Use:           "keyfold",
	Short:         "keyfold is a local-first encrypted personal vault",
	Long:          `Stores credentials, sites, and documents encrypted under a key derived from your master password. Everything stays on this machine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		path := cfgPath
		if path == "" {
			if path, err = config.DefaultPath(); err != nil {
				return err
			}
		}
		if cfg, err = config.Load(path); err != nil {
			return err
		}
		if logger, err = logging.New(cfg.LogLevel); err != nil {
			return err
		}

		if st, err = store.Open(store.Options{Backend: cfg.Backend, Dir: cfg.DataDir}); err != nil {
			if errors.Is(err, store.ErrLocked) {
				return fmt.Errorf("another keyfold process is using %s", cfg.DataDir)
			}
			return err
		}
		if err = st.Migrate(cmd.Context()); err != nil {
			st.Close()
			return err
		}

		if vault, err = blobvault.Open(cfg.VaultDir, logger.Named("vault")); err != nil {
			st.Close()
			return err
		}
		svc = account.NewService(st, logger.Named("account"))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if st != nil {
			st.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (default ~/.keyfold/config.yaml)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(credentialCmd)
	rootCmd.AddCommand(siteCmd)
	rootCmd.AddCommand(documentCmd)
	rootCmd.AddCommand(healthCmd)
}

// currentSession restores the persisted session and refreshes the
// must-change-password flag from the account record.
func currentSession(cmd *cobra.Command) (*account.Session, error) {
	sess, err := account.LoadSession(cfg.SessionPath())
	if errors.Is(err, account.ErrNoSession) {
		return nil, fmt.Errorf("not logged in; run 'keyfold login' first")
	}
	if err != nil {
		return nil, err
	}

	acct, err := st.Users().Get(cmd.Context(), sess.Email)
	if err != nil {
		return nil, fmt.Errorf("session account unavailable: %w", err)
	}
	sess.MustChangePassword = acct.MustChangePassword
	return sess, nil
}

func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}

// promptNewPassword asks for a password twice and requires both entries
// to match.
func promptNewPassword() (string, error) {
	first, err := promptPassword("New password")
	if err != nil {
		return "", err
	}
	second, err := promptPassword("Confirm new password")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

func promptLine(label string) (string, error) {
	fmt.Printf("%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	return response == "y" || response == "Y"
}
