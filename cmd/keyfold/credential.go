package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"keyfold/pkg/blobvault"
	"keyfold/pkg/crypto"
	"keyfold/pkg/store"
	"keyfold/pkg/tags"
)

var (
	credUsername string
	credURL      string
	credTags     string
)

var credentialCmd = &cobra.Command{
	Use:     "credential",
	Aliases: []string{"cred"},
	Short:   "Manage stored credentials",
}

var credentialAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Store a new credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		secret, err := promptPassword("Secret")
		if err != nil {
			return err
		}
		blob, err := crypto.EncryptString(sess.Key, secret)
		if err != nil {
			return err
		}

		now := store.Clock()
		cred := &store.Credential{
			ID:        uuid.NewString(),
			Owner:     sess.Email,
			Title:     args[0],
			Username:  credUsername,
			Secret:    blob,
			URL:       blobvault.NormalizeURL(credURL),
			Tags:      tags.Split(credTags),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.Credentials().Add(cmd.Context(), cred); err != nil {
			return err
		}

		fmt.Printf("Credential %q saved (%s)\n", cred.Title, shortID(cred.ID))
		return nil
	},
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		creds, err := st.Credentials().ListByOwner(cmd.Context(), sess.Email)
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			fmt.Println("No credentials stored")
			return nil
		}

		for _, c := range creds {
			line := fmt.Sprintf("%s  %s", shortID(c.ID), c.Title)
			if c.Username != "" {
				line += "  (" + c.Username + ")"
			}
			if len(c.Tags) > 0 {
				line += "  [" + strings.Join(c.Tags, ",") + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var credentialShowCmd = &cobra.Command{
	Use:   "show [id or title]",
	Short: "Decrypt and print a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		cred, err := findCredential(cmd, sess.Email, args[0])
		if err != nil {
			return err
		}
		secret, err := crypto.DecryptString(sess.Key, cred.Secret)
		if err != nil {
			return err
		}

		fmt.Printf("Title:    %s\n", cred.Title)
		if cred.Username != "" {
			fmt.Printf("Username: %s\n", cred.Username)
		}
		if cred.URL != "" {
			fmt.Printf("URL:      %s\n", cred.URL)
		}
		if len(cred.Tags) > 0 {
			fmt.Printf("Tags:     %s\n", strings.Join(cred.Tags, ", "))
		}
		fmt.Printf("Secret:   %s\n", secret)
		return nil
	},
}

var credentialEditCmd = &cobra.Command{
	Use:   "edit [id or title]",
	Short: "Update a credential's fields or secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		cred, err := findCredential(cmd, sess.Email, args[0])
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("username") {
			cred.Username = credUsername
		}
		if cmd.Flags().Changed("url") {
			cred.URL = blobvault.NormalizeURL(credURL)
		}
		if cmd.Flags().Changed("tags") {
			cred.Tags = tags.Split(credTags)
		}
		if confirm("Change the secret?") {
			secret, err := promptPassword("New secret")
			if err != nil {
				return err
			}
			if cred.Secret, err = crypto.EncryptString(sess.Key, secret); err != nil {
				return err
			}
		}
		cred.UpdatedAt = store.Clock()

		if err := st.Credentials().Put(cmd.Context(), cred); err != nil {
			return err
		}
		fmt.Printf("Credential %q updated\n", cred.Title)
		return nil
	},
}

var credentialRmCmd = &cobra.Command{
	Use:   "rm [id or title]",
	Short: "Delete a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		cred, err := findCredential(cmd, sess.Email, args[0])
		if err != nil {
			return err
		}
		if err := st.Credentials().Delete(cmd.Context(), cred.ID); err != nil {
			return err
		}
		color.Red("Credential %q deleted", cred.Title)
		return nil
	},
}

// findCredential resolves an owner's credential by full id, id prefix,
// or exact title (case-insensitive). Ambiguous needles are an error.
func findCredential(cmd *cobra.Command, owner, needle string) (*store.Credential, error) {
	creds, err := st.Credentials().ListByOwner(cmd.Context(), owner)
	if err != nil {
		return nil, err
	}

	var matches []*store.Credential
	for i := range creds {
		c := &creds[i]
		if c.ID == needle {
			return c, nil
		}
		if strings.HasPrefix(c.ID, needle) || strings.EqualFold(c.Title, needle) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no credential matches %q", needle)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d credentials; use the full id", needle, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	credentialCmd.AddCommand(credentialAddCmd)
	credentialCmd.AddCommand(credentialListCmd)
	credentialCmd.AddCommand(credentialShowCmd)
	credentialCmd.AddCommand(credentialEditCmd)
	credentialCmd.AddCommand(credentialRmCmd)

	for _, c := range []*cobra.Command{credentialAddCmd, credentialEditCmd} {
		c.Flags().StringVar(&credUsername, "username", "", "Username for this credential")
		c.Flags().StringVar(&credURL, "url", "", "URL for this credential")
		c.Flags().StringVar(&credTags, "tags", "", "Comma-separated tags (e.g. work,email)")
	}
}
