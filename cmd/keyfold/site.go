package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"keyfold/pkg/blobvault"
	"keyfold/pkg/store"
	"keyfold/pkg/tags"
)

var siteTags string

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage bookmarked sites",
}

var siteAddCmd = &cobra.Command{
	Use:   "add [title] [url]",
	Short: "Bookmark a site",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		now := store.Clock()
		site := &store.Site{
			ID:        uuid.NewString(),
			Owner:     sess.Email,
			Title:     args[0],
			URL:       blobvault.NormalizeURL(args[1]),
			Tags:      tags.Split(siteTags),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.Sites().Add(cmd.Context(), site); err != nil {
			return err
		}
		fmt.Printf("Site %q saved (%s)\n", site.Title, shortID(site.ID))
		return nil
	},
}

var siteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bookmarked sites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		sites, err := st.Sites().ListByOwner(cmd.Context(), sess.Email)
		if err != nil {
			return err
		}
		if len(sites) == 0 {
			fmt.Println("No sites stored")
			return nil
		}
		for _, s := range sites {
			line := fmt.Sprintf("%s  %s  %s", shortID(s.ID), s.Title, s.URL)
			if len(s.Tags) > 0 {
				line += "  [" + strings.Join(s.Tags, ",") + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var siteOpenCmd = &cobra.Command{
	Use:   "open [id or title]",
	Short: "Open a bookmarked site in the browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		site, err := findSite(cmd, sess.Email, args[0])
		if err != nil {
			return err
		}
		url := blobvault.NormalizeURL(site.URL)
		if url == "" {
			return fmt.Errorf("site %q has no URL", site.Title)
		}
		return opener.OpenURL(url)
	},
}

var siteRmCmd = &cobra.Command{
	Use:   "rm [id or title]",
	Short: "Delete a bookmarked site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		site, err := findSite(cmd, sess.Email, args[0])
		if err != nil {
			return err
		}
		if err := st.Sites().Delete(cmd.Context(), site.ID); err != nil {
			return err
		}
		color.Red("Site %q deleted", site.Title)
		return nil
	},
}

func findSite(cmd *cobra.Command, owner, needle string) (*store.Site, error) {
	sites, err := st.Sites().ListByOwner(cmd.Context(), owner)
	if err != nil {
		return nil, err
	}

	var matches []*store.Site
	for i := range sites {
		s := &sites[i]
		if s.ID == needle {
			return s, nil
		}
		if strings.HasPrefix(s.ID, needle) || strings.EqualFold(s.Title, needle) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no site matches %q", needle)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d sites; use the full id", needle, len(matches))
	}
}

func init() {
	siteCmd.AddCommand(siteAddCmd)
	siteCmd.AddCommand(siteListCmd)
	siteCmd.AddCommand(siteOpenCmd)
	siteCmd.AddCommand(siteRmCmd)

	siteAddCmd.Flags().StringVar(&siteTags, "tags", "", "Comma-separated tags")
}
