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

var (
	docFile string
	docLink string
	docTags string
)

var documentCmd = &cobra.Command{
	Use:     "document",
	Aliases: []string{"doc"},
	Short:   "Manage documents and attachments",
}

var documentAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Store a document from a file, a link, or both",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if docFile == "" && docLink == "" {
			return fmt.Errorf("give at least one of --file or --link")
		}

		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		var kind store.DocumentKind
		var fileRef *store.FileRef
		switch {
		case docFile != "" && docLink != "":
			kind = store.DocumentFileLink
		case docFile != "":
			kind = store.DocumentFile
		default:
			kind = store.DocumentLink
		}
		if docFile != "" {
			if fileRef, err = vault.Import(docFile); err != nil {
				return err
			}
		}

		now := store.Clock()
		doc := &store.Document{
			ID:        uuid.NewString(),
			Owner:     sess.Email,
			Title:     args[0],
			Kind:      kind,
			File:      fileRef,
			URL:       blobvault.NormalizeURL(docLink),
			Tags:      tags.Split(docTags),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.Documents().Add(cmd.Context(), doc); err != nil {
			if fileRef != nil {
				vault.Remove(fileRef.RelPath)
			}
			return err
		}

		fmt.Printf("Document %q saved (%s)\n", doc.Title, shortID(doc.ID))
		return nil
	},
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		docs, err := st.Documents().ListByOwner(cmd.Context(), sess.Email)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents stored")
			return nil
		}
		for _, d := range docs {
			line := fmt.Sprintf("%s  %-9s  %s", shortID(d.ID), d.Kind, d.Title)
			if d.File != nil {
				line += fmt.Sprintf("  (%s, %d bytes)", d.File.Name, d.File.Size)
			}
			if len(d.Tags) > 0 {
				line += "  [" + strings.Join(d.Tags, ",") + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var documentOpenCmd = &cobra.Command{
	Use:   "open [id or title]",
	Short: "Open a document with the system viewer or browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		doc, err := findDocument(cmd, sess.Email, args[0])
		if err != nil {
			return err
		}

		if doc.File != nil {
			path, err := vault.Resolve(doc.File.RelPath)
			if err != nil {
				return err
			}
			return opener.OpenPath(path)
		}
		url := blobvault.NormalizeURL(doc.URL)
		if url == "" {
			return fmt.Errorf("document %q has nothing to open", doc.Title)
		}
		return opener.OpenURL(url)
	},
}

var documentRmCmd = &cobra.Command{
	Use:   "rm [id or title]",
	Short: "Delete a document and its attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		doc, err := findDocument(cmd, sess.Email, args[0])
		if err != nil {
			return err
		}
		if err := st.Documents().Delete(cmd.Context(), doc.ID); err != nil {
			return err
		}
		if doc.File != nil {
			vault.Remove(doc.File.RelPath)
		}
		color.Red("Document %q deleted", doc.Title)
		return nil
	},
}

func findDocument(cmd *cobra.Command, owner, needle string) (*store.Document, error) {
	docs, err := st.Documents().ListByOwner(cmd.Context(), owner)
	if err != nil {
		return nil, err
	}

	var matches []*store.Document
	for i := range docs {
		d := &docs[i]
		if d.ID == needle {
			return d, nil
		}
		if strings.HasPrefix(d.ID, needle) || strings.EqualFold(d.Title, needle) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no document matches %q", needle)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d documents; use the full id", needle, len(matches))
	}
}

func init() {
	documentCmd.AddCommand(documentAddCmd)
	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentOpenCmd)
	documentCmd.AddCommand(documentRmCmd)

	documentAddCmd.Flags().StringVar(&docFile, "file", "", "Path of a file to import into the vault")
	documentAddCmd.Flags().StringVar(&docLink, "link", "", "URL the document points at")
	documentAddCmd.Flags().StringVar(&docTags, "tags", "", "Comma-separated tags")
}
