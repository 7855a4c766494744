// Package blobvault stores document attachments as content-addressed
// files under a single vault directory. Records in the store reference
// blobs by vault-relative path only, so the vault can move with the
// profile directory.
package blobvault

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"keyfold/pkg/store"
)

// Sentinel errors.
var (
	// ErrPathOutsideVault indicates a relative path that would escape the
	// vault root.
	ErrPathOutsideVault = errors.New("blobvault: path escapes vault root")

	// ErrNotRegularFile indicates an import source that is not a plain
	// file.
	ErrNotRegularFile = errors.New("blobvault: source is not a regular file")
)

const (
	dirMode  = 0700
	fileMode = 0600

	sniffLen = 512
)

// Vault is an attachment store rooted at one directory.
type Vault struct {
	root string
	log  *zap.Logger
}

// Open prepares the vault directory and returns a handle to it.
func Open(root string, log *zap.Logger) (*Vault, error) {
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("blobvault: failed to create vault directory: %w", err)
	}
	return &Vault{root: root, log: log}, nil
}

// Root returns the vault root directory.
func (v *Vault) Root() string {
	return v.root
}

// Import copies src into the vault under a content-addressed name,
// {sha256-hex}-{sanitized name}, and returns its FileRef. Deduplication
// is by content alone: importing identical bytes again reuses the
// existing blob even when the source file name differs, and the display
// name lives only in the returned FileRef.
func (v *Vault) Import(src string) (*store.FileRef, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("blobvault: failed to stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, src)
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("blobvault: failed to open %s: %w", src, err)
	}
	defer in.Close()

	// Hash and copy in one pass, landing in a temp file first so a
	// partial copy never becomes a referenced blob.
	tmp, err := os.CreateTemp(v.root, ".import-*")
	if err != nil {
		return nil, fmt.Errorf("blobvault: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), in)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("blobvault: failed to copy %s: %w", src, err)
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	name := filepath.Base(src)

	relPath, err := v.findBlob(digest)
	if err != nil {
		return nil, err
	}
	if relPath != "" {
		v.log.Debug("blob already present", zap.String("rel_path", relPath))
	} else {
		relPath = digest + "-" + sanitizeName(name)
		dst := filepath.Join(v.root, relPath)
		if err := os.Rename(tmpPath, dst); err != nil {
			return nil, fmt.Errorf("blobvault: failed to store blob: %w", err)
		}
		if err := os.Chmod(dst, fileMode); err != nil {
			return nil, fmt.Errorf("blobvault: failed to set blob permissions: %w", err)
		}
	}

	mimeType, err := detectMime(filepath.Join(v.root, relPath), name)
	if err != nil {
		return nil, err
	}

	v.log.Info("imported attachment",
		zap.String("name", name),
		zap.String("rel_path", relPath),
		zap.Int64("size", size))

	return &store.FileRef{
		Name:    name,
		RelPath: relPath,
		Size:    size,
		Mime:    mimeType,
		SHA256:  digest,
	}, nil
}

// findBlob returns the vault-relative name of the stored blob carrying
// the given content digest, or "" when none exists yet. The original
// display name is ignored so identical bytes land in one file.
func (v *Vault) findBlob(digest string) (string, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return "", fmt.Errorf("blobvault: failed to scan vault: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), digest+"-") {
			return e.Name(), nil
		}
	}
	return "", nil
}

// Resolve turns a vault-relative path from a FileRef into an absolute
// path, rejecting anything that would escape the vault root.
func (v *Vault) Resolve(relPath string) (string, error) {
	relPath = strings.TrimLeft(relPath, "/\\")
	if relPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathOutsideVault)
	}
	cleaned := filepath.Clean(relPath)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideVault, relPath)
	}
	return filepath.Join(v.root, cleaned), nil
}

// Remove deletes a blob. Removal is best effort: a missing or stuck
// blob is logged and skipped so record deletion never fails on vault
// cleanup.
func (v *Vault) Remove(relPath string) {
	path, err := v.Resolve(relPath)
	if err != nil {
		v.log.Warn("skipping blob removal", zap.String("rel_path", relPath), zap.Error(err))
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		v.log.Warn("failed to remove blob", zap.String("rel_path", relPath), zap.Error(err))
	}
}

// sanitizeName strips path separators and control characters from a
// file name so it is safe as a single path element.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':':
			b.WriteRune('_')
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "blob"
	}
	return out
}

// detectMime resolves the content type from the file extension, falling
// back to content sniffing.
func detectMime(path, name string) (string, error) {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("blobvault: failed to sniff content type: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("blobvault: failed to sniff content type: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}
