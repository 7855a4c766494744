package blobvault

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
)

// Opener hands a file or URL to the desktop environment for viewing.
// It is an interface so command handlers can be tested without spawning
// anything.
type Opener interface {
	OpenPath(path string) error
	OpenURL(url string) error
}

// SystemOpener returns the platform opener.
func SystemOpener() Opener {
	return systemOpener{}
}

type systemOpener struct{}

func (systemOpener) OpenPath(path string) error  { return launch(path) }
func (systemOpener) OpenURL(target string) error { return launch(target) }

func launch(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("blobvault: failed to open %s: %w", target, err)
	}
	// Releases the child; the viewer outlives us.
	return cmd.Process.Release()
}

// NormalizeURL canonicalizes a user-entered link for storage and
// opening. Empty stays empty; anything that parses with a scheme is
// kept as-is, including non-hierarchical links like mailto; a
// protocol-relative link gets https; anything else is treated as a bare
// host and prefixed with https.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		return s
	}
	return "https://" + s
}
