package paths

import (
	"crypto/sha1" //nolint:gosec // G505 - path identifiers, not cryptography
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned by Normalize for inputs that resolve outside the
// workspace root. The message text is part of the wire contract.
var ErrPathEscape = errors.New("Path outside workspace") //nolint:staticcheck // ST1005 - text matches the wire contract

// Normalize resolves input against the workspace root and returns the
// workspace-relative path with forward slashes. Absolute inputs are taken
// as-is before the confinement check. Any input whose canonical form does
// not live under the canonical workspace root fails with ErrPathEscape.
func Normalize(ws, input string) (string, error) {
	root, err := filepath.Abs(ws)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	root, err = resolveLenient(root)
	if err != nil {
		return "", fmt.Errorf("canonicalize workspace: %w", err)
	}

	cand := input
	if !filepath.IsAbs(cand) {
		cand = filepath.Join(root, cand)
	}
	abs, err := resolveLenient(cand)
	if err != nil {
		return "", fmt.Errorf("canonicalize path: %w", err)
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, input)
	}
	return filepath.ToSlash(rel), nil
}

// resolveLenient canonicalizes a path whose tail may not exist yet: symlinks
// in the deepest existing ancestor are resolved, the remainder is appended
// lexically. Mirrors realpath with strict=false semantics.
func resolveLenient(path string) (string, error) {
	p := filepath.Clean(path)
	suffix := ""
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return filepath.Join(p, suffix), nil
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent
	}
}

// ShortHash returns the stable short identifier for a normalized path:
// the first 12 hex digits of its SHA-1. Reservation filenames use this.
func ShortHash(rel string) string {
	sum := sha1.Sum([]byte(rel)) //nolint:gosec // G401 - identifier derivation, not cryptography
	return hex.EncodeToString(sum[:])[:12]
}

// FindBeadsSocket walks up from startDir looking for a .beads marker
// directory, the way git traverses parents to find .git/. The walk stops at
// the first marker found whether or not it holds a socket; the per-user
// ~/.beads/bd.sock is the final fallback. Reports whether a socket exists.
func FindBeadsSocket(startDir string) (string, bool) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	for {
		marker := filepath.Join(dir, ".beads")
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			cand := filepath.Join(marker, "bd.sock")
			if _, err := os.Stat(cand); err == nil {
				return cand, true
			}
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if home, err := os.UserHomeDir(); err == nil {
		cand := filepath.Join(home, ".beads", "bd.sock")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
	}
	return "", false
}

// MailDir returns the local mailbox directory for a workspace.
func MailDir(ws string) string {
	return filepath.Join(ws, ".mail")
}

// ReservationsDir returns the reservation directory for a workspace.
func ReservationsDir(ws string) string {
	return filepath.Join(ws, ".reservations")
}

// TeamMailDir returns the team-scoped mailbox under the hub base.
func TeamMailDir(base, team string) string {
	return filepath.Join(base, team, "mail")
}

// AgentsDir returns the team registry directory under the hub base.
func AgentsDir(base, team string) string {
	return filepath.Join(base, team, "agents")
}
