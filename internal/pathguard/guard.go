// Package pathguard validates that a configured file path stays inside an
// allowed root directory before anything is opened on it.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CanonicalPath is an absolute, cleaned, symlink-free path that has been
// proven to lie within an allowed root. Only Validate produces one.
type CanonicalPath struct {
	path string
	root string
}

// String returns the canonical path.
func (p CanonicalPath) String() string {
	return p.path
}

// Root returns the canonical allowed root the path was validated against.
func (p CanonicalPath) Root() string {
	return p.root
}

// IsZero reports whether p was never validated.
func (p CanonicalPath) IsZero() bool {
	return p.path == ""
}

// PathEscapeError reports a configured path that resolves outside the root.
type PathEscapeError struct {
	Configured string
	Resolved   string
	Root       string
	Reason     string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path %q resolves to %q outside allowed root %q: %s",
		e.Configured, e.Resolved, e.Root, e.Reason)
}

// Validate resolves configuredPath against allowedRoot and returns its
// canonical form, or a *PathEscapeError when it leaves the root.
//
// Relative paths are taken relative to allowedRoot. The target itself does
// not have to exist; its deepest existing ancestor is resolved through
// symlinks and the missing tail is appended verbatim.
func Validate(configuredPath, allowedRoot string) (CanonicalPath, error) {
	if strings.TrimSpace(configuredPath) == "" {
		return CanonicalPath{}, errors.New("configured path is empty")
	}
	if strings.TrimSpace(allowedRoot) == "" {
		return CanonicalPath{}, errors.New("allowed root is empty")
	}

	root, err := filepath.Abs(allowedRoot)
	if err != nil {
		return CanonicalPath{}, fmt.Errorf("resolve allowed root: %w", err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return CanonicalPath{}, fmt.Errorf("resolve allowed root: %w", err)
	}

	candidate := configuredPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveExisting(candidate)
	if err != nil {
		return CanonicalPath{}, fmt.Errorf("canonicalize %q: %w", configuredPath, err)
	}

	if !within(root, resolved) {
		reason := "path is not beneath the root"
		if within(root, candidate) {
			reason = "symlink leads outside the root"
		}
		return CanonicalPath{}, &PathEscapeError{
			Configured: configuredPath,
			Resolved:   resolved,
			Root:       root,
			Reason:     reason,
		}
	}

	return CanonicalPath{path: resolved, root: root}, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-attaches the components that do not exist yet.
func resolveExisting(path string) (string, error) {
	return resolveWithin(path, 0)
}

// maxLinkHops bounds dangling-link chains, matching the usual ELOOP limit.
const maxLinkHops = 40

func resolveWithin(path string, hops int) (string, error) {
	var missing []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			parts := append([]string{resolved}, missing...)
			return filepath.Clean(filepath.Join(parts...)), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		// A dangling symlink is followed to where it points, so the caller
		// judges the target rather than the link.
		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			if hops >= maxLinkHops {
				return "", fmt.Errorf("too many symlinks at %q", current)
			}
			target, rerr := os.Readlink(current)
			if rerr != nil {
				return "", fmt.Errorf("read symlink %q: %w", current, rerr)
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(current), target)
			}
			parts := append([]string{filepath.Clean(target)}, missing...)
			return resolveWithin(filepath.Join(parts...), hops+1)
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		missing = append([]string{filepath.Base(current)}, missing...)
		current = parent
	}
}

// within reports whether path equals root or is nested under it. Paths on a
// different volume fail filepath.Rel and are treated as outside.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
