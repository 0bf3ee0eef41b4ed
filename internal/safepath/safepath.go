// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package safepath decides whether an untrusted relative path, such as an
// archive member name, stays inside a destination directory.
package safepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrTraversal matches every *TraversalError.
var ErrTraversal = errors.New("path escapes destination")

// TraversalError reports a member path that would resolve outside its root.
type TraversalError struct {
	Member string
	Reason string
}

func (e *TraversalError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("attempted path traversal: %q", e.Member)
	}
	return fmt.Sprintf("attempted path traversal: %q: %s", e.Member, e.Reason)
}

func (e *TraversalError) Unwrap() error {
	return ErrTraversal
}

// Resolve joins member onto root and returns the absolute target. The target
// must be root itself or nested under it, the member may not contain ".."
// segments or be absolute, and no existing symlink along the way may lead
// out of root.
func Resolve(root, member string) (string, error) {
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("destination %q is not absolute", root)
	}
	root = filepath.Clean(root)
	if err := checkMember(member); err != nil {
		return "", err
	}
	target := filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(member, `\`, "/")))
	if !Within(root, target) {
		return "", &TraversalError{Member: member, Reason: "resolves outside destination"}
	}
	if err := checkLinks(root, target); err != nil {
		return "", &TraversalError{Member: member, Reason: err.Error()}
	}
	return target, nil
}

// Within reports whether path is root or lies beneath it. Both are compared
// lexically after cleaning.
func Within(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func checkMember(member string) error {
	if strings.TrimSpace(member) == "" {
		return &TraversalError{Member: member, Reason: "empty name"}
	}
	if strings.HasPrefix(member, "/") || strings.HasPrefix(member, `\`) || filepath.IsAbs(member) || filepath.VolumeName(member) != "" {
		return &TraversalError{Member: member, Reason: "absolute path"}
	}
	for _, segment := range strings.FieldsFunc(member, isSeparator) {
		if segment == ".." {
			return &TraversalError{Member: member, Reason: "contains .. segment"}
		}
	}
	return nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// checkLinks resolves the deepest existing ancestor of target and makes sure
// symlinks already present under root do not redirect it elsewhere.
func checkLinks(root, target string) error {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	existing := target
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		if existing == root {
			return nil
		}
		existing = filepath.Dir(existing)
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return err
	}
	if !Within(realRoot, resolved) {
		return fmt.Errorf("symlink %s leads outside destination", existing)
	}
	return nil
}
