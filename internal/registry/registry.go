// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry manages the per-user store of helm-client TLS
// environments, one directory per bundle under a root such as ~/.helm/tls.
package registry

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/shayne/helmtls/internal/bundle"
	"github.com/shayne/helmtls/internal/installer"
	"github.com/shayne/helmtls/internal/safepath"
)

const lockFile = ".lock"

// ErrNotInstalled is returned by Lookup for an unknown environment.
var ErrNotInstalled = errors.New("environment is not installed")

// Registry owns every file under Root.
type Registry struct {
	Root string
}

// Entry is one installed environment.
type Entry struct {
	Name      string
	Dir       string
	Namespace string
}

// Result describes the outcome of Install.
type Result struct {
	Name string
	Dir  string
	// Installed is false when the environment already existed and nothing
	// was written.
	Installed bool
}

func New(root string) *Registry {
	return &Registry{Root: root}
}

// List returns the installed environment names, sorted. A missing root is an
// empty registry.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", r.Root, err)
	}
	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Entries returns List with each environment's directory and namespace. An
// unreadable namespace marker leaves Namespace empty.
func (r *Registry) Entries() ([]Entry, error) {
	names, err := r.List()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		dir := filepath.Join(r.Root, name)
		namespace, _ := bundle.ReadNamespace(dir)
		entries = append(entries, Entry{Name: name, Dir: dir, Namespace: namespace})
	}
	return entries, nil
}

// Lookup returns the installed environment called name.
func (r *Registry) Lookup(name string) (Entry, error) {
	dir, err := r.entryPath(name)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotInstalled, name)
		}
		return Entry{}, err
	}
	if !info.IsDir() {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	namespace, err := bundle.Validate(dir, bundle.RoleClient)
	if err != nil {
		return Entry{}, fmt.Errorf("environment %s is damaged: %w", name, err)
	}
	return Entry{Name: strings.TrimSpace(name), Dir: dir, Namespace: namespace}, nil
}

// Install validates a helm-client archive and copies its bundle into the
// registry under the bundle's directory name. An existing environment of
// the same name is left untouched and reported with Installed false.
func (r *Registry) Install(archivePath string) (Result, error) {
	// A private temp dir keeps extraction out of the registry root.
	unpacker := &installer.Installer{}
	u, err := unpacker.Unpack(archivePath, bundle.RoleClient)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = u.Cleanup() }()

	if err := bundle.ValidateName(u.Name); err != nil {
		return Result{}, &bundle.MalformedError{Reason: err.Error()}
	}
	target, err := r.entryPath(u.Name)
	if err != nil {
		return Result{}, err
	}
	result := Result{Name: u.Name, Dir: target}

	unlock, err := r.lock()
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	if _, err := os.Lstat(target); err == nil {
		return result, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Result{}, err
	}

	staging, err := os.MkdirTemp(r.Root, ".staging-"+u.Name+"-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()
	if err := copyTree(u.Dir, staging); err != nil {
		return Result{}, err
	}
	if err := os.Chmod(staging, 0o700); err != nil {
		return Result{}, err
	}
	if err := os.Rename(staging, target); err != nil {
		return Result{}, fmt.Errorf("failed to install %s: %w", u.Name, err)
	}
	result.Installed = true
	return result, nil
}

// Remove deletes the environment called name. It reports false, without
// error, when nothing was installed under that name.
func (r *Registry) Remove(name string) (bool, error) {
	name = strings.TrimSpace(name)
	target, err := r.entryPath(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(r.Root); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	unlock, err := r.lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s is not an environment directory", target)
	}
	// Move it out of the listing first so a failed delete never leaves a
	// half-removed environment visible.
	trash, err := os.MkdirTemp(r.Root, ".removing-"+name+"-*")
	if err != nil {
		return false, err
	}
	defer func() { _ = os.RemoveAll(trash) }()
	if err := os.Rename(target, filepath.Join(trash, name)); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return true, nil
}

func (r *Registry) entryPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := bundle.ValidateName(name); err != nil {
		return "", err
	}
	root, err := filepath.Abs(r.Root)
	if err != nil {
		return "", err
	}
	target := filepath.Join(root, name)
	if !safepath.Within(root, target) || target == root {
		return "", &safepath.TraversalError{Member: name, Reason: "resolves outside registry"}
	}
	return target, nil
}

func (r *Registry) lock() (func(), error) {
	if err := os.MkdirAll(r.Root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", r.Root, err)
	}
	fl := flock.New(filepath.Join(r.Root, lockFile))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", r.Root, err)
	}
	return func() { _ = fl.Unlock() }, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0o700)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			return fmt.Errorf("refusing to copy non-regular file %s", p)
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// HelmFlags are the helm client arguments that talk to tiller over TLS with
// this environment's credentials.
func HelmFlags(e Entry) []string {
	return []string{
		"--tls",
		"--tls-ca-cert=" + filepath.Join(e.Dir, bundle.CACert),
		"--tls-cert=" + filepath.Join(e.Dir, bundle.HelmCert),
		"--tls-key=" + filepath.Join(e.Dir, bundle.HelmKey),
		"--tiller-namespace=" + e.Namespace,
	}
}
