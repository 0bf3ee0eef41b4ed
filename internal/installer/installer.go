// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package installer unpacks tiller-server and helm-client archives into a
// scratch directory and drives `helm init` / `helm reset` with the result.
package installer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shayne/helmtls/internal/archive"
	"github.com/shayne/helmtls/internal/bundle"
)

const defaultHelm = "helm"

// Runner runs an external command; a non-zero exit is an error.
type Runner interface {
	Run(name string, args ...string) error
}

type Installer struct {
	// Scratch is cleared before every unpack. When empty a fresh temporary
	// directory is used instead.
	Scratch string
	// Helm is the helm binary, "helm" when empty.
	Helm   string
	Runner Runner
}

// Unpacked is a validated bundle extracted into scratch space.
type Unpacked struct {
	Dir       string
	Name      string
	Namespace string
	Role      bundle.Role

	scratch string
}

// Cleanup removes the scratch directory holding the bundle.
func (u *Unpacked) Cleanup() error {
	if u == nil || u.scratch == "" {
		return nil
	}
	return os.RemoveAll(u.scratch)
}

// File returns the path of name inside the unpacked bundle.
func (u *Unpacked) File(name string) string {
	return filepath.Join(u.Dir, name)
}

// Unpack extracts archivePath and checks it holds a bundle for role. Any
// failure removes the scratch directory.
func (i *Installer) Unpack(archivePath string, role bundle.Role) (_ *Unpacked, err error) {
	dirs, err := archive.TopLevelDirs(archivePath)
	if err != nil {
		return nil, err
	}
	if len(dirs) != 1 {
		return nil, topLevelError(dirs)
	}

	scratch, err := i.prepareScratch()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(scratch)
		}
	}()

	if err := archive.ExtractValidated(archivePath, scratch); err != nil {
		return nil, err
	}
	dir, err := SingleDir(scratch)
	if err != nil {
		return nil, err
	}
	namespace, err := bundle.Validate(dir, role)
	if err != nil {
		return nil, err
	}
	return &Unpacked{
		Dir:       dir,
		Name:      filepath.Base(dir),
		Namespace: namespace,
		Role:      role,
		scratch:   scratch,
	}, nil
}

func (i *Installer) prepareScratch() (string, error) {
	if strings.TrimSpace(i.Scratch) == "" {
		dir, err := os.MkdirTemp("", "helmtls-*")
		if err != nil {
			return "", fmt.Errorf("failed to create scratch dir: %w", err)
		}
		return dir, nil
	}
	scratch, err := filepath.Abs(i.Scratch)
	if err != nil {
		return "", err
	}
	if scratch == filepath.Dir(scratch) {
		return "", fmt.Errorf("refusing to use %s as scratch dir", scratch)
	}
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(home) == scratch {
		return "", fmt.Errorf("refusing to use %s as scratch dir", scratch)
	}
	if err := os.RemoveAll(scratch); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", scratch, err)
	}
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", scratch, err)
	}
	return scratch, nil
}

// SingleDir returns the only directory inside root. Zero or several
// directories make the bundle malformed.
func SingleDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	if len(dirs) != 1 {
		return "", topLevelError(dirs)
	}
	return filepath.Join(root, dirs[0]), nil
}

func topLevelError(dirs []string) error {
	if len(dirs) == 0 {
		return &bundle.MalformedError{Reason: "missing directory"}
	}
	return &bundle.MalformedError{Reason: fmt.Sprintf("expected one top-level directory, found %d (%s)", len(dirs), strings.Join(dirs, ", "))}
}

// Install unpacks a tiller-server archive and runs `helm init` with it.
func (i *Installer) Install(archivePath, serviceAccount string) (*Unpacked, error) {
	serviceAccount = strings.TrimSpace(serviceAccount)
	if serviceAccount == "" {
		return nil, errors.New("service account is required")
	}
	return i.run(archivePath, bundle.RoleServer, func(u *Unpacked) []string {
		return InitArgs(u, serviceAccount)
	})
}

// Remove unpacks a helm-client archive and runs `helm reset` with it.
func (i *Installer) Remove(archivePath string) (*Unpacked, error) {
	return i.run(archivePath, bundle.RoleClient, ResetArgs)
}

func (i *Installer) run(archivePath string, role bundle.Role, argsFor func(*Unpacked) []string) (*Unpacked, error) {
	if i.Runner == nil {
		return nil, errors.New("installer has no command runner")
	}
	u, err := i.Unpack(archivePath, role)
	if err != nil {
		return nil, err
	}
	defer func() { _ = u.Cleanup() }()
	if err := i.Runner.Run(i.helm(), argsFor(u)...); err != nil {
		return u, err
	}
	return u, nil
}

func (i *Installer) helm() string {
	if strings.TrimSpace(i.Helm) == "" {
		return defaultHelm
	}
	return i.Helm
}

// InitArgs are the `helm init` arguments that deploy tiller with TLS.
func InitArgs(u *Unpacked, serviceAccount string) []string {
	return []string{
		"init",
		"--service-account=" + serviceAccount,
		"--upgrade",
		"--tiller-namespace=" + u.Namespace,
		"--tiller-tls",
		"--tiller-tls-cert=" + u.File(bundle.TillerCert),
		"--tiller-tls-key=" + u.File(bundle.TillerKey),
		"--tiller-tls-verify",
		"--tls-ca-cert=" + u.File(bundle.CACert),
	}
}

// ResetArgs are the `helm reset` arguments that remove tiller over TLS.
func ResetArgs(u *Unpacked) []string {
	return []string{
		"reset",
		"--tiller-namespace=" + u.Namespace,
		"--tls",
		"--tls-cert=" + u.File(bundle.HelmCert),
		"--tls-key=" + u.File(bundle.HelmKey),
		"--tls-ca-cert=" + u.File(bundle.CACert),
	}
}
