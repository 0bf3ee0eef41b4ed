// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package certgen wraps the external script that creates the CA, tiller and
// helm key pairs.
package certgen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shayne/helmtls/internal/bundle"
)

// Generator deposits ca.cert.pem, tiller.{key,cert}.pem and
// helm.{key,cert}.pem into dir.
type Generator interface {
	Generate(dir string) error
}

// Runner runs an external command to completion.
type Runner interface {
	Run(name string, args ...string) error
}

// Script runs `<Path> <dir>` and checks the expected files appeared.
type Script struct {
	Path   string
	Runner Runner
}

func (s Script) Generate(dir string) error {
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return errors.New("certificate generation script is not configured")
	}
	if s.Runner == nil {
		return errors.New("certificate generation runner is not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("certificate generation script: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := s.Runner.Run(path, abs); err != nil {
		return err
	}
	if err := bundle.CheckFiles(abs, bundle.RoleAll); err != nil {
		return fmt.Errorf("generation script did not produce the expected files: %w", err)
	}
	return nil
}

// ResetDir empties dir, creating it if needed, so a new generation run never
// mixes with leftovers from a previous one.
func ResetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}
