// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bundle describes Helm/Tiller TLS credential bundles: which files
// each role needs, the namespace marker, and how a generated working
// directory is split into distributable archives.
package bundle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	CACert     = "ca.cert.pem"
	TillerKey  = "tiller.key.pem"
	TillerCert = "tiller.cert.pem"
	HelmKey    = "helm.key.pem"
	HelmCert   = "helm.cert.pem"

	// NamespaceFile holds the tiller namespace the credentials are scoped to.
	NamespaceFile = "namespace.txt"
)

type Role string

const (
	RoleCA     Role = "ca"
	RoleServer Role = "server"
	RoleClient Role = "client"
	RoleAll    Role = "all"
)

var (
	ErrMalformed   = errors.New("malformed archive")
	ErrMissingFile = errors.New("missing expected file")
)

// MalformedError reports a bundle that cannot be used at all: wrong number of
// top-level directories or a missing or empty namespace marker.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "invalid archive: " + e.Reason
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}

// MissingFileError names the first required file absent from a bundle.
type MissingFileError struct {
	Name string
}

func (e *MissingFileError) Error() string {
	return "missing expected file " + e.Name
}

func (e *MissingFileError) Unwrap() error {
	return ErrMissingFile
}

func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleCA:
		return RoleCA, nil
	case RoleServer, "tiller":
		return RoleServer, nil
	case RoleClient, "helm":
		return RoleClient, nil
	case RoleAll:
		return RoleAll, nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

// RequiredFiles returns the PEM files a bundle must carry for role, in a
// stable order. The namespace marker is not included.
func RequiredFiles(role Role) []string {
	switch role {
	case RoleCA:
		return []string{CACert}
	case RoleServer:
		return []string{CACert, TillerKey, TillerCert}
	case RoleClient:
		return []string{CACert, HelmKey, HelmCert}
	case RoleAll:
		return []string{CACert, TillerKey, TillerCert, HelmKey, HelmCert}
	default:
		return nil
	}
}

// CheckFiles verifies every required file for role is a regular file in dir.
func CheckFiles(dir string, role Role) error {
	files := RequiredFiles(role)
	if files == nil {
		return fmt.Errorf("unknown role %q", role)
	}
	for _, name := range files {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return &MissingFileError{Name: name}
			}
			return err
		}
		if !info.Mode().IsRegular() {
			return &MissingFileError{Name: name}
		}
	}
	return nil
}

// Validate checks that dir is a usable bundle for role and returns its
// namespace.
func Validate(dir string, role Role) (string, error) {
	if err := CheckFiles(dir, role); err != nil {
		return "", err
	}
	return ReadNamespace(dir)
}

// ReadNamespace returns the trimmed first line of the namespace marker.
func ReadNamespace(dir string) (string, error) {
	f, err := os.Open(filepath.Join(dir, NamespaceFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &MalformedError{Reason: "missing " + NamespaceFile}
		}
		return "", err
	}
	defer f.Close()
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	namespace := strings.TrimSpace(line)
	if namespace == "" {
		return "", &MalformedError{Reason: "empty " + NamespaceFile}
	}
	return namespace, nil
}

// WriteNamespace writes the marker file into dir.
func WriteNamespace(dir, namespace string) error {
	namespace, err := normalizeNamespace(namespace)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, NamespaceFile)
	if err := os.WriteFile(path, []byte(namespace+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func normalizeNamespace(namespace string) (string, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return "", errors.New("namespace is required")
	}
	if strings.ContainsAny(namespace, "\r\n") {
		return "", fmt.Errorf("namespace %q must be a single line", namespace)
	}
	return namespace, nil
}

// ValidateName checks a bundle name is usable as a single directory name.
// Names starting with a dot are reserved for registry bookkeeping.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return errors.New("bundle name is required")
	case trimmed != name:
		return fmt.Errorf("bundle name %q has surrounding whitespace", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("bundle name %q may not start with a dot", name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("bundle name %q may not contain path separators", name)
	}
	return nil
}
