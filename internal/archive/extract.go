// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shayne/helmtls/internal/safepath"
)

type member struct {
	name   string
	target string
	dir    bool
	mode   fs.FileMode
	data   []byte
}

// ExtractValidated extracts the archive into dest. Every member is read and
// checked with safepath.Resolve before the first byte is written, so a
// rejected archive leaves dest untouched. If writing fails part way, the
// top-level entries created by this call are removed again.
func ExtractValidated(archivePath, dest string) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	members, err := readMembers(archivePath, dest)
	if err != nil {
		return err
	}
	return writeMembers(dest, members)
}

func readMembers(archivePath, dest string) ([]member, error) {
	var (
		members []member
		total   int64
		seen    = map[string]bool{}
	)
	err := walk(archivePath, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			return nil
		}
		if len(members) >= maxEntries {
			return fmt.Errorf("%w: more than %d entries", ErrTooLarge, maxEntries)
		}
		target, err := safepath.Resolve(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			members = append(members, member{name: hdr.Name, target: target, dir: true})
			return nil
		case tar.TypeReg:
		case tar.TypeSymlink, tar.TypeLink:
			return &safepath.TraversalError{Member: hdr.Name, Reason: "link entries are not allowed"}
		default:
			return &UnsupportedEntryError{Member: hdr.Name, Typeflag: hdr.Typeflag}
		}
		if target == dest {
			return &UnsupportedEntryError{Member: hdr.Name, Typeflag: hdr.Typeflag}
		}
		if seen[target] {
			return fmt.Errorf("duplicate archive entry %q", hdr.Name)
		}
		seen[target] = true
		data, err := io.ReadAll(io.LimitReader(r, maxEntryBytes+1))
		if err != nil {
			return fmt.Errorf("failed to read %s from %s: %w", hdr.Name, archivePath, err)
		}
		if len(data) > maxEntryBytes {
			return fmt.Errorf("%w: %s is larger than %d bytes", ErrTooLarge, hdr.Name, maxEntryBytes)
		}
		total += int64(len(data))
		if total > maxTotalBytes {
			return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxTotalBytes)
		}
		members = append(members, member{name: hdr.Name, target: target, mode: fileMode, data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

const (
	fileMode fs.FileMode = 0o600
	dirMode  fs.FileMode = 0o700
)

func writeMembers(dest string, members []member) (err error) {
	var created []string
	createdDest := false
	if _, statErr := os.Stat(dest); errors.Is(statErr, fs.ErrNotExist) {
		if err := os.MkdirAll(dest, dirMode); err != nil {
			return fmt.Errorf("failed to create %s: %w", dest, err)
		}
		createdDest = true
	}
	defer func() {
		if err == nil {
			return
		}
		if createdDest {
			_ = os.RemoveAll(dest)
			return
		}
		for i := len(created) - 1; i >= 0; i-- {
			_ = os.RemoveAll(created[i])
		}
	}()

	track := func(target string) {
		top := topLevel(dest, target)
		if top == "" {
			return
		}
		for _, p := range created {
			if p == top {
				return
			}
		}
		if _, statErr := os.Lstat(top); errors.Is(statErr, fs.ErrNotExist) {
			created = append(created, top)
		}
	}

	for _, m := range members {
		if m.target == dest {
			continue
		}
		track(m.target)
		if m.dir {
			if err := os.MkdirAll(m.target, dirMode); err != nil {
				return fmt.Errorf("failed to create %s: %w", m.target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(m.target), dirMode); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(m.target), err)
		}
		if err := writeFile(m.target, m.data, m.mode); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(target string, data []byte, mode fs.FileMode) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}

func topLevel(dest, target string) string {
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == "." {
		return ""
	}
	first, _, _ := strings.Cut(rel, string(filepath.Separator))
	return filepath.Join(dest, first)
}
