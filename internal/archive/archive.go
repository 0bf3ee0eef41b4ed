// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package archive builds and opens the compressed tar files that carry
// credential bundles. Archives are write-once and every extraction is gated
// by safepath.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxEntries    = 256
	maxEntryBytes = 8 << 20
	maxTotalBytes = 32 << 20
)

var (
	// ErrExists is returned when the target archive is already present.
	ErrExists = errors.New("archive already exists")
	// ErrTooLarge is returned when an archive exceeds the extraction limits.
	ErrTooLarge = errors.New("archive exceeds extraction limits")
)

// UnsupportedEntryError reports a member type the codec refuses to extract.
type UnsupportedEntryError struct {
	Member   string
	Typeflag byte
}

func (e *UnsupportedEntryError) Error() string {
	return fmt.Sprintf("unsupported archive entry %q (type %q)", e.Member, e.Typeflag)
}

// Pack writes every file under dir into a new archive at archivePath, rooted
// at name/. The archive itself is skipped when it lives inside dir.
func Pack(dir, name, archivePath string) error {
	absArchive, err := filepath.Abs(archivePath)
	if err != nil {
		return err
	}
	var files []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		if abs, err := filepath.Abs(p); err == nil && abs == absArchive {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return write(dir, name, files, archivePath)
}

// PackSubset writes only the listed files, each relative to dir, into a new
// archive rooted at name/.
func PackSubset(dir, name string, files []string, archivePath string) error {
	return write(dir, name, files, archivePath)
}

func write(dir, name string, files []string, archivePath string) (err error) {
	if err := checkName(name); err != nil {
		return err
	}
	format, err := FormatForPath(archivePath)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, archivePath)
		}
		return fmt.Errorf("failed to create %s: %w", archivePath, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", archivePath, cerr)
		}
		if err != nil {
			_ = os.Remove(archivePath)
		}
	}()

	zw, err := format.newWriter(out)
	if err != nil {
		return err
	}
	if err := writeEntries(tar.NewWriter(zw), dir, name, files); err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish %s stream: %w", format, err)
	}
	return nil
}

func writeEntries(tw *tar.Writer, dir, name string, files []string) error {
	rootInfo, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if err := writeHeader(tw, rootInfo, name+"/"); err != nil {
		return err
	}
	for _, rel := range files {
		if err := addFile(tw, dir, name, rel); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, dir, name, rel string) error {
	src := filepath.Join(dir, rel)
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	member := path.Join(name, filepath.ToSlash(rel))
	switch {
	case info.IsDir():
		return writeHeader(tw, info, member+"/")
	case info.Mode().IsRegular():
		if err := writeHeader(tw, info, member); err != nil {
			return err
		}
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to add %s: %w", src, err)
		}
		return nil
	default:
		return fmt.Errorf("refusing to pack non-regular file %s", src)
	}
}

func writeHeader(tw *tar.Writer, info fs.FileInfo, member string) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = member
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""
	return tw.WriteHeader(hdr)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid archive root name %q", name)
	}
	return nil
}

// TopLevelDirs lists the distinct top-level directory names in the archive
// without extracting anything. Plain files at the top level are ignored.
func TopLevelDirs(archivePath string) ([]string, error) {
	seen := map[string]bool{}
	err := walk(archivePath, func(hdr *tar.Header, _ io.Reader) error {
		name := strings.TrimLeft(hdr.Name, "/")
		for strings.HasPrefix(name, "./") {
			name = strings.TrimLeft(name[2:], "/")
		}
		if name == "." || name == "" {
			return nil
		}
		top, rest, nested := strings.Cut(name, "/")
		if (nested && rest != "") || hdr.Typeflag == tar.TypeDir {
			seen[top] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(seen))
	for name := range seen {
		dirs = append(dirs, name)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func walk(archivePath string, fn func(*tar.Header, io.Reader) error) error {
	format, err := FormatForPath(archivePath)
	if err != nil {
		return err
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", archivePath, err)
	}
	defer f.Close()
	zr, err := format.newReader(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", archivePath, err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", archivePath, err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}
