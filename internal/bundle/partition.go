// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shayne/helmtls/internal/archive"
)

// Archive kinds, used as the suffix after the bundle name.
const (
	KindAll    = "all"
	KindServer = "tiller-server"
	KindClient = "helm-client"
)

// PartitionOptions configures Partition.
type PartitionOptions struct {
	// WorkDir holds the generated PEM files.
	WorkDir string
	// OutDir receives the archives. Defaults to WorkDir.
	OutDir    string
	Name      string
	Namespace string
	Format    archive.Format
}

// Archives are the paths written by Partition.
type Archives struct {
	All    string
	Server string
	Client string
}

// ArchiveName returns the file name for one of the three bundle archives.
func ArchiveName(name, kind string, format archive.Format) string {
	return fmt.Sprintf("%s-%s%s", name, kind, format.Ext())
}

// Partition writes the namespace marker into the working directory and
// produces the all, tiller-server and helm-client archives. No archive is
// written if any of the three already exists.
func Partition(opts PartitionOptions) (Archives, error) {
	if err := ValidateName(opts.Name); err != nil {
		return Archives{}, err
	}
	namespace, err := normalizeNamespace(opts.Namespace)
	if err != nil {
		return Archives{}, err
	}
	if err := CheckFiles(opts.WorkDir, RoleAll); err != nil {
		return Archives{}, err
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = opts.WorkDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Archives{}, fmt.Errorf("failed to create %s: %w", outDir, err)
	}

	out := Archives{
		All:    filepath.Join(outDir, ArchiveName(opts.Name, KindAll, opts.Format)),
		Server: filepath.Join(outDir, ArchiveName(opts.Name, KindServer, opts.Format)),
		Client: filepath.Join(outDir, ArchiveName(opts.Name, KindClient, opts.Format)),
	}
	for _, path := range []string{out.All, out.Server, out.Client} {
		if _, err := os.Lstat(path); err == nil {
			return Archives{}, fmt.Errorf("%w: %s", archive.ErrExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Archives{}, err
		}
	}

	if err := WriteNamespace(opts.WorkDir, namespace); err != nil {
		return Archives{}, err
	}
	if err := archive.Pack(opts.WorkDir, opts.Name, out.All); err != nil {
		return Archives{}, err
	}
	if err := archive.PackSubset(opts.WorkDir, opts.Name, roleFiles(RoleServer), out.Server); err != nil {
		return Archives{}, err
	}
	if err := archive.PackSubset(opts.WorkDir, opts.Name, roleFiles(RoleClient), out.Client); err != nil {
		return Archives{}, err
	}
	return out, nil
}

func roleFiles(role Role) []string {
	return append(RequiredFiles(role), NamespaceFile)
}
