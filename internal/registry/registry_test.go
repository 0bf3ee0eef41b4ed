// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/shayne/helmtls/internal/archive"
	"github.com/shayne/helmtls/internal/bundle"
	"github.com/shayne/helmtls/internal/safepath"
)

func clientArchive(t *testing.T, name, namespace string) string {
	t.Helper()
	work := t.TempDir()
	for _, file := range bundle.RequiredFiles(bundle.RoleClient) {
		if err := os.WriteFile(filepath.Join(work, file), []byte(name+":"+file), 0o600); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
	if err := bundle.WriteNamespace(work, namespace); err != nil {
		t.Fatalf("WriteNamespace: %v", err)
	}
	files := append(bundle.RequiredFiles(bundle.RoleClient), bundle.NamespaceFile)
	path := filepath.Join(t.TempDir(), name+"-helm-client.tar.xz")
	if err := archive.PackSubset(work, name, files, path); err != nil {
		t.Fatalf("PackSubset: %v", err)
	}
	return path
}

func rawArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.tar.gz")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer out.Close()
	zw := gzip.NewWriter(out)
	tw := tar.NewWriter(zw)
	for name, body := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}); err != nil {
			t.Fatalf("header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return path
}

func assertList(t *testing.T, reg *Registry, want ...string) {
	t.Helper()
	got, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("List = %v, want %v", got, want)
	}
}

func TestListMissingRoot(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "tls"))
	got, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestInstallListRemove(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tls")
	reg := New(root)

	result, err := reg.Install(clientArchive(t, "Dev1", "tiller-ns"))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !result.Installed || result.Name != "Dev1" {
		t.Fatalf("unexpected result %+v", result)
	}
	assertList(t, reg, "Dev1")

	for _, file := range append(bundle.RequiredFiles(bundle.RoleClient), bundle.NamespaceFile) {
		if _, err := os.Stat(filepath.Join(root, "Dev1", file)); err != nil {
			t.Fatalf("expected %s installed: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "Dev1", bundle.TillerKey)); !os.IsNotExist(err) {
		t.Fatalf("server key must not be installed, got %v", err)
	}

	removed, err := reg.Remove("Dev1")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatalf("expected Dev1 to be removed")
	}
	assertList(t, reg)

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() != lockFile {
			t.Fatalf("unexpected leftover %s", entry.Name())
		}
	}
}

func TestInstallExistingIsNoop(t *testing.T) {
	root := t.TempDir()
	reg := New(root)
	if _, err := reg.Install(clientArchive(t, "Dev1", "first")); err != nil {
		t.Fatalf("Install: %v", err)
	}
	result, err := reg.Install(clientArchive(t, "Dev1", "second"))
	if err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if result.Installed {
		t.Fatalf("expected second install to be a no-op")
	}
	entry, err := reg.Lookup("Dev1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.Namespace != "first" {
		t.Fatalf("existing environment was overwritten: %s", entry.Namespace)
	}
	assertList(t, reg, "Dev1")
}

func TestRemoveAbsentReportsFalse(t *testing.T) {
	reg := New(t.TempDir())
	removed, err := reg.Remove("Nope")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed {
		t.Fatalf("expected nothing to be removed")
	}

	missing := New(filepath.Join(t.TempDir(), "absent"))
	if removed, err := missing.Remove("Nope"); err != nil || removed {
		t.Fatalf("Remove on missing root = %v, %v", removed, err)
	}
	if _, err := os.Stat(missing.Root); !os.IsNotExist(err) {
		t.Fatalf("Remove must not create the root, got %v", err)
	}
}

func TestRemoveRejectsUnsafeNames(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "keep")
	if err := os.MkdirAll(outside, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	reg := New(root)
	for _, name := range []string{"", "..", "../keep", "a/b", ".lock"} {
		if _, err := reg.Remove(name); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside dir touched: %v", err)
	}
}

func TestListSkipsHiddenAndFiles(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"Prod", ".staging-Dev-123", "Dev"} {
		if err := os.Mkdir(filepath.Join(root, dir), 0o700); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	assertList(t, New(root), "Dev", "Prod")
}

func TestInstallRejectsTraversal(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tls")
	path := rawArchive(t, map[string]string{
		"Dev1/ca.cert.pem":      "a",
		"Dev1/../../escape.pem": "b",
	})
	_, err := New(root).Install(path)
	if !errors.Is(err, safepath.ErrTraversal) {
		t.Fatalf("expected traversal error, got %v", err)
	}
	assertList(t, New(root))
}

func TestInstallRejectsMalformed(t *testing.T) {
	root := t.TempDir()
	reg := New(root)

	multi := rawArchive(t, map[string]string{
		"Dev1/ca.cert.pem": "a",
		"Dev2/ca.cert.pem": "b",
	})
	if _, err := reg.Install(multi); !errors.Is(err, bundle.ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}

	partial := rawArchive(t, map[string]string{
		"Dev1/ca.cert.pem":   "a",
		"Dev1/namespace.txt": "ns\n",
	})
	if _, err := reg.Install(partial); !errors.Is(err, bundle.ErrMissingFile) {
		t.Fatalf("expected missing file error, got %v", err)
	}
	assertList(t, reg)
}

func TestLookupAndHelmFlags(t *testing.T) {
	root := t.TempDir()
	reg := New(root)
	if _, err := reg.Install(clientArchive(t, "Dev1", "tiller-ns")); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := reg.Lookup("Other"); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
	entry, err := reg.Lookup(" Dev1 ")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	flags := HelmFlags(entry)
	want := []string{
		"--tls",
		"--tls-ca-cert=" + filepath.Join(root, "Dev1", bundle.CACert),
		"--tls-cert=" + filepath.Join(root, "Dev1", bundle.HelmCert),
		"--tls-key=" + filepath.Join(root, "Dev1", bundle.HelmKey),
		"--tiller-namespace=tiller-ns",
	}
	if strings.Join(flags, " ") != strings.Join(want, " ") {
		t.Fatalf("HelmFlags = %v, want %v", flags, want)
	}

	entries, err := reg.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Namespace != "tiller-ns" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
