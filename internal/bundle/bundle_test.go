// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/shayne/helmtls/internal/archive"
)

func writeGenerated(t *testing.T, dir string) {
	t.Helper()
	for _, name := range RequiredFiles(RoleAll) {
		body := "-----BEGIN PEM-----\n" + name + "\n-----END PEM-----\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestRequiredFiles(t *testing.T) {
	cases := map[Role][]string{
		RoleCA:     {CACert},
		RoleServer: {CACert, TillerKey, TillerCert},
		RoleClient: {CACert, HelmKey, HelmCert},
	}
	for role, want := range cases {
		if got := RequiredFiles(role); !reflect.DeepEqual(got, want) {
			t.Fatalf("RequiredFiles(%s) = %v, want %v", role, got, want)
		}
	}
	if RequiredFiles(Role("bogus")) != nil {
		t.Fatalf("expected nil for unknown role")
	}
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"server": RoleServer,
		"tiller": RoleServer,
		"Client": RoleClient,
		" helm ": RoleClient,
		"ca":     RoleCA,
	}
	for value, want := range cases {
		got, err := ParseRole(value)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v", value, got, err)
		}
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestValidateReportsMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeGenerated(t, dir)
	if err := os.Remove(filepath.Join(dir, TillerKey)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := WriteNamespace(dir, "tiller-ns"); err != nil {
		t.Fatalf("WriteNamespace: %v", err)
	}
	_, err := Validate(dir, RoleServer)
	var missing *MissingFileError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFileError, got %v", err)
	}
	if missing.Name != TillerKey {
		t.Fatalf("expected %s, got %s", TillerKey, missing.Name)
	}
	if !errors.Is(err, ErrMissingFile) {
		t.Fatalf("expected ErrMissingFile match")
	}
	if _, err := Validate(dir, RoleClient); err != nil {
		t.Fatalf("client role should still validate: %v", err)
	}
}

func TestValidateRejectsDirectoryInPlaceOfFile(t *testing.T) {
	dir := t.TempDir()
	writeGenerated(t, dir)
	if err := os.Remove(filepath.Join(dir, HelmKey)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, HelmKey), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := CheckFiles(dir, RoleClient); !errors.Is(err, ErrMissingFile) {
		t.Fatalf("expected missing file, got %v", err)
	}
}

func TestReadNamespace(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadNamespace(dir); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed for missing marker, got %v", err)
	}

	path := filepath.Join(dir, NamespaceFile)
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadNamespace(dir); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed for empty marker, got %v", err)
	}

	if err := os.WriteFile(path, []byte("  tiller-ns \nignored\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	namespace, err := ReadNamespace(dir)
	if err != nil {
		t.Fatalf("ReadNamespace: %v", err)
	}
	if namespace != "tiller-ns" {
		t.Fatalf("unexpected namespace %q", namespace)
	}

	if err := os.WriteFile(path, []byte("no-newline"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if namespace, err := ReadNamespace(dir); err != nil || namespace != "no-newline" {
		t.Fatalf("unexpected result %q, %v", namespace, err)
	}
}

func TestWriteNamespaceRejectsMultiline(t *testing.T) {
	dir := t.TempDir()
	if err := WriteNamespace(dir, "a\nb"); err == nil {
		t.Fatalf("expected error for multi-line namespace")
	}
	if err := WriteNamespace(dir, "   "); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
	if err := WriteNamespace(dir, " tiller-ns "); err != nil {
		t.Fatalf("WriteNamespace: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, NamespaceFile))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "tiller-ns\n" {
		t.Fatalf("unexpected marker %q", data)
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"Dev1", "Dev_201811_1", "prod-eu"} {
		if err := ValidateName(name); err != nil {
			t.Fatalf("ValidateName(%q): %v", name, err)
		}
	}
	for _, name := range []string{"", " ", " Dev1", ".", "..", ".staging", "a/b", `a\b`} {
		if err := ValidateName(name); err == nil {
			t.Fatalf("expected ValidateName(%q) to fail", name)
		}
	}
}

func extractedNames(t *testing.T, archivePath string) (string, []string) {
	t.Helper()
	dest := t.TempDir()
	if err := archive.ExtractValidated(archivePath, dest); err != nil {
		t.Fatalf("ExtractValidated: %v", err)
	}
	dirs, err := os.ReadDir(dest)
	if err != nil || len(dirs) != 1 {
		t.Fatalf("expected one top-level dir, got %v (%v)", dirs, err)
	}
	root := filepath.Join(dest, dirs[0].Name())
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return root, names
}

func TestPartitionProducesRoleArchives(t *testing.T) {
	work := t.TempDir()
	writeGenerated(t, work)

	archives, err := Partition(PartitionOptions{
		WorkDir:   work,
		Name:      "Dev1",
		Namespace: "tiller-ns",
		Format:    archive.FormatXz,
	})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if filepath.Base(archives.Client) != "Dev1-helm-client.tar.xz" {
		t.Fatalf("unexpected client archive name %s", archives.Client)
	}
	if filepath.Base(archives.Server) != "Dev1-tiller-server.tar.xz" {
		t.Fatalf("unexpected server archive name %s", archives.Server)
	}

	root, names := extractedNames(t, archives.Client)
	if filepath.Base(root) != "Dev1" {
		t.Fatalf("expected Dev1 root, got %s", root)
	}
	want := []string{CACert, HelmCert, HelmKey, NamespaceFile}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("client archive contents %v, want %v", names, want)
	}
	data, err := os.ReadFile(filepath.Join(root, NamespaceFile))
	if err != nil {
		t.Fatalf("read namespace: %v", err)
	}
	if string(data) != "tiller-ns\n" {
		t.Fatalf("unexpected namespace content %q", data)
	}

	_, names = extractedNames(t, archives.Server)
	want = []string{CACert, NamespaceFile, TillerCert, TillerKey}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("server archive contents %v, want %v", names, want)
	}

	_, names = extractedNames(t, archives.All)
	want = []string{CACert, HelmCert, HelmKey, NamespaceFile, TillerCert, TillerKey}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("all archive contents %v, want %v", names, want)
	}
}

func TestPartitionRefusesExistingArchives(t *testing.T) {
	work := t.TempDir()
	out := t.TempDir()
	writeGenerated(t, work)
	existing := filepath.Join(out, ArchiveName("Dev1", KindClient, archive.FormatGzip))
	if err := os.WriteFile(existing, []byte("old"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Partition(PartitionOptions{
		WorkDir:   work,
		OutDir:    out,
		Name:      "Dev1",
		Namespace: "tiller-ns",
		Format:    archive.FormatGzip,
	})
	if !errors.Is(err, archive.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no new archives, got %d entries", len(entries))
	}
}

func TestPartitionRequiresGeneratedFiles(t *testing.T) {
	work := t.TempDir()
	writeGenerated(t, work)
	if err := os.Remove(filepath.Join(work, HelmCert)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err := Partition(PartitionOptions{WorkDir: work, Name: "Dev1", Namespace: "ns"})
	var missing *MissingFileError
	if !errors.As(err, &missing) || missing.Name != HelmCert {
		t.Fatalf("expected missing %s, got %v", HelmCert, err)
	}
}
