package fileops

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriteTextNeverLeavesPartial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	if err := AtomicWriteText(path, "hello"); err != nil {
		t.Fatalf("AtomicWriteText: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("content = %q, want hello", data)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "out.json" {
			t.Errorf("leftover file in dir: %s", e.Name())
		}
	}
}

func TestSHA256RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum, ok := SHA256(path)
	if !ok || sum == "" {
		t.Fatalf("SHA256 failed")
	}
	if err := SaveHashSidecar(path, sum); err != nil {
		t.Fatal(err)
	}
	got, ok := ReadHashSidecar(path)
	if !ok || !CompareHashes(got, sum) {
		t.Fatalf("sidecar mismatch: %q vs %q", got, sum)
	}
}

func TestSafeRemoveTreeRefusesOutsideBase(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()

	if SafeRemoveTree(outside, base, "outside") {
		t.Fatal("SafeRemoveTree allowed removal outside baseDir")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatal("outside dir should still exist")
	}
}

func TestSafeRemoveTreeMissingIsSuccess(t *testing.T) {
	base := t.TempDir()
	missing := filepath.Join(base, "does-not-exist")
	if !SafeRemoveTree(missing, base, "missing") {
		t.Fatal("SafeRemoveTree should treat missing dir as success")
	}
}

func TestSafeRemoveTreeWithinBase(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "v1.0.0")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if !SafeRemoveTree(target, base, "v1.0.0") {
		t.Fatal("SafeRemoveTree should succeed within baseDir")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("target should be removed")
	}
}

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyZip(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.zip")
	writeTestZip(t, good, map[string]string{"a.txt": "hello"})
	if !VerifyZip(good) {
		t.Error("valid zip reported invalid")
	}

	bad := filepath.Join(dir, "bad.zip")
	if err := os.WriteFile(bad, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if VerifyZip(bad) {
		t.Error("invalid zip reported valid")
	}
}

func TestExtractArchiveFlattensAndFilters(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "firmware-2.7.13.zip")
	writeTestZip(t, archivePath, map[string]string{
		"sub/firmware-2.7.13-esp32.bin":  "esp32-bytes",
		"sub/firmware-2.7.13-nrf52.bin":  "nrf52-bytes",
		"sub/install.sh":                 "#!/bin/sh\necho hi",
		"README.md":                      "ignore me",
	})

	outDir := filepath.Join(dir, "out")
	extracted, err := ExtractArchive(archivePath, outDir, []string{"esp32", "install.sh"}, nil)
	if err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	if len(extracted) != 2 {
		t.Fatalf("extracted %d files, want 2: %v", len(extracted), extracted)
	}
	for _, p := range extracted {
		if filepath.Dir(p) != outDir {
			t.Errorf("file not flattened into outDir: %s", p)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "firmware-2.7.13-nrf52.bin")); !os.IsNotExist(err) {
		t.Error("nrf52 file should have been excluded")
	}

	// Idempotent: re-running extraction with the same patterns does nothing new.
	extracted2, err := ExtractArchive(archivePath, outDir, []string{"esp32", "install.sh"}, nil)
	if err != nil {
		t.Fatalf("ExtractArchive (rerun): %v", err)
	}
	if len(extracted2) != 0 {
		t.Fatalf("rerun extracted %d new files, want 0 (idempotent)", len(extracted2))
	}
}

func TestMatchesAnyVersionStripping(t *testing.T) {
	if !MatchesAny("firmware-2.7.13-esp32.bin", []string{"esp32"}) {
		t.Error("expected substring match to succeed")
	}
	if !MatchesAny("firmware-2.7.14-esp32.bin", []string{"firmware-2.7.13-esp32"}) {
		t.Error("expected version-token-stripped match to succeed across version bumps")
	}
	if MatchesAny("firmware-2.7.13-nrf52.bin", []string{"esp32"}) {
		t.Error("expected non-match")
	}
}
