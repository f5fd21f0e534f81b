package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "service:\n  name: a\n")

	report, err := Lock([]string{cfgPath}, true)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if len(report) != 1 || report[0].Hash == "" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := os.Stat(filepath.Join(dir, checksumsFile)); !os.IsNotExist(err) {
		t.Fatal(".checksums must not be written in dry-run mode")
	}
}

func TestLockThenLoadVerifies(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "service:\n  name: a\n")

	if _, err := Lock([]string{cfgPath}, false); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	m, err := LoadChecksums(dir)
	if err != nil {
		t.Fatalf("LoadChecksums: %v", err)
	}
	if len(m.Hashes) != 1 {
		t.Fatalf("len(Hashes) = %d, want 1", len(m.Hashes))
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("Load after lock: %v", err)
	}

	writeFile(t, cfgPath, "service:\n  name: tampered\n")
	_, err = Load(dir)
	if err == nil || !strings.Contains(err.Error(), "does not match its checksum") {
		t.Fatalf("Load err = %v, want checksum mismatch", err)
	}
}

func TestVerifyChecksumsRejectsUnlistedFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "config.yaml")
	b := filepath.Join(dir, "tokens.yaml")
	writeFile(t, a, "include: [tokens.yaml]\n")
	writeFile(t, b, "api: {}\n")

	if _, err := Lock([]string{a}, false); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	err := VerifyChecksums([]string{a, b})
	if err == nil || !strings.Contains(err.Error(), "no hash") {
		t.Fatalf("VerifyChecksums err = %v, want missing hash", err)
	}
}

func TestComputeBlake3HashStable(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	writeFile(t, p, "abc")
	h1, err := ComputeBlake3Hash(p)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := ComputeBlake3Hash(p)
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("hash = %q / %q", h1, h2)
	}
}
