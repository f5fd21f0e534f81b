package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumsFile = ".checksums"

// ChecksumManifest is the content of a .checksums file. Hashes are keyed by
// file base name within the manifest's directory.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockedFile is one entry of a Lock report.
type LockedFile struct {
	Path string
	Hash string
}

// ComputeBlake3Hash returns the hex BLAKE3-256 digest of a file.
func ComputeBlake3Hash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// LoadChecksums reads dir/.checksums. The error wraps fs.ErrNotExist when
// there is none.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, checksumsFile))
	if err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	var m ChecksumManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse checksums: %w", err)
	}
	if m.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", m.Version)
	}
	return &m, nil
}

// Lock hashes files and writes one .checksums per directory. With dryRun
// nothing is written.
func Lock(files []string, dryRun bool) ([]LockedFile, error) {
	byDir := map[string]*ChecksumManifest{}
	var report []LockedFile

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, f := range sorted {
		hash, err := ComputeBlake3Hash(f)
		if err != nil {
			return nil, err
		}
		dir := filepath.Dir(f)
		m, ok := byDir[dir]
		if !ok {
			m = &ChecksumManifest{
				Version:     1,
				GeneratedAt: time.Now().UTC().Format(time.RFC3339),
				Hashes:      map[string]string{},
			}
			byDir[dir] = m
		}
		m.Hashes[filepath.Base(f)] = hash
		report = append(report, LockedFile{Path: f, Hash: hash})
	}
	if dryRun {
		return report, nil
	}

	for dir, m := range byDir {
		data, err := yaml.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal checksums: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, checksumsFile), data, 0o600); err != nil {
			return nil, fmt.Errorf("write checksums: %w", err)
		}
	}
	return report, nil
}

// VerifyChecksums checks files against the .checksums of their directory.
// Directories without a manifest are not verified; a file missing from an
// existing manifest is an error.
func VerifyChecksums(files []string) error {
	manifests := map[string]*ChecksumManifest{}
	for _, f := range files {
		dir := filepath.Dir(f)
		m, seen := manifests[dir]
		if !seen {
			loaded, err := LoadChecksums(dir)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			m = loaded
			manifests[dir] = m
		}
		if m == nil {
			continue
		}

		want, ok := m.Hashes[filepath.Base(f)]
		if !ok {
			return fmt.Errorf("config file %s has no hash in %s; run: threadgate config lock", f, filepath.Join(dir, checksumsFile))
		}
		got, err := ComputeBlake3Hash(f)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("config file %s does not match its checksum; if the edit was intended run: threadgate config lock", f)
		}
	}
	return nil
}
