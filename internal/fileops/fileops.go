// Package fileops implements atomic filesystem writes, hashing, archive
// integrity checks, pattern-matched extraction, and safe directory removal —
// the primitives every Downloader and the Orchestrator build on.
package fileops

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mholt/archiver/v3"
)

// AtomicWriteJSON writes data to a sibling temp file in path's directory,
// fsyncs it, then renames it over path. On any error the temp file is
// removed and path is left untouched.
func AtomicWriteJSON(path string, data []byte) error {
	return atomicWrite(path, data)
}

// AtomicWriteText is AtomicWriteJSON for arbitrary text content.
func AtomicWriteText(path string, s string) error {
	return atomicWrite(path, []byte(s))
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	tmpName = "" // renamed away, nothing left to clean up
	return nil
}

// VerifyZip opens the archive at path and walks every entry, which forces
// the underlying zip reader to validate each entry's CRC32 as it is
// decompressed. Any error (corrupt entry, truncated archive, not a zip at
// all) marks the file invalid.
func VerifyZip(path string) bool {
	z := archiver.NewZip()
	err := z.Walk(path, func(f archiver.File) error {
		defer f.Close()
		_, err := io.Copy(io.Discard, f)
		return err
	})
	return err == nil
}

// stripVersionTokens removes common version-like substrings so include/
// exclude matching can key on stable asset-name fragments rather than a
// specific release's numbers, e.g. "firmware-2.7.13-esp32.zip" still
// matches an include pattern of "esp32" even after version bumps.
var versionToken = regexp.MustCompile(`v?\d+\.\d+\.\d+(\.[a-f0-9]{6,})?`)

func stripVersionTokens(s string) string {
	return versionToken.ReplaceAllString(s, "")
}

// matchesPattern is a case-insensitive substring match with a simple glob
// where a leading/trailing "*" anchors to a prefix/suffix, and the literal
// "*" alone accepts everything.
func matchesPattern(name, pattern string) bool {
	if pattern == "*" {
		return true
	}
	name = strings.ToLower(stripVersionTokens(name))
	pattern = strings.ToLower(stripVersionTokens(pattern))
	switch {
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(name, strings.Trim(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, strings.TrimPrefix(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	default:
		return strings.Contains(name, pattern)
	}
}

// MatchesAny reports whether name matches at least one pattern. An empty
// pattern list matches nothing (callers treat "no include patterns" as
// "match everything" themselves, per §4.6's selection rule).
func MatchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if matchesPattern(name, p) {
			return true
		}
	}
	return false
}

// ExtractArchive extracts entries from archivePath into outDir, flattening
// directory structure (every extracted file lands directly in outDir using
// its basename). An entry is extracted if it matches any include pattern
// (after version-token stripping) and does not match any exclude pattern.
// Existing files in outDir are never overwritten. Returns the paths written.
func ExtractArchive(archivePath, outDir string, includePatterns, excludePatterns []string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var extracted []string
	z := archiver.NewZip()
	err := z.Walk(archivePath, func(f archiver.File) error {
		if f.IsDir() {
			return nil
		}
		name := entryBaseName(f)
		if name == "" {
			return nil
		}

		if len(includePatterns) > 0 && !MatchesAny(name, includePatterns) {
			return nil
		}
		if MatchesAny(name, excludePatterns) {
			return nil
		}

		target := filepath.Join(outDir, name)
		if _, err := os.Stat(target); err == nil {
			// Already extracted; idempotent no-op for this entry.
			return nil
		}

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				return nil
			}
			return fmt.Errorf("create extracted file %s: %w", target, err)
		}
		defer out.Close()
		defer f.Close()

		if _, err := io.Copy(out, f); err != nil {
			os.Remove(target)
			return fmt.Errorf("write extracted file %s: %w", target, err)
		}

		if strings.HasSuffix(strings.ToLower(name), ".sh") {
			_ = os.Chmod(target, 0o755)
		}

		extracted = append(extracted, target)
		return nil
	})
	if err != nil {
		return extracted, fmt.Errorf("walk archive: %w", err)
	}
	return extracted, nil
}

// entryBaseName extracts the flattened basename of a walked archive entry.
func entryBaseName(f archiver.File) string {
	name := f.Name()
	if name == "" {
		return ""
	}
	return filepath.Base(filepath.ToSlash(name))
}

// SafeRemoveTree removes dir if and only if its canonical path lies within
// baseDir's canonical path, reporting success as a bool. A missing dir is
// treated as success. displayName is accepted but not used.
func SafeRemoveTree(dir, baseDir, displayName string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return false
	}
	resolvedDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			return true
		}
		return false
	}
	resolvedBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(resolvedBase, resolvedDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	_ = displayName
	return os.RemoveAll(resolvedDir) == nil
}

// SHA256 computes the hex-encoded SHA-256 digest of the file at path.
func SHA256(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// SaveHashSidecar writes hex as the content of path+".sha256".
func SaveHashSidecar(path, hex string) error {
	return AtomicWriteText(path+".sha256", hex+"\n")
}

// ReadHashSidecar reads a previously saved sidecar, if present.
func ReadHashSidecar(path string) (string, bool) {
	data, err := os.ReadFile(path + ".sha256")
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// CompareHashes reports whether two hex digests are equal, case-insensitive.
func CompareHashes(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// FormatSize renders byte counts the way the run summary expects them,
// reusing the same unit ladder as the UI's download tracker.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for x := n / unit; x >= unit; x /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
