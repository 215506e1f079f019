// Package history tracks the active/revoked/removed status of releases
// across runs and classifies release channels, per §4.8.
package history

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/meshtastic/fetchtastic/internal/fileops"
	"github.com/meshtastic/fetchtastic/internal/releases"
	"github.com/meshtastic/fetchtastic/internal/version"
)

// Channel classifies a release's development stage.
type Channel string

const (
	ChannelAlpha Channel = "alpha"
	ChannelBeta  Channel = "beta"
	ChannelRC    Channel = "rc"
)

// Status is the lifecycle state of a tracked release.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusRemoved Status = "removed"
)

// Entry is a single tracked release's status, persisted across runs.
type Entry struct {
	TagName         string     `json:"tag_name"`
	Name            string     `json:"name"`
	PublishedAt     time.Time  `json:"published_at"`
	Channel         Channel    `json:"channel"`
	BaseVersion     string     `json:"base_version"`
	Status          Status     `json:"status"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
	StatusUpdatedAt *time.Time `json:"status_updated_at,omitempty"`
	RemovedAt       *time.Time `json:"removed_at,omitempty"`
}

// Store persists Entries keyed by tag name under a single JSON file.
type Store struct {
	Path string
}

func NewStore(path string) *Store { return &Store{Path: path} }

type document struct {
	Entries map[string]Entry `json:"entries"`
}

// Load reads the stored entries; a missing or malformed file starts empty.
func (s *Store) Load() map[string]Entry {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return make(map[string]Entry)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc.Entries == nil {
		return make(map[string]Entry)
	}
	return doc.Entries
}

// Save atomically persists entries.
func (s *Store) Save(entries map[string]Entry) error {
	data, err := json.Marshal(document{Entries: entries})
	if err != nil {
		return err
	}
	return fileops.AtomicWriteJSON(s.Path, data)
}

var hashSuffixTag = regexp.MustCompile(`^v?\d+\.\d+\.\d+\.[a-f0-9]{6,}$`)

// DetectChannel classifies a release's channel from its name and tag.
func DetectChannel(rel releases.Release) Channel {
	text := strings.ToLower(rel.Name + rel.TagName)
	switch {
	case strings.Contains(text, "rc") || strings.Contains(text, "release candidate"):
		return ChannelRC
	case strings.Contains(text, "beta"):
		return ChannelBeta
	case strings.Contains(text, "stable"):
		return ChannelBeta
	case strings.Contains(text, "alpha"):
		return ChannelAlpha
	case hashSuffixTag.MatchString(rel.TagName):
		return ChannelAlpha
	default:
		return ChannelAlpha
	}
}

var revokedBodyLine = regexp.MustCompile(`^(this release (has been|was|is) revoked|release (has been|was) revoked|revoked)\b`)

var stripLeading = regexp.MustCompile(`^[>\s]+`)
var nonAlphaNumRun = regexp.MustCompile(`[^a-z0-9 ]+`)

// IsRevoked reports whether a release's title or early body text marks it
// as revoked, per §4.8's title/body heuristic.
func IsRevoked(rel releases.Release) bool {
	if strings.Contains(strings.ToLower(rel.Name), "revoked") {
		return true
	}

	lines := strings.Split(rel.Body, "\n")
	checked := 0
	for _, line := range lines {
		if checked >= 14 {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		checked++

		cleaned := stripLeading.ReplaceAllString(trimmed, "")
		cleaned = strings.ToLower(cleaned)
		cleaned = nonAlphaNumRun.ReplaceAllString(cleaned, " ")
		cleaned = strings.TrimSpace(cleaned)

		if strings.Contains(cleaned, "previously revoked") {
			continue
		}
		if revokedBodyLine.MatchString(cleaned) {
			return true
		}
	}
	return false
}

// Update runs the per-run update procedure of §4.8 against the stored
// entries, returning the new entry set.
func Update(stored map[string]Entry, snapshot []releases.Release, now time.Time) map[string]Entry {
	out := make(map[string]Entry, len(stored))
	for k, v := range stored {
		out[k] = v
	}

	present := make(map[string]bool, len(snapshot))
	var oldestPublished time.Time
	for i, rel := range snapshot {
		present[rel.TagName] = true
		if i == 0 || rel.PublishedAt.Before(oldestPublished) {
			oldestPublished = rel.PublishedAt
		}

		channel := DetectChannel(rel)
		revoked := IsRevoked(rel)
		base, _ := version.BaseVersion(rel.TagName)

		existing, had := out[rel.TagName]
		entry := Entry{
			TagName:     rel.TagName,
			Name:        rel.Name,
			PublishedAt: rel.PublishedAt,
			Channel:     channel,
			BaseVersion: base,
			FirstSeen:   now,
			LastSeen:    now,
		}
		if had {
			entry.FirstSeen = existing.FirstSeen
		}

		newStatus := StatusActive
		if revoked {
			newStatus = StatusRevoked
		}

		if !had || existing.Status != newStatus {
			t := now
			entry.StatusUpdatedAt = &t
		} else {
			entry.StatusUpdatedAt = existing.StatusUpdatedAt
		}
		entry.Status = newStatus
		if newStatus != StatusRemoved {
			entry.RemovedAt = nil
		}

		out[rel.TagName] = entry
	}

	for tag, entry := range out {
		if present[tag] || entry.Status == StatusRemoved {
			continue
		}
		if !entry.PublishedAt.Before(oldestPublished) {
			entry.Status = StatusRemoved
			t := now
			entry.RemovedAt = &t
			entry.StatusUpdatedAt = &t
			out[tag] = entry
		}
	}

	return out
}

// StatusSummary counts entries per status, for LogStatusSummary-style
// reporting.
func StatusSummary(entries map[string]Entry) map[Status]int {
	counts := make(map[Status]int)
	for _, e := range entries {
		counts[e.Status]++
	}
	return counts
}

// ChannelSummary counts entries per channel among the most recent keepLimit
// releases in the given snapshot order (newest first), matching
// LogChannelSummary's retention-window-aware counting.
func ChannelSummary(snapshot []releases.Release, keepLimit int) map[Channel]int {
	counts := make(map[Channel]int)
	limit := keepLimit
	if limit > len(snapshot) || limit <= 0 {
		limit = len(snapshot)
	}
	for _, rel := range snapshot[:limit] {
		counts[DetectChannel(rel)]++
	}
	return counts
}

// DuplicateBaseVersions returns base versions that appear in two or more
// releases in the snapshot, for LogDuplicateBaseVersions-style warnings.
func DuplicateBaseVersions(snapshot []releases.Release) []string {
	counts := make(map[string]int)
	for _, rel := range snapshot {
		base, ok := version.BaseVersion(rel.TagName)
		if !ok {
			continue
		}
		counts[base]++
	}
	var dups []string
	for base, n := range counts {
		if n >= 2 {
			dups = append(dups, base)
		}
	}
	return dups
}

// ExpandKeepLimitToIncludeBeta grows keepLimit just enough that the most
// recent beta release in snapshot (newest first) falls within the
// retained window.
func ExpandKeepLimitToIncludeBeta(snapshot []releases.Release, keepLimit int) int {
	for i, rel := range snapshot {
		if DetectChannel(rel) == ChannelBeta {
			if i+1 > keepLimit {
				return i + 1
			}
			return keepLimit
		}
	}
	return keepLimit
}
