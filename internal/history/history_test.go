package history

import (
	"testing"
	"time"

	"github.com/meshtastic/fetchtastic/internal/releases"
)

func TestDetectChannel(t *testing.T) {
	tests := []struct {
		name string
		rel  releases.Release
		want Channel
	}{
		{"rc", releases.Release{TagName: "v2.7.13-rc.1"}, ChannelRC},
		{"beta", releases.Release{Name: "Beta build"}, ChannelBeta},
		{"stable-maps-beta", releases.Release{Name: "Stable release"}, ChannelBeta},
		{"alpha", releases.Release{Name: "Alpha build"}, ChannelAlpha},
		{"hash-suffix-defaults-alpha", releases.Release{TagName: "v2.7.13.abcdef1"}, ChannelAlpha},
		{"default-alpha", releases.Release{TagName: "v2.7.13"}, ChannelAlpha},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectChannel(tt.rel); got != tt.want {
				t.Errorf("DetectChannel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRevokedTitle(t *testing.T) {
	rel := releases.Release{Name: "v2.7.13 REVOKED"}
	if !IsRevoked(rel) {
		t.Fatal("expected title-based revocation")
	}
}

func TestIsRevokedBody(t *testing.T) {
	rel := releases.Release{Body: "> This release has been revoked\nSome other text"}
	if !IsRevoked(rel) {
		t.Fatal("expected body-based revocation")
	}
}

func TestIsRevokedSkipsPreviouslyRevoked(t *testing.T) {
	rel := releases.Release{Body: "This release was previously revoked but is now fine"}
	if IsRevoked(rel) {
		t.Fatal("'previously revoked' phrase should not trigger revocation")
	}
}

func TestIsRevokedNotRevoked(t *testing.T) {
	rel := releases.Release{Name: "v2.7.13", Body: "Normal release notes."}
	if IsRevoked(rel) {
		t.Fatal("expected no revocation")
	}
}

func TestUpdateMarksNewActiveEntry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshot := []releases.Release{{TagName: "v2.7.13", PublishedAt: now}}

	out := Update(map[string]Entry{}, snapshot, now)
	entry, ok := out["v2.7.13"]
	if !ok {
		t.Fatal("expected entry for v2.7.13")
	}
	if entry.Status != StatusActive {
		t.Errorf("Status = %q, want active", entry.Status)
	}
	if entry.FirstSeen != now || entry.LastSeen != now {
		t.Error("first/last seen should be set to now for a new entry")
	}
}

func TestUpdateMarksMissingAsRemoved(t *testing.T) {
	// v2.7.12 was published AFTER the oldest release still visible in the
	// current snapshot, yet it no longer appears at all: that means it was
	// actually pulled, not just paged out of the retention window.
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stored := map[string]Entry{
		"v2.7.12": {TagName: "v2.7.12", PublishedAt: newer, Status: StatusActive, FirstSeen: newer, LastSeen: newer},
	}
	snapshot := []releases.Release{{TagName: "v2.7.13", PublishedAt: old}}

	out := Update(stored, snapshot, now)
	if out["v2.7.12"].Status != StatusRemoved {
		t.Fatalf("expected v2.7.12 removed, got %q", out["v2.7.12"].Status)
	}
}

func TestUpdateLeavesOlderMissingEntryUntouched(t *testing.T) {
	// v2.7.11 is older than anything currently visible: it simply fell out
	// of the retention window, not actually removed upstream.
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	visible := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stored := map[string]Entry{
		"v2.7.11": {TagName: "v2.7.11", PublishedAt: older, Status: StatusActive, FirstSeen: older, LastSeen: older},
	}
	snapshot := []releases.Release{{TagName: "v2.7.13", PublishedAt: visible}}

	out := Update(stored, snapshot, now)
	if out["v2.7.11"].Status != StatusActive {
		t.Fatalf("expected v2.7.11 left untouched (active), got %q", out["v2.7.11"].Status)
	}
}

func TestUpdatePreservesFirstSeen(t *testing.T) {
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stored := map[string]Entry{
		"v2.7.13": {TagName: "v2.7.13", PublishedAt: old, Status: StatusActive, FirstSeen: old, LastSeen: old},
	}
	snapshot := []releases.Release{{TagName: "v2.7.13", PublishedAt: old}}

	out := Update(stored, snapshot, now)
	if out["v2.7.13"].FirstSeen != old {
		t.Error("FirstSeen should be preserved across runs")
	}
	if out["v2.7.13"].LastSeen != now {
		t.Error("LastSeen should be bumped to now")
	}
}

func TestDuplicateBaseVersions(t *testing.T) {
	snapshot := []releases.Release{
		{TagName: "v2.7.13"},
		{TagName: "v2.7.13.abcdef1"},
		{TagName: "v2.7.12"},
	}
	dups := DuplicateBaseVersions(snapshot)
	if len(dups) != 1 || dups[0] != "2.7.13" {
		t.Fatalf("DuplicateBaseVersions = %v, want [2.7.13]", dups)
	}
}

func TestExpandKeepLimitToIncludeBeta(t *testing.T) {
	snapshot := []releases.Release{
		{TagName: "v2.7.13"},
		{TagName: "v2.7.12"},
		{Name: "Beta build", TagName: "v2.7.11-beta"},
	}
	if got := ExpandKeepLimitToIncludeBeta(snapshot, 1); got != 3 {
		t.Fatalf("ExpandKeepLimitToIncludeBeta = %d, want 3", got)
	}
	if got := ExpandKeepLimitToIncludeBeta(snapshot, 5); got != 5 {
		t.Fatalf("ExpandKeepLimitToIncludeBeta = %d, want 5 (already covers the beta)", got)
	}
}
