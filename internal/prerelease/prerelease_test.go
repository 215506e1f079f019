package prerelease

import (
	"testing"
	"time"
)

func commit(sha, message string, date time.Time) Commit {
	var c Commit
	c.SHA = sha
	c.Commit.Message = message
	c.Commit.Committer.Date = date
	return c
}

func TestBuildHistoryTracksAddAndDelete(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	// commits slice is newest-first, as the GitHub API returns them.
	commits := []Commit{
		commit("sha2", "2.7.13 delete firmware abc123f", t1),
		commit("sha1", "2.7.13 add firmware abc123f", t0),
	}

	entries, shas := BuildHistory("2.7.13", commits)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %+v", len(entries), entries)
	}
	e := entries[0]
	if e.Status != "deleted" {
		t.Errorf("Status = %q, want deleted", e.Status)
	}
	if e.AddedSHA != "sha1" || e.RemovedSHA != "sha2" {
		t.Errorf("AddedSHA/RemovedSHA = %q/%q, want sha1/sha2", e.AddedSHA, e.RemovedSHA)
	}
	if e.Directory != "firmware-2.7.13.abc123f" {
		t.Errorf("Directory = %q, want firmware-2.7.13.abc123f", e.Directory)
	}
	if !shas["sha1"] || !shas["sha2"] {
		t.Error("expected both commit SHAs recorded as seen")
	}
}

func TestBuildHistoryIgnoresOtherBaseVersions(t *testing.T) {
	commits := []Commit{
		commit("sha1", "2.7.12 add firmware def4567", time.Now()),
	}
	entries, _ := BuildHistory("2.7.13", commits)
	if len(entries) != 0 {
		t.Fatalf("expected no entries for unrelated base version, got %+v", entries)
	}
}

func TestBuildHistoryAddWithoutDeleteStaysActive(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	commits := []Commit{
		commit("sha1", "2.7.13 add firmware abc123f", t0),
	}
	entries, _ := BuildHistory("2.7.13", commits)
	if len(entries) != 1 || entries[0].Status != "active" || !entries[0].Active {
		t.Fatalf("expected single active entry, got %+v", entries)
	}
}

func TestBuildHistorySortsByAddedAtThenDirectory(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	commits := []Commit{
		commit("sha2", "2.7.13 add firmware bbbbbb1", t1),
		commit("sha1", "2.7.13 add firmware aaaaaa1", t0),
	}
	entries, _ := BuildHistory("2.7.13", commits)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Directory != "firmware-2.7.13.aaaaaa1" {
		t.Errorf("expected oldest added_at first, got %+v", entries)
	}
}

func TestScanPrereleaseDirectories(t *testing.T) {
	names := []string{
		"firmware-2.7.13.abc123f",
		"firmware-2.7.12.def4567",
		"firmware-2.7.13.badbadbad",
		"not-firmware-dir",
	}
	got := ScanPrereleaseDirectories(names, "2.7.13")
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 matches for 2.7.13", got)
	}
}

func TestFindLatestRemoteDirPrefersPreferredHash(t *testing.T) {
	remoteNames := []string{
		"firmware-2.7.13.aaaaaaa",
		"firmware-2.7.13.bbbbbbb",
	}
	entries := []Entry{
		{Identifier: "2.7.13.bbbbbbb", Status: "active"},
	}
	got := FindLatestRemoteDir("2.7.13", remoteNames, entries)
	if got != "firmware-2.7.13.bbbbbbb" {
		t.Errorf("FindLatestRemoteDir = %q, want firmware-2.7.13.bbbbbbb", got)
	}
}

func TestFindLatestRemoteDirNoCandidates(t *testing.T) {
	if got := FindLatestRemoteDir("2.7.13", []string{"firmware-2.7.12.aaaaaaa"}, nil); got != "" {
		t.Errorf("expected empty string when no candidates match, got %q", got)
	}
}

func TestSummarize(t *testing.T) {
	entries := []Entry{
		{Status: "active", AddedSHA: "s1"},
		{Status: "deleted", AddedSHA: "s2", RemovedSHA: "s3"},
	}
	s := Summarize(entries)
	if s.Created != 2 || s.Deleted != 1 || s.Active != 1 {
		t.Errorf("Summarize = %+v, want {Created:2 Deleted:1 Active:1}", s)
	}
}
