// Package prerelease reconstructs the lifecycle of firmware prereleases
// from commit-message archaeology of the meshtastic.github.io repository,
// per §4.7 — the most intricate subsystem in the pipeline.
package prerelease

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/meshtastic/fetchtastic/internal/cachestore"
	downloaderrors "github.com/meshtastic/fetchtastic/internal/errors"
	"github.com/meshtastic/fetchtastic/internal/fileops"
	"github.com/meshtastic/fetchtastic/internal/githubapi"
	"github.com/meshtastic/fetchtastic/internal/logging"
	"github.com/meshtastic/fetchtastic/internal/version"
)

const (
	// CommitsTTL is the freshness window for both the commits cache and the
	// derived per-base-version history cache.
	CommitsTTL = time.Hour

	// DefaultMaxCommits caps how many commits are fetched when rebuilding
	// history, large enough to cover one development window.
	DefaultMaxCommits = 300

	githubMaxPerPage = 100

	// FirmwareDirPrefix is the directory-name prefix used both remotely
	// (meshtastic.github.io) and locally under firmware/prerelease/.
	FirmwareDirPrefix = "firmware-"
)

// addPattern matches a commit message line that names a prerelease
// directory, whether it adds or deletes it: "<base> ... <6+ hex short
// hash>".
var addPattern = regexp.MustCompile(`^(\d+\.\d+\.\d+)\s.*\s([a-f0-9]{6,})$`)

// deleteKeyword is checked only on lines that already match addPattern,
// and marks such a line as a deletion rather than an addition.
var deleteKeyword = regexp.MustCompile(`(?i)\b(delete|deleted|remove|removed)\b`)

var dirSuffixPattern = regexp.MustCompile(`^\d+\.\d+\.\d+\.[a-f0-9]{6,}$`)

// Entry is one directory's add/delete lifecycle record.
type Entry struct {
	Directory   string     `json:"directory"`
	Identifier  string     `json:"identifier"`
	BaseVersion string     `json:"base_version"`
	CommitHash  string     `json:"commit_hash"`
	AddedAt     *time.Time `json:"added_at,omitempty"`
	AddedSHA    string     `json:"added_sha,omitempty"`
	RemovedAt   *time.Time `json:"removed_at,omitempty"`
	RemovedSHA  string     `json:"removed_sha,omitempty"`
	Active      bool       `json:"active"`
	Status      string     `json:"status"` // "active" | "deleted"
}

// Commit mirrors the subset of the GitHub commits API response this
// package needs.
type Commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message   string `json:"message"`
		Committer struct {
			Date time.Time `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

// History fetches commits from the static-site repository and reconstructs
// per-base-version prerelease histories, caching both tiers.
type History struct {
	Client *http.Client
	Cache  *cachestore.Store
	Token  string
	Logger logging.Logger

	RepoCommitsURL string // defaults to the meshtastic.github.io commits API

	Now func() time.Time
}

// NewHistory builds a History with production defaults.
func NewHistory(client *http.Client, cache *cachestore.Store, token string, logger logging.Logger) *History {
	return &History{
		Client:         client,
		Cache:          cache,
		Token:          token,
		Logger:         logger,
		RepoCommitsURL: "https://api.github.com/repos/meshtastic/meshtastic.github.io/commits",
		Now:            time.Now,
	}
}

func (h *History) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

const commitsCacheKey = "commits"

// FetchRecentCommits returns up to limit recent commits, newest first,
// using the 1-hour cache. On API failure it returns an empty slice rather
// than an error, per §4.7 step 1.
func (h *History) FetchRecentCommits(limit int) []Commit {
	if limit < 1 {
		limit = 1
	}

	cachePath := h.cachePath("prerelease_commits_cache.json")
	now := h.now()

	var cached []Commit
	if ok, _ := h.Cache.ReadWithExpiry(cachePath, commitsCacheKey, CommitsTTL, now, &cached); ok {
		if len(cached) > limit {
			return cached[:limit]
		}
		return cached
	}

	commits, err := h.fetchCommitsFromAPI(limit)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warnw("could not fetch repo commits", "error", err)
		}
		return nil
	}

	if werr := h.Cache.WriteWithExpiry(cachePath, commitsCacheKey, commits, CommitsTTL, now); werr != nil && h.Logger != nil {
		h.Logger.Warnw("failed to cache repo commits", "error", werr)
	}
	if len(commits) > limit {
		return commits[:limit]
	}
	return commits
}

func (h *History) fetchCommitsFromAPI(limit int) ([]Commit, error) {
	perPage := githubMaxPerPage
	if limit < perPage {
		perPage = limit
	}

	var all []Commit
	seen := make(map[string]bool)
	page := 1

	for len(all) < limit {
		url, err := cachestore.BuildURL(h.RepoCommitsURL, map[string]string{
			"per_page": fmt.Sprintf("%d", perPage),
			"page":     fmt.Sprintf("%d", page),
		})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		githubapi.SetHeaders(req, h.Token)

		resp, err := h.client().Do(req)
		if err != nil {
			return nil, downloaderrors.Wrap(downloaderrors.KindNetwork, err, "commits request failed")
		}

		var page2 []Commit
		decErr := json.NewDecoder(resp.Body).Decode(&page2)
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, downloaderrors.FromHTTPStatus(resp.StatusCode, false, time.Time{})
		}
		if decErr != nil {
			return nil, downloaderrors.Wrap(downloaderrors.KindMalformedResponse, decErr, "decode commits page")
		}
		if len(page2) == 0 {
			break
		}

		for _, c := range page2 {
			if c.SHA != "" && seen[c.SHA] {
				continue
			}
			if c.SHA != "" {
				seen[c.SHA] = true
			}
			all = append(all, c)
			if len(all) >= limit {
				break
			}
		}
		if len(page2) < perPage {
			break
		}
		page++
	}

	return all, nil
}

func (h *History) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

func (h *History) cachePath(name string) string {
	return h.Cache.Dir + string(os.PathSeparator) + name
}

// BuildHistory scans commits oldest-to-newest and reconstructs the
// add/delete event log for expectedVersion, per §4.7 step 2-3.
func BuildHistory(expectedVersion string, commits []Commit) ([]Entry, map[string]bool) {
	byDir := make(map[string]*Entry)
	seenSHAs := make(map[string]bool)

	for i := len(commits) - 1; i >= 0; i-- {
		c := commits[i]
		if c.SHA != "" {
			seenSHAs[c.SHA] = true
		}

		for _, line := range strings.Split(c.Commit.Message, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			m := addPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			base, short := m[1], m[2]
			if base != expectedVersion {
				continue
			}

			identifier := strings.ToLower(base + "." + short)
			dir := FirmwareDirPrefix + identifier

			entry := byDir[dir]
			if entry == nil {
				entry = &Entry{Directory: dir, Identifier: identifier, BaseVersion: base, CommitHash: short}
				byDir[dir] = entry
			}

			ts := c.Commit.Committer.Date
			if deleteKeyword.MatchString(line) {
				if entry.RemovedAt == nil && !ts.IsZero() {
					t := ts
					entry.RemovedAt = &t
				}
				if entry.RemovedSHA == "" && c.SHA != "" {
					entry.RemovedSHA = c.SHA
				}
				entry.Active = false
				entry.Status = "deleted"
			} else {
				if entry.AddedAt == nil && !ts.IsZero() {
					t := ts
					entry.AddedAt = &t
				}
				if entry.AddedSHA == "" && c.SHA != "" {
					entry.AddedSHA = c.SHA
				}
				entry.Active = true
				entry.Status = "active"
				entry.RemovedAt = nil
				entry.RemovedSHA = ""
			}
		}
	}

	entries := make([]Entry, 0, len(byDir))
	for _, e := range byDir {
		entries = append(entries, *e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		ai, aj := entries[i].AddedAt, entries[j].AddedAt
		switch {
		case ai == nil && aj == nil:
			return entries[i].Directory < entries[j].Directory
		case ai == nil:
			return true
		case aj == nil:
			return false
		case !ai.Equal(*aj):
			return ai.Before(*aj)
		default:
			return entries[i].Directory < entries[j].Directory
		}
	})
	return entries, seenSHAs
}

type historyCacheEntry struct {
	Entries     []Entry   `json:"entries"`
	CachedAt    time.Time `json:"cached_at"`
	LastChecked time.Time `json:"last_checked"`
	SHAs        []string  `json:"shas"`
}

type historyCacheDoc struct {
	Versions map[string]historyCacheEntry `json:"versions"`
}

// GetCommitHistory returns the cached or freshly-built prerelease history
// for expectedVersion, refreshing only last_checked when the rebuilt
// entries are identical to what was cached (§4.7 step 4).
func (h *History) GetCommitHistory(expectedVersion string, maxCommits int) []Entry {
	historyPath := h.cachePath("prerelease_commit_history.json")
	now := h.now()

	var doc historyCacheDoc
	data, readErr := os.ReadFile(historyPath)
	if readErr == nil {
		json.Unmarshal(data, &doc)
	}
	if doc.Versions == nil {
		doc.Versions = make(map[string]historyCacheEntry)
	}

	if cached, ok := doc.Versions[expectedVersion]; ok {
		lastChecked := cached.LastChecked
		if lastChecked.IsZero() {
			lastChecked = cached.CachedAt
		}
		if !lastChecked.IsZero() && now.Sub(lastChecked) < CommitsTTL {
			return cached.Entries
		}
	}

	commits := h.FetchRecentCommits(maxCommits)
	entries, shas := BuildHistory(expectedVersion, commits)

	old, hadOld := doc.Versions[expectedVersion]
	if hadOld && entriesEqual(old.Entries, entries) {
		old.LastChecked = now
		doc.Versions[expectedVersion] = old
		h.writeHistoryDoc(historyPath, doc)
		return entries
	}

	shaList := make([]string, 0, len(shas))
	for s := range shas {
		shaList = append(shaList, s)
	}
	sort.Strings(shaList)

	doc.Versions[expectedVersion] = historyCacheEntry{
		Entries:     entries,
		CachedAt:    now,
		LastChecked: now,
		SHAs:        shaList,
	}
	h.writeHistoryDoc(historyPath, doc)
	return entries
}

func (h *History) writeHistoryDoc(path string, doc historyCacheDoc) {
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := fileops.AtomicWriteJSON(path, data); err != nil && h.Logger != nil {
		h.Logger.Warnw("failed to write prerelease history cache", "error", err)
	}
}

func entriesEqual(a, b []Entry) bool {
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return string(ja) == string(jb)
}

// LatestActivePrerelease returns the newest active prerelease directory
// for expectedVersion (the last entry among those with status "active"
// after the ascending sort), plus the full history.
func (h *History) LatestActivePrerelease(expectedVersion string, maxCommits int) (string, []Entry) {
	entries := h.GetCommitHistory(expectedVersion, maxCommits)
	var latest string
	for _, e := range entries {
		if e.Status == "active" {
			latest = e.Directory
		}
	}
	return latest, entries
}

// ScanPrereleaseDirectories filters directory names to those matching
// "firmware-<expectedVersion>.<6+ hex>".
func ScanPrereleaseDirectories(names []string, expectedVersion string) []string {
	var matches []string
	for _, name := range names {
		suffix, ok := strings.CutPrefix(name, FirmwareDirPrefix)
		if !ok {
			continue
		}
		if !dirSuffixPattern.MatchString(suffix) {
			continue
		}
		parts := strings.SplitN(suffix, ".", 4)
		if len(parts) < 4 {
			continue
		}
		base := strings.Join(parts[:3], ".")
		if base == expectedVersion {
			matches = append(matches, suffix)
		}
	}
	return matches
}

// FindLatestRemoteDir scores candidate directory-name suffixes (as
// returned by ScanPrereleaseDirectories) against the history's set of
// preferred (previously-seen) short hashes, breaking ties by release
// tuple and then name, per §4.7.
func FindLatestRemoteDir(expectedVersion string, remoteNames []string, entries []Entry) string {
	preferred := make(map[string]bool)
	for _, e := range entries {
		if idx := strings.LastIndex(e.Identifier, "."); idx >= 0 {
			preferred[strings.ToLower(e.Identifier[idx+1:])] = true
		}
	}

	candidates := ScanPrereleaseDirectories(remoteNames, expectedVersion)
	if len(candidates) == 0 {
		return ""
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return lessCandidate(candidates[j], candidates[i], preferred)
	})
	return FirmwareDirPrefix + candidates[0]
}

func lessCandidate(a, b string, preferred map[string]bool) bool {
	aScore, bScore := scoreSuffix(a, preferred), scoreSuffix(b, preferred)
	if aScore.preferred != bScore.preferred {
		return aScore.preferred < bScore.preferred
	}
	cmp := compareIntSlices(aScore.tuple, bScore.tuple)
	if cmp != 0 {
		return cmp < 0
	}
	return a < b
}

type suffixScore struct {
	preferred int
	tuple     []int
}

func scoreSuffix(suffix string, preferred map[string]bool) suffixScore {
	hash := ""
	if idx := strings.LastIndex(suffix, "."); idx >= 0 {
		hash = strings.ToLower(suffix[idx+1:])
	}
	tuple, _ := version.ReleaseTuple(suffix)
	score := 0
	if preferred[hash] {
		score = 1
	}
	return suffixScore{preferred: score, tuple: tuple}
}

func compareIntSlices(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// LegacyTracking is the secondary tracking JSON shape maintained for
// backward compatibility with existing installs.
type LegacyTracking struct {
	Version     string    `json:"version"`
	Commits     []string  `json:"commits"`
	Hash        string    `json:"hash"`
	Count       int       `json:"count"`
	Timestamp   time.Time `json:"timestamp"`
	LastUpdated time.Time `json:"last_updated"`
}

// UpdateLegacyTrackingFile maintains prerelease_tracking.json: resets
// Commits when stableTag's clean version differs from what was tracked,
// appends newestPrereleaseDir's identifier if absent, and writes
// atomically.
func (h *History) UpdateLegacyTrackingFile(stableTag, newestPrereleaseDir string) error {
	if newestPrereleaseDir == "" || !strings.HasPrefix(newestPrereleaseDir, FirmwareDirPrefix) {
		return nil
	}

	path := h.cachePath("prerelease_tracking.json")
	identifier := strings.ToLower(strings.TrimPrefix(newestPrereleaseDir, FirmwareDirPrefix))
	cleanVersion := version.ExtractCleanVersion(stableTag)

	var tracking LegacyTracking
	if data, err := os.ReadFile(path); err == nil {
		json.Unmarshal(data, &tracking)
	}

	if tracking.Version != "" && cleanVersion != "" && tracking.Version != cleanVersion {
		tracking.Commits = nil
	}

	for _, c := range tracking.Commits {
		if c == identifier {
			return nil
		}
	}

	tracking.Commits = append(tracking.Commits, identifier)
	tracking.Version = cleanVersion
	hash := identifier
	if idx := strings.LastIndex(identifier, "."); idx >= 0 {
		hash = identifier[idx+1:]
	}
	tracking.Hash = hash
	tracking.Count = len(tracking.Commits)
	now := h.now()
	tracking.Timestamp = now
	tracking.LastUpdated = now

	data, err := json.Marshal(tracking)
	if err != nil {
		return err
	}
	return fileops.AtomicWriteJSON(path, data)
}

// Summary counts created/deleted/active entries.
type Summary struct {
	Created int
	Deleted int
	Active  int
}

// Summarize produces the {created, deleted, active} counts of §4.7's
// final paragraph.
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		if e.AddedAt != nil || e.AddedSHA != "" {
			s.Created++
		}
		if e.Status == "deleted" || e.RemovedAt != nil {
			s.Deleted++
		}
		if e.Status == "active" || e.Active {
			s.Active++
		}
	}
	return s
}
