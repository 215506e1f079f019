// Package releases fetches and caches GitHub Releases listings for a
// repository, emitting typed Release/Asset records per §3/§4.4.
package releases

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meshtastic/fetchtastic/internal/cachestore"
	downloaderrors "github.com/meshtastic/fetchtastic/internal/errors"
	"github.com/meshtastic/fetchtastic/internal/githubapi"
	"github.com/meshtastic/fetchtastic/internal/logging"
)

// Asset is a single downloadable file attached to a Release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	SizeBytes   int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// Release is a single GitHub release, identified by TagName.
type Release struct {
	TagName     string    `json:"tag_name"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Name        string    `json:"name,omitempty"`
	Body        string    `json:"body,omitempty"`
	Assets      []Asset   `json:"assets"`
}

// PoliteDelay is slept before each outbound API call.
const PoliteDelay = 100 * time.Millisecond

// listingTTL controls how long a releases listing is considered fresh.
const listingTTL = 24 * time.Hour

// maxRateLimitWait bounds how long GetReleases will sleep waiting for a
// rate-limit reset before giving up, so a misbehaving ResetAt far in the
// future can't wedge a run indefinitely.
const maxRateLimitWait = 5 * time.Minute

// maxFetchAttempts bounds the retry loop in GetReleases.
const maxFetchAttempts = 4

// Source fetches release listings from the GitHub REST API, caching the
// raw (pre-parse) response body. Each listing is a single request; further
// pages are not followed.
type Source struct {
	Client *http.Client
	Cache  *cachestore.Store
	Token  string
	Logger logging.Logger

	// Sleep is overridable in tests to avoid the real politeness delay.
	Sleep func(time.Duration)
	// Now is overridable in tests for deterministic cache freshness checks.
	Now func() time.Time
}

// NewSource builds a Source with production defaults.
func NewSource(client *http.Client, cache *cachestore.Store, token string, logger logging.Logger) *Source {
	return &Source{
		Client: client,
		Cache:  cache,
		Token:  token,
		Logger: logger,
		Sleep:  time.Sleep,
		Now:    time.Now,
	}
}

// GetReleases fetches the releases listing at rawURL (typically a GitHub
// API "releases" endpoint), applying params as query parameters, caching the
// raw response under a URL-derived key, and parsing into []Release.
// Malformed top-level entries are skipped and logged; individual malformed
// assets are skipped.
func (s *Source) GetReleases(rawURL string, params map[string]string) ([]Release, error) {
	cachePath := s.Cache.ReleasesCachePath(rawURL, params)

	var raw json.RawMessage
	now := s.now()
	if ok, err := s.Cache.ReadWithExpiry(cachePath, "body", listingTTL, now, &raw); err == nil && ok {
		return s.parse(raw), nil
	}

	body, err := s.fetchWithRetry(rawURL, params)
	if err != nil {
		return nil, err
	}

	if werr := s.Cache.WriteWithExpiry(cachePath, "body", json.RawMessage(body), listingTTL, now); werr != nil && s.Logger != nil {
		s.Logger.Warnw("failed to cache releases listing", "url", rawURL, "error", werr)
	}

	return s.parse(json.RawMessage(body)), nil
}

// fetchWithRetry calls fetch, and on a rate-limit response sleeps until the
// quota's ResetAt (bounded by maxRateLimitWait) and retries, up to
// maxFetchAttempts total attempts.
func (s *Source) fetchWithRetry(rawURL string, params map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		body, err := s.fetch(rawURL, params)
		if err == nil {
			return body, nil
		}
		lastErr = err

		de, ok := downloaderrors.Of(err)
		if !ok || de.Kind != downloaderrors.KindRateLimit || attempt == maxFetchAttempts {
			return nil, err
		}

		wait := time.Until(de.ResetAt)
		if wait <= 0 {
			wait = time.Second
		}
		if wait > maxRateLimitWait {
			return nil, err
		}
		if s.Logger != nil {
			s.Logger.Warnw("releases request rate-limited, waiting for reset", "url", rawURL, "wait", wait.String(), "attempt", attempt)
		}
		s.sleep(wait)
	}
	return nil, lastErr
}

func (s *Source) sleep(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (s *Source) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Source) fetch(rawURL string, params map[string]string) ([]byte, error) {
	if s.Sleep != nil {
		s.Sleep(PoliteDelay)
	}

	full, err := cachestore.BuildURL(rawURL, params)
	if err != nil {
		return nil, downloaderrors.Wrap(downloaderrors.KindConfig, err, "malformed releases URL")
	}

	req, err := http.NewRequest(http.MethodGet, full, nil)
	if err != nil {
		return nil, downloaderrors.Wrap(downloaderrors.KindConfig, err, "build request")
	}
	githubapi.SetHeaders(req, s.Token)

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, downloaderrors.Wrap(downloaderrors.KindNetwork, err, "releases request failed")
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	rateLimited := resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
	if derr := downloaderrors.FromHTTPStatus(resp.StatusCode, rateLimited, ParseResetHeader(resp.Header.Get("X-RateLimit-Reset"))); derr != nil {
		return nil, derr
	}

	if readErr != nil {
		return nil, downloaderrors.Wrap(downloaderrors.KindNetwork, readErr, "reading releases response")
	}
	return body, nil
}

func (s *Source) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// rawRelease mirrors the GitHub API's loosely-typed release shape; Size is
// decoded permissively so a malformed numeric field falls back to 0 instead
// of aborting the whole entry.
type rawRelease struct {
	TagName     string     `json:"tag_name"`
	Prerelease  bool       `json:"prerelease"`
	PublishedAt *time.Time `json:"published_at"`
	Name        string     `json:"name"`
	Body        string     `json:"body"`
	Assets      []rawAsset `json:"assets"`
}

type rawAsset struct {
	Name        string      `json:"name"`
	DownloadURL string      `json:"browser_download_url"`
	Size        json.Number `json:"size"`
	ContentType string      `json:"content_type"`
}

func (s *Source) parse(raw json.RawMessage) []Release {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		if s.Logger != nil {
			s.Logger.Warnw("releases response is not a JSON array", "error", err)
		}
		return nil
	}

	releases := make([]Release, 0, len(entries))
	for _, entry := range entries {
		var rr rawRelease
		if err := json.Unmarshal(entry, &rr); err != nil {
			if s.Logger != nil {
				s.Logger.Warnw("skipping malformed release entry", "error", err)
			}
			continue
		}
		if rr.TagName == "" || len(rr.Assets) == 0 {
			continue
		}

		assets := make([]Asset, 0, len(rr.Assets))
		for _, ra := range rr.Assets {
			if ra.Name == "" || strings.ContainsAny(ra.Name, "/\\") {
				continue
			}
			size, _ := ra.Size.Int64()
			assets = append(assets, Asset{
				Name:        ra.Name,
				DownloadURL: ra.DownloadURL,
				SizeBytes:   size,
				ContentType: ra.ContentType,
			})
		}
		if len(assets) == 0 {
			continue
		}

		rel := Release{
			TagName:    rr.TagName,
			Prerelease: rr.Prerelease,
			Name:       rr.Name,
			Body:       rr.Body,
			Assets:     assets,
		}
		if rr.PublishedAt != nil {
			rel.PublishedAt = *rr.PublishedAt
		}
		releases = append(releases, rel)
	}
	return releases
}

// ParseResetHeader parses a GitHub X-RateLimit-Reset header (epoch
// seconds), defaulting to one minute from now when the header is missing
// or malformed. Exported so other GitHub API callers (the Contents-API
// path in downloaders.Repository) classify rate limits the same way.
func ParseResetHeader(v string) time.Time {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Now().Add(time.Minute)
	}
	return time.Unix(secs, 0)
}
