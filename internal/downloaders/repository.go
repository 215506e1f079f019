package downloaders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	downloaderrors "github.com/meshtastic/fetchtastic/internal/errors"
	"github.com/meshtastic/fetchtastic/internal/githubapi"
	"github.com/meshtastic/fetchtastic/internal/picker"
	"github.com/meshtastic/fetchtastic/internal/releases"
)

// Repository plans and executes downloads of files listed in the
// meshtastic.github.io static site, either via the repository's GitHub
// Contents API (primary) or by scraping its directory index pages
// (fallback, used only when the Contents API is rate-limited).
type Repository struct {
	Deps
	Client  *http.Client
	BaseURL string // defaults to https://meshtastic.github.io/

	// ContentsURL is the GitHub Contents API root for the static site
	// repo, defaults to the meshtastic.github.io repo's contents endpoint.
	ContentsURL string
}

func NewRepository(deps Deps) *Repository {
	return &Repository{
		Deps:        deps,
		Client:      http.DefaultClient,
		BaseURL:     "https://meshtastic.github.io/",
		ContentsURL: "https://api.github.com/repos/meshtastic/meshtastic.github.io/contents",
	}
}

func (r *Repository) root() string {
	return filepath.Join(r.Config.DownloadDir, "firmware", "repo-dls")
}

// Entry is one file discovered under a directory.
type Entry struct {
	Name string
	URL  string
}

// contentsItem mirrors the subset of the GitHub Contents API's per-entry
// shape this package needs: name, type ("file" | "dir"), and download_url.
type contentsItem struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

// ListDirectory returns every file entry at indexPath (relative to the
// repository root), preferring the GitHub Contents API and falling back to
// an HTML directory-listing scrape only when the Contents API responds
// with a rate-limit error.
func (r *Repository) ListDirectory(ctx context.Context, indexPath string) ([]Entry, error) {
	items, err := r.listContentsAPI(ctx, indexPath)
	if err == nil {
		entries := make([]Entry, 0, len(items))
		for _, it := range items {
			if it.Type != "file" || it.DownloadURL == "" {
				continue
			}
			entries = append(entries, Entry{Name: it.Name, URL: it.DownloadURL})
		}
		return entries, nil
	}

	if de, ok := downloaderrors.Of(err); ok && de.Kind == downloaderrors.KindRateLimit {
		if r.Logger != nil {
			r.Logger.Warnw("contents API rate-limited, falling back to HTML scrape", "path", indexPath, "error", err)
		}
		return r.listViaScrape(ctx, indexPath)
	}
	return nil, err
}

// ListSubdirectories returns the directory names present at indexPath via
// the Contents API. Used to discover remote firmware/prerelease
// directories; unlike ListDirectory it has no scrape fallback, since the
// HTML index pages don't reliably expose subdirectories as distinct
// entries from files.
func (r *Repository) ListSubdirectories(ctx context.Context, indexPath string) ([]string, error) {
	items, err := r.listContentsAPI(ctx, indexPath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, it := range items {
		if it.Type == "dir" && it.Name != "" {
			names = append(names, it.Name)
		}
	}
	return names, nil
}

func (r *Repository) listContentsAPI(ctx context.Context, indexPath string) ([]contentsItem, error) {
	apiURL := r.contentsURL()
	if indexPath != "" {
		apiURL = apiURL + "/" + strings.Trim(indexPath, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, downloaderrors.Wrap(downloaderrors.KindConfig, err, "build contents API request")
	}
	githubapi.SetHeaders(req, r.Config.EffectiveToken())

	resp, err := r.client().Do(req)
	if err != nil {
		return nil, downloaderrors.Wrap(downloaderrors.KindNetwork, err, "contents API request failed")
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	rateLimited := resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
	if derr := downloaderrors.FromHTTPStatus(resp.StatusCode, rateLimited, releases.ParseResetHeader(resp.Header.Get("X-RateLimit-Reset"))); derr != nil {
		return nil, derr
	}
	if readErr != nil {
		return nil, downloaderrors.Wrap(downloaderrors.KindNetwork, readErr, "reading contents API response")
	}

	var items []contentsItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, downloaderrors.Wrap(downloaderrors.KindMalformedResponse, err, "decode contents API response")
	}
	return items, nil
}

func (r *Repository) contentsURL() string {
	if r.ContentsURL != "" {
		return r.ContentsURL
	}
	return "https://api.github.com/repos/meshtastic/meshtastic.github.io/contents"
}

// listViaScrape fetches indexPath (relative to BaseURL) and returns every
// file-like anchor on the page via goquery; directory-like anchors
// (trailing "/") are skipped. Used only as a Contents-API rate-limit
// fallback.
func (r *Repository) listViaScrape(ctx context.Context, indexPath string) ([]Entry, error) {
	full, err := url.JoinPath(r.BaseURL, indexPath)
	if err != nil {
		return nil, fmt.Errorf("build index url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch directory listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("directory listing %s returned status %d", full, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse directory listing: %w", err)
	}

	var entries []Entry
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" || href == "../" || strings.HasSuffix(href, "/") {
			return
		}
		name := filepath.Base(href)
		if name == "" || strings.Contains(name, "?") {
			return
		}
		resolved, err := url.JoinPath(full, href)
		if err != nil {
			return
		}
		entries = append(entries, Entry{Name: name, URL: resolved})
	})
	return entries, nil
}

func (r *Repository) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

// targetPath computes the download destination for a repository file,
// containing subdir within repo-dls by a lexical check on absolute paths.
// Symlinks are not resolved, so a symlink inside repo-dls that points
// elsewhere passes the check. When subdir escapes repo-dls it falls back
// to the root and logs.
func (r *Repository) targetPath(subdir, filename string) string {
	base := r.root()
	if subdir == "" {
		return filepath.Join(base, filename)
	}

	candidate := filepath.Join(base, subdir)
	absBase, errBase := filepath.Abs(base)
	absCandidate, errCandidate := filepath.Abs(candidate)
	if errBase != nil || errCandidate != nil {
		return filepath.Join(base, filename)
	}
	rel, err := filepath.Rel(absBase, absCandidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		if r.Logger != nil {
			r.Logger.Warnw("repository subdir escapes repo-dls, falling back to root", "subdir", subdir)
		}
		return filepath.Join(base, filename)
	}
	return filepath.Join(candidate, filename)
}

// Plan builds the task set for a directory listing, given an optional
// subdir under repo-dls and include/exclude patterns.
func (r *Repository) Plan(entries []Entry, subdir string) []Task {
	include := r.Config.SelectedFirmwareAssets
	exclude := r.Config.ExcludePatterns

	var tasks []Task
	for _, e := range entries {
		if !picker.Matches(e.Name, include, exclude) {
			continue
		}
		tasks = append(tasks, Task{
			Kind:       KindRepository,
			SourceURL:  e.URL,
			TargetPath: r.targetPath(subdir, e.Name),
		})
	}
	return tasks
}

// Run fetches the given directory listings (keyed by subdir, "" for the
// root) and downloads every matched file into repo-dls.
func (r *Repository) Run(ctx context.Context, listings map[string][]Entry) []Result {
	var tasks []Task
	for subdir, entries := range listings {
		tasks = append(tasks, r.Plan(entries, subdir)...)
	}
	return ExecuteTasks(ctx, r.Downloader, tasks)
}
