// Package downloaders implements the per-artifact-type planners — Android
// APK, Firmware, and Repository — that decide where files live, what to
// extract, how to name directories, and the retention policy, per §4.6.
package downloaders

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/meshtastic/fetchtastic/internal/cachestore"
	"github.com/meshtastic/fetchtastic/internal/config"
	"github.com/meshtastic/fetchtastic/internal/downloader"
	downloaderrors "github.com/meshtastic/fetchtastic/internal/errors"
	"github.com/meshtastic/fetchtastic/internal/fileops"
	"github.com/meshtastic/fetchtastic/internal/logging"
	"github.com/meshtastic/fetchtastic/internal/picker"
	"github.com/meshtastic/fetchtastic/internal/releases"
	"github.com/meshtastic/fetchtastic/internal/ui"
	"github.com/meshtastic/fetchtastic/internal/version"
)

// Kind discriminates the DownloadTask/DownloadResult kinds of §3.
type Kind string

const (
	KindAPK                    Kind = "APK"
	KindFirmware               Kind = "Firmware"
	KindFirmwarePrerelease     Kind = "FirmwarePrerelease"
	KindFirmwarePrereleaseRepo Kind = "FirmwarePrereleaseRepo"
	KindRepository             Kind = "Repository"
)

// Task is a single planned download.
type Task struct {
	Kind       Kind
	ReleaseTag string
	SourceURL  string
	TargetPath string
	ExpectSize int64
}

// Result is the outcome of executing one Task.
type Result struct {
	Success   bool
	Kind      Kind
	ReleaseTag string
	FilePath  string
	URL       string
	Size      int64

	ErrorKind  downloaderrors.Kind
	ErrorMsg   string
	HTTPStatus int
	Retryable  bool

	WasSkipped     bool
	ExtractedFiles []string
}

// Deps bundles the shared collaborators every per-artifact-type downloader
// embeds, per §4.6's "common to all".
type Deps struct {
	Config     *config.Config
	Releases   *releases.Source
	Downloader *downloader.Downloader
	Cache      *cachestore.Store
	Logger     logging.Logger
}

var versionDirPattern = regexp.MustCompile(`^v\d+\.\d+\.\d+(\..*)?$`)

// CleanupOldVersions enumerates version directories directly under root,
// keeps the keepLimit newest (by release tuple, descending), and removes
// the rest. Directories named "prerelease" or "repo-dls" are never touched.
func CleanupOldVersions(root string, keepLimit int) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if name == "prerelease" || name == "repo-dls" {
			continue
		}
		if !versionDirPattern.MatchString(name) {
			continue
		}
		dirs = append(dirs, name)
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		ti, _ := version.ReleaseTuple(dirs[i])
		tj, _ := version.ReleaseTuple(dirs[j])
		return compareTuplesDesc(ti, tj)
	})

	if keepLimit < 0 {
		keepLimit = 0
	}
	if len(dirs) <= keepLimit {
		return nil, nil
	}

	var removed []string
	for _, name := range dirs[keepLimit:] {
		dir := filepath.Join(root, name)
		if fileops.SafeRemoveTree(dir, root, name) {
			removed = append(removed, name)
		}
	}
	return removed, nil
}

// compareTuplesDesc reports whether tuple a sorts before tuple b in
// descending numeric order (newest first).
func compareTuplesDesc(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) > len(b)
}

// SelectAssets filters assets to those passing the include/exclude policy
// of §4.6 and logs a "did you mean" suggestion for any include pattern that
// matched nothing.
func SelectAssets(assets []releases.Asset, include, exclude []string, logger logging.Logger) []releases.Asset {
	selected := picker.FilterAssets(assets, include, exclude)
	if logger == nil {
		return selected
	}
	for pattern, suggestion := range picker.WarnUnmatchedPatterns(include, assets) {
		logger.Warnw("include pattern matched no assets", "pattern", pattern, "suggestion", suggestion)
	}
	return selected
}

// ExecuteTasks runs tasks through d, translating each downloader.Result
// back into a downloaders.Result keyed by the originating task.
func ExecuteTasks(ctx context.Context, d *downloader.Downloader, tasks []Task) []Result {
	specs := make([]downloader.Spec, len(tasks))
	for i, t := range tasks {
		specs[i] = downloader.Spec{URL: t.SourceURL, TargetPath: t.TargetPath, ExpectSize: t.ExpectSize}
		ui.Detail("fetching", t.SourceURL)
	}
	raw := d.DownloadMany(ctx, specs)

	results := make([]Result, len(tasks))
	for i, r := range raw {
		t := tasks[i]
		res := Result{
			Kind:       t.Kind,
			ReleaseTag: t.ReleaseTag,
			FilePath:   t.TargetPath,
			URL:        t.SourceURL,
			Size:       r.Size,
			WasSkipped: r.WasSkipped,
		}
		if r.Err != nil {
			res.Success = false
			if de, ok := downloaderrors.Of(r.Err); ok {
				res.ErrorKind = de.Kind
				res.ErrorMsg = de.Error()
				res.HTTPStatus = de.HTTPStatus
				res.Retryable = de.Retryable()
			} else {
				res.ErrorMsg = r.Err.Error()
			}
			os.Remove(t.TargetPath)
			ui.ErrorStatus("failed", filepath.Base(t.TargetPath)+": "+res.ErrorMsg)
		} else {
			res.Success = true
			verb := "downloaded"
			if r.WasSkipped {
				verb = "up to date"
			}
			ui.Status(verb, filepath.Base(t.TargetPath))
		}
		results[i] = res
	}
	return results
}

// stripNonASCII removes bytes outside the printable ASCII range, per the
// firmware release-notes write rule in §4.6.
func stripNonASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r < 127 || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
