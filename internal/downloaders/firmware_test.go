package downloaders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshtastic/fetchtastic/internal/cachestore"
	"github.com/meshtastic/fetchtastic/internal/config"
	"github.com/meshtastic/fetchtastic/internal/downloader"
	"github.com/meshtastic/fetchtastic/internal/prerelease"
	"github.com/meshtastic/fetchtastic/internal/releases"
)

func newTestFirmware(t *testing.T, downloadDir string) *Firmware {
	t.Helper()
	cfg := &config.Config{DownloadDir: downloadDir}
	return NewFirmware(Deps{Config: cfg}, nil)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReconcilePrereleaseTreeRemovesSuperseded(t *testing.T) {
	dir := t.TempDir()
	f := newTestFirmware(t, dir)

	writeFile(t, filepath.Join(f.prereleaseRoot(), "firmware-2.7.12.aaaaaaa", "firmware.bin"), "old")
	writeFile(t, filepath.Join(f.root(), "v2.7.13", "firmware.bin"), "new")

	f.reconcilePrereleaseTree("v2.7.13")

	if _, err := os.Stat(filepath.Join(f.prereleaseRoot(), "firmware-2.7.12.aaaaaaa")); !os.IsNotExist(err) {
		t.Error("expected superseded prerelease (2.7.12 < 2.7.13) to be removed")
	}
}

func TestReconcilePrereleaseTreeKeepsNewerBase(t *testing.T) {
	dir := t.TempDir()
	f := newTestFirmware(t, dir)

	writeFile(t, filepath.Join(f.prereleaseRoot(), "firmware-2.7.14.bbbbbbb", "firmware.bin"), "future")
	writeFile(t, filepath.Join(f.root(), "v2.7.13", "firmware.bin"), "current")

	f.reconcilePrereleaseTree("v2.7.13")

	if _, err := os.Stat(filepath.Join(f.prereleaseRoot(), "firmware-2.7.14.bbbbbbb")); err != nil {
		t.Error("expected a prerelease ahead of stable to be kept")
	}
}

func TestReconcilePrereleaseTreePromotesMatchingContent(t *testing.T) {
	dir := t.TempDir()
	f := newTestFirmware(t, dir)

	writeFile(t, filepath.Join(f.prereleaseRoot(), "firmware-2.7.13.ccccccc", "firmware.bin"), "identical")
	writeFile(t, filepath.Join(f.root(), "v2.7.13", "firmware.bin"), "identical")

	f.reconcilePrereleaseTree("v2.7.13")

	if _, err := os.Stat(filepath.Join(f.prereleaseRoot(), "firmware-2.7.13.ccccccc")); !os.IsNotExist(err) {
		t.Error("expected promoted prerelease to be removed")
	}
}

func TestReconcilePrereleaseTreeKeepsUnpromotedSameVersion(t *testing.T) {
	dir := t.TempDir()
	f := newTestFirmware(t, dir)

	writeFile(t, filepath.Join(f.prereleaseRoot(), "firmware-2.7.13.ddddddd", "firmware.bin"), "different-content")
	writeFile(t, filepath.Join(f.root(), "v2.7.13", "firmware.bin"), "stable-content")

	f.reconcilePrereleaseTree("v2.7.13")

	if _, err := os.Stat(filepath.Join(f.prereleaseRoot(), "firmware-2.7.13.ddddddd")); err != nil {
		t.Error("expected same-version prerelease with mismatched content to be kept (not verified promoted)")
	}
}

// TestRunPrereleaseDownloadsFromRemoteAssetMap guards against RunPrerelease
// silently no-op'ing when it falls back to remoteNames/remoteAssetsByDir
// because nothing was found in the local commit-history cache.
func TestRunPrereleaseDownloadsFromRemoteAssetMap(t *testing.T) {
	dir := t.TempDir()
	cache := cachestore.New(t.TempDir())
	now := time.Now()

	// Seed an empty, fresh commits cache so FetchRecentCommits takes the
	// cache-hit path instead of making a real HTTP call.
	if err := cache.WriteWithExpiry(
		filepath.Join(cache.Dir, "prerelease_commits_cache.json"),
		"commits", []prerelease.Commit{}, prerelease.CommitsTTL, now,
	); err != nil {
		t.Fatal(err)
	}

	ph := prerelease.NewHistory(nil, cache, "", nil)
	ph.Now = func() time.Time { return now }

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("firmware bytes"))
	}))
	defer srv.Close()

	cfg := &config.Config{DownloadDir: dir}
	dl := downloader.New(1, "", nil)
	dl.Client = srv.Client()

	f := NewFirmware(Deps{Config: cfg, Downloader: dl}, ph)

	remoteNames := []string{"firmware-2.7.14.abcdef1"}
	remoteAssetsByDir := map[string][]releases.Asset{
		"firmware-2.7.14.abcdef1": {{Name: "firmware-esp32.bin", DownloadURL: srv.URL + "/firmware-esp32.bin"}},
	}

	results := f.RunPrerelease(context.Background(), "2.7.14", remoteNames, remoteAssetsByDir, "v2.7.13")
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("RunPrerelease() = %+v, want one successful download from the remote asset map", results)
	}
}
