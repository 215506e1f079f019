package downloaders

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/meshtastic/fetchtastic/internal/apk"
	"github.com/meshtastic/fetchtastic/internal/fileops"
	"github.com/meshtastic/fetchtastic/internal/releases"
)

// Android plans and executes the APK pipeline: target =
// <download_dir>/apks/<tag>/<filename>.
type Android struct {
	Deps
}

func NewAndroid(deps Deps) *Android { return &Android{Deps: deps} }

func (a *Android) root() string {
	return filepath.Join(a.Config.DownloadDir, "apks")
}

// Plan builds the task set for a set of releases already fetched by the
// caller (newest first, as ReleaseSource returns them).
func (a *Android) Plan(rels []releases.Release) []Task {
	var tasks []Task
	selected := a.Config.SelectedAPKAssets
	excluded := a.Config.ExcludePatterns

	for _, rel := range rels {
		assets := SelectAssets(rel.Assets, selected, excluded, a.Logger)
		for _, asset := range assets {
			target := filepath.Join(a.root(), rel.TagName, asset.Name)
			tasks = append(tasks, Task{
				Kind:       KindAPK,
				ReleaseTag: rel.TagName,
				SourceURL:  asset.DownloadURL,
				TargetPath: target,
				ExpectSize: asset.SizeBytes,
			})
		}
	}
	return tasks
}

// Run executes the pipeline for the given releases: plans, downloads, and
// writes the first release's tag to apks/latest_android_release.txt
// whenever rels is non-empty.
func (a *Android) Run(ctx context.Context, rels []releases.Release) []Result {
	tasks := a.Plan(rels)
	results := ExecuteTasks(ctx, a.Downloader, tasks)

	if len(rels) > 0 {
		a.updateLatestTracker(rels[0].TagName)
	}
	return results
}

func (a *Android) updateLatestTracker(tag string) {
	path := filepath.Join(a.root(), "latest_android_release.txt")
	if err := fileops.AtomicWriteText(path, tag+"\n"); err != nil && a.Logger != nil {
		a.Logger.Warnw("failed to update latest android release tracker", "error", err)
	}
}

// CleanupOldVersions prunes apk version directories beyond keepLimit.
func (a *Android) CleanupOldVersions(keepLimit int) ([]string, error) {
	return CleanupOldVersions(a.root(), keepLimit)
}

// CheckAPK sanity-parses a local APK file and returns a human-readable
// summary, backing the --check-apk CLI flag.
func CheckAPK(path string) (string, error) {
	info, err := apk.Parse(path)
	if err != nil {
		return "", fmt.Errorf("check-apk: %w", err)
	}
	meshtastic := "no"
	if info.IsMeshtasticPackage() {
		meshtastic = "yes"
	}
	return fmt.Sprintf(
		"package: %s\nversion: %s (code %d)\nsdk: min %d, target %d\nsize: %s\nsha256: %s\nmeshtastic package: %s",
		info.PackageID, info.VersionName, info.VersionCode, info.MinSDK, info.TargetSDK,
		fileops.FormatSize(info.FileSize), info.SHA256, meshtastic,
	), nil
}
