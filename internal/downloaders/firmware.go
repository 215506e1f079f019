package downloaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meshtastic/fetchtastic/internal/fileops"
	"github.com/meshtastic/fetchtastic/internal/prerelease"
	"github.com/meshtastic/fetchtastic/internal/releases"
	"github.com/meshtastic/fetchtastic/internal/version"
)

// Firmware plans and executes the firmware release pipeline, optional ZIP
// extraction, prerelease directory resolution, and promotion/supersession
// cleanup between the two trees.
type Firmware struct {
	Deps
	Prerelease *prerelease.History
}

func NewFirmware(deps Deps, ph *prerelease.History) *Firmware {
	return &Firmware{Deps: deps, Prerelease: ph}
}

func (f *Firmware) root() string {
	return filepath.Join(f.Config.DownloadDir, "firmware")
}

func (f *Firmware) prereleaseRoot() string {
	return filepath.Join(f.root(), "prerelease")
}

// Plan builds the stable-release task set: one task per selected asset.
// Release notes are not planned here; Run writes them.
func (f *Firmware) Plan(rels []releases.Release) []Task {
	var tasks []Task
	selected := f.Config.SelectedFirmwareAssets
	excluded := f.Config.ExcludePatterns

	for _, rel := range rels {
		assets := SelectAssets(rel.Assets, selected, excluded, f.Logger)
		for _, asset := range assets {
			target := filepath.Join(f.root(), rel.TagName, asset.Name)
			tasks = append(tasks, Task{
				Kind:       KindFirmware,
				ReleaseTag: rel.TagName,
				SourceURL:  asset.DownloadURL,
				TargetPath: target,
				ExpectSize: asset.SizeBytes,
			})
		}
	}
	return tasks
}

// Run executes the stable pipeline: download, write release notes, extract
// ZIPs when configured, then reconcile the prerelease tree against the
// newest stable tag (promotion + supersession).
func (f *Firmware) Run(ctx context.Context, rels []releases.Release) []Result {
	tasks := f.Plan(rels)
	results := ExecuteTasks(ctx, f.Downloader, tasks)

	for _, rel := range rels {
		if strings.TrimSpace(rel.Body) != "" {
			f.writeReleaseNotes(rel)
		}
	}

	if f.Config.AutoExtract {
		for i, r := range results {
			if !r.Success || r.Kind != KindFirmware || !strings.HasSuffix(strings.ToLower(r.FilePath), ".zip") {
				continue
			}
			releaseDir := filepath.Dir(r.FilePath)
			extracted, err := fileops.ExtractArchive(r.FilePath, releaseDir, f.Config.PrereleasePatterns(nil), f.Config.ExcludePatterns)
			if err != nil {
				if f.Logger != nil {
					f.Logger.Warnw("firmware extraction failed", "file", r.FilePath, "error", err)
				}
				continue
			}
			results[i].ExtractedFiles = extracted
		}
	}

	if len(rels) > 0 {
		f.reconcilePrereleaseTree(rels[0].TagName)
	}

	return results
}

func (f *Firmware) writeReleaseNotes(rel releases.Release) {
	path := filepath.Join(f.root(), rel.TagName, fmt.Sprintf("release_notes-%s.md", rel.TagName))
	if err := fileops.AtomicWriteText(path, stripNonASCII(rel.Body)); err != nil && f.Logger != nil {
		f.Logger.Warnw("failed to write release notes", "tag", rel.TagName, "error", err)
	}
}

// CleanupOldVersions prunes firmware version directories beyond keepLimit,
// excluding "prerelease" and "repo-dls" (enforced by the shared helper).
func (f *Firmware) CleanupOldVersions(keepLimit int) ([]string, error) {
	return CleanupOldVersions(f.root(), keepLimit)
}

// reconcilePrereleaseTree removes superseded prerelease directories (base
// version <= the now-current stable) and detects promotion: a prerelease
// directory whose identifier equals the new stable tag, every one of whose
// files hash-matches its stable counterpart, is deleted as promoted.
func (f *Firmware) reconcilePrereleaseTree(stableTag string) {
	stableBase, ok := version.BaseVersion(stableTag)
	if !ok {
		return
	}
	stableTuple, ok := version.ReleaseTuple(stableBase)
	if !ok {
		return
	}

	entries, err := os.ReadDir(f.prereleaseRoot())
	if err != nil {
		return
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prerelease.FirmwareDirPrefix) {
			continue
		}
		suffix := strings.TrimPrefix(e.Name(), prerelease.FirmwareDirPrefix)
		dirBase, ok := version.BaseVersion(suffix)
		if !ok {
			continue
		}
		dirTuple, ok := version.ReleaseTuple(dirBase)
		if !ok {
			continue
		}

		dirPath := filepath.Join(f.prereleaseRoot(), e.Name())

		if dirBase == stableBase {
			// Equal version: only remove once verified promoted (every
			// file matches its stable counterpart byte-for-byte).
			if f.isPromoted(dirPath, filepath.Join(f.root(), stableTag)) {
				fileops.SafeRemoveTree(dirPath, f.prereleaseRoot(), e.Name())
			}
			continue
		}

		if compareTuplesDesc(stableTuple, dirTuple) {
			// dirTuple < stableTuple: this prerelease base has shipped.
			fileops.SafeRemoveTree(dirPath, f.prereleaseRoot(), e.Name())
		}
	}
}

// isPromoted reports whether every file in prereleaseDir has an identical
// sha-256 to the same-named file in stableDir.
func (f *Firmware) isPromoted(prereleaseDir, stableDir string) bool {
	entries, err := os.ReadDir(prereleaseDir)
	if err != nil || len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		preSum, ok := fileops.SHA256(filepath.Join(prereleaseDir, e.Name()))
		if !ok {
			return false
		}
		stableSum, ok := fileops.SHA256(filepath.Join(stableDir, e.Name()))
		if !ok || !fileops.CompareHashes(preSum, stableSum) {
			return false
		}
	}
	return true
}

// RunPrerelease scans the static-site commit history for expectedVersion,
// downloads the newest active prerelease's selected assets, and maintains
// the legacy tracking file.
func (f *Firmware) RunPrerelease(ctx context.Context, expectedVersion string, remoteNames []string, remoteAssetsByDir map[string][]releases.Asset, stableTag string) []Result {
	if f.Prerelease == nil {
		return nil
	}

	directory, entries := f.Prerelease.LatestActivePrerelease(expectedVersion, prerelease.DefaultMaxCommits)
	if directory == "" {
		directory = prerelease.FindLatestRemoteDir(expectedVersion, remoteNames, entries)
	}
	if directory == "" {
		return nil
	}

	assets, ok := remoteAssetsByDir[directory]
	if !ok {
		return nil
	}

	selected := SelectAssets(assets, f.Config.PrereleasePatterns(nil), f.Config.ExcludePatterns, f.Logger)
	releaseDir := filepath.Join(f.prereleaseRoot(), directory)

	var tasks []Task
	for _, asset := range selected {
		tasks = append(tasks, Task{
			Kind:       KindFirmwarePrereleaseRepo,
			ReleaseTag: directory,
			SourceURL:  asset.DownloadURL,
			TargetPath: filepath.Join(releaseDir, asset.Name),
			ExpectSize: asset.SizeBytes,
		})
	}

	results := ExecuteTasks(ctx, f.Downloader, tasks)

	if stableTag != "" {
		_ = f.Prerelease.UpdateLegacyTrackingFile(stableTag, directory)
	}

	return results
}
