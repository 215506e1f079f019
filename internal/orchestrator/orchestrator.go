// Package orchestrator implements the top-level pipeline: assemble tasks
// across all downloaders, aggregate results, and produce a run summary,
// per §4.9.
package orchestrator

import (
	"context"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/meshtastic/fetchtastic/internal/cachestore"
	"github.com/meshtastic/fetchtastic/internal/config"
	"github.com/meshtastic/fetchtastic/internal/downloaders"
	"github.com/meshtastic/fetchtastic/internal/history"
	"github.com/meshtastic/fetchtastic/internal/logging"
	"github.com/meshtastic/fetchtastic/internal/notifier"
	"github.com/meshtastic/fetchtastic/internal/prerelease"
	"github.com/meshtastic/fetchtastic/internal/releases"
	"github.com/meshtastic/fetchtastic/internal/version"
)

const (
	androidRepoName  = "Meshtastic-Android"
	firmwareRepoName = "firmware"

	// prereleaseRemoteRoot is the directory on meshtastic.github.io
	// under which each firmware prerelease gets its own subdirectory.
	prereleaseRemoteRoot = "firmware/prerelease"
)

// Orchestrator runs the single-pass pipeline of §4.9.
type Orchestrator struct {
	Config   *config.Config
	Logger   logging.Logger
	Releases *releases.Source
	Cache    *cachestore.Store
	History  *history.Store

	Android    *downloaders.Android
	Firmware   *downloaders.Firmware
	Repository *downloaders.Repository

	Notifier notifier.Notifier

	SkipAPK      bool
	SkipFirmware bool
	DryRun       bool

	Now func() time.Time
}

// Summary aggregates one run's results for logging and notification.
type Summary struct {
	SuccessResults []downloaders.Result
	FailedResults  []downloaders.Result
	NewVersions    []string
	Elapsed        time.Duration
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Run executes one full pass: Android -> Firmware -> Repository, then
// history update and retention cleanup. Failure inside one stage does not
// prevent later stages from running. When forceRefresh is true, every
// cache file is cleared before stage 1 runs, per the force-refresh
// migration path.
func (o *Orchestrator) Run(ctx context.Context, forceRefresh bool) Summary {
	t0 := o.now()

	if forceRefresh && o.Cache != nil {
		if err := o.Cache.Clear(); err != nil && o.Logger != nil {
			o.Logger.Warnw("force-refresh cache clear failed", "error", err)
		}
	}

	var all []downloaders.Result
	var newVersions []string
	var firmwareRels []releases.Release

	if !o.SkipAPK && o.Config.SaveAPKs && o.Android != nil {
		results, tag := o.runAndroid(ctx)
		all = append(all, results...)
		if tag != "" {
			newVersions = append(newVersions, tag)
		}
	}

	if !o.SkipFirmware && o.Config.SaveFirmware && o.Firmware != nil {
		results, tag, rels := o.runFirmware(ctx)
		all = append(all, results...)
		firmwareRels = rels
		if tag != "" {
			newVersions = append(newVersions, tag)
		}
	}

	if o.Repository != nil {
		all = append(all, o.runRepository(ctx)...)
	}

	o.updateHistory(firmwareRels)

	o.runRetention()

	var success, failed []downloaders.Result
	for _, r := range all {
		if r.Success {
			success = append(success, r)
		} else {
			failed = append(failed, r)
		}
	}

	summary := Summary{
		SuccessResults: success,
		FailedResults:  failed,
		NewVersions:    newVersions,
		Elapsed:        o.now().Sub(t0),
	}
	o.logSummary(summary)
	o.notify(ctx, summary)
	return summary
}

func (o *Orchestrator) runAndroid(ctx context.Context) ([]downloaders.Result, string) {
	defer o.recoverStage("android")

	url := releasesAPIURL(androidRepoName)
	rels, err := o.Releases.GetReleases(url, nil)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Errorw("android release fetch failed", "error", err)
		}
		return nil, ""
	}
	if o.DryRun {
		o.logPlannedOnly(o.Android.Plan(rels))
		return nil, ""
	}
	return o.Android.Run(ctx, rels), newestTag(rels)
}

func (o *Orchestrator) runFirmware(ctx context.Context) ([]downloaders.Result, string, []releases.Release) {
	defer o.recoverStage("firmware")

	url := releasesAPIURL(firmwareRepoName)
	rels, err := o.Releases.GetReleases(url, nil)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Errorw("firmware release fetch failed", "error", err)
		}
		return nil, "", nil
	}
	if o.DryRun {
		o.logPlannedOnly(o.Firmware.Plan(rels))
		return nil, "", rels
	}

	results := o.Firmware.Run(ctx, rels)
	tag := newestTag(rels)

	if tag != "" && (o.Config.CheckFirmwarePrereleasesEnabled() || o.Config.CheckAPKPrereleasesEnabled()) {
		if base, ok := version.BaseVersion(version.ExpectedNextPatch(tag)); ok {
			remoteNames, remoteAssetsByDir := o.remotePrereleaseData(ctx, base)
			preResults := o.Firmware.RunPrerelease(ctx, base, remoteNames, remoteAssetsByDir, tag)
			results = append(results, preResults...)
		}
	}

	return results, tag, rels
}

// remotePrereleaseData lists the firmware/prerelease subtree of
// meshtastic.github.io to discover candidate prerelease directories for
// base, and fetches the file listing of every candidate so
// Firmware.RunPrerelease can select and download assets from directories
// that never appeared in the local commit-history cache (e.g. on a clean
// cache or a freshly rotated repository).
func (o *Orchestrator) remotePrereleaseData(ctx context.Context, base string) ([]string, map[string][]releases.Asset) {
	if o.Repository == nil {
		return nil, nil
	}

	names, err := o.Repository.ListSubdirectories(ctx, prereleaseRemoteRoot)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warnw("listing remote prerelease directories failed", "error", err)
		}
		return nil, nil
	}

	candidates := prerelease.ScanPrereleaseDirectories(names, base)
	if len(candidates) == 0 {
		return names, nil
	}

	assetsByDir := make(map[string][]releases.Asset, len(candidates))
	for _, suffix := range candidates {
		dir := prerelease.FirmwareDirPrefix + suffix
		entries, err := o.Repository.ListDirectory(ctx, prereleaseRemoteRoot+"/"+dir)
		if err != nil {
			if o.Logger != nil {
				o.Logger.Warnw("listing remote prerelease directory contents failed", "directory", dir, "error", err)
			}
			continue
		}
		assets := make([]releases.Asset, 0, len(entries))
		for _, e := range entries {
			assets = append(assets, releases.Asset{Name: e.Name, DownloadURL: e.URL})
		}
		assetsByDir[dir] = assets
	}
	return names, assetsByDir
}

func (o *Orchestrator) runRepository(ctx context.Context) []downloaders.Result {
	defer o.recoverStage("repository")

	entries, err := o.Repository.ListDirectory(ctx, "")
	if err != nil {
		if o.Logger != nil {
			o.Logger.Errorw("repository listing failed", "error", err)
		}
		return nil
	}
	if o.DryRun {
		o.logPlannedOnly(o.Repository.Plan(entries, ""))
		return nil
	}
	return o.Repository.Run(ctx, map[string][]downloaders.Entry{"": entries})
}

func (o *Orchestrator) updateHistory(firmwareRels []releases.Release) {
	defer o.recoverStage("history")
	if o.History == nil || len(firmwareRels) == 0 {
		return
	}
	stored := o.History.Load()
	updated := history.Update(stored, firmwareRels, o.now())
	if err := o.History.Save(updated); err != nil && o.Logger != nil {
		o.Logger.Warnw("failed to persist release history", "error", err)
	}
}

func (o *Orchestrator) runRetention() {
	defer o.recoverStage("retention")
	if o.Android != nil && o.Config.AndroidVersionsToKeep != nil {
		if _, err := o.Android.CleanupOldVersions(*o.Config.AndroidVersionsToKeep); err != nil && o.Logger != nil {
			o.Logger.Warnw("android retention cleanup failed", "error", err)
		}
	}
	if o.Firmware != nil && o.Config.FirmwareVersionsToKeep != nil {
		if _, err := o.Firmware.CleanupOldVersions(*o.Config.FirmwareVersionsToKeep); err != nil && o.Logger != nil {
			o.Logger.Warnw("firmware retention cleanup failed", "error", err)
		}
	}
}

func (o *Orchestrator) recoverStage(stage string) {
	if r := recover(); r != nil && o.Logger != nil {
		o.Logger.Errorw("pipeline stage panicked, continuing with remaining stages", "stage", stage, "panic", r)
	}
}

func (o *Orchestrator) logSummary(s Summary) {
	if o.Logger == nil {
		return
	}
	o.Logger.Infow("run complete",
		"succeeded", len(s.SuccessResults),
		"failed", len(s.FailedResults),
		"new_versions", s.NewVersions,
		"elapsed", s.Elapsed.Round(time.Second).String(),
	)
}

func (o *Orchestrator) logPlannedOnly(tasks []downloaders.Task) {
	if o.Logger == nil {
		return
	}
	for _, t := range tasks {
		o.Logger.Infow("dry-run: would download", "kind", t.Kind, "url", t.SourceURL, "target", t.TargetPath)
	}
}

func (o *Orchestrator) notify(ctx context.Context, s Summary) {
	if o.Notifier == nil {
		return
	}
	event := notifier.Event{
		Succeeded:    len(s.SuccessResults),
		Failed:       len(s.FailedResults),
		NewVersions:  s.NewVersions,
		Elapsed:      s.Elapsed,
		DownloadOnly: len(s.NewVersions) == 0,
	}
	if err := o.Notifier.Notify(ctx, event); err != nil && o.Logger != nil {
		o.Logger.Warnw("notification failed", "error", err)
	}
}

func releasesAPIURL(repo string) string {
	return "https://api.github.com/repos/meshtastic/" + repo + "/releases"
}

func newestTag(rels []releases.Release) string {
	if len(rels) == 0 {
		return ""
	}
	return rels[0].TagName
}

// RenderReleaseNotes renders markdown release-note bodies for terminal
// display, falling back to the raw body if glamour fails to render.
func RenderReleaseNotes(body string) string {
	out, err := glamour.Render(body, "dark")
	if err != nil {
		return body
	}
	return out
}
