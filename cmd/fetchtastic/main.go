// Command fetchtastic downloads Meshtastic Android APKs, firmware release
// archives, and repository files, following the retention and selection
// rules in a fetchtastic.yaml config file.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/meshtastic/fetchtastic/internal/cachestore"
	"github.com/meshtastic/fetchtastic/internal/cli"
	"github.com/meshtastic/fetchtastic/internal/config"
	"github.com/meshtastic/fetchtastic/internal/downloader"
	"github.com/meshtastic/fetchtastic/internal/downloaders"
	"github.com/meshtastic/fetchtastic/internal/githubapi"
	"github.com/meshtastic/fetchtastic/internal/history"
	"github.com/meshtastic/fetchtastic/internal/logging"
	"github.com/meshtastic/fetchtastic/internal/notifier"
	"github.com/meshtastic/fetchtastic/internal/orchestrator"
	"github.com/meshtastic/fetchtastic/internal/prerelease"
	"github.com/meshtastic/fetchtastic/internal/releases"
	"github.com/meshtastic/fetchtastic/internal/ui"
)

// version is stamped at build time via -ldflags; left as "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	opts := cli.ParseFlags()
	githubapi.SetUserAgent(version)

	ui.SetNoColor(opts.NoColor)
	ui.SetQuietMode(opts.Quiet)
	ui.SetVerbosity(int(verbosity(opts)))

	switch {
	case opts.Help:
		flag.Usage()
		return 0
	case opts.Version:
		fmt.Println("fetchtastic", version)
		return 0
	case opts.InitConfig != "":
		if err := config.WriteTemplate(opts.InitConfig); err != nil {
			fmt.Fprintln(os.Stderr, "fetchtastic:", err)
			return 1
		}
		fmt.Println("wrote config template to", opts.InitConfig)
		return 0
	case opts.CheckAPK != "":
		summary, err := downloaders.CheckAPK(opts.CheckAPK)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fetchtastic:", err)
			return 1
		}
		fmt.Println(summary)
		return 0
	}

	logger, err := logging.New(logging.Options{Verbosity: verbosity(opts)})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetchtastic: failed to initialize logging:", err)
		return 1
	}
	defer logger.Sync()

	sig := cli.NewSignalHandler()
	defer sig.Stop()
	sig.OnCleanup(func() { logger.Sync() })

	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = defaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Errorw("failed to load config", "path", cfgPath, "error", err)
		return 1
	}
	cfg.ApplyLegacyPrereleaseShim(func(msg string) { logger.Warnw(msg) })
	if err := cfg.Validate(); err != nil {
		logger.Errorw("invalid config", "error", err)
		return 1
	}

	cacheDir, err := cachestore.DefaultDir()
	if err != nil {
		logger.Errorw("failed to resolve cache dir", "error", err)
		return 1
	}
	cache := cachestore.New(cacheDir)

	token := cfg.EffectiveToken()
	httpClient := &http.Client{}

	relSource := releases.NewSource(httpClient, cache, token, logger)
	dl := downloader.New(cfg.MaxConcurrentDownloads, token, logger)
	dl.MaxRetries = cfg.MaxDownloadRetries
	dl.RetryDelay = time.Duration(cfg.DownloadRetryDelay * float64(time.Second))

	deps := downloaders.Deps{
		Config:     cfg,
		Releases:   relSource,
		Downloader: dl,
		Cache:      cache,
		Logger:     logger,
	}

	android := downloaders.NewAndroid(deps)

	prereleaseHistory := prerelease.NewHistory(httpClient, cache, token, logger)
	firmware := downloaders.NewFirmware(deps, prereleaseHistory)

	repository := downloaders.NewRepository(deps)

	histStore := history.NewStore(filepath.Join(cacheDir, "release_history.json"))

	var notify notifier.Notifier = notifier.Nop{}
	if cfg.NtfyServer != "" && cfg.NtfyTopic != "" {
		notify = &notifier.Ntfy{
			Server:               cfg.NtfyServer,
			Topic:                cfg.NtfyTopic,
			NotifyOnDownloadOnly: cfg.NotifyOnDownloadOnly,
			Client:               httpClient,
			Logger:               logger,
		}
	}

	orch := &orchestrator.Orchestrator{
		Config:       cfg,
		Logger:       logger,
		Releases:     relSource,
		Cache:        cache,
		History:      histStore,
		Android:      android,
		Firmware:     firmware,
		Repository:   repository,
		Notifier:     notify,
		SkipAPK:      opts.SkipAPK,
		SkipFirmware: opts.SkipFirmware,
		DryRun:       opts.DryRun,
	}

	ui.Status("running", "fetchtastic pipeline")
	summary := orch.Run(sig.Context(), opts.ForceRefresh)
	if sig.IsShuttingDown() {
		return 130
	}

	if len(summary.FailedResults) > 0 {
		ui.ErrorStatus("done", fmt.Sprintf("%d succeeded, %d failed", len(summary.SuccessResults), len(summary.FailedResults)))
		return 0
	}
	ui.Result(ui.Success(fmt.Sprintf("%d succeeded, 0 failed", len(summary.SuccessResults))))
	return 0
}

func verbosity(opts *cli.Options) logging.Verbosity {
	switch {
	case opts.Quiet:
		return logging.Quiet
	case opts.Verbose:
		return logging.Verbose
	default:
		return logging.Normal
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fetchtastic.yaml"
	}
	return filepath.Join(home, ".config", "fetchtastic", "fetchtastic.yaml")
}

