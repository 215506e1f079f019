// Package config handles YAML configuration parsing and validation for the
// download pipeline, per §6's configuration key table.
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the parsed fetchtastic.yaml document.
type Config struct {
	DownloadDir string `yaml:"download_dir"`

	GitHubToken    string `yaml:"github_token,omitempty"`
	AllowEnvToken  *bool  `yaml:"allow_env_token,omitempty"`

	SaveAPKs      bool `yaml:"save_apks,omitempty"`
	SaveFirmware  bool `yaml:"save_firmware,omitempty"`

	AndroidVersionsToKeep  *int `yaml:"android_versions_to_keep,omitempty"`
	FirmwareVersionsToKeep *int `yaml:"firmware_versions_to_keep,omitempty"`

	SelectedAPKAssets        []string `yaml:"selected_apk_assets,omitempty"`
	SelectedFirmwareAssets   []string `yaml:"selected_firmware_assets,omitempty"`
	SelectedPrereleaseAssets []string `yaml:"selected_prerelease_assets,omitempty"`
	ExcludePatterns          []string `yaml:"exclude_patterns,omitempty"`
	ExtractPatterns          []string `yaml:"extract_patterns,omitempty"` // deprecated alias, see PrereleasePatterns

	AutoExtract bool `yaml:"auto_extract,omitempty"`

	CheckAPKPrereleases      *bool `yaml:"check_apk_prereleases,omitempty"`
	CheckFirmwarePrereleases *bool `yaml:"check_firmware_prereleases,omitempty"`
	// CheckPrereleases is the legacy, APK-agnostic key. When set, it seeds
	// whichever of the split keys above is not explicitly present (see
	// ApplyLegacyPrereleaseShim and DESIGN.md's Open Question #2).
	CheckPrereleases *bool `yaml:"check_prereleases,omitempty"`

	MaxConcurrentDownloads int     `yaml:"max_concurrent_downloads,omitempty"`
	MaxDownloadRetries     int     `yaml:"max_download_retries,omitempty"`
	DownloadRetryDelay     float64 `yaml:"download_retry_delay,omitempty"`

	WifiOnly bool `yaml:"wifi_only,omitempty"`

	NtfyServer           string `yaml:"ntfy_server,omitempty"`
	NtfyTopic            string `yaml:"ntfy_topic,omitempty"`
	NotifyOnDownloadOnly bool   `yaml:"notify_on_download_only,omitempty"`

	// BaseDir is the directory containing the config file, used to resolve
	// DownloadDir if given as a relative path. Not parsed from YAML.
	BaseDir string `yaml:"-"`
}

const (
	defaultVersionsToKeep  = 5
	defaultMaxConcurrent   = 5
	defaultMaxRetries      = 3
	defaultRetryDelay      = 1.0
)

// Load reads and parses a config file at path, applying defaults and the
// legacy-key migration shim.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, err
	}

	if absPath, err := filepath.Abs(path); err == nil {
		cfg.BaseDir = filepath.Dir(absPath)
	}
	cfg.DownloadDir = ExpandHome(cfg.DownloadDir)
	if cfg.DownloadDir != "" && !filepath.IsAbs(cfg.DownloadDir) {
		cfg.DownloadDir = filepath.Join(cfg.BaseDir, cfg.DownloadDir)
	}

	return cfg, nil
}

// Parse reads and parses config from a reader, without touching disk.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.applyDefaults()
	cfg.ApplyLegacyPrereleaseShim(nil)
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AndroidVersionsToKeep == nil {
		v := defaultVersionsToKeep
		c.AndroidVersionsToKeep = &v
	}
	if c.FirmwareVersionsToKeep == nil {
		v := defaultVersionsToKeep
		c.FirmwareVersionsToKeep = &v
	}
	if c.AllowEnvToken == nil {
		v := true
		c.AllowEnvToken = &v
	}
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = defaultMaxConcurrent
	}
	if c.MaxDownloadRetries <= 0 {
		c.MaxDownloadRetries = defaultMaxRetries
	}
	if c.DownloadRetryDelay <= 0 {
		c.DownloadRetryDelay = defaultRetryDelay
	}
}

// DeprecationWarner receives a single deprecation message. Implemented by
// internal/logging.Logger's Warnw in production; tests may pass nil to
// silently skip the warning.
type DeprecationWarner func(msg string)

// ApplyLegacyPrereleaseShim implements the config-migration decision
// recorded in DESIGN.md's Open Question #2: the legacy APK-agnostic
// CheckPrereleases seeds each split key independently, and only for keys
// the user did not set explicitly — an explicit split key always wins,
// whether true or false. warn, when non-nil, is called whenever the legacy
// key is present, including on a repeat call after Parse has already
// seeded the split keys.
func (c *Config) ApplyLegacyPrereleaseShim(warn DeprecationWarner) {
	if c.CheckPrereleases == nil {
		return
	}
	if c.CheckAPKPrereleases == nil {
		v := *c.CheckPrereleases
		c.CheckAPKPrereleases = &v
	}
	if c.CheckFirmwarePrereleases == nil {
		v := *c.CheckPrereleases
		c.CheckFirmwarePrereleases = &v
	}
	if warn != nil {
		warn("config key 'check_prereleases' is deprecated; use 'check_apk_prereleases' and 'check_firmware_prereleases' instead")
	}
}

// PrereleasePatterns returns the file-selection patterns for prerelease
// assets, preferring SelectedPrereleaseAssets and falling back to the
// legacy ExtractPatterns alias (original_source's
// config_utils.get_prerelease_patterns). warn is invoked with a
// deprecation message only when the legacy alias is actually used.
func (c *Config) PrereleasePatterns(warn DeprecationWarner) []string {
	if len(c.SelectedPrereleaseAssets) > 0 {
		return c.SelectedPrereleaseAssets
	}
	if len(c.ExtractPatterns) > 0 {
		if warn != nil {
			warn("using EXTRACT_PATTERNS for prerelease file selection is deprecated; re-run setup to update your configuration")
		}
		return c.ExtractPatterns
	}
	return nil
}

// EffectiveToken resolves the GitHub token to use: the configured token, or
// the GITHUB_TOKEN environment variable when AllowEnvToken is true (the
// default) and no token was configured.
func (c *Config) EffectiveToken() string {
	if c.GitHubToken != "" {
		return c.GitHubToken
	}
	if c.AllowEnvToken == nil || *c.AllowEnvToken {
		return os.Getenv("GITHUB_TOKEN")
	}
	return ""
}

// CheckAPKPrereleasesEnabled / CheckFirmwarePrereleasesEnabled read the
// split keys with their false default.
func (c *Config) CheckAPKPrereleasesEnabled() bool {
	return c.CheckAPKPrereleases != nil && *c.CheckAPKPrereleases
}

func (c *Config) CheckFirmwarePrereleasesEnabled() bool {
	return c.CheckFirmwarePrereleases != nil && *c.CheckFirmwarePrereleases
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DownloadDir == "" {
		return fmt.Errorf("download_dir is required")
	}
	if c.NtfyServer != "" {
		if err := ValidateURL(c.NtfyServer); err != nil {
			return fmt.Errorf("invalid ntfy_server: %w", err)
		}
	}
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("max_concurrent_downloads must be >= 1")
	}
	if c.AndroidVersionsToKeep != nil && *c.AndroidVersionsToKeep < 0 {
		return fmt.Errorf("android_versions_to_keep must be >= 0")
	}
	if c.FirmwareVersionsToKeep != nil && *c.FirmwareVersionsToKeep < 0 {
		return fmt.Errorf("firmware_versions_to_keep must be >= 0")
	}
	return nil
}

// ValidateURL checks that a string is a well-formed http(s) URL with a host.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must have http or https scheme, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// Template is the commented YAML skeleton written by WriteTemplate. It
// replaces the teacher's interactive wizard (out of scope per spec §1) with
// a minimal non-interactive starting point.
const Template = `# Fetchtastic configuration
download_dir: ~/Downloads/fetchtastic

save_apks: true
save_firmware: true

android_versions_to_keep: 5
firmware_versions_to_keep: 5

# selected_apk_assets:
#   - fdroid
# selected_firmware_assets:
#   - esp32
# exclude_patterns:
#   - debug

auto_extract: false
# extract_patterns:
#   - esp32

check_apk_prereleases: false
check_firmware_prereleases: false

max_concurrent_downloads: 5
max_download_retries: 3
download_retry_delay: 1.0

wifi_only: false

# ntfy_server: https://ntfy.sh
# ntfy_topic: my-fetchtastic-topic
# notify_on_download_only: false
`

// WriteTemplate writes the config template to path, failing if a file
// already exists there (never silently overwrites a user's config).
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing config at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, []byte(Template), 0o644)
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
