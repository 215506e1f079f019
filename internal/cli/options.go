// Package cli handles command-line interface concerns.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Options holds all CLI configuration options.
type Options struct {
	ConfigPath string

	DryRun      bool
	Quiet       bool
	Verbose     bool
	NoColor     bool
	ForceRefresh bool

	SkipAPK      bool
	SkipFirmware bool

	CheckAPK   string // path to a local APK to sanity-parse, empty disables
	InitConfig string // path to write a config template to, empty disables

	Version bool
	Help    bool
}

const usageText = `fetchtastic [flags]

Downloads Meshtastic Android APKs, firmware release archives, and
repository files, following the retention and selection rules in your
config file.

Flags:
  -c, --config <path>    Path to fetchtastic.yaml (default: ~/.config/fetchtastic/fetchtastic.yaml)
      --dry-run          Plan and log downloads without executing them
      --force-refresh    Bypass all caches for this run
      --skip-apk         Skip the Android APK pipeline even if enabled in config
      --skip-firmware    Skip the firmware pipeline even if enabled in config
      --check-apk <path> Sanity-parse a local APK and print its manifest fields
      --init-config <path>  Write a starter config file to path and exit
  -v, --verbose          Debug-level logging
  -q, --quiet            Warnings and errors only
      --no-color         Disable colored output
      --version          Print version and exit
  -h, --help             Show this help
`

// ParseFlags parses command-line flags and returns Options.
func ParseFlags() *Options {
	opts := &Options{}

	flag.StringVar(&opts.ConfigPath, "c", "", "Path to fetchtastic.yaml")
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to fetchtastic.yaml")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "Plan and log downloads without executing them")
	flag.BoolVar(&opts.ForceRefresh, "force-refresh", false, "Bypass all caches for this run")
	flag.BoolVar(&opts.SkipAPK, "skip-apk", false, "Skip the Android APK pipeline")
	flag.BoolVar(&opts.SkipFirmware, "skip-firmware", false, "Skip the firmware pipeline")
	flag.StringVar(&opts.CheckAPK, "check-apk", "", "Sanity-parse a local APK and print its manifest fields")
	flag.StringVar(&opts.InitConfig, "init-config", "", "Write a starter config file to path and exit")
	flag.BoolVar(&opts.Verbose, "v", false, "Debug-level logging")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Debug-level logging")
	flag.BoolVar(&opts.Quiet, "q", false, "Warnings and errors only")
	flag.BoolVar(&opts.Quiet, "quiet", false, "Warnings and errors only")
	flag.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	flag.BoolVar(&opts.Version, "version", false, "Print version and exit")
	flag.BoolVar(&opts.Help, "h", false, "Show help")
	flag.BoolVar(&opts.Help, "help", false, "Show help")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
	}

	reorderArgs()
	flag.Parse()

	return opts
}

// reorderArgs moves flags before positional arguments so flag.Parse() works
// regardless of argument order.
func reorderArgs() {
	args := os.Args[1:]
	var flags, positional []string

	valuedFlags := map[string]bool{
		"-c": true, "--config": true, "--check-apk": true, "--init-config": true,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			flags = append(flags, arg)
			if valuedFlags[arg] && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}

	os.Args = append([]string{os.Args[0]}, append(flags, positional...)...)
}

// ShouldShowSpinners returns true if spinners/progress should be shown.
func (o *Options) ShouldShowSpinners() bool {
	return !o.Quiet
}
