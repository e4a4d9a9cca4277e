package copperminer

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	cacheDir   string
	outputDir  string
	proxyList  []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "copperminer",
	Short: "A gallery ripper for Coppermine and rule-driven photo sites",
	Long: `Copperminer downloads entire photo galleries while staying polite.

Features:
  - Recursive category and album discovery with incremental re-scans
  - Self-replenishing proxy pool with a persisted health ledger
  - Adaptive per-request-class rate limiting that reacts to 429s
  - Candidate fallback so a missing full-size image still downloads
  - Concurrent downloads with optional human-like pacing

Point it at a Coppermine gallery root or any supported rule-driven
site and it figures out the rest.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.copperminer.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "directory for persisted site caches")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output directory for downloads")
	rootCmd.PersistentFlags().StringSliceVar(&proxyList, "proxies", nil, "proxy source URLs (overrides config)")

	rootCmd.SetVersionTemplate(`Copperminer {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags collects the persistent flags into the config overlay map
func globalFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if cacheDir != "" {
		flags["cache-dir"] = cacheDir
	}
	if len(proxyList) > 0 {
		flags["proxy-sources"] = proxyList
	}
	return flags
}
