package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the gallery ripper
type Config struct {
	// Proxy pool and ledger settings
	Proxy ProxyConfig `yaml:"proxy" json:"proxy"`

	// Rate limiting, one sub-config per resource class
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Outbound HTTP settings
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Page cache settings
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ProxyConfig holds proxy pool and ledger configuration
type ProxyConfig struct {
	// Enabled routes fetches through the rotating proxy pool
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Sources are remote text lists of host:port candidates, one per line
	Sources []string `yaml:"sources" json:"sources"`
	// ValidationTargets are real pages probed through a candidate proxy
	ValidationTargets []string `yaml:"validation_targets" json:"validation_targets"`
	LedgerPath        string   `yaml:"ledger_path" json:"ledger_path"`
	MinSize           int      `yaml:"min_size" json:"min_size"`
	FastFillTarget    int      `yaml:"fast_fill_target" json:"fast_fill_target"`
	MaxSize           int      `yaml:"max_size" json:"max_size"`
	// ValidationWorkers caps concurrent validation probes
	ValidationWorkers int           `yaml:"validation_workers" json:"validation_workers"`
	ValidationTimeout time.Duration `yaml:"validation_timeout" json:"validation_timeout"`
	RefreshInterval   time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	GoodTTL           time.Duration `yaml:"good_ttl" json:"good_ttl"`
	BadTTL            time.Duration `yaml:"bad_ttl" json:"bad_ttl"`
}

// RateLimitConfig holds one limiter configuration per resource class.
// Light covers ordinary images, Heavy covers video/animation files
// that strict hosts throttle much harder.
type RateLimitConfig struct {
	Light LimiterConfig `yaml:"light" json:"light"`
	Heavy LimiterConfig `yaml:"heavy" json:"heavy"`
}

// LimiterConfig holds the tunables of a single adaptive limiter
type LimiterConfig struct {
	InitialDelay   time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MinDelay       time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay"`
	RampWindow     time.Duration `yaml:"ramp_window" json:"ramp_window"`
	RampThreshold  int           `yaml:"ramp_threshold" json:"ramp_threshold"`
	IncreaseFactor float64       `yaml:"increase_factor" json:"increase_factor"`
	BackoffFactor  float64       `yaml:"backoff_factor" json:"backoff_factor"`
	AllowRamp      bool          `yaml:"allow_ramp" json:"allow_ramp"`
}

// FetchConfig holds outbound HTTP configuration
type FetchConfig struct {
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
	HeadTimeout time.Duration `yaml:"head_timeout" json:"head_timeout"`
	GetTimeout  time.Duration `yaml:"get_timeout" json:"get_timeout"`
	// InsecureSkipVerify disables TLS certificate verification. Small
	// gallery hosts frequently run self-signed certificates; enabling
	// this trades security for reachability, so it is opt-in.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// DownloadConfig holds download orchestrator configuration
type DownloadConfig struct {
	OutputDir          string        `yaml:"output_dir" json:"output_dir"`
	Workers            int           `yaml:"workers" json:"workers"`
	MaxBlockAttempts   int           `yaml:"max_block_attempts" json:"max_block_attempts"`
	BlockRetryDelay    time.Duration `yaml:"block_retry_delay" json:"block_retry_delay"`
	MimicHuman         bool          `yaml:"mimic_human" json:"mimic_human"`
}

// CacheConfig holds page cache configuration
type CacheConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Enabled:           false,
			Sources:           []string{},
			ValidationTargets: []string{},
			LedgerPath:        filepath.Join(".coppermine_cache", "proxy_ledger.json"),
			MinSize:           5,
			FastFillTarget:    10,
			MaxSize:           200,
			ValidationWorkers: 25,
			ValidationTimeout: 8 * time.Second,
			RefreshInterval:   10 * time.Minute,
			GoodTTL:           6 * time.Hour,
			BadTTL:            12 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Light: LimiterConfig{
				InitialDelay:   350 * time.Millisecond,
				MinDelay:       200 * time.Millisecond,
				MaxDelay:       3 * time.Second,
				RampWindow:     60 * time.Second,
				RampThreshold:  20,
				IncreaseFactor: 0.95,
				BackoffFactor:  2.0,
				AllowRamp:      true,
			},
			Heavy: LimiterConfig{
				InitialDelay:   4 * time.Second,
				MinDelay:       2 * time.Second,
				MaxDelay:       20 * time.Second,
				RampWindow:     60 * time.Second,
				RampThreshold:  20,
				IncreaseFactor: 0.95,
				BackoffFactor:  2.0,
				AllowRamp:      false,
			},
		},
		Fetch: FetchConfig{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
				"AppleWebKit/537.36 (KHTML, like Gecko) " +
				"Chrome/138.0.0.0 Safari/537.36",
			HeadTimeout:        10 * time.Second,
			GetTimeout:         20 * time.Second,
			InsecureSkipVerify: false,
		},
		Download: DownloadConfig{
			OutputDir:        "./downloads",
			Workers:          4,
			MaxBlockAttempts: 3,
			BlockRetryDelay:  time.Second,
			MimicHuman:       true,
		},
		Cache: CacheConfig{
			Dir: ".coppermine_cache",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if sources := os.Getenv("COPPERMINER_PROXY_SOURCES"); sources != "" {
		c.Proxy.Sources = strings.Split(sources, ",")
	}
	if enabled := os.Getenv("COPPERMINER_PROXY_ENABLED"); enabled != "" {
		c.Proxy.Enabled = strings.ToLower(enabled) == "true"
	}
	if outputDir := os.Getenv("COPPERMINER_OUTPUT_DIR"); outputDir != "" {
		c.Download.OutputDir = outputDir
	}
	if workers := os.Getenv("COPPERMINER_WORKERS"); workers != "" {
		if val, err := strconv.Atoi(workers); err == nil && val > 0 {
			c.Download.Workers = val
		}
	}
	if cacheDir := os.Getenv("COPPERMINER_CACHE_DIR"); cacheDir != "" {
		c.Cache.Dir = cacheDir
	}
	if logLevel := os.Getenv("COPPERMINER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".copperminer.yaml",
		".copperminer.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "copperminer", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "copperminer", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".copperminer.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Proxy.Enabled {
		if len(c.Proxy.Sources) == 0 {
			errs = append(errs, errors.New("proxy sources are required when the proxy pool is enabled"))
		}
		if c.Proxy.FastFillTarget <= 0 {
			errs = append(errs, errors.New("proxy fast fill target must be positive"))
		}
		if c.Proxy.MinSize <= 0 {
			errs = append(errs, errors.New("proxy min size must be positive"))
		}
		if c.Proxy.MaxSize < c.Proxy.FastFillTarget {
			errs = append(errs, errors.New("proxy max size must not be below the fast fill target"))
		}
		if c.Proxy.ValidationWorkers <= 0 {
			errs = append(errs, errors.New("proxy validation workers must be positive"))
		}
	}

	for name, lc := range map[string]LimiterConfig{"light": c.RateLimit.Light, "heavy": c.RateLimit.Heavy} {
		if lc.MinDelay <= 0 || lc.MaxDelay < lc.MinDelay {
			errs = append(errs, fmt.Errorf("%s rate limit delays must satisfy 0 < min <= max", name))
		}
		if lc.InitialDelay < lc.MinDelay || lc.InitialDelay > lc.MaxDelay {
			errs = append(errs, fmt.Errorf("%s rate limit initial delay must be within [min, max]", name))
		}
		if lc.BackoffFactor <= 1.0 {
			errs = append(errs, fmt.Errorf("%s rate limit backoff factor must be above 1", name))
		}
		if lc.IncreaseFactor <= 0 || lc.IncreaseFactor >= 1.0 {
			errs = append(errs, fmt.Errorf("%s rate limit increase factor must be in (0, 1)", name))
		}
	}

	if c.Download.Workers <= 0 {
		errs = append(errs, errors.New("download workers must be positive"))
	}
	if c.Download.MaxBlockAttempts <= 0 {
		errs = append(errs, errors.New("max block attempts must be positive"))
	}
	if c.Download.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Download.OutputDir = outputDir
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Download.Workers = workers
	}
	if sources, ok := flags["proxy-sources"].([]string); ok && len(sources) > 0 {
		c.Proxy.Sources = sources
		c.Proxy.Enabled = true
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if cacheDir, ok := flags["cache-dir"].(string); ok && cacheDir != "" {
		c.Cache.Dir = cacheDir
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".copperminer.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
