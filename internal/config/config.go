package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ahrdadan/seekr/internal/resolver"
	"gopkg.in/yaml.v3"
)

const (
	// Version is the current version of Seekr
	Version = "1"
	// AppName is the application name
	AppName = "Seekr Server"
)

// ErrHelp is returned by Parse when -help was requested.
var ErrHelp = flag.ErrHelp

// Config holds all configuration options for the Seekr server. Values are
// layered: defaults, then the optional YAML file, then command line flags.
type Config struct {
	// Server
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"` // Full base URL for API responses (e.g., http://localhost:8000)

	// Browser
	CDPURL         string `yaml:"cdp_url"` // remote CDP endpoint, e.g. Lightpanda at ws://127.0.0.1:9222
	ChromeBin      string `yaml:"chrome_bin"`
	ChromeRevision int    `yaml:"chrome_revision"`
	Headless       bool   `yaml:"headless"`

	// Queue (NATS JetStream)
	WithNats bool   `yaml:"with_nats"`
	NatsURL  string `yaml:"nats_url"`

	// Limits
	RateLimitRequests int           `yaml:"rate_limit"`        // requests per window
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"` // time window for rate limiting
	ResultTTL         time.Duration `yaml:"result_ttl"`        // TTL for job results
	MaxJobTimeout     time.Duration `yaml:"max_job_timeout"`   // Maximum allowed job timeout
	MaxRetries        int           `yaml:"max_retries"`       // Maximum retries per job

	// Element resolution defaults
	Resolve resolver.Options `yaml:"resolve"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // console or json

	ConfigFile  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              8000,
		Headless:          true,
		WithNats:          false,
		NatsURL:           "nats://127.0.0.1:4222",
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		ResultTTL:         7 * 24 * time.Hour, // 7 days
		MaxJobTimeout:     5 * time.Minute,
		MaxRetries:        5,
		Resolve:           resolver.DefaultOptions(),
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// Load reads a YAML config file over cfg. An empty path is a no-op.
func Load(path string, cfg *Config) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Parse builds a Config from args (without the program name).
func Parse(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	cfg.ConfigFile = configPath(args)
	if err := Load(cfg.ConfigFile, cfg); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("seekr", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { printUsage(fs) }

	// Server flags
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Path to a YAML config file")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind the server")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port number for the server")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Base URL for API responses (e.g., http://localhost:8000)")

	// Browser flags
	fs.StringVar(&cfg.CDPURL, "cdp-url", cfg.CDPURL, "Connect to a running CDP endpoint instead of launching Chrome")
	fs.StringVar(&cfg.ChromeBin, "chrome-bin", cfg.ChromeBin, "Chrome binary to launch (found or downloaded when empty)")
	fs.IntVar(&cfg.ChromeRevision, "chrome-revision", cfg.ChromeRevision, "Chromium revision to download (0 prefers a system Chrome)")
	fs.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run the launched browser headless")

	// NATS flags
	fs.BoolVar(&cfg.WithNats, "with-nats", cfg.WithNats, "Enable the NATS JetStream job queue")
	fs.StringVar(&cfg.NatsURL, "nats-url", cfg.NatsURL, "NATS server URL")

	// Limit flags
	fs.IntVar(&cfg.RateLimitRequests, "rate-limit", cfg.RateLimitRequests, "Job submissions allowed per window and client")
	fs.DurationVar(&cfg.RateLimitWindow, "rate-limit-window", cfg.RateLimitWindow, "Rate limit window")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Maximum retries per job (1-10)")
	fs.DurationVar(&cfg.MaxJobTimeout, "max-job-timeout", cfg.MaxJobTimeout, "Upper bound for per-job timeouts")

	// Resolver flags
	fs.DurationVar(&cfg.Resolve.Timeout, "resolve-timeout", cfg.Resolve.Timeout, "Overall deadline for one element resolution (0 disables)")
	fs.IntVar(&cfg.Resolve.MaxRetries, "resolve-max-retries", cfg.Resolve.MaxRetries, "Attempts per strategy")
	fs.DurationVar(&cfg.Resolve.InitialDelay, "resolve-initial-delay", cfg.Resolve.InitialDelay, "Delay after the first failed attempt")
	fs.DurationVar(&cfg.Resolve.MaxDelay, "resolve-max-delay", cfg.Resolve.MaxDelay, "Upper bound for the retry delay")
	fs.Float64Var(&cfg.Resolve.BackoffFactor, "resolve-backoff", cfg.Resolve.BackoffFactor, "Retry delay multiplier")
	fs.BoolVar(&cfg.Resolve.RequireVisible, "resolve-visible", cfg.Resolve.RequireVisible, "Require resolved elements to be visible")

	// Logging flags
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json")

	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFlags parses os.Args and exits on -help, -version or bad input.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:], os.Stderr)
	if errors.Is(err, ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(2)
	}
	if cfg.ShowVersion {
		PrintVersion()
		os.Exit(0)
	}
	return cfg
}

// normalize fills derived values and clamps out-of-range ones.
func (c *Config) normalize() {
	if c.BaseURL == "" {
		host := c.Host
		if host == "0.0.0.0" || host == "" {
			host = "localhost"
		}
		c.BaseURL = fmt.Sprintf("http://%s:%d", host, c.Port)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.MaxRetries > 10 {
		c.MaxRetries = 10
	}
	if c.RateLimitRequests < 1 {
		c.RateLimitRequests = 100
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.Resolve.MaxRetries < 1 {
		c.Resolve.MaxRetries = 1
	}
	if c.Resolve.BackoffFactor <= 0 {
		c.Resolve.BackoffFactor = resolver.DefaultBackoffFactor
	}
}

// Validate reports settings that cannot be clamped into shape.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	if c.Resolve.Timeout < 0 || c.Resolve.InitialDelay < 0 || c.Resolve.MaxDelay < 0 {
		return errors.New("resolver durations must not be negative")
	}
	if c.Resolve.MaxDelay < c.Resolve.InitialDelay {
		return fmt.Errorf("resolve max delay %s is below initial delay %s", c.Resolve.MaxDelay, c.Resolve.InitialDelay)
	}
	return nil
}

// configPath finds -config/--config ahead of the real flag pass so the file
// can supply defaults that flags then override.
func configPath(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// PrintVersion prints version information
func PrintVersion() {
	fmt.Printf("%s v%s\n", AppName, Version)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), `%s v%s (browser automation + element resolver)

Usage:
  ./server [flags]

Flags:
`, AppName, Version)
	fs.PrintDefaults()
}
