package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Counter sources a confirmation can watch.
const (
	SourceRuntime    = "runtime"    // runtime/metrics of this process
	SourceMemStats   = "memstats"   // runtime.MemStats.NumGC of this process
	SourcePrometheus = "prometheus" // remote process via Prometheus + pprof
)

// Config holds every configurable value of the confirmer and its driver.
type Config struct {
	// Confirmation
	Source       string        // runtime|memstats|prometheus
	MinCycles    int           // cycles to observe before waiting for quiet
	Deadline     time.Duration // polling budget after the collection requests
	PollInterval time.Duration
	BlindWait    time.Duration // wait used when no counter can be read

	// Remote source
	PrometheusURL   string // e.g. http://prometheus:9090
	PrometheusQuery string // PromQL selecting the target's gc cycle counter
	PprofURL        string // target debug server, e.g. http://bench:6060

	// Driver
	ChurnWorkers     int // goroutines allocating garbage before a run
	ChurnAllocations int // allocations per worker
	ChurnSize        int // bytes per allocation
	ServeInterval    time.Duration
	MetricsAddr      string // listen address for /metrics in serve mode

	// Persistence
	DBPath string // path to the SQLite file, e.g. "./data/gcconfirm.db"

	LogLevel string // debug|info|warn|error
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"source":            "Source",
	"min-cycles":        "MinCycles",
	"deadline":          "Deadline",
	"poll-interval":     "PollInterval",
	"blind-wait":        "BlindWait",
	"prometheus-url":    "PrometheusURL",
	"prometheus-query":  "PrometheusQuery",
	"pprof-url":         "PprofURL",
	"churn-workers":     "ChurnWorkers",
	"churn-allocations": "ChurnAllocations",
	"churn-size":        "ChurnSize",
	"serve-interval":    "ServeInterval",
	"metrics-addr":      "MetricsAddr",
	"db":                "DBPath",
	"log-level":         "LogLevel",
}

// Load reads configuration from (in decreasing priority):
//  1. flags in fs that were set on the command line (fs may be nil)
//  2. environment variables prefixed GCCONFIRM_ (e.g. GCCONFIRM_DEADLINE=5s)
//  3. ./configs/config.yaml if it exists
//  4. defaults
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("Source", SourceRuntime)
	v.SetDefault("MinCycles", 2)
	v.SetDefault("Deadline", 20*time.Second)
	v.SetDefault("PollInterval", 200*time.Millisecond)
	v.SetDefault("BlindWait", 20*time.Second)
	v.SetDefault("PrometheusURL", "http://localhost:9090")
	v.SetDefault("PrometheusQuery", "")
	v.SetDefault("PprofURL", "")
	v.SetDefault("ChurnWorkers", 4)
	v.SetDefault("ChurnAllocations", 10000)
	v.SetDefault("ChurnSize", 1024)
	v.SetDefault("ServeInterval", time.Minute)
	v.SetDefault("MetricsAddr", ":9464")
	v.SetDefault("DBPath", "./data/gcconfirm.db")
	v.SetDefault("LogLevel", "info")

	v.SetEnvPrefix("GCCONFIRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		// The file is optional, a broken one is not.
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceRuntime, SourceMemStats:
	case SourcePrometheus:
		if c.PrometheusURL == "" {
			return fmt.Errorf("PrometheusURL must not be empty for source %q", c.Source)
		}
		if c.PprofURL == "" {
			return fmt.Errorf("PprofURL must not be empty for source %q", c.Source)
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if c.MinCycles < 1 {
		return fmt.Errorf("MinCycles must be at least 1, got %d", c.MinCycles)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PollInterval must be positive, got %s", c.PollInterval)
	}
	if c.Deadline < c.PollInterval {
		return fmt.Errorf("Deadline %s is shorter than PollInterval %s", c.Deadline, c.PollInterval)
	}
	if c.BlindWait <= 0 {
		return fmt.Errorf("BlindWait must be positive, got %s", c.BlindWait)
	}
	if c.ChurnWorkers < 0 || c.ChurnAllocations < 0 || c.ChurnSize < 0 {
		return fmt.Errorf("churn settings must not be negative")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DBPath must not be empty")
	}
	return nil
}
