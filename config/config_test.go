package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, SourceRuntime, cfg.Source)
	assert.Equal(t, 2, cfg.MinCycles)
	assert.Equal(t, 20*time.Second, cfg.Deadline)
	assert.Equal(t, 200*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 20*time.Second, cfg.BlindWait)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./data/gcconfirm.db", cfg.DBPath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GCCONFIRM_DEADLINE", "5s")
	t.Setenv("GCCONFIRM_POLLINTERVAL", "50ms")
	t.Setenv("GCCONFIRM_MINCYCLES", "3")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Deadline)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MinCycles)
}

func TestLoad_FlagsBeatEnv(t *testing.T) {
	t.Setenv("GCCONFIRM_DEADLINE", "5s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Duration("deadline", 20*time.Second, "")
	fs.String("log-level", "info", "")
	require.NoError(t, fs.Parse([]string{"--deadline=9s"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, cfg.Deadline)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "configs"), 0o755))
	yaml := "source: memstats\nblindwait: 3s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte(yaml), 0o644))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, SourceMemStats, cfg.Source)
	assert.Equal(t, 3*time.Second, cfg.BlindWait)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("GCCONFIRM_SOURCE", "jvm")
	_, err := Load(nil)
	assert.ErrorContains(t, err, `unknown source "jvm"`)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Source:       SourceRuntime,
			MinCycles:    2,
			Deadline:     time.Second,
			PollInterval: 100 * time.Millisecond,
			BlindWait:    time.Second,
			DBPath:       "x.db",
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero cycles", func(c *Config) { c.MinCycles = 0 }, "MinCycles"},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, "PollInterval must be positive"},
		{"deadline below poll", func(c *Config) { c.Deadline = time.Millisecond }, "shorter than PollInterval"},
		{"no blind wait", func(c *Config) { c.BlindWait = 0 }, "BlindWait"},
		{"negative churn", func(c *Config) { c.ChurnWorkers = -1 }, "churn"},
		{"no db", func(c *Config) { c.DBPath = "" }, "DBPath"},
		{"prometheus without pprof", func(c *Config) {
			c.Source = SourcePrometheus
			c.PrometheusURL = "http://p:9090"
		}, "PprofURL"},
		{"prometheus without url", func(c *Config) {
			c.Source = SourcePrometheus
			c.PprofURL = "http://t:6060"
		}, "PrometheusURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
