// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// Config holds the application configuration loaded from environment variables.
// CLI flags are layered on top by cmd/shotrun.
type Config struct {
	APIToken string
	APIURL   string

	Port         int
	Timeout      time.Duration
	BuildName    string
	Branch       string
	Commit       string
	Environment  string
	AllowNoToken bool
	Wait         bool
	WaitTimeout  time.Duration
	SetBaseline  bool
	Local        bool

	ScreenshotDir  string
	DBPath         string // Empty disables build history.
	MaxUploadBytes int64

	GitHubToken string
	GitHubRepo  string

	LogLevel  slog.Level
	LogFormat string
}

// HasAPIToken returns true when remote build integration is configured.
func (c *Config) HasAPIToken() bool {
	return c.APIToken != ""
}

// HasCommitStatus returns true when both a GitHub token and a repository are
// known, so finalized builds can be reported as commit statuses.
func (c *Config) HasCommitStatus() bool {
	return c.GitHubToken != "" && c.GitHubRepo != ""
}

// RunOptions builds the immutable options for one run of command.
func (c *Config) RunOptions(command string) model.RunOptions {
	return model.RunOptions{
		Command:      command,
		Port:         c.Port,
		Timeout:      c.Timeout,
		BuildName:    c.BuildName,
		Branch:       c.Branch,
		Commit:       c.Commit,
		Environment:  c.Environment,
		AllowNoToken: c.AllowNoToken,
		Wait:         c.Wait,
		WaitTimeout:  c.WaitTimeout,
		SetBaseline:  c.SetBaseline,
		Local:        c.Local,
	}
}

// Load reads configuration from environment variables and returns a validated Config.
// Every variable is optional. Branch, commit and repository fall back to the
// values CI providers export (GITHUB_*, CI_COMMIT_*) when the SHOTRUN_ ones
// are unset.
func Load() (*Config, error) {
	cfg := &Config{
		APIToken:       os.Getenv("SHOTRUN_API_TOKEN"),
		APIURL:         "https://api.shotrun.dev",
		Port:           47392,
		Timeout:        30 * time.Minute,
		BuildName:      os.Getenv("SHOTRUN_BUILD_NAME"),
		Branch:         firstEnv("SHOTRUN_BRANCH", "GITHUB_HEAD_REF", "GITHUB_REF_NAME", "CI_COMMIT_REF_NAME"),
		Commit:         firstEnv("SHOTRUN_COMMIT", "GITHUB_SHA", "CI_COMMIT_SHA"),
		Environment:    "test",
		WaitTimeout:    5 * time.Minute,
		ScreenshotDir:  ".shotrun/screenshots",
		DBPath:         ".shotrun/history.db",
		MaxUploadBytes: 50 << 20,
		GitHubToken:    os.Getenv("SHOTRUN_GITHUB_TOKEN"),
		GitHubRepo:     firstEnv("SHOTRUN_GITHUB_REPO", "GITHUB_REPOSITORY"),
		LogLevel:       slog.LevelInfo,
		LogFormat:      "text",
	}

	if v, ok := os.LookupEnv("SHOTRUN_API_URL"); ok && v != "" {
		cfg.APIURL = strings.TrimRight(v, "/")
	}
	if v, ok := os.LookupEnv("SHOTRUN_ENVIRONMENT"); ok && v != "" {
		cfg.Environment = v
	}
	if v, ok := os.LookupEnv("SHOTRUN_SCREENSHOT_DIR"); ok && v != "" {
		cfg.ScreenshotDir = v
	}
	if v, ok := os.LookupEnv("SHOTRUN_DB_PATH"); ok {
		cfg.DBPath = v
	}

	var err error
	if cfg.Port, err = envInt("SHOTRUN_PORT", cfg.Port); err != nil {
		return nil, err
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SHOTRUN_PORT %d is outside 0-65535", cfg.Port)
	}
	if cfg.Timeout, err = envDuration("SHOTRUN_TIMEOUT", cfg.Timeout); err != nil {
		return nil, err
	}
	if cfg.WaitTimeout, err = envDuration("SHOTRUN_WAIT_TIMEOUT", cfg.WaitTimeout); err != nil {
		return nil, err
	}
	maxUpload, err := envInt("SHOTRUN_MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes))
	if err != nil {
		return nil, err
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("SHOTRUN_MAX_UPLOAD_BYTES must be positive, got %d", maxUpload)
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	for key, dst := range map[string]*bool{
		"SHOTRUN_ALLOW_NO_TOKEN": &cfg.AllowNoToken,
		"SHOTRUN_WAIT":           &cfg.Wait,
		"SHOTRUN_SET_BASELINE":   &cfg.SetBaseline,
		"SHOTRUN_LOCAL":          &cfg.Local,
	} {
		if *dst, err = envBool(key, false); err != nil {
			return nil, err
		}
	}

	if v, ok := os.LookupEnv("SHOTRUN_LOG_LEVEL"); ok && v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("SHOTRUN_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}
	if v, ok := os.LookupEnv("SHOTRUN_LOG_FORMAT"); ok && v != "" {
		v = strings.ToLower(v)
		if v != "text" && v != "json" {
			return nil, fmt.Errorf("SHOTRUN_LOG_FORMAT must be text or json, got %q", v)
		}
		cfg.LogFormat = v
	}

	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, v)
	}
	return parsed, nil
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	return parsed, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return parsed, nil
}
