package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Capacity bounds for MaxRecords.
const (
	MinMaxRecords = 50
	MaxMaxRecords = 1000
)

// Environment overrides.
const (
	EnvPassphrase = "CLIPKEEP_PASSPHRASE"
	EnvRemoteDSN  = "CLIPKEEP_REMOTE_DSN"
	EnvLogLevel   = "CLIPKEEP_LOG_LEVEL"
)

// Config holds application configuration.
type Config struct {
	// MaxRecords caps live unpinned records. Clamped to [50, 1000] and to the tier ceiling.
	MaxRecords int `json:"max_records"`

	// DedupWindowMs is how long an identical fingerprint counts as a repeat capture.
	DedupWindowMs int `json:"dedup_window_ms"`

	// PollIntervalMs is the clipboard polling period.
	PollIntervalMs int `json:"poll_interval_ms"`

	// ReadRetries bounds re-reads of a transiently empty or locked clipboard.
	ReadRetries int `json:"read_retries"`

	// ReadRetryDelayMs is the pause between clipboard re-reads.
	ReadRetryDelayMs int `json:"read_retry_delay_ms"`

	// SelfWriteGraceMs is how long a paste by this process suppresses its own echo.
	SelfWriteGraceMs int `json:"self_write_grace_ms"`

	// BloomFPRate is the per-record Bloom filter false-positive target.
	BloomFPRate float64 `json:"bloom_fp_rate"`

	// SyncIntervalSec is the period between scheduled sync passes.
	SyncIntervalSec int `json:"sync_interval_sec"`

	// SyncRatePerSec paces remote pushes within a pass.
	SyncRatePerSec int `json:"sync_rate_per_sec"`

	// SoftDeleteRetentionDays is how long soft-deleted rows linger before purge.
	SoftDeleteRetentionDays int `json:"soft_delete_retention_days"`

	// Origin tags records with the capturing device. Defaults to "<GOOS>-<device id>".
	Origin string `json:"origin,omitempty"`

	// RemoteDSN selects the sync mirror: "postgres://..." or a sqlite file path.
	// Empty disables sync.
	RemoteDSN string `json:"remote_dsn,omitempty"`

	// Tier is "free" or "vip"; see internal/tier.
	Tier string `json:"tier,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is "text" or "json".
	LogFormat string `json:"log_format,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// AllowedPaths is an allowlist of directories for history export/import.
	// Paths outside <base>/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export/import.
	// Symlink checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRecords:              200,
		DedupWindowMs:           2000,
		PollIntervalMs:          500,
		ReadRetries:             3,
		ReadRetryDelayMs:        50,
		SelfWriteGraceMs:        1500,
		BloomFPRate:             0.01,
		SyncIntervalSec:         300,
		SyncRatePerSec:          10,
		SoftDeleteRetentionDays: 7,
		Tier:                    "free",
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

// Load loads configuration from baseDir/config.json and applies environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.clipkeep.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if cfg.Origin == "" {
		cfg.Origin = defaultOrigin(baseDir)
	}
	cfg.Validate()
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvRemoteDSN)); v != "" {
		cfg.RemoteDSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
}

// Passphrase returns the store passphrase from the environment, or a
// machine-bound fallback when unset. explicit is false for the fallback.
// The fallback is guessable from the host name and path, so it only keeps
// the local database unreadable to other tools; it is no secret.
func Passphrase(baseDir string) (pass string, explicit bool) {
	if v := os.Getenv(EnvPassphrase); v != "" {
		return v, true
	}
	host, _ := os.Hostname()
	return "clipkeep:" + host + ":" + runtime.GOOS + ":" + filepath.Clean(baseDir), false
}

// defaultOrigin builds "<GOOS>-<device id>", persisting the device id under baseDir.
func defaultOrigin(baseDir string) string {
	path := filepath.Join(baseDir, "device_id")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return runtime.GOOS + "-" + id
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(baseDir, 0700); err == nil {
		_ = os.WriteFile(path, []byte(id+"\n"), 0600)
	}
	return runtime.GOOS + "-" + id
}

// Validate clamps out-of-range values instead of failing.
func (c *Config) Validate() {
	c.MaxRecords = ClampMaxRecords(c.MaxRecords)
	if c.DedupWindowMs < 0 {
		c.DedupWindowMs = 0
	}
	if c.PollIntervalMs < 50 {
		c.PollIntervalMs = 50
	}
	if c.ReadRetries < 0 {
		c.ReadRetries = 0
	}
	if c.BloomFPRate <= 0 || c.BloomFPRate >= 1 {
		c.BloomFPRate = DefaultConfig().BloomFPRate
	}
	if c.SyncIntervalSec < 5 {
		c.SyncIntervalSec = 5
	}
	if c.SyncRatePerSec <= 0 {
		c.SyncRatePerSec = DefaultConfig().SyncRatePerSec
	}
	if c.Tier != "vip" {
		c.Tier = "free"
	}
}

// ClampMaxRecords bounds n to [MinMaxRecords, MaxMaxRecords].
func ClampMaxRecords(n int) int {
	if n < MinMaxRecords {
		return MinMaxRecords
	}
	if n > MaxMaxRecords {
		return MaxMaxRecords
	}
	return n
}

// DedupWindow returns DedupWindowMs as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMs) * time.Millisecond
}

// PollInterval returns PollIntervalMs as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ReadRetryDelay returns ReadRetryDelayMs as a duration.
func (c *Config) ReadRetryDelay() time.Duration {
	return time.Duration(c.ReadRetryDelayMs) * time.Millisecond
}

// SelfWriteGrace returns SelfWriteGraceMs as a duration.
func (c *Config) SelfWriteGrace() time.Duration {
	return time.Duration(c.SelfWriteGraceMs) * time.Millisecond
}

// SyncInterval returns SyncIntervalSec as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}

// SoftDeleteRetention returns SoftDeleteRetentionDays as a duration.
func (c *Config) SoftDeleteRetention() time.Duration {
	return time.Duration(c.SoftDeleteRetentionDays) * 24 * time.Hour
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.MaxRecords = pickInt(overlay.MaxRecords, base.MaxRecords)
	result.DedupWindowMs = pickInt(overlay.DedupWindowMs, base.DedupWindowMs)
	result.PollIntervalMs = pickInt(overlay.PollIntervalMs, base.PollIntervalMs)
	result.ReadRetries = pickInt(overlay.ReadRetries, base.ReadRetries)
	result.ReadRetryDelayMs = pickInt(overlay.ReadRetryDelayMs, base.ReadRetryDelayMs)
	result.SelfWriteGraceMs = pickInt(overlay.SelfWriteGraceMs, base.SelfWriteGraceMs)
	result.SyncIntervalSec = pickInt(overlay.SyncIntervalSec, base.SyncIntervalSec)
	result.SyncRatePerSec = pickInt(overlay.SyncRatePerSec, base.SyncRatePerSec)
	result.SoftDeleteRetentionDays = pickInt(overlay.SoftDeleteRetentionDays, base.SoftDeleteRetentionDays)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.BloomFPRate = overlay.BloomFPRate
	if result.BloomFPRate == 0 {
		result.BloomFPRate = base.BloomFPRate
	}

	result.Origin = pickString(overlay.Origin, base.Origin)
	result.RemoteDSN = pickString(overlay.RemoteDSN, base.RemoteDSN)
	result.Tier = pickString(overlay.Tier, base.Tier)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)

	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if s := strings.TrimSpace(overlay); s != "" {
		return s
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
