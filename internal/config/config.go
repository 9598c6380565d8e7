// Package config loads the immutable run configuration from the environment
// (flags overlay a few operator-facing fields in main). All feature-flag
// resolution, including the watchlist three-state, happens once here; stages
// never re-evaluate flags mid-run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig marks fatal configuration errors. The process maps it to the
// reserved exit code for misconfiguration (2) so operators can tell
// "misconfigured" from "failed".
var ErrConfig = errors.New("configuration error")

type Config struct {
	Queues    QueueConfig
	Dedupe    DedupeConfig
	Harden    HardenConfig
	Watchlist WatchlistConfig
	Detector  DetectorConfig
	Fusion    FusionConfig
	Ref       RefConfig
	Alerts    AlertConfig
	Stream    StreamConfig
	Run       RunConfig
	Server    ServerConfig
	Log       LogConfig
	Tracing   TracingConfig
}

type QueueConfig struct {
	RawDir    string // raw event queue files (*.jsonl)
	FactDir   string // normalized fact queue files (*.norm.jsonl)
	SignalDir string // signal queue files (*.signals.jsonl)
}

type DedupeConfig struct {
	Disable   bool
	StatePath string
	TTL       time.Duration
}

type HardenConfig struct {
	Disable      bool
	SECZone      string
	PRZone       string
	FallbackZone string
}

// WatchlistConfig is resolved by Validate into exactly one of: disabled
// (Path == ""), or enabled with an existing file (Path != ""). The third
// state, enabled-but-missing, is a Validate error.
type WatchlistConfig struct {
	Path         string // requested path; "" means not requested
	ForceDisable bool   // always wins over any enablement
	DefaultPath  string // used when it exists and nothing else was requested
}

type DetectorConfig struct {
	Threshold int
}

type FusionConfig struct {
	Disable bool
	OutDir  string        // fused conviction queue files (*.fused.jsonl)
	Window  time.Duration // signals for one issuer within this window fuse together
}

type RefConfig struct {
	UniversePath string // issuer reference TSV; missing file = no enrichment
}

type AlertConfig struct {
	CSVPath         string // "" disables the CSV sink
	SlackWebhookURL string
	SlackMention    string
	SlackRatePerSec float64
	WebhookURL      string
	Live            bool // sinks are dry-run unless armed
	Cooldown        time.Duration
	RetryAttempts   int
}

type StreamConfig struct {
	Enabled   bool
	RedisURL  string
	Namespace string
}

type RunConfig struct {
	Interval time.Duration // 0 = single batch pass, then exit
}

type ServerConfig struct {
	HealthPort int // metrics/health endpoint, interval mode only
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	Endpoint string
	Insecure bool
}

func Load() *Config {
	return &Config{
		Queues: QueueConfig{
			RawDir:    getEnv("RAW_QUEUE_DIR", "queue/raw_events"),
			FactDir:   getEnv("NORM_QUEUE_DIR", "queue/normalized_events"),
			SignalDir: getEnv("SIG_QUEUE_DIR", "queue/signals"),
		},
		Dedupe: DedupeConfig{
			Disable:   getEnvBool("DEDUPE_DISABLE", false),
			StatePath: getEnv("DEDUPE_STATE_PATH", ".state/seen_events.jsonl"),
			TTL:       time.Duration(getEnvInt("DEDUPE_TTL_DAYS", 7)) * 24 * time.Hour,
		},
		Harden: HardenConfig{
			Disable:      getEnvBool("TIMESTAMP_HARDEN_DISABLE", false),
			SECZone:      getEnv("SEC_DEFAULT_TZ", "America/New_York"),
			PRZone:       getEnv("PR_DEFAULT_TZ", "UTC"),
			FallbackZone: getEnv("HARDEN_TZ_FALLBACK", "UTC"),
		},
		Watchlist: WatchlistConfig{
			Path:         getEnv("WATCHLIST_FILE", ""),
			ForceDisable: getEnvBool("WATCHLIST_DISABLE", false),
			DefaultPath:  getEnv("WATCHLIST_DEFAULT_PATH", "ref/watchlist.txt"),
		},
		Detector: DetectorConfig{
			Threshold: getEnvInt("SIGNAL_THRESHOLD", 3),
		},
		Fusion: FusionConfig{
			Disable: getEnvBool("FUSION_DISABLE", false),
			OutDir:  getEnv("FUSED_QUEUE_DIR", "queue/fused_signals"),
			Window:  time.Duration(getEnvInt("FUSION_WINDOW_HOURS", 48)) * time.Hour,
		},
		Ref: RefConfig{
			UniversePath: getEnv("REF_UNIVERSE_PATH", "ref/universe.tsv"),
		},
		Alerts: AlertConfig{
			CSVPath:         getEnv("ALERTS_CSV_PATH", ""),
			SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			SlackMention:    getEnv("SLACK_MENTION", ""),
			SlackRatePerSec: getEnvFloat("SLACK_RATE_PER_SEC", 0),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Live:            getEnvBool("SINKS_LIVE", false),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_MIN", 30)) * time.Minute,
			RetryAttempts:   getEnvInt("ALERT_RETRY_ATTEMPTS", 3),
		},
		Stream: StreamConfig{
			Enabled:   getEnvBool("STREAM_MIRROR_ENABLED", false),
			RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Namespace: getEnv("STREAM_NAMESPACE", "supplysignals"),
		},
		Run: RunConfig{
			Interval: time.Duration(getEnvInt("RUN_INTERVAL_MS", 0)) * time.Millisecond,
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Endpoint: getEnv("TRACING_ENDPOINT", ""),
			Insecure: getEnvBool("TRACING_INSECURE", true),
		},
	}
}

// Validate resolves feature flags into their final states and rejects
// configurations the pipeline must not run under. Called after flag
// overlays, before any queue is touched.
func (c *Config) Validate() error {
	if c.Detector.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be >= 1, got %d", ErrConfig, c.Detector.Threshold)
	}
	if c.Dedupe.TTL <= 0 {
		return fmt.Errorf("%w: dedupe TTL must be positive", ErrConfig)
	}
	if !c.Fusion.Disable && c.Fusion.Window <= 0 {
		return fmt.Errorf("%w: fusion window must be positive", ErrConfig)
	}

	// Watchlist three-state resolution. Force-disable always wins, letting
	// operators neutralize the feature without touching invocations.
	if c.Watchlist.ForceDisable {
		c.Watchlist.Path = ""
		return nil
	}
	if c.Watchlist.Path != "" {
		if _, err := os.Stat(c.Watchlist.Path); err != nil {
			return fmt.Errorf("%w: watchlist enabled but file missing: %s", ErrConfig, c.Watchlist.Path)
		}
		return nil
	}
	// Nothing requested: the default file enables the feature only when it
	// actually exists.
	if c.Watchlist.DefaultPath != "" {
		if _, err := os.Stat(c.Watchlist.DefaultPath); err == nil {
			c.Watchlist.Path = c.Watchlist.DefaultPath
		}
	}
	return nil
}

// WatchlistEnabled reports the resolved state after Validate.
func (c *Config) WatchlistEnabled() bool {
	return c.Watchlist.Path != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
