// Package config loads and validates worker configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no --config flag is given.
const EnvConfigPath = "WEBARC_WORKER_CONFIG"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig               `mapstructure:"server"`
	Auth       AuthConfig                 `mapstructure:"auth"`
	Extractors map[string]ExtractorConfig `mapstructure:"extractors"`
	Storage    StorageConfig              `mapstructure:"storage"`
	Capture    CaptureConfig              `mapstructure:"capture"`
	Logging    LoggingConfig              `mapstructure:"logging"`
	Mirror     MirrorConfig               `mapstructure:"mirror"`
	PubSub     PubSubConfig               `mapstructure:"pubsub"`
	DB         DBConfig                   `mapstructure:"db"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig holds the bearer token allow-list.
type AuthConfig struct {
	Tokens []string `mapstructure:"tokens"`
}

// ExtractorConfig describes one extractor executable. The capture URL is
// appended after Args when the extractor is invoked.
type ExtractorConfig struct {
	Path string   `mapstructure:"path"`
	Args []string `mapstructure:"args"`
}

// StorageConfig sets where blobs land on disk.
type StorageConfig struct {
	BlobDir        string `mapstructure:"blob_dir"`
	ChunkSizeBytes int    `mapstructure:"chunk_size_bytes"`
}

// CaptureConfig bounds capture execution. Zero values disable each limit.
type CaptureConfig struct {
	MaxConcurrent  int     `mapstructure:"max_concurrent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
	PerHostBurst   int     `mapstructure:"per_host_burst"`
	StderrLogBytes int     `mapstructure:"stderr_log_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MirrorConfig enables copying completed blobs into a GCS bucket.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for capture-finished notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls the optional capture audit log.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBARC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if path != "" {
		names, err := extractorNames(path)
		if err != nil {
			return Config{}, err
		}
		if cfg.Extractors, err = restoreNames(cfg.Extractors, names); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// extractorNames returns the extractor names exactly as written in the config
// file. Viper folds every key to lower case, but extractor names are matched
// case-sensitively. Formats other than YAML, JSON and TOML yield nil.
func extractorNames(path string) ([]string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext != "yaml" && ext != "yml" && ext != "json" && ext != "toml" {
		return nil, nil
	}
	// #nosec G304 -- operator-supplied config path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var doc map[string]any
	if ext == "toml" {
		err = toml.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	var names []string
	for key, value := range doc {
		if !strings.EqualFold(key, "extractors") {
			continue
		}
		entries, ok := value.(map[string]any)
		if !ok {
			continue
		}
		for name := range entries {
			names = append(names, name)
		}
	}
	return names, nil
}

// restoreNames re-keys extractors by their original spelling. Names that
// differ only by case would collapse into one viper key, so they are rejected.
func restoreNames(extractors map[string]ExtractorConfig, names []string) (map[string]ExtractorConfig, error) {
	original := make(map[string]string, len(names))
	for _, name := range names {
		folded := strings.ToLower(name)
		if prev, dup := original[folded]; dup && prev != name {
			return nil, fmt.Errorf("extractor names %q and %q differ only by case", prev, name)
		}
		original[folded] = name
	}
	restored := make(map[string]ExtractorConfig, len(extractors))
	for key, ex := range extractors {
		if name, ok := original[key]; ok {
			key = name
		}
		restored[key] = ex
	}
	return restored, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("auth.tokens", []string{})
	v.SetDefault("storage.blob_dir", "blobs")
	v.SetDefault("storage.chunk_size_bytes", 1<<20)
	v.SetDefault("capture.max_concurrent", 0)
	v.SetDefault("capture.timeout_seconds", 0)
	v.SetDefault("capture.per_host_rps", 0)
	v.SetDefault("capture.per_host_burst", 1)
	v.SetDefault("capture.stderr_log_bytes", 8<<10)
	v.SetDefault("logging.development", true)
	v.SetDefault("mirror.prefix", "captures")
	v.SetDefault("db.table", "capture_audit")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Storage.BlobDir) == "" {
		return fmt.Errorf("storage.blob_dir is required")
	}
	if c.Storage.ChunkSizeBytes <= 0 {
		return fmt.Errorf("storage.chunk_size_bytes must be > 0")
	}
	for i, token := range c.Auth.Tokens {
		if token == "" {
			return fmt.Errorf("auth.tokens[%d] must not be empty", i)
		}
	}
	for name, ex := range c.Extractors {
		if strings.TrimSpace(ex.Path) == "" {
			return fmt.Errorf("extractors.%s.path is required", name)
		}
	}
	if c.Capture.MaxConcurrent < 0 {
		return fmt.Errorf("capture.max_concurrent must be >= 0")
	}
	if c.Capture.TimeoutSeconds < 0 {
		return fmt.Errorf("capture.timeout_seconds must be >= 0")
	}
	if c.Capture.PerHostRPS < 0 {
		return fmt.Errorf("capture.per_host_rps must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// CaptureTimeout returns the per-job extraction deadline, or zero when unbounded.
func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long shutdown waits for the server and in-flight captures.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
