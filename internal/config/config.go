// Package config resolves WatchDog settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when WATCHDOG_CONFIG is unset and the file exists.
const DefaultPath = "config/settings.yaml"

// Config holds all WatchDog configuration.
type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorDB    VectorDBConfig    `yaml:"vector_db"`
	Cache       CacheConfig       `yaml:"cache"`
	Application ApplicationConfig `yaml:"application"`
	Alert       AlertConfig       `yaml:"alert"`
	Slack       SlackConfig       `yaml:"slack"`
	Connector   ConnectorConfig   `yaml:"connector"`
	Output      OutputConfig      `yaml:"output"`
	Server      ServerConfig      `yaml:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // anthropic, openai
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Endpoint    string        `yaml:"endpoint,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
	APIKey      string        `yaml:"-"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // onnx, openai
	Model    string `yaml:"model,omitempty"`
	ModelDir string `yaml:"model_dir"`
	Endpoint string `yaml:"endpoint,omitempty"`
	APIKey   string `yaml:"-"`
}

// VectorDBConfig selects the vector collection backend.
type VectorDBConfig struct {
	Provider         string `yaml:"provider"` // sqlite, memory, postgres
	PersistDirectory string `yaml:"persist_directory"`
	CollectionName   string `yaml:"collection_name"`
	DSN              string `yaml:"dsn,omitempty"`
}

// CacheConfig enables the Redis embedding cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr,omitempty"`
	Password  string        `yaml:"-"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
}

// ApplicationConfig holds ingestion and analysis settings.
type ApplicationConfig struct {
	LogLevel           string        `yaml:"log_level"`
	MaxLogEntries      int           `yaml:"max_log_entries"`
	AnalysisChunkSize  int           `yaml:"analysis_chunk_size"`
	InclusionThreshold float64       `yaml:"inclusion_threshold"`
	Concurrency        int           `yaml:"concurrency"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	DedupWindow        time.Duration `yaml:"dedup_window"`
}

// AlertConfig holds the alert gate thresholds.
type AlertConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MinSeverity   string  `yaml:"min_severity"`
}

// SlackConfig enables Slack alert delivery when WebhookURL is set.
type SlackConfig struct {
	WebhookURL  string `yaml:"-"`
	Channel     string `yaml:"channel"`
	Username    string `yaml:"username"`
	IconEmoji   string `yaml:"icon_emoji"`
	MinSeverity string `yaml:"min_severity"`
}

// ConnectorConfig holds log source settings.
type ConnectorConfig struct {
	Provider string            `yaml:"provider"` // file, stdin
	Extra    map[string]string `yaml:"extra,omitempty"`
}

// OutputConfig holds output destination settings.
type OutputConfig struct {
	Targets    []string `yaml:"targets"` // stdout, file, webhook
	Verbosity  string   `yaml:"verbosity"`
	Pretty     bool     `yaml:"pretty"`
	FilePath   string   `yaml:"file_path,omitempty"`
	MaxSize    int64    `yaml:"max_size,omitempty"`
	WebhookURL string   `yaml:"webhook_url,omitempty"`
	Async      bool     `yaml:"async"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig holds OTLP tracing settings.
type TelemetryConfig struct {
	Endpoint     string  `yaml:"endpoint,omitempty"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-3-haiku-20240307",
			Temperature: 0.1,
			MaxTokens:   1000,
			Timeout:     30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: "onnx",
			ModelDir: "models",
		},
		VectorDB: VectorDBConfig{
			Provider:         "sqlite",
			PersistDirectory: "./data/vector_store",
			CollectionName:   "watchdog_logs",
		},
		Cache: CacheConfig{TTL: 24 * time.Hour},
		Application: ApplicationConfig{
			LogLevel:           "INFO",
			MaxLogEntries:      1000,
			AnalysisChunkSize:  5,
			InclusionThreshold: 0.3,
			Concurrency:        4,
			CallTimeout:        30 * time.Second,
			DedupWindow:        10 * time.Minute,
		},
		Alert: AlertConfig{MinConfidence: 0.5, MinSeverity: "medium"},
		Slack: SlackConfig{
			Channel:     "#security-alerts",
			Username:    "WatchDogAI",
			IconEmoji:   ":shield:",
			MinSeverity: "medium",
		},
		Connector: ConnectorConfig{Provider: "file"},
		Output: OutputConfig{
			Targets:   []string{"stdout"},
			Verbosity: "standard",
		},
		Server:    ServerConfig{Addr: ":8080"},
		Telemetry: TelemetryConfig{ServiceName: "watchdog", SamplingRate: 1},
	}
}

// Load reads configuration: defaults, then the YAML file named by
// WATCHDOG_CONFIG (or DefaultPath when present), then environment variables.
func Load() (Config, error) {
	cfg := Default()

	path := os.Getenv("WATCHDOG_CONFIG")
	if path == "" && fileExists(DefaultPath) {
		path = DefaultPath
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Path = path
	return nil
}

func (c *Config) applyEnv() {
	c.LLM.Provider = getenv("WATCHDOG_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getenv("WATCHDOG_LLM_MODEL", c.LLM.Model)
	c.LLM.Endpoint = getenv("WATCHDOG_LLM_ENDPOINT", c.LLM.Endpoint)
	c.LLM.Temperature = getenvFloat("WATCHDOG_LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxTokens = getenvInt("WATCHDOG_LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.APIKey = c.providerKey(c.LLM.Provider)

	c.Embedding.Provider = getenv("WATCHDOG_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getenv("WATCHDOG_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.ModelDir = getenv("WATCHDOG_MODEL_DIR", c.Embedding.ModelDir)
	c.Embedding.Endpoint = getenv("WATCHDOG_EMBEDDING_ENDPOINT", c.Embedding.Endpoint)
	c.Embedding.APIKey = c.providerKey(c.Embedding.Provider)

	c.VectorDB.Provider = getenv("WATCHDOG_VECTOR_DB", c.VectorDB.Provider)
	c.VectorDB.PersistDirectory = getenv("VECTOR_DB_PATH", c.VectorDB.PersistDirectory)
	c.VectorDB.CollectionName = getenv("WATCHDOG_COLLECTION", c.VectorDB.CollectionName)
	c.VectorDB.DSN = getenv("WATCHDOG_POSTGRES_DSN", c.VectorDB.DSN)

	c.Cache.RedisAddr = getenv("WATCHDOG_REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.Password = getenv("WATCHDOG_REDIS_PASSWORD", c.Cache.Password)
	c.Cache.DB = getenvInt("WATCHDOG_REDIS_DB", c.Cache.DB)
	c.Cache.TTL = getenvDuration("WATCHDOG_CACHE_TTL", c.Cache.TTL)

	c.Application.LogLevel = getenv("LOG_LEVEL", c.Application.LogLevel)
	c.Application.MaxLogEntries = getenvInt("WATCHDOG_MAX_LOG_ENTRIES", c.Application.MaxLogEntries)
	c.Application.AnalysisChunkSize = getenvInt("WATCHDOG_ANALYSIS_CHUNK_SIZE", c.Application.AnalysisChunkSize)
	c.Application.InclusionThreshold = getenvFloat("WATCHDOG_INCLUSION_THRESHOLD", c.Application.InclusionThreshold)
	c.Application.Concurrency = getenvInt("WATCHDOG_CONCURRENCY", c.Application.Concurrency)
	c.Application.CallTimeout = getenvDuration("WATCHDOG_CALL_TIMEOUT", c.Application.CallTimeout)
	c.Application.DedupWindow = getenvDuration("WATCHDOG_DEDUP_WINDOW", c.Application.DedupWindow)

	c.Alert.MinConfidence = getenvFloat("WATCHDOG_ALERT_MIN_CONFIDENCE", c.Alert.MinConfidence)
	c.Alert.MinSeverity = getenv("WATCHDOG_ALERT_MIN_SEVERITY", c.Alert.MinSeverity)

	c.Slack.WebhookURL = getenv("SLACK_WEBHOOK_URL", c.Slack.WebhookURL)
	c.Slack.Channel = getenv("SLACK_CHANNEL", c.Slack.Channel)
	c.Slack.Username = getenv("SLACK_USERNAME", c.Slack.Username)
	c.Slack.MinSeverity = getenv("SLACK_MIN_SEVERITY", c.Slack.MinSeverity)

	c.Connector.Provider = getenv("WATCHDOG_CONNECTOR", c.Connector.Provider)
	c.Connector.Extra = mergeExtra(c.Connector.Extra, loadConnectorExtra())

	if v := os.Getenv("WATCHDOG_OUTPUT"); v != "" {
		c.Output.Targets = splitList(v)
	}
	c.Output.Verbosity = getenv("WATCHDOG_VERBOSITY", c.Output.Verbosity)
	c.Output.Pretty = getenvBool("WATCHDOG_OUTPUT_PRETTY", c.Output.Pretty)
	c.Output.FilePath = getenv("WATCHDOG_OUTPUT_FILE", c.Output.FilePath)
	c.Output.WebhookURL = getenv("WATCHDOG_WEBHOOK_URL", c.Output.WebhookURL)
	c.Output.Async = getenvBool("WATCHDOG_OUTPUT_ASYNC", c.Output.Async)

	c.Server.Addr = getenv("WATCHDOG_ADDR", c.Server.Addr)

	c.Telemetry.Endpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
	c.Telemetry.ServiceName = getenv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
}

// providerKey returns the API key for a hosted provider.
func (c *Config) providerKey(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

var (
	llmProviders       = []string{"anthropic", "openai"}
	embeddingProviders = []string{"onnx", "openai"}
	vectorDBProviders  = []string{"sqlite", "memory", "postgres"}
	outputTargets      = []string{"stdout", "file", "webhook"}
	verbosities        = []string{"minimal", "standard", "full"}
	severities         = []string{"info", "low", "medium", "high", "critical"}
)

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(slices.Contains(llmProviders, c.LLM.Provider), "llm.provider %q must be one of %v", c.LLM.Provider, llmProviders)
	check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "llm.temperature %v must be in [0, 2]", c.LLM.Temperature)
	check(c.LLM.MaxTokens > 0, "llm.max_tokens must be positive")
	check(slices.Contains(embeddingProviders, c.Embedding.Provider), "embedding.provider %q must be one of %v", c.Embedding.Provider, embeddingProviders)

	check(slices.Contains(vectorDBProviders, c.VectorDB.Provider), "vector_db.provider %q must be one of %v", c.VectorDB.Provider, vectorDBProviders)
	check(c.VectorDB.Provider != "postgres" || c.VectorDB.DSN != "", "vector_db.dsn is required for postgres")
	check(c.VectorDB.CollectionName != "", "vector_db.collection_name is required")

	check(c.Application.MaxLogEntries > 0, "application.max_log_entries must be positive")
	check(c.Application.AnalysisChunkSize > 0, "application.analysis_chunk_size must be positive")
	check(c.Application.InclusionThreshold >= 0 && c.Application.InclusionThreshold <= 1,
		"application.inclusion_threshold %v must be in [0, 1]", c.Application.InclusionThreshold)
	check(c.Application.Concurrency > 0, "application.concurrency must be positive")

	check(c.Alert.MinConfidence >= 0 && c.Alert.MinConfidence <= 1, "alert.min_confidence %v must be in [0, 1]", c.Alert.MinConfidence)
	check(slices.Contains(severities, strings.ToLower(c.Alert.MinSeverity)), "alert.min_severity %q must be one of %v", c.Alert.MinSeverity, severities)
	check(slices.Contains(severities, strings.ToLower(c.Slack.MinSeverity)), "slack.min_severity %q must be one of %v", c.Slack.MinSeverity, severities)

	check(len(c.Output.Targets) > 0, "output.targets must not be empty")
	for _, t := range c.Output.Targets {
		check(slices.Contains(outputTargets, t), "output target %q must be one of %v", t, outputTargets)
		check(t != "file" || c.Output.FilePath != "", "output.file_path is required for the file target")
		check(t != "webhook" || c.Output.WebhookURL != "", "output.webhook_url is required for the webhook target")
	}
	check(slices.Contains(verbosities, strings.ToLower(c.Output.Verbosity)), "output.verbosity %q must be one of %v", c.Output.Verbosity, verbosities)

	return errors.Join(errs...)
}

// Warnings lists settings that are valid but will limit what works, such as
// a hosted provider without an API key.
func (c Config) Warnings() []string {
	var w []string
	if c.LLM.APIKey == "" {
		w = append(w, fmt.Sprintf("no API key set for llm provider %s", c.LLM.Provider))
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		w = append(w, "no API key set for openai embeddings")
	}
	return w
}

// WriteDefault writes the default configuration as YAML to path, creating
// parent directories. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if fileExists(path) {
		return fmt.Errorf("config: %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConnectorExtra reads connector env vars into an Extra map.
func loadConnectorExtra() map[string]string {
	vars := []struct {
		envVar   string
		extraKey string
	}{
		{"WATCHDOG_FOLLOW", "follow"},
		{"WATCHDOG_POLL_INTERVAL", "poll_interval"},
	}

	var m map[string]string
	for _, v := range vars {
		if val := os.Getenv(v.envVar); val != "" {
			if m == nil {
				m = make(map[string]string)
			}
			m[v.extraKey] = val
		}
	}
	return m
}

func mergeExtra(base, over map[string]string) map[string]string {
	if len(over) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]string, len(over))
	}
	for k, v := range over {
		base[k] = v
	}
	return base
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
