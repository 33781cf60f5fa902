package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

var envKeys = []string{
	"WATCHDOG_CONFIG", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "LOG_LEVEL", "VECTOR_DB_PATH",
	"SLACK_WEBHOOK_URL", "SLACK_CHANNEL", "SLACK_USERNAME", "SLACK_MIN_SEVERITY",
	"WATCHDOG_LLM_PROVIDER", "WATCHDOG_LLM_MODEL", "WATCHDOG_LLM_ENDPOINT",
	"WATCHDOG_LLM_TEMPERATURE", "WATCHDOG_LLM_MAX_TOKENS",
	"WATCHDOG_EMBEDDING_PROVIDER", "WATCHDOG_EMBEDDING_MODEL", "WATCHDOG_MODEL_DIR",
	"WATCHDOG_EMBEDDING_ENDPOINT", "WATCHDOG_VECTOR_DB", "WATCHDOG_COLLECTION",
	"WATCHDOG_POSTGRES_DSN", "WATCHDOG_REDIS_ADDR", "WATCHDOG_REDIS_PASSWORD",
	"WATCHDOG_REDIS_DB", "WATCHDOG_CACHE_TTL", "WATCHDOG_MAX_LOG_ENTRIES",
	"WATCHDOG_ANALYSIS_CHUNK_SIZE", "WATCHDOG_INCLUSION_THRESHOLD", "WATCHDOG_CONCURRENCY",
	"WATCHDOG_CALL_TIMEOUT", "WATCHDOG_DEDUP_WINDOW", "WATCHDOG_ALERT_MIN_CONFIDENCE",
	"WATCHDOG_ALERT_MIN_SEVERITY", "WATCHDOG_CONNECTOR", "WATCHDOG_FOLLOW",
	"WATCHDOG_POLL_INTERVAL", "WATCHDOG_OUTPUT", "WATCHDOG_VERBOSITY",
	"WATCHDOG_OUTPUT_PRETTY", "WATCHDOG_OUTPUT_FILE", "WATCHDOG_WEBHOOK_URL",
	"WATCHDOG_OUTPUT_ASYNC", "WATCHDOG_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
}

// clearEnv blanks every variable Load reads; getenv treats "" as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Model != "claude-3-haiku-20240307" {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if cfg.LLM.Temperature != 0.1 || cfg.LLM.MaxTokens != 1000 {
		t.Fatalf("unexpected llm sampling defaults: %+v", cfg.LLM)
	}
	if cfg.VectorDB.PersistDirectory != "./data/vector_store" || cfg.VectorDB.CollectionName != "watchdog_logs" {
		t.Fatalf("unexpected vector_db defaults: %+v", cfg.VectorDB)
	}
	if cfg.Application.MaxLogEntries != 1000 || cfg.Application.AnalysisChunkSize != 5 {
		t.Fatalf("unexpected application defaults: %+v", cfg.Application)
	}
	if cfg.Application.InclusionThreshold != 0.3 {
		t.Fatalf("expected inclusion threshold 0.3, got %v", cfg.Application.InclusionThreshold)
	}
	if cfg.Alert.MinConfidence != 0.5 || cfg.Alert.MinSeverity != "medium" {
		t.Fatalf("unexpected alert defaults: %+v", cfg.Alert)
	}
	if cfg.Connector.Extra != nil {
		t.Fatalf("expected nil Extra when no connector vars set, got %v", cfg.Connector.Extra)
	}
	if cfg.Output.Pretty {
		t.Fatal("expected default Pretty=false")
	}
	if cfg.Path != "" {
		t.Fatalf("expected no config file, got %q", cfg.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `
llm:
  provider: openai
  model: gpt-4o-mini
  temperature: 0.2
vector_db:
  provider: memory
  collection_name: incidents
application:
  max_log_entries: 250
  dedup_window: 90s
output:
  targets: [stdout, file]
  file_path: /tmp/findings.ndjson
`)
	t.Setenv("WATCHDOG_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("expected Path %q, got %q", path, cfg.Path)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.Temperature != 0.2 {
		t.Fatalf("yaml llm not applied: %+v", cfg.LLM)
	}
	// Fields absent from the file keep their defaults.
	if cfg.LLM.MaxTokens != 1000 {
		t.Fatalf("expected default max_tokens, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.VectorDB.Provider != "memory" || cfg.VectorDB.CollectionName != "incidents" {
		t.Fatalf("yaml vector_db not applied: %+v", cfg.VectorDB)
	}
	if cfg.Application.MaxLogEntries != 250 || cfg.Application.DedupWindow != 90*time.Second {
		t.Fatalf("yaml application not applied: %+v", cfg.Application)
	}
	if len(cfg.Output.Targets) != 2 || cfg.Output.Targets[1] != "file" {
		t.Fatalf("yaml output targets not applied: %v", cfg.Output.Targets)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATCHDOG_CONFIG", writeYAML(t, "application:\n  log_level: DEBUG\n"))
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("VECTOR_DB_PATH", "/var/lib/watchdog")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("WATCHDOG_OUTPUT", "stdout, webhook")
	t.Setenv("WATCHDOG_WEBHOOK_URL", "https://hooks.example.com/x")
	t.Setenv("WATCHDOG_DEDUP_WINDOW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Application.LogLevel != "ERROR" {
		t.Fatalf("expected env log level, got %q", cfg.Application.LogLevel)
	}
	if cfg.VectorDB.PersistDirectory != "/var/lib/watchdog" {
		t.Fatalf("expected VECTOR_DB_PATH override, got %q", cfg.VectorDB.PersistDirectory)
	}
	if cfg.LLM.APIKey != "sk-ant" {
		t.Fatalf("expected anthropic key for anthropic provider, got %q", cfg.LLM.APIKey)
	}
	if cfg.Embedding.APIKey != "" {
		t.Fatalf("onnx embeddings take no key, got %q", cfg.Embedding.APIKey)
	}
	if got := strings.Join(cfg.Output.Targets, ","); got != "stdout,webhook" {
		t.Fatalf("expected targets stdout,webhook, got %q", got)
	}
	if cfg.Application.DedupWindow != 30*time.Second {
		t.Fatalf("expected dedup window 30s, got %v", cfg.Application.DedupWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_ProviderKeyFollowsProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATCHDOG_LLM_PROVIDER", "openai")
	t.Setenv("WATCHDOG_EMBEDDING_PROVIDER", "openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-openai" || cfg.Embedding.APIKey != "sk-openai" {
		t.Fatalf("expected openai keys, got llm=%q embedding=%q", cfg.LLM.APIKey, cfg.Embedding.APIKey)
	}
}

func TestLoad_ConnectorExtra(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATCHDOG_FOLLOW", "true")
	t.Setenv("WATCHDOG_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Connector.Extra["follow"] != "true" {
		t.Fatalf("expected follow=true, got %q", cfg.Connector.Extra["follow"])
	}
	if cfg.Connector.Extra["poll_interval"] != "250ms" {
		t.Fatalf("expected poll_interval=250ms, got %q", cfg.Connector.Extra["poll_interval"])
	}
}

func TestLoad_SlackEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")
	t.Setenv("SLACK_CHANNEL", "#ops")
	t.Setenv("SLACK_MIN_SEVERITY", "high")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Slack.WebhookURL == "" || cfg.Slack.Channel != "#ops" || cfg.Slack.MinSeverity != "high" {
		t.Fatalf("slack env not applied: %+v", cfg.Slack)
	}
	if cfg.Slack.Username != "WatchDogAI" {
		t.Fatalf("expected default username, got %q", cfg.Slack.Username)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATCHDOG_LLM_TEMPERATURE", "warm")
	t.Setenv("WATCHDOG_MAX_LOG_ENTRIES", "many")
	t.Setenv("WATCHDOG_CALL_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Temperature != 0.1 || cfg.Application.MaxLogEntries != 1000 || cfg.Application.CallTimeout != 30*time.Second {
		t.Fatalf("invalid values should keep defaults: %+v %+v", cfg.LLM, cfg.Application)
	}
}

func TestLoad_BadFile(t *testing.T) {
	clearEnv(t)

	t.Setenv("WATCHDOG_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}

	t.Setenv("WATCHDOG_CONFIG", writeYAML(t, "llm: [unterminated\n"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown llm", func(c *Config) { c.LLM.Provider = "cohere" }, "llm.provider"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"postgres without dsn", func(c *Config) { c.VectorDB.Provider = "postgres" }, "vector_db.dsn"},
		{"threshold", func(c *Config) { c.Application.InclusionThreshold = 1.5 }, "inclusion_threshold"},
		{"min severity", func(c *Config) { c.Alert.MinSeverity = "urgent" }, "alert.min_severity"},
		{"file target without path", func(c *Config) { c.Output.Targets = []string{"file"} }, "output.file_path"},
		{"unknown target", func(c *Config) { c.Output.Targets = []string{"kafka"} }, `"kafka"`},
		{"verbosity", func(c *Config) { c.Output.Verbosity = "loud" }, "output.verbosity"},
		{"chunk size", func(c *Config) { c.Application.AnalysisChunkSize = 0 }, "analysis_chunk_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.LLM.MaxTokens = 0
	cfg.Application.Concurrency = 0
	cfg.Alert.MinConfidence = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"max_tokens", "concurrency", "min_confidence"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestWarnings(t *testing.T) {
	cfg := Default()
	if w := cfg.Warnings(); len(w) != 1 || !strings.Contains(w[0], "anthropic") {
		t.Fatalf("expected one anthropic key warning, got %v", w)
	}
	cfg.LLM.APIKey = "sk-ant"
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("expected no warnings, got %v", w)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "settings.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Config
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("written file is not valid yaml: %v", err)
	}
	if got.LLM.Model != "claude-3-haiku-20240307" || got.Application.DedupWindow != 10*time.Minute {
		t.Fatalf("round trip lost defaults: %+v", got)
	}
	if strings.Contains(string(data), "api_key") {
		t.Fatal("secrets must not be written to the config file")
	}

	if err := WriteDefault(path); err == nil {
		t.Fatal("expected error when file exists")
	}
}
