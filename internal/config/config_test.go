package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  backend: "in_memory"
reliability:
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

// loadFrom runs Load with cwd switched to dir for the duration of the call.
func loadFrom(t *testing.T, dir string) (*Config, error) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	return Load()
}

func withAPIKeyEnv(t *testing.T, value string) {
	t.Helper()
	saved := os.Getenv("WEATHER_API_KEY")
	if value == "" {
		os.Unsetenv("WEATHER_API_KEY")
	} else {
		os.Setenv("WEATHER_API_KEY", value)
	}
	t.Cleanup(func() {
		if saved != "" {
			os.Setenv("WEATHER_API_KEY", saved)
		} else {
			os.Unsetenv("WEATHER_API_KEY")
		}
	})
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	withAPIKeyEnv(t, "")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := loadFrom(t, dir)
	if err == nil {
		t.Fatal("Load() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("Load() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	withAPIKeyEnv(t, "")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")

	cfg, err := loadFrom(t, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
}

func TestLoad_EnvVarOverridesSecretsFile(t *testing.T) {
	withAPIKeyEnv(t, "key-from-env")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")

	cfg, err := loadFrom(t, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-env" {
		t.Errorf("WeatherAPIKey = %q, want key from env", cfg.WeatherAPIKey)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	savedEnv := os.Getenv("ENV_NAME")
	os.Setenv("ENV_NAME", "nonexistent")
	defer os.Setenv("ENV_NAME", savedEnv)

	cfg, err := loadFrom(t, t.TempDir())
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") && !strings.Contains(err.Error(), "config file") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "2s"
cache:
  backend: "in_memory"
`)

	cfg, err := loadFrom(t, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.WeatherAPIURL == "" {
		t.Error("WeatherAPIURL default not applied")
	}
	if cfg.EventLogTopic != "weather-events" {
		t.Errorf("EventLogTopic = %q, want weather-events", cfg.EventLogTopic)
	}
	if cfg.EventLogTimeout != 2*time.Second {
		t.Errorf("EventLogTimeout = %v, want 2s", cfg.EventLogTimeout)
	}
	if cfg.CityMaxLength != 100 {
		t.Errorf("CityMaxLength = %d, want 100", cfg.CityMaxLength)
	}
	if !cfg.BreakerEnabled {
		t.Error("BreakerEnabled = false, want true by default")
	}
	if cfg.DegradedErrorPct != 5 {
		t.Errorf("DegradedErrorPct = %d, want 5", cfg.DegradedErrorPct)
	}
}

func TestLoad_EmptyDurationFallsBackToDefault(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  url: "https://api.example.com"
  timeout: ""
cache:
  backend: "in_memory"
`)

	cfg, err := loadFrom(t, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPITimeout <= 0 {
		t.Error("Load() with empty duration should fall back to default (2s for weather_api.timeout)")
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "2s"
cache:
  backend: "in_memory"
event_log:
  timeout: "invalid"
`)

	cfg, err := loadFrom(t, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EventLogTimeout != 2*time.Second {
		t.Errorf("EventLogTimeout = %v, want default 2s on invalid duration", cfg.EventLogTimeout)
	}
}

func TestLoad_ValidationFailsWhenWeatherAPITimeoutZero(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "0s"
cache:
  backend: "in_memory"
`)

	cfg, err := loadFrom(t, dir)
	if err == nil {
		t.Fatal("Load() expected error when weather_api.timeout is zero, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Load() error = %v, want message about timeout", err)
	}
}

func TestLoad_InvalidCacheBackend(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "2s"
cache:
  backend: "dynamo"
`)

	_, err := loadFrom(t, dir)
	if err == nil {
		t.Fatal("Load() expected error for unknown cache backend, got nil")
	}
	if !strings.Contains(err.Error(), "cache.backend") {
		t.Errorf("Load() error = %v, want message about cache.backend", err)
	}
}

func TestLoad_CacheBackendEnvOverride(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	saved := os.Getenv("CACHE_BACKEND")
	os.Setenv("CACHE_BACKEND", "memcached")
	defer func() {
		if saved != "" {
			os.Setenv("CACHE_BACKEND", saved)
		} else {
			os.Unsetenv("CACHE_BACKEND")
		}
	}()

	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := loadFrom(t, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached from env override", cfg.CacheBackend)
	}
}

func TestLoad_EventLogBrokersEnvOverride(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	saved := os.Getenv("KAFKA_BROKERS")
	os.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	defer func() {
		if saved != "" {
			os.Setenv("KAFKA_BROKERS", saved)
		} else {
			os.Unsetenv("KAFKA_BROKERS")
		}
	}()

	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+`
event_log:
  brokers: ["from-file:9092"]
`)

	cfg, err := loadFrom(t, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.EventLogBrokers) != 2 || cfg.EventLogBrokers[0] != "broker1:9092" || cfg.EventLogBrokers[1] != "broker2:9092" {
		t.Errorf("EventLogBrokers = %v, want env override [broker1:9092 broker2:9092]", cfg.EventLogBrokers)
	}
}

func TestLoad_RequestTimeoutAutoAdjusted(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "5s"
request:
  timeout: "2s"
cache:
  backend: "in_memory"
`)

	cfg, err := loadFrom(t, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		t.Errorf("RequestTimeout = %v, want > WeatherAPITimeout %v", cfg.RequestTimeout, cfg.WeatherAPITimeout)
	}
}

func TestLoad_WarmingConfig(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+`
warming:
  enabled: true
  interval: "10m"
  cities: ["london", "paris"]
`)

	cfg, err := loadFrom(t, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.WarmCache {
		t.Error("WarmCache = false, want true")
	}
	if cfg.WarmInterval != 10*time.Minute {
		t.Errorf("WarmInterval = %v, want 10m", cfg.WarmInterval)
	}
	if len(cfg.TrackedCities) != 2 {
		t.Errorf("TrackedCities = %v, want 2 cities", cfg.TrackedCities)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	withAPIKeyEnv(t, "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, "not: valid: yaml: [[[")

	cfg, err := loadFrom(t, dir)
	if err == nil {
		t.Fatal("Load() expected error for invalid config YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "parse") && !strings.Contains(err.Error(), "config") {
		t.Errorf("Load() error = %v, want message about parse or config", err)
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	withAPIKeyEnv(t, "")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "not valid: yaml: [[[")

	cfg, err := loadFrom(t, dir)
	if err == nil {
		t.Fatal("Load() expected error for invalid secrets YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "parse") && !strings.Contains(err.Error(), "secrets") {
		t.Errorf("Load() error = %v, want message about parse or secrets", err)
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"a:9092", 1},
		{"a:9092, b:9092", 2},
		{"a:9092,,b:9092,", 2},
		{"", 0},
	}
	for _, tc := range tests {
		got := splitAndTrim(tc.in)
		if len(got) != tc.want {
			t.Errorf("splitAndTrim(%q) = %v, want %d items", tc.in, got, tc.want)
		}
	}
}
