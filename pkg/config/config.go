package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const credentialPrefix = "CRED_"

// Config holds the application configuration.
type Config struct {
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogFormat  string `mapstructure:"LOG_FORMAT" validate:"oneof=json console"`
	ServerPort string `mapstructure:"SERVER_PORT" validate:"required"`

	StoreDriver string `mapstructure:"STORE_DRIVER" validate:"oneof=postgres sqlite"`
	PostgresURL string `mapstructure:"POSTGRES_URL" validate:"required_if=StoreDriver postgres"`
	SQLitePath  string `mapstructure:"SQLITE_PATH" validate:"required_if=StoreDriver sqlite"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	SourcesFile       string        `mapstructure:"SOURCES_FILE" validate:"required"`
	ArtifactDir       string        `mapstructure:"ARTIFACT_DIR"`
	Schedule          string        `mapstructure:"SCHEDULE" validate:"required"`
	SchedulerEnabled  bool          `mapstructure:"SCHEDULER_ENABLED"`
	IngestConcurrency int           `mapstructure:"INGEST_CONCURRENCY" validate:"min=1"`
	AttemptTimeout    time.Duration `mapstructure:"ATTEMPT_TIMEOUT" validate:"gt=0"`
	InsertChunkSize   int           `mapstructure:"INSERT_CHUNK_SIZE" validate:"min=1"`
	ResultHistory     int           `mapstructure:"RESULT_HISTORY" validate:"min=1"`

	BrowserHeadless       bool          `mapstructure:"BROWSER_HEADLESS"`
	BrowserExecPath       string        `mapstructure:"BROWSER_EXEC_PATH"`
	BrowserStartupTimeout time.Duration `mapstructure:"BROWSER_STARTUP_TIMEOUT" validate:"gt=0"`

	NavigationTimeout        time.Duration `mapstructure:"NAVIGATION_TIMEOUT" validate:"gt=0"`
	ActionTimeout            time.Duration `mapstructure:"ACTION_TIMEOUT" validate:"gt=0"`
	DownloadTimeout          time.Duration `mapstructure:"DOWNLOAD_TIMEOUT" validate:"gt=0"`
	NavigationTimeoutCeiling time.Duration `mapstructure:"NAVIGATION_TIMEOUT_CEILING" validate:"gt=0"`
	ActionTimeoutCeiling     time.Duration `mapstructure:"ACTION_TIMEOUT_CEILING" validate:"gt=0"`
	DownloadTimeoutCeiling   time.Duration `mapstructure:"DOWNLOAD_TIMEOUT_CEILING" validate:"gt=0"`
	SettleTime               time.Duration `mapstructure:"SETTLE_TIME" validate:"gte=0"`

	Proxies    []string `mapstructure:"PROXIES"`
	UserAgents []string `mapstructure:"USER_AGENTS"`

	// Credentials maps a credential reference to its secrets, collected
	// from CRED_<REF>__<KEY> entries.
	Credentials map[string]map[string]string `mapstructure:"-"`
}

var defaults = map[string]any{
	"LOG_LEVEL":                  "info",
	"LOG_FORMAT":                 "json",
	"SERVER_PORT":                "8080",
	"STORE_DRIVER":               "postgres",
	"POSTGRES_URL":               "",
	"SQLITE_PATH":                "ingest.db",
	"REDIS_ADDR":                 "",
	"REDIS_PASSWORD":             "",
	"REDIS_DB":                   0,
	"SOURCES_FILE":               "configs/sources.yaml",
	"ARTIFACT_DIR":               "",
	"SCHEDULE":                   "@every 1m",
	"SCHEDULER_ENABLED":          true,
	"INGEST_CONCURRENCY":         1,
	"ATTEMPT_TIMEOUT":            "5m",
	"INSERT_CHUNK_SIZE":          500,
	"RESULT_HISTORY":             20,
	"BROWSER_HEADLESS":           true,
	"BROWSER_EXEC_PATH":          "",
	"BROWSER_STARTUP_TIMEOUT":    "30s",
	"NAVIGATION_TIMEOUT":         "45s",
	"ACTION_TIMEOUT":             "30s",
	"DOWNLOAD_TIMEOUT":           "60s",
	"NAVIGATION_TIMEOUT_CEILING": "45s",
	"ACTION_TIMEOUT_CEILING":     "30s",
	"DOWNLOAD_TIMEOUT_CEILING":   "120s",
	"SETTLE_TIME":                "2s",
	"PROXIES":                    "",
	"USER_AGENTS":                "",
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// A missing .env is fine; production is configured purely through the environment.
	_ = v.ReadInConfig()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Proxies = compact(cfg.Proxies)
	cfg.UserAgents = compact(cfg.UserAgents)
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = os.TempDir()
	}
	cfg.Credentials = credentialsFromEnv(os.Environ())

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// credentialsFromEnv groups CRED_<REF>__<KEY>=value entries by reference.
// References and keys are lower-cased.
func credentialsFromEnv(environ []string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, credentialPrefix) {
			continue
		}
		ref, key, ok := strings.Cut(strings.TrimPrefix(name, credentialPrefix), "__")
		if !ok || ref == "" || key == "" {
			continue
		}
		ref, key = strings.ToLower(ref), strings.ToLower(key)
		if out[ref] == nil {
			out[ref] = make(map[string]string)
		}
		out[ref][key] = value
	}
	return out
}

func compact(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
