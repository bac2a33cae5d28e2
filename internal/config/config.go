package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeLocal      Mode = "local"
	ModeProduction Mode = "production"
)

// Storage backends.
const (
	StorageMemory    = "memory"
	StorageFirestore = "firestore"
	StoragePostgres  = "postgres"
	StorageSQLite    = "sqlite"
	StorageRedis     = "redis"
	StorageMongo     = "mongo"
)

// Job backends. Everything but openai runs on the in-process job store.
const (
	JobsOpenAI    = "openai"
	JobsVertex    = "vertex"
	JobsAnthropic = "anthropic"
	JobsMock      = "mock"
)

type Config struct {
	Mode Mode   `toml:"mode"`
	Port string `toml:"port"`

	StorageBackend string `toml:"storage_backend"`
	GCPProjectID   string `toml:"gcp_project"`
	GCPLocation    string `toml:"gcp_location"`
	PostgresURL    string `toml:"postgres_url"`
	SQLitePath     string `toml:"sqlite_path"`
	RedisURL       string `toml:"redis_url"`
	MongoURI       string `toml:"mongo_uri"`
	MongoDatabase  string `toml:"mongo_database"`

	JobBackend        string        `toml:"job_backend"`
	ModelName         string        `toml:"model_name"`
	OpenAIAPIKey      string        `toml:"openai_api_key"`
	OpenAIBaseURL     string        `toml:"openai_base_url"`
	OpenAIAssistantID string        `toml:"openai_assistant_id"`
	AnthropicAPIKey   string        `toml:"anthropic_api_key"`
	PauseTimeout      time.Duration `toml:"pause_timeout"`

	PollMaxAttempts    int           `toml:"poll_max_attempts"`
	PollInterval       time.Duration `toml:"poll_interval"`
	HistoryLimit       int           `toml:"history_limit"`
	SerializeTurns     bool          `toml:"serialize_turns"`
	CancelOnDisconnect bool          `toml:"cancel_on_disconnect"`

	FrontendURL       string `toml:"frontend_url"`
	ChatRatePerMinute int    `toml:"chat_rate_per_minute"`
}

func Defaults() *Config {
	return &Config{
		Mode: ModeLocal,
		Port: "8080",

		StorageBackend: StorageMemory,
		GCPLocation:    "us-central1",
		SQLitePath:     "finadvisor.db",
		MongoDatabase:  "finadvisor",

		JobBackend:   JobsMock,
		PauseTimeout: 10 * time.Minute,

		PollMaxAttempts: 30,
		PollInterval:    time.Second,
		HistoryLimit:    25,
		SerializeTurns:  true,

		FrontendURL:       "*",
		ChatRatePerMinute: 30,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Load builds the config from defaults, then the TOML file named by
// FINADVISOR_CONFIG, then FINADVISOR_* environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("FINADVISOR_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Mode = Mode(getEnv("FINADVISOR_MODE", string(c.Mode)))
	c.Port = getEnv("FINADVISOR_PORT", c.Port)

	c.StorageBackend = getEnv("FINADVISOR_STORAGE_BACKEND", c.StorageBackend)
	c.GCPProjectID = getEnv("FINADVISOR_GCP_PROJECT", c.GCPProjectID)
	c.GCPLocation = getEnv("FINADVISOR_GCP_LOCATION", c.GCPLocation)
	c.PostgresURL = getEnv("FINADVISOR_DATABASE_URL", c.PostgresURL)
	c.SQLitePath = getEnv("FINADVISOR_SQLITE_PATH", c.SQLitePath)
	c.RedisURL = getEnv("FINADVISOR_REDIS_URL", c.RedisURL)
	c.MongoURI = getEnv("FINADVISOR_MONGO_URI", c.MongoURI)
	c.MongoDatabase = getEnv("FINADVISOR_MONGO_DATABASE", c.MongoDatabase)

	c.JobBackend = getEnv("FINADVISOR_JOB_BACKEND", c.JobBackend)
	c.ModelName = getEnv("FINADVISOR_MODEL_NAME", c.ModelName)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("FINADVISOR_OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIAssistantID = getEnv("FINADVISOR_OPENAI_ASSISTANT_ID", c.OpenAIAssistantID)
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)

	c.SerializeTurns = getBoolEnv("FINADVISOR_SERIALIZE_TURNS", c.SerializeTurns)
	c.CancelOnDisconnect = getBoolEnv("FINADVISOR_CANCEL_ON_DISCONNECT", c.CancelOnDisconnect)
	c.FrontendURL = getEnv("FINADVISOR_FRONTEND_URL", c.FrontendURL)

	var err error
	if c.PollMaxAttempts, err = getIntEnv("FINADVISOR_POLL_MAX_ATTEMPTS", c.PollMaxAttempts); err != nil {
		return err
	}
	if c.PollInterval, err = getDurationEnv("FINADVISOR_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.PauseTimeout, err = getDurationEnv("FINADVISOR_PAUSE_TIMEOUT", c.PauseTimeout); err != nil {
		return err
	}
	if c.HistoryLimit, err = getIntEnv("FINADVISOR_HISTORY_LIMIT", c.HistoryLimit); err != nil {
		return err
	}
	if c.ChatRatePerMinute, err = getIntEnv("FINADVISOR_CHAT_RATE_PER_MINUTE", c.ChatRatePerMinute); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeLocal, ModeProduction:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	switch c.StorageBackend {
	case StorageMemory, StorageSQLite:
	case StorageFirestore:
		if c.GCPProjectID == "" {
			errs = append(errs, errors.New("FINADVISOR_GCP_PROJECT must be set for firestore storage"))
		}
	case StoragePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("FINADVISOR_DATABASE_URL must be set for postgres storage"))
		}
	case StorageRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("FINADVISOR_REDIS_URL must be set for redis storage"))
		}
	case StorageMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("FINADVISOR_MONGO_URI must be set for mongo storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}

	switch c.JobBackend {
	case JobsMock, JobsAnthropic:
	case JobsOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY must be set for the openai job backend"))
		}
	case JobsVertex:
		if c.GCPProjectID == "" || c.GCPLocation == "" {
			errs = append(errs, errors.New("FINADVISOR_GCP_PROJECT and FINADVISOR_GCP_LOCATION must be set for the vertex job backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown job backend %q", c.JobBackend))
	}

	if c.Mode == ModeProduction && c.StorageBackend == StorageMemory {
		errs = append(errs, errors.New("memory storage is not allowed in production mode"))
	}
	if c.PollMaxAttempts <= 0 {
		errs = append(errs, errors.New("poll max attempts must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.HistoryLimit <= 0 || c.HistoryLimit > 100 {
		errs = append(errs, errors.New("history limit must be between 1 and 100"))
	}
	if c.ChatRatePerMinute < 0 {
		errs = append(errs, errors.New("chat rate per minute must not be negative"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether logs should be human readable.
func (c *Config) IsDevelopment() bool {
	return c.Mode == ModeLocal
}

// AllowedOrigins splits FrontendURL on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
