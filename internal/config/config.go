package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds all configuration for the application process.
type ServerConfig struct {
	Port     int
	Env      string
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Auth     AuthConfig
	// CallbackBaseURL is the externally reachable base URL of this server,
	// handed to the worker so its callbacks find their way back.
	CallbackBaseURL string
}

// WorkerConfig holds all configuration for the inference worker process.
type WorkerConfig struct {
	Port      int
	Env       string
	JobDBPath string
	// PollInterval is how long the loop sleeps when the queue is empty.
	PollInterval time.Duration
	Auth         AuthConfig
	Inference    InferenceConfig
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// QueueConfig points the application at the worker's queue API.
type QueueConfig struct {
	BaseURL string
	Timeout time.Duration
	// Token is the raw service token sent as a Bearer header.
	Token string
}

// AuthConfig carries the shared service token in both directions: the
// receiving side keeps only a bcrypt hash, the sending side the raw token.
type AuthConfig struct {
	TokenHash string
	Token     string
}

type InferenceConfig struct {
	Provider string
	Timeout  time.Duration
	// CallbackTimeout bounds each best-effort callback delivery.
	CallbackTimeout time.Duration
	Ollama          OllamaConfig
	VLLM            VLLMConfig
}

type OllamaConfig struct {
	BaseURL string
}

type VLLMConfig struct {
	BaseURL string
}

var validProviders = map[string]bool{
	"ollama": true,
	"vllm":   true,
	"mock":   true,
}

// LoadServer reads application configuration from environment variables and
// returns a validated config. Fails fast on missing or invalid values.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port: envInt("MEMESEARCH_PORT", 8080),
		Env:  envString("MEMESEARCH_ENV", "development"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			BaseURL: envString("QUEUE_BASE_URL", "http://localhost:8081"),
			Timeout: envDuration("QUEUE_TIMEOUT", 10*time.Second),
			Token:   os.Getenv("SERVICE_TOKEN"),
		},
		Auth: AuthConfig{
			TokenHash: os.Getenv("SERVICE_TOKEN_HASH"),
		},
		CallbackBaseURL: envString("CALLBACK_BASE_URL", "http://localhost:8080"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorker reads worker configuration from environment variables and
// returns a validated config.
func LoadWorker() (*WorkerConfig, error) {
	cfg := &WorkerConfig{
		Port:         envInt("WORKER_PORT", 8081),
		Env:          envString("MEMESEARCH_ENV", "development"),
		JobDBPath:    envString("JOB_DB_PATH", "db/job_queue.db"),
		PollInterval: envDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		Auth: AuthConfig{
			TokenHash: os.Getenv("SERVICE_TOKEN_HASH"),
			Token:     os.Getenv("SERVICE_TOKEN"),
		},
		Inference: InferenceConfig{
			Provider:        envString("INFERENCE_PROVIDER", "ollama"),
			Timeout:         envDurationSecs("INFERENCE_TIMEOUT_SECS", 120*time.Second),
			CallbackTimeout: envDuration("CALLBACK_TIMEOUT", 30*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Queue.BaseURL, "http://") && !strings.HasPrefix(c.Queue.BaseURL, "https://") {
		return fmt.Errorf("QUEUE_BASE_URL must start with http:// or https://, got %q", c.Queue.BaseURL)
	}
	if !strings.HasPrefix(c.CallbackBaseURL, "http://") && !strings.HasPrefix(c.CallbackBaseURL, "https://") {
		return fmt.Errorf("CALLBACK_BASE_URL must start with http:// or https://, got %q", c.CallbackBaseURL)
	}
	if c.Auth.TokenHash == "" {
		return fmt.Errorf("SERVICE_TOKEN_HASH is required")
	}
	if c.Queue.Token == "" {
		return fmt.Errorf("SERVICE_TOKEN is required")
	}
	return nil
}

func (c *WorkerConfig) validate() error {
	if c.JobDBPath == "" {
		return fmt.Errorf("JOB_DB_PATH is required")
	}
	if !validProviders[c.Inference.Provider] {
		return fmt.Errorf("INFERENCE_PROVIDER must be one of ollama, vllm, mock; got %q", c.Inference.Provider)
	}
	if c.Auth.TokenHash == "" {
		return fmt.Errorf("SERVICE_TOKEN_HASH is required")
	}
	if c.Auth.Token == "" {
		return fmt.Errorf("SERVICE_TOKEN is required")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
