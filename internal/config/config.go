package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Config holds all agent configuration
type Config struct {
	ServerAddress string   `json:"serverAddress"`
	DatabasePath  string   `json:"databasePath"`
	DatabaseURL   string   `json:"databaseUrl"`
	Remote        Remote   `json:"remote"`
	Sync          Sync     `json:"sync"`
	Security      Security `json:"security"`
}

// Remote configures the connection to the caption service
type Remote struct {
	BaseURL      string `json:"baseUrl"`
	TokenURL     string `json:"tokenUrl"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	// StaticToken bypasses the token endpoint; used for development
	StaticToken    string `json:"staticToken"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// Sync configures the sync engine
type Sync struct {
	BatchSize           int `json:"batchSize"`
	PageSize            int `json:"pageSize"`
	PeriodicMinutes     int `json:"periodicMinutes"`
	BackoffInitialMS    int `json:"backoffInitialMs"`
	BackoffMaxMS        int `json:"backoffMaxMs"`
	MaxConsecutiveFails int `json:"maxConsecutiveFails"`
}

// Security configuration for the local API
type Security struct {
	APIKeyHash   string `json:"apiKeyHash"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// RemoteTimeout returns the per-call deadline for remote requests
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// PeriodicInterval returns the periodic trigger interval
func (c *Config) PeriodicInterval() time.Duration {
	return time.Duration(c.Sync.PeriodicMinutes) * time.Minute
}

// BackoffInitial returns the initial retry backoff
func (c *Config) BackoffInitial() time.Duration {
	return time.Duration(c.Sync.BackoffInitialMS) * time.Millisecond
}

// BackoffMax returns the retry backoff cap
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Sync.BackoffMaxMS) * time.Millisecond
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5100",
		DatabasePath:  "cutline.db",
		Remote: Remote{
			BaseURL:        "http://localhost:5000",
			TimeoutSeconds: 30,
		},
		Sync: Sync{
			BatchSize:           50,
			PageSize:            200,
			PeriodicMinutes:     15,
			BackoffInitialMS:    1000,
			BackoffMaxMS:        60000,
			MaxConsecutiveFails: 5,
		},
		Security: Security{
			APIKeyHeader: "X-API-Key",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if baseURL := os.Getenv("REMOTE_BASE_URL"); baseURL != "" {
		cfg.Remote.BaseURL = baseURL
	}
	if token := os.Getenv("REMOTE_STATIC_TOKEN"); token != "" {
		cfg.Remote.StaticToken = token
	}
	if keyHash := os.Getenv("API_KEY_HASH"); keyHash != "" {
		cfg.Security.APIKeyHash = keyHash
	}

	// Sync engine configuration
	if batch := os.Getenv("SYNC_BATCH_SIZE"); batch != "" {
		if n, err := strconv.Atoi(batch); err == nil && n > 0 {
			cfg.Sync.BatchSize = n
		}
	}
	if page := os.Getenv("SYNC_PAGE_SIZE"); page != "" {
		if n, err := strconv.Atoi(page); err == nil && n > 0 {
			cfg.Sync.PageSize = n
		}
	}
	if interval := os.Getenv("SYNC_PERIODIC_MINUTES"); interval != "" {
		if minutes, err := strconv.Atoi(interval); err == nil && minutes > 0 {
			cfg.Sync.PeriodicMinutes = minutes
		}
	}

	return cfg, nil
}
