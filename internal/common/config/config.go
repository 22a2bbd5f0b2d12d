package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Consul     ConsulConfig     `json:"consul"`
	Jaeger     JaegerConfig     `json:"jaeger"`
	Auth       AuthConfig       `json:"auth"`
	Membership MembershipConfig `json:"membership"`
	Booking    BookingConfig    `json:"booking"`
	Jobs       JobsConfig       `json:"jobs"`
	Log        LogConfig        `json:"log"`
}

// ServerConfig describes the service endpoint.
type ServerConfig struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	GRPCPort int    `json:"grpc_port"`
}

// DatabaseConfig describes the MySQL connection.
type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	MaxIdle  int    `json:"max_idle"`
	MaxOpen  int    `json:"max_open"`
}

// RedisConfig describes the Redis connection (availability cache + job locks).
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ConsulConfig describes the Consul agent used for KV config and discovery.
type ConsulConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// JaegerConfig describes the tracing agent.
type JaegerConfig struct {
	Endpoint string  `json:"endpoint"`
	Sampler  float64 `json:"sampler"` // sampling rate 0.0-1.0
}

// AuthConfig controls the JWT auth interceptor.
type AuthConfig struct {
	Enabled       bool     `json:"enabled"`
	JWTSecret     string   `json:"jwt_secret"`
	Issuer        string   `json:"issuer"`
	Audience      string   `json:"audience"`
	PublicMethods []string `json:"public_methods"` // full gRPC method names that skip auth
}

// MembershipConfig points at the external ownership/membership service.
// The service is treated as flaky: calls are bounded by Timeout and wrapped
// in a circuit breaker; failures degrade to neutral defaults.
type MembershipConfig struct {
	BaseURL      string        `json:"base_url"`
	Timeout      time.Duration `json:"timeout"`
	MaxFailures  int           `json:"max_failures"`
	ResetTimeout time.Duration `json:"reset_timeout"`
}

// BookingConfig carries the tunables of the scheduling engine.
type BookingConfig struct {
	MinDuration       time.Duration `json:"min_duration"`
	MaxDuration       time.Duration `json:"max_duration"`
	MaxAdvanceDays    int           `json:"max_advance_days"`
	SameDayCutoff     time.Duration `json:"same_day_cutoff"`
	MaxPurposeLen     int           `json:"max_purpose_len"`
	MaxBookingsPerDay int           `json:"max_bookings_per_day"`
	MaxActiveBookings int           `json:"max_active_bookings"`

	AutoConfirmScore int           `json:"auto_confirm_score"`
	MaxExtension     time.Duration `json:"max_extension"`

	// Cost rates in cents: cost = hours*HourlyRateCents + km*PerKmRateCents.
	HourlyRateCents int64 `json:"hourly_rate_cents"`
	PerKmRateCents  int64 `json:"per_km_rate_cents"`

	CacheTTL         time.Duration `json:"cache_ttl"`
	StaleConflictAge time.Duration `json:"stale_conflict_age"`
}

// JobsConfig configures the background job scheduler.
type JobsConfig struct {
	ReminderSpec  string        `json:"reminder_spec"`
	SweepSpec     string        `json:"sweep_spec"`
	WarmupSpec    string        `json:"warmup_spec"`
	RetentionSpec string        `json:"retention_spec"`
	LockTTL       time.Duration `json:"lock_ttl"`
	ReminderLead  time.Duration `json:"reminder_lead"`
	RetentionAge  time.Duration `json:"retention_age"`
}

// LogConfig configures the logger facade.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, file
	Path   string `json:"path"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// LoadConfig reads the JSON config file. A missing file falls back to the
// development defaults rather than failing startup.
func LoadConfig(configPath string) (*Config, error) {
	var err error
	configOnce.Do(func() {
		globalConfig = &Config{}
		if _, err = os.Stat(configPath); os.IsNotExist(err) {
			logrus.Warnf("Config file not found: %s, using default config", configPath)
			globalConfig = defaultConfig()
			err = nil
			return
		}

		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			err = fmt.Errorf("failed to read config file: %w", readErr)
			return
		}

		cfg := defaultConfig()
		if unmarshalErr := json.Unmarshal(data, cfg); unmarshalErr != nil {
			err = fmt.Errorf("failed to parse config file: %w", unmarshalErr)
			return
		}
		globalConfig = cfg
	})

	if err != nil {
		return nil, err
	}

	return globalConfig, nil
}

// GetConfig returns the loaded global config, or defaults when LoadConfig
// has not run yet.
func GetConfig() *Config {
	if globalConfig == nil {
		return defaultConfig()
	}
	return globalConfig
}

// defaultConfig is the development-environment configuration.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:     "booking-service",
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 50051,
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Password: "root",
			Database: "evco",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Consul: ConsulConfig{
			Host: "localhost",
			Port: 8500,
		},
		Jaeger: JaegerConfig{
			Endpoint: "http://localhost:14268/api/traces",
			Sampler:  1.0,
		},
		Auth: AuthConfig{
			Enabled:   false,
			JWTSecret: "",
			Issuer:    "evco",
			Audience:  "booking-service",
		},
		Membership: MembershipConfig{
			BaseURL:      "http://localhost:8081",
			Timeout:      2 * time.Second,
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		Booking: BookingConfig{
			MinDuration:       2 * time.Hour,
			MaxDuration:       24 * time.Hour,
			MaxAdvanceDays:    30,
			SameDayCutoff:     2 * time.Hour,
			MaxPurposeLen:     500,
			MaxBookingsPerDay: 3,
			MaxActiveBookings: 5,
			AutoConfirmScore:  80,
			MaxExtension:      2 * time.Hour,
			HourlyRateCents:   500,
			PerKmRateCents:    30,
			CacheTTL:          5 * time.Minute,
			StaleConflictAge:  24 * time.Hour,
		},
		Jobs: JobsConfig{
			ReminderSpec:  "*/15 * * * *",
			SweepSpec:     "*/30 * * * *",
			WarmupSpec:    "0 * * * *",
			RetentionSpec: "0 4 * * *",
			LockTTL:       10 * time.Minute,
			ReminderLead:  time.Hour,
			RetentionAge:  365 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "debug",
			Format: "text",
			Output: "stdout",
			Path:   "logs/app.log",
		},
	}
}
