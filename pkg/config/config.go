// Package config loads service settings from the environment, an optional
// .env file, and an optional config file named by CHAT_CONFIG.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is shared by every process in the repo; each one reads the
// sections it needs.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Log         LogConfig       `mapstructure:"log"`
	Gateway     ServerConfig    `mapstructure:"gateway"`
	API         ServerConfig    `mapstructure:"api"`
	JWT         JWTConfig       `mapstructure:"jwt"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Scylla      ScyllaConfig    `mapstructure:"scylla"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig is one HTTP process. NodeID is its snowflake node; every
// process writing messages needs its own.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	NodeID int64  `mapstructure:"node_id"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// DatabaseConfig selects the gorm driver: sqlite, postgres or mysql.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ScyllaConfig struct {
	Hosts    []string `mapstructure:"hosts"`
	Keyspace string   `mapstructure:"keyspace"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Production reports whether the environment is "production".
func (c *Config) Production() bool {
	return c.Environment == "production"
}

var defaults = map[string]any{
	"environment":          "development",
	"log.level":            "info",
	"log.format":           "text",
	"gateway.addr":         ":8080",
	"gateway.node_id":      1,
	"api.addr":             ":8081",
	"api.node_id":          2,
	"jwt.secret":           "",
	"jwt.ttl":              24 * time.Hour,
	"database.driver":      "sqlite",
	"database.dsn":         "chat.db",
	"scylla.hosts":         []string{"localhost:9042"},
	"scylla.keyspace":      "chat",
	"kafka.brokers":        []string{"localhost:19092"},
	"kafka.topic":          "chat-events",
	"kafka.group_id":       "messaging-service-group",
	"redis.addr":           "localhost:6379",
	"scheduler.interval":   60 * time.Second,
	"scheduler.batch_size": 100,
}

// Load reads configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("chat_config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	// comma-separated env values arrive as a single element
	c.Scylla.Hosts = splitList(c.Scylla.Hosts)
	c.Kafka.Brokers = splitList(c.Kafka.Brokers)
	if c.JWT.Secret == "" && !c.Production() {
		c.JWT.Secret = "dev-secret-change-me"
	}
}

func (c *Config) validate() error {
	var errs []string
	if c.JWT.Secret == "" {
		errs = append(errs, "jwt.secret is required in production")
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, "jwt.ttl must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, postgres, mysql", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.Scheduler.Interval < time.Second {
		errs = append(errs, "scheduler.interval must be at least 1s")
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, "scheduler.batch_size must be positive")
	}
	if c.Gateway.NodeID < 0 || c.Gateway.NodeID > 1023 {
		errs = append(errs, "gateway.node_id must be in [0, 1023]")
	}
	if c.API.NodeID < 0 || c.API.NodeID > 1023 {
		errs = append(errs, "api.node_id must be in [0, 1023]")
	}
	if c.Gateway.NodeID == c.API.NodeID {
		errs = append(errs, "gateway.node_id and api.node_id must differ")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
