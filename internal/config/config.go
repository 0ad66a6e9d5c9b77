// Package config loads the lobby agent configuration with Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ServerConfig holds the presentation listeners.
type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

// IdentityConfig says who the local player is. Token is a JWT issued by
// the auth service and verified with JWTSecret.
type IdentityConfig struct {
	Token     string `mapstructure:"token"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LobbyConfig tunes the lobby state machine.
type LobbyConfig struct {
	GameKey           string        `mapstructure:"game_key"`
	Region            string        `mapstructure:"region"`
	HostAddress       string        `mapstructure:"host_address"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	DefaultMaxResults int           `mapstructure:"default_max_results"`
}

// ProviderConfig selects the matchmaking backend.
type ProviderConfig struct {
	Backend    string        `mapstructure:"backend"`
	PoolKey    string        `mapstructure:"pool_key"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// RedisConfig holds the session pool connection.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// KafkaConfig holds the travel and server-ready topics. An empty broker
// list disables both.
type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	TravelTopic      string   `mapstructure:"travel_topic"`
	ServerReadyTopic string   `mapstructure:"server_ready_topic"`
}

// DatabaseConfig points at the profile store. An empty DSN disables
// profile lookups and avatars.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "text".
	Format string `mapstructure:"format"`
}

// Config is the top-level lobby agent configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Identity IdentityConfig `mapstructure:"identity"`
	Lobby    LobbyConfig    `mapstructure:"lobby"`
	Provider ProviderConfig `mapstructure:"provider"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks every section and reports all violations at once.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateServer(c.Server),
		validateIdentity(c.Identity),
		validateLobby(c.Lobby),
		validateProvider(c.Provider, c.Redis),
		validateKafka(c.Kafka),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validateServer(s ServerConfig) error {
	var errs []string
	if !validPort(s.HTTPPort) {
		errs = append(errs, fmt.Sprintf("server.http_port must be 1-65535, got %d", s.HTTPPort))
	}
	if !validPort(s.GRPCPort) {
		errs = append(errs, fmt.Sprintf("server.grpc_port must be 1-65535, got %d", s.GRPCPort))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateIdentity(i IdentityConfig) error {
	var errs []string
	if i.Token == "" {
		errs = append(errs, "identity.token must not be empty")
	}
	if i.JWTSecret == "" {
		errs = append(errs, "identity.jwt_secret must not be empty")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLobby(l LobbyConfig) error {
	var errs []string
	if l.GameKey == "" {
		errs = append(errs, "lobby.game_key must not be empty")
	}
	if l.HostAddress == "" {
		errs = append(errs, "lobby.host_address must not be empty")
	}
	if l.OperationTimeout <= 0 {
		errs = append(errs, "lobby.operation_timeout must be positive")
	}
	if l.DefaultMaxResults < 1 {
		errs = append(errs, fmt.Sprintf("lobby.default_max_results must be >= 1, got %d", l.DefaultMaxResults))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateProvider(p ProviderConfig, r RedisConfig) error {
	switch p.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		var errs []string
		if p.PoolKey == "" {
			errs = append(errs, "provider.pool_key must not be empty")
		}
		if p.SessionTTL < 0 {
			errs = append(errs, "provider.session_ttl must not be negative")
		}
		if r.Addr == "" {
			errs = append(errs, "redis.addr must not be empty")
		}
		if len(errs) > 0 {
			return errors.New(strings.Join(errs, "; "))
		}
		return nil
	}
	return fmt.Errorf("provider.backend must be one of [redis, memory], got %q", p.Backend)
}

func validateKafka(k KafkaConfig) error {
	if len(k.Brokers) == 0 {
		return nil
	}
	if k.TravelTopic == "" || k.ServerReadyTopic == "" {
		return errors.New("kafka.travel_topic and kafka.server_ready_topic must be set when brokers are configured")
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, text], got %q", l.Format)
	}
	return nil
}

// Load reads the lobby-agent YAML from dir, applies LOBBY_* environment
// overrides and validates the result.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName("lobby-agent")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8090)
	v.SetDefault("server.grpc_port", 50090)

	v.SetDefault("lobby.game_key", "urbanshadows")
	v.SetDefault("lobby.operation_timeout", "30s")
	v.SetDefault("lobby.default_max_results", 50)

	v.SetDefault("provider.backend", BackendRedis)
	v.SetDefault("provider.pool_key", "lobby:sessions")
	v.SetDefault("provider.session_ttl", "2h")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("kafka.travel_topic", "lobby_travel")
	v.SetDefault("kafka.server_ready_topic", "game_server_ready")

	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
