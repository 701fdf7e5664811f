package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	KPI      KPIConfig      `mapstructure:"kpi"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

type KPIConfig struct {
	DistanceThreshold float64 `mapstructure:"distance_threshold"`
	TimeWindowMS      int64   `mapstructure:"time_window_ms"`
	BatchSize         int     `mapstructure:"batch_size"`
	SpeedThreshold    float64 `mapstructure:"speed_threshold"`
	CachePrefix       string  `mapstructure:"cache_prefix"`
	CacheTTLSeconds   int     `mapstructure:"cache_ttl_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from the optional file at path plus SAFETY_KPI_*
// environment variables, with sane defaults for everything except the
// database DSN.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kpi.distance_threshold", 2.0)
	v.SetDefault("kpi.time_window_ms", 250)
	v.SetDefault("kpi.batch_size", 200)
	v.SetDefault("kpi.speed_threshold", 1.5)
	v.SetDefault("kpi.cache_prefix", "aggregation")
	v.SetDefault("kpi.cache_ttl_seconds", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix("SAFETY_KPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about. Keys without
	// defaults must be bound explicitly or env-only values never reach
	// Unmarshal.
	for _, key := range []string{"database.dsn", "auth.secret", "redis.password"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	return &cfg, nil
}
