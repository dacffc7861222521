package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	HTTPPort int    `mapstructure:"http_port"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	RelayURL string `mapstructure:"relay_url"`

	MPVSocket string `mapstructure:"mpv_socket"`

	// Sync tunables. The drift thresholds are policy knobs, not law.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	DriftSmall        float64       `mapstructure:"drift_small"`
	DriftLarge        float64       `mapstructure:"drift_large"`
	CatchUpRate       float64       `mapstructure:"catch_up_rate"`
	SlowDownRate      float64       `mapstructure:"slow_down_rate"`

	ChatFlushInterval time.Duration `mapstructure:"chat_flush_interval"`
	ChatCap           int           `mapstructure:"chat_cap"`
	ReactionMinGap    time.Duration `mapstructure:"reaction_min_gap"`
	ReactionWindow    time.Duration `mapstructure:"reaction_window"`
	ReactionBurst     int           `mapstructure:"reaction_burst"`

	PingPeriod time.Duration `mapstructure:"ping_period"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("http_port", 8081)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("mpv_socket", "/tmp/mpv.sock")
	v.SetDefault("heartbeat_interval", "2s")
	v.SetDefault("drift_small", 1.5)
	v.SetDefault("drift_large", 8.0)
	v.SetDefault("catch_up_rate", 1.25)
	v.SetDefault("slow_down_rate", 0.75)
	v.SetDefault("chat_flush_interval", "200ms")
	v.SetDefault("chat_cap", 100)
	v.SetDefault("reaction_min_gap", "150ms")
	v.SetDefault("reaction_window", "2s")
	v.SetDefault("reaction_burst", 5)
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
