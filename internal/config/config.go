// Package config loads process configuration from the environment, following
// the same flat-struct, required-field-checked style across the codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv      string
	ServiceName string
	LogLevel    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int

	TwitchClientID     string
	TwitchClientSecret string
	EventSubWSURL      string

	OverlayAddr  string
	MetricsAddr  string
	OSCAddr      string
	GameTCPAddr  string
	GameHTTPAddr string
	WSGatewayAddr string

	MusicPollURL      string
	MusicPollInterval time.Duration

	AdRestartHour int // local hour (0-23) the EventSub connection is recycled
	TimeZone      string

	AudioMaxStringLength    int
	AudioMaxDataSize        int
	AudioRateLimitPerSecond int

	LimitBreakRewardIDs     []string
	LimitBreakBarCapacity   int64

	TwitchBroadcasterID string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      os.Getenv("APP_ENV"),
		ServiceName: getEnvOrDefault("SERVICE_NAME", "eventfabric"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnvOrDefault("DB_PORT", "5432"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		TwitchClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret: os.Getenv("TWITCH_CLIENT_SECRET"),
		EventSubWSURL:      getEnvOrDefault("EVENTSUB_WS_URL", "wss://eventsub.wss.twitch.tv/ws"),

		OverlayAddr:  getEnvOrDefault("OVERLAY_ADDR", ":9001"),
		MetricsAddr:  getEnvOrDefault("METRICS_ADDR", ":9090"),
		OSCAddr:      getEnvOrDefault("OSC_ADDR", ":9002"),
		GameTCPAddr:  getEnvOrDefault("GAME_TCP_ADDR", ":9003"),
		GameHTTPAddr: getEnvOrDefault("GAME_HTTP_ADDR", ":9004"),
		WSGatewayAddr: getEnvOrDefault("WS_GATEWAY_ADDR", ":9005"),

		MusicPollURL: os.Getenv("MUSIC_POLL_URL"),

		TimeZone: getEnvOrDefault("TZ", "America/Los_Angeles"),

		TwitchBroadcasterID: os.Getenv("TWITCH_BROADCASTER_ID"),
	}

	if raw := os.Getenv("LIMITBREAK_REWARD_IDS"); raw != "" {
		cfg.LimitBreakRewardIDs = strings.Split(raw, ",")
	}

	var err error
	if cfg.RedisDB, err = getEnvOrDefaultInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.RedisPoolSize, err = getEnvOrDefaultInt("REDIS_POOL_SIZE", 10); err != nil {
		return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
	}
	if cfg.RedisMinIdleConns, err = getEnvOrDefaultInt("REDIS_MIN_IDLE_CONNS", 5); err != nil {
		return nil, fmt.Errorf("invalid REDIS_MIN_IDLE_CONNS: %w", err)
	}
	if cfg.RedisMaxRetries, err = getEnvOrDefaultInt("REDIS_MAX_RETRIES", 3); err != nil {
		return nil, fmt.Errorf("invalid REDIS_MAX_RETRIES: %w", err)
	}
	if cfg.AdRestartHour, err = getEnvOrDefaultInt("EVENTSUB_RESTART_HOUR", 7); err != nil {
		return nil, fmt.Errorf("invalid EVENTSUB_RESTART_HOUR: %w", err)
	}
	if cfg.AudioMaxStringLength, err = getEnvOrDefaultInt("AUDIO_MAX_STRING_LENGTH", 256); err != nil {
		return nil, fmt.Errorf("invalid AUDIO_MAX_STRING_LENGTH: %w", err)
	}
	if cfg.AudioMaxDataSize, err = getEnvOrDefaultInt("AUDIO_MAX_DATA_SIZE", 1<<20); err != nil {
		return nil, fmt.Errorf("invalid AUDIO_MAX_DATA_SIZE: %w", err)
	}
	if cfg.AudioRateLimitPerSecond, err = getEnvOrDefaultInt("AUDIO_RATE_LIMIT_PER_SECOND", 100); err != nil {
		return nil, fmt.Errorf("invalid AUDIO_RATE_LIMIT_PER_SECOND: %w", err)
	}
	barCapacity, err := getEnvOrDefaultInt("LIMITBREAK_BAR_CAPACITY", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid LIMITBREAK_BAR_CAPACITY: %w", err)
	}
	cfg.LimitBreakBarCapacity = int64(barCapacity)

	pollSeconds, err := getEnvOrDefaultInt("MUSIC_POLL_INTERVAL_SECONDS", 15)
	if err != nil {
		return nil, fmt.Errorf("invalid MUSIC_POLL_INTERVAL_SECONDS: %w", err)
	}
	cfg.MusicPollInterval = time.Duration(pollSeconds) * time.Second

	if cfg.DBHost == "" || cfg.DBUser == "" || cfg.DBPassword == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("missing required environment variables: DB_HOST, DB_USER, DB_PASSWORD, DB_NAME")
	}
	if cfg.TwitchClientID == "" || cfg.TwitchClientSecret == "" {
		return nil, fmt.Errorf("missing required environment variables: TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}

	return cfg, nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvOrDefaultInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
