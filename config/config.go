package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort  string
	DBPath      string
	CallTimeout time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:  envString("UNO_PORT", ":8080"),
		DBPath:      envString("UNO_DB_PATH", "./uno.db"),
		CallTimeout: envSeconds("UNO_CALL_TIMEOUT_SECONDS", 30*time.Second),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
