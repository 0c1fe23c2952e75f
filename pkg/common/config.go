package common

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config is the environment of the browse binary.
type Config struct {
	ApiUrl        string
	PageSize      int
	RedisUrl      string
	RedisPassword string
	RabbitUrl     string
	ApiToken      string
	HttpTimeout   time.Duration
	CacheTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		ApiUrl:      "http://localhost:8080",
		PageSize:    12,
		HttpTimeout: 10 * time.Second,
		CacheTTL:    5 * time.Minute,
	}
}

// LoadConfig reads the environment on top of DefaultConfig.
//
//	CATALOG_API_URL
//	CATALOG_PAGE_SIZE
//	REDIS_URL     (redis:// url or host:port)
//	REDIS_PASSWORD
//	RABBIT_URL
//	API_TOKEN
//	HTTP_TIMEOUT  (seconds)
//	CACHE_TTL     (seconds)
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	if v := getenv("CATALOG_API_URL"); v != "" {
		cfg.ApiUrl = v
	}
	if _, err := url.ParseRequestURI(cfg.ApiUrl); err != nil {
		return cfg, fmt.Errorf("CATALOG_API_URL: %w", err)
	}
	if v := getenv("CATALOG_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("CATALOG_PAGE_SIZE must be a positive integer, got %q", v)
		}
		cfg.PageSize = n
	}
	cfg.RedisUrl = getenv("REDIS_URL")
	cfg.RedisPassword = getenv("REDIS_PASSWORD")
	cfg.RabbitUrl = getenv("RABBIT_URL")
	cfg.ApiToken = getenv("API_TOKEN")
	if err := seconds(getenv, "HTTP_TIMEOUT", &cfg.HttpTimeout); err != nil {
		return cfg, err
	}
	if err := seconds(getenv, "CACHE_TTL", &cfg.CacheTTL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func seconds(getenv func(string) string, env string, curr *time.Duration) error {
	v := getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("%s must be a positive number of seconds, got %q", env, v)
	}
	*curr = time.Duration(n) * time.Second
	return nil
}
