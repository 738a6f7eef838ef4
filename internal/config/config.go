// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            string
	PostgresURL     string
	RedisAddr       string
	KafkaBrokers    []string
	CatalogCacheTTL time.Duration
	CheckoutTimeout time.Duration
	OTLPEndpoint    string
	MigrationsPath  string
	AutoMigrate     bool

	StorefrontURL   string
	EmailServiceURL string
	DedupTTL        time.Duration

	env func(string) string
}

// Load reads the environment. defaultPort is used when PORT is unset.
func Load(defaultPort string) (*Config, error) {
	return LoadFrom(os.Getenv, defaultPort)
}

func LoadFrom(getenv func(string) string, defaultPort string) (*Config, error) {
	c := &Config{env: getenv}
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	c.Port = get("PORT", defaultPort)
	c.PostgresURL = get("POSTGRES_URL", "")
	c.RedisAddr = get("REDIS_ADDR", "")
	c.OTLPEndpoint = get("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	c.MigrationsPath = get("MIGRATIONS_PATH", "file://migrations")
	c.StorefrontURL = get("STOREFRONT_SERVICE_URL", "")
	c.EmailServiceURL = get("EMAIL_SERVICE_URL", "")

	if brokers := get("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	}

	var err error
	if c.CatalogCacheTTL, err = duration(get("CATALOG_CACHE_TTL", "5m")); err != nil {
		return nil, fmt.Errorf("CATALOG_CACHE_TTL: %w", err)
	}
	if c.CheckoutTimeout, err = duration(get("CHECKOUT_TIMEOUT", "5s")); err != nil {
		return nil, fmt.Errorf("CHECKOUT_TIMEOUT: %w", err)
	}
	if c.DedupTTL, err = duration(get("NOTIFY_DEDUP_TTL", "24h")); err != nil {
		return nil, fmt.Errorf("NOTIFY_DEDUP_TTL: %w", err)
	}
	if c.AutoMigrate, err = strconv.ParseBool(get("AUTO_MIGRATE", "false")); err != nil {
		return nil, fmt.Errorf("AUTO_MIGRATE: %w", err)
	}

	return c, nil
}

// Require fails naming the first of keys that is unset.
func (c *Config) Require(keys ...string) error {
	for _, key := range keys {
		if strings.TrimSpace(c.env(key)) == "" {
			return fmt.Errorf("%s environment variable is required", key)
		}
	}
	return nil
}

func duration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", s)
	}
	return d, nil
}
