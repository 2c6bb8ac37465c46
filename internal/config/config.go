// Package config loads server settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zoravur/realtime-chat/internal/ingest"
)

type RateLimit struct {
	Burst    int           `yaml:"burst"`
	Interval time.Duration `yaml:"interval"`
}

type WebSocket struct {
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadLimit      int64         `yaml:"read_limit"`
	SendQueue      int           `yaml:"send_queue"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
}

type Config struct {
	HTTPAddr         string        `yaml:"http_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	DatabaseURL      string        `yaml:"database_url"`
	MigrateOnStart   bool          `yaml:"migrate_on_start"`
	RedisURL         string        `yaml:"redis_url"`
	NodeID           string        `yaml:"node_id"`
	LogLevel         string        `yaml:"log_level"`
	LogDevelopment   bool          `yaml:"log_development"`
	MaxMessageLength int           `yaml:"max_message_length"`
	AutoEnroll       bool          `yaml:"auto_enroll"`
	WebSocket        WebSocket     `yaml:"websocket"`
}

func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		ShutdownTimeout:  5 * time.Second,
		LogLevel:         "info",
		MaxMessageLength: ingest.DefaultMaxContentLength,
		AutoEnroll:       true,
		WebSocket: WebSocket{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
			ReadLimit:      16 << 10,
			SendQueue:      256,
			PingInterval:   30 * time.Second,
			WriteTimeout:   10 * time.Second,
			RateLimit:      RateLimit{Burst: 10, Interval: 200 * time.Millisecond},
		},
	}
}

// Load reads path (skipped when empty) over the defaults and applies
// environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CHAT_HTTP_ADDR", &c.HTTPAddr)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("CHAT_NODE_ID", &c.NodeID)
	str("CHAT_LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("CHAT_ALLOWED_ORIGINS"); ok && v != "" {
		c.WebSocket.AllowedOrigins = splitList(v)
	}

	var errs []error
	parse := func(key string, fn func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	parse("CHAT_LOG_DEV", func(v string) (err error) {
		c.LogDevelopment, err = strconv.ParseBool(v)
		return err
	})
	parse("CHAT_MIGRATE_ON_START", func(v string) (err error) {
		c.MigrateOnStart, err = strconv.ParseBool(v)
		return err
	})
	parse("CHAT_AUTO_ENROLL", func(v string) (err error) {
		c.AutoEnroll, err = strconv.ParseBool(v)
		return err
	})
	parse("CHAT_MAX_MESSAGE_LENGTH", func(v string) (err error) {
		c.MaxMessageLength, err = strconv.Atoi(v)
		return err
	})
	parse("CHAT_RATE_LIMIT_BURST", func(v string) (err error) {
		c.WebSocket.RateLimit.Burst, err = strconv.Atoi(v)
		return err
	})
	parse("CHAT_RATE_LIMIT_INTERVAL", func(v string) (err error) {
		c.WebSocket.RateLimit.Interval, err = time.ParseDuration(v)
		return err
	})
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("max_message_length must be positive"))
	}
	if c.WebSocket.ReadLimit <= 0 {
		errs = append(errs, errors.New("websocket.read_limit must be positive"))
	}
	if c.WebSocket.SendQueue <= 0 {
		errs = append(errs, errors.New("websocket.send_queue must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.WriteTimeout <= 0 {
		errs = append(errs, errors.New("websocket ping_interval and write_timeout must be positive"))
	}
	if c.WebSocket.RateLimit.Burst <= 0 || c.WebSocket.RateLimit.Interval <= 0 {
		errs = append(errs, errors.New("websocket.rate_limit needs a positive burst and interval"))
	}
	for _, o := range c.WebSocket.AllowedOrigins {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("allowed origin %q is not scheme://host", o))
		}
	}
	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			errs = append(errs, fmt.Errorf("redis_url: %w", err))
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
