// Copyright (C) 2026 tagrelay contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Relay    RelayConfig    `yaml:"relay"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
	// SessionTTL bounds owner login sessions.
	SessionTTL time.Duration `yaml:"session_ttl"`
	// OnboardingTokenTTL bounds the single-use token between onboarding
	// phase 1 and phase 2.
	OnboardingTokenTTL time.Duration `yaml:"onboarding_token_ttl"`
	// FailureDelay is the fixed artificial delay before any generic
	// credential failure, against timing-based enumeration.
	FailureDelay time.Duration `yaml:"failure_delay"`
}

type RelayConfig struct {
	// ShareTTL bounds a whole share process from initiation to completion.
	ShareTTL time.Duration `yaml:"share_ttl"`
	// PinAttempts is the bound after which SubmitPin fails closed.
	PinAttempts int `yaml:"pin_attempts"`
	// ContactSessionTTL bounds a finder contact session.
	ContactSessionTTL time.Duration `yaml:"contact_session_ttl"`
	// MessageTTL / MaxMessageTTL bound relayed message retention.
	MessageTTL    time.Duration `yaml:"message_ttl"`
	MaxMessageTTL time.Duration `yaml:"max_message_ttl"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8081,
			BaseURL: "http://localhost:8081",
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost/tagrelay?sslmode=disable",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Auth: AuthConfig{
			JWTIssuer:          "tagrelay",
			SessionTTL:         12 * time.Hour,
			OnboardingTokenTTL: 10 * time.Minute,
			FailureDelay:       500 * time.Millisecond,
		},
		Relay: RelayConfig{
			ShareTTL:          15 * time.Minute,
			PinAttempts:       5,
			ContactSessionTTL: 24 * time.Hour,
			MessageTTL:        7 * 24 * time.Hour,
			MaxMessageTTL:     30 * 24 * time.Hour,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		c.Auth.JWTIssuer = v
	}
	if v := os.Getenv("SHARE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.Relay.ShareTTL = ttl
		}
	}
	if v := os.Getenv("PIN_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Relay.PinAttempts = n
		}
	}
	if v := os.Getenv("MESSAGE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.Relay.MessageTTL = ttl
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.Auth.OnboardingTokenTTL <= 0 {
		return fmt.Errorf("onboarding_token_ttl must be positive")
	}
	if c.Relay.ShareTTL <= 0 {
		return fmt.Errorf("share_ttl must be positive")
	}
	if c.Relay.PinAttempts < 1 {
		return fmt.Errorf("pin_attempts must be at least 1")
	}
	if c.Relay.MaxMessageTTL < c.Relay.MessageTTL {
		return fmt.Errorf("max_message_ttl must be >= message_ttl")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
