package config

import (
	"errors"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. AUTOGRADE_REMOTE_BASE_URL.
const EnvPrefix = "AUTOGRADE_"

const (
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"PORT"`
	} `yaml:"server" envPrefix:"SERVER_"`
	Remote struct {
		BaseURL string `yaml:"base_url" env:"BASE_URL"`
		Timeout string `yaml:"timeout" env:"TIMEOUT"`
	} `yaml:"remote" envPrefix:"REMOTE_"`
	Store struct {
		Driver     string `yaml:"driver" env:"DRIVER"`
		SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	} `yaml:"store" envPrefix:"STORE_"`
	Redis struct {
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db" env:"DB"`
	} `yaml:"redis" envPrefix:"REDIS_"`
	Postgres struct {
		URL string `yaml:"url" env:"URL"`
	} `yaml:"postgres" envPrefix:"POSTGRES_"`
	Tests struct {
		TTL string `yaml:"ttl" env:"TTL"`
	} `yaml:"tests" envPrefix:"TESTS_"`
	Submit struct {
		MaxAttempts int    `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
		InitialWait string `yaml:"initial_wait" env:"INITIAL_WAIT"`
		MaxWait     string `yaml:"max_wait" env:"MAX_WAIT"`
	} `yaml:"submit" envPrefix:"SUBMIT_"`
}

// Default returns the settings used when neither the file nor the environment set a key.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Remote.BaseURL = "http://localhost:5000"
	cfg.Remote.Timeout = "15s"
	cfg.Store.Driver = DriverSQLite
	cfg.Store.SQLitePath = "data/answers.db"
	cfg.Tests.TTL = "10m"
	cfg.Submit.MaxAttempts = 3
	cfg.Submit.InitialWait = "500ms"
	cfg.Submit.MaxWait = "5s"
	return cfg
}

// Load reads YAML config from path on top of the defaults, then applies environment overrides.
// A missing file is not an error; the defaults and environment still apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
