package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the host configuration. Flags override the environment.
type Config struct {
	Dir           string `env:"PLUGINHOST_DIR" envDefault:"./plugins"`
	CacheDir      string `env:"PLUGINHOST_CACHE_DIR"`
	DBPath        string `env:"PLUGINHOST_DB"`
	ExclusionFile string `env:"PLUGINHOST_EXCLUSION_FILE"`
	Extension     string `env:"PLUGINHOST_EXTENSION" envDefault:".zip"`
	LogLevel      string `env:"PLUGINHOST_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"PLUGINHOST_LOG_FORMAT" envDefault:"text"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
