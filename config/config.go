package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Models struct {
		HeatingPath string `yaml:"heating_path"`
		CoolingPath string `yaml:"cooling_path"`
		Watch       bool   `yaml:"watch"`
	} `yaml:"models"`
	Inference struct {
		ValidateDomain bool `yaml:"validate_domain"`
		CacheSize      int  `yaml:"cache_size"`
	} `yaml:"inference"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Http.Port = 8080
	c.Http.Timeout = 30 * time.Second
	c.Http.MaxBodyBytes = 1 << 20
	c.Http.AllowedOrigins = []string{"*"}
	c.Models.HeatingPath = "models/heating.json"
	c.Models.CoolingPath = "models/cooling.json"
	c.Models.Watch = true
	c.Inference.ValidateDomain = true
	c.Inference.CacheSize = 1024
	c.Database.Path = "data/ledger.db"
	c.Log = LogConfig{
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
	return &c
}

// Load reads path over the defaults. A missing file yields the defaults;
// unknown keys are an error.
func Load(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.SetStrict(true)
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.Http.Port < 1 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Http.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.Http.MaxBodyBytes <= 0 {
		return errors.New("http.max_body_bytes must be positive")
	}
	if c.Models.HeatingPath == "" || c.Models.CoolingPath == "" {
		return errors.New("models.heating_path and models.cooling_path are required")
	}
	if c.Inference.CacheSize < 0 {
		return errors.New("inference.cache_size must not be negative")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Http.Port)
}
