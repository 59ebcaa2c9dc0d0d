package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	DataDir        string `toml:"DataDir"`
	MirrorPath     string `toml:"MirrorPath"`
	AdminAccount   string `toml:"AdminAccount"`
	AnnualRateBps  uint64 `toml:"AnnualRateBps"`
	ServiceEnv     string `toml:"ServiceEnv"`
	LogLevel       string `toml:"LogLevel"`
	RateLimitRPS   int    `toml:"RateLimitRPS"`
	RateLimitBurst int    `toml:"RateLimitBurst"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the node could not run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AdminAccount) == "" {
		return fmt.Errorf("AdminAccount must be set")
	}
	if c.AnnualRateBps > 10_000 {
		return fmt.Errorf("AnnualRateBps %d exceeds 10000", c.AnnualRateBps)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RateLimitRPS must be positive")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./streamvault-data"
	}
	if strings.TrimSpace(cfg.ServiceEnv) == "" {
		cfg.ServiceEnv = "local"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS * 2
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./streamvault-data",
		MirrorPath:    "",
		AdminAccount:  "admin",
		AnnualRateBps: 500,
		ServiceEnv:    "local",
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
