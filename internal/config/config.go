package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string        `yaml:"port"`
	DBDSN          string        `yaml:"db_dsn"`
	LogFile        string        `yaml:"log_file"`
	OwnerID        string        `yaml:"owner_id"`
	OwnerPIN       string        `yaml:"owner_pin"`
	CloudDriver    string        `yaml:"cloud_driver"` // memory | postgres
	CloudDSN       string        `yaml:"cloud_dsn"`
	RedisAddr      string        `yaml:"redis_addr"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	LicenseSecret  string        `yaml:"license_secret"`
	LicenseToken   string        `yaml:"license_token"`
	MaxRequestBody int           `yaml:"max_request_body"`
}

func Load() Config {
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		DBDSN:          getEnv("DB_DSN", "cropledger.db"), // sqlite file in working dir
		LogFile:        getEnv("LOG_FILE", "./cropledger.log"),
		OwnerID:        getEnv("OWNER_ID", ""),
		OwnerPIN:       getEnv("OWNER_PIN", ""),
		CloudDriver:    getEnv("CLOUD_DRIVER", "memory"),
		CloudDSN:       getEnv("CLOUD_DSN", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		ProbeInterval:  5 * time.Second,
		LicenseSecret:  getEnv("LICENSE_SECRET", ""),
		LicenseToken:   getEnv("LICENSE_TOKEN", ""),
		MaxRequestBody: 1 << 20,
	}
	if s := os.Getenv("PROBE_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			cfg.ProbeInterval = d
		} else {
			log.Printf("[config] ignoring PROBE_INTERVAL=%q", s)
		}
	}
	if path := os.Getenv("CROPLEDGER_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			log.Printf("[warn] config file %s: %v", path, err)
		}
	}
	if cfg.CloudDriver == "postgres" && cfg.CloudDSN == "" {
		log.Println("[warn] CLOUD_DRIVER=postgres without CLOUD_DSN, falling back to memory")
		cfg.CloudDriver = "memory"
	}
	log.Printf("[config] PORT=%s DB_DSN=%s LOG_FILE=%s CLOUD_DRIVER=%s REDIS_ADDR=%s PROBE_INTERVAL=%s",
		cfg.Port, cfg.DBDSN, cfg.LogFile, cfg.CloudDriver, cfg.RedisAddr, cfg.ProbeInterval)
	return cfg
}

// overlay applies non-zero values from a YAML file over the env settings.
func (c *Config) overlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f Config
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Port, f.Port)
	set(&c.DBDSN, f.DBDSN)
	set(&c.LogFile, f.LogFile)
	set(&c.OwnerID, f.OwnerID)
	set(&c.CloudDriver, f.CloudDriver)
	set(&c.CloudDSN, f.CloudDSN)
	set(&c.RedisAddr, f.RedisAddr)
	set(&c.OwnerPIN, f.OwnerPIN)
	set(&c.LicenseSecret, f.LicenseSecret)
	set(&c.LicenseToken, f.LicenseToken)
	if f.ProbeInterval > 0 {
		c.ProbeInterval = f.ProbeInterval
	}
	if f.MaxRequestBody > 0 {
		c.MaxRequestBody = f.MaxRequestBody
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
