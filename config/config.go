// Package config loads process configuration from the environment.
// A .env file in the working directory is picked up automatically.
//
// All values have working defaults so a bare `server` starts with an
// in-memory day boundary of UTC midnight, a sqlite database next to the
// binary, and the stock quota policy.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"

	"github.com/orchard/quota-engine/quota"
)

type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Quota  QuotaConfig
}

type ServerConfig struct {
	Port int
}

type StoreConfig struct {
	// Driver is one of "sqlite", "postgres", "memory".
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

type QuotaConfig struct {
	BaseAllowance   int
	RewardCap       int
	RewardBonus     int
	AbsoluteCeiling int

	// DayOffsetHours fixes the day boundary at midnight UTC+offset.
	DayOffsetHours int
}

// Load reads the environment and validates the quota values.
func Load() (*Config, error) {
	def := quota.DefaultPolicy()

	cfg := &Config{
		Server: ServerConfig{
			Port: intEnv("PORT", 8080),
		},
		Store: StoreConfig{
			Driver:      stringEnv("STORE_DRIVER", "sqlite"),
			SQLitePath:  stringEnv("SQLITE_PATH", "quota.db"),
			PostgresDSN: os.Getenv("POSTGRES_DSN"),
		},
		Quota: QuotaConfig{
			BaseAllowance:   intEnv("QUOTA_BASE_ALLOWANCE", def.BaseAllowance),
			RewardCap:       intEnv("QUOTA_REWARD_CAP", def.RewardCap),
			RewardBonus:     intEnv("QUOTA_REWARD_BONUS", def.RewardBonus),
			AbsoluteCeiling: intEnv("QUOTA_ABSOLUTE_CEILING", def.AbsoluteCeiling),
			DayOffsetHours:  intEnv("DAY_BOUNDARY_OFFSET_HOURS", 0),
		},
	}

	switch cfg.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.PostgresDSN == "" {
		return nil, fmt.Errorf("STORE_DRIVER=postgres requires POSTGRES_DSN")
	}

	// Fail at load time, not on the first rejected grant.
	if _, err := cfg.Policy(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Policy builds the validated immutable quota policy.
func (c *Config) Policy() (quota.Policy, error) {
	return quota.NewPolicy(
		c.Quota.BaseAllowance,
		c.Quota.RewardCap,
		c.Quota.RewardBonus,
		c.Quota.AbsoluteCeiling,
	)
}

// Calendar builds the single day-boundary rule for the process.
func (c *Config) Calendar() quota.Calendar {
	return quota.NewCalendar(c.Quota.DayOffsetHours)
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		// Malformed numeric config is a deployment mistake; surface it
		// loudly instead of running with a silent default.
		log.Fatalf("invalid %s=%q: %v", key, v, err)
	}
	return n
}
