// Package config loads runtime configuration from an optional YAML file
// (CONFIG_FILE) with environment variable overrides. Environment wins so
// deployments can patch single values without editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tourplan/internal/model"
)

type Depot struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lng  float64 `yaml:"lng"`
}

type Config struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	MapsAPIKey  string `yaml:"maps_api_key"`
	MapsBaseURL string `yaml:"maps_base_url"`

	Depot    Depot   `yaml:"depot"`
	SpeedKPH float64 `yaml:"speed_kph"`

	SolveBudgetSec      int `yaml:"solve_budget_sec"`
	LargeSolveBudgetSec int `yaml:"large_solve_budget_sec"`

	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`

	MigrationsDir string `yaml:"migrations_dir"`
}

// Ishigaki port terminal, the fleet's operational base.
var defaultDepot = Depot{Name: "Operations Base", Lat: 24.3448, Lng: 124.1572}

func defaults() Config {
	return Config{
		Addr:                ":8080",
		Depot:               defaultDepot,
		SpeedKPH:            30,
		SolveBudgetSec:      30,
		LargeSolveBudgetSec: 60,
		RateRPS:             50,
		RateBurst:           100,
		MigrationsDir:       "db/migrations",
	}
}

// Load builds the config from defaults, the optional YAML file named by
// CONFIG_FILE, and environment overrides, in that order.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.SpeedKPH <= 0 {
		return Config{}, fmt.Errorf("speed_kph must be positive, got %v", cfg.SpeedKPH)
	}
	if err := cfg.DepotLocation().Validate(); err != nil {
		return Config{}, fmt.Errorf("depot: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Addr, "ADDR")
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.RedisURL, "REDIS_URL")
	setStr(&cfg.MapsAPIKey, "MAPS_API_KEY")
	setStr(&cfg.MapsBaseURL, "MAPS_BASE_URL")
	setStr(&cfg.MigrationsDir, "MIGRATIONS_DIR")

	if v := os.Getenv("SPEED_KPH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SpeedKPH = f
		}
	}
	if v := os.Getenv("DEPOT_LAT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Depot.Lat = f
		}
	}
	if v := os.Getenv("DEPOT_LNG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Depot.Lng = f
		}
	}
	// Zero is meaningful for the budgets: it turns the solver path off
	// and routes every request through the fallback assigner.
	if v := os.Getenv("SOLVE_BUDGET_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SolveBudgetSec = n
		}
	}
	if v := os.Getenv("LARGE_SOLVE_BUDGET_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.LargeSolveBudgetSec = n
		}
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateRPS = f
		}
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateBurst = n
		}
	}
}

func (c Config) DepotLocation() model.Location {
	return model.Location{Name: c.Depot.Name, Lat: c.Depot.Lat, Lng: c.Depot.Lng}
}

func (c Config) SolveBudget() time.Duration {
	return time.Duration(c.SolveBudgetSec) * time.Second
}

func (c Config) LargeSolveBudget() time.Duration {
	return time.Duration(c.LargeSolveBudgetSec) * time.Second
}
