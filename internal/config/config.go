// Package config loads and validates service configuration.
// Precedence: flags > environment > config file > defaults. Validation is
// fail-fast: the service does not start with an invalid configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hostforge/fleetd/internal/health"
)

type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	BadgerPath  string `mapstructure:"badger_path"`
	NATSURL     string `mapstructure:"nats_url"`

	ReservationExpiryInterval time.Duration `mapstructure:"reservation_expiry_interval"`
	StaleNodeInterval         time.Duration `mapstructure:"stale_node_interval"`
	DefaultReservationTTL     time.Duration `mapstructure:"default_reservation_ttl"`
	MaxReservationTTL         time.Duration `mapstructure:"max_reservation_ttl"`
	HeartbeatStaleTimeout     time.Duration `mapstructure:"heartbeat_stale_timeout"`

	HealthCPUThreshold  float64 `mapstructure:"health_cpu_threshold"`
	HealthMemThreshold  float64 `mapstructure:"health_mem_threshold"`
	HealthDiskThreshold float64 `mapstructure:"health_disk_threshold"`
	HealthMaxProcesses  int     `mapstructure:"health_max_processes"`
	TrendHysteresis     int     `mapstructure:"trend_hysteresis"`

	SweepBatchLimit int           `mapstructure:"sweep_batch_limit"`
	SweepBatchPause time.Duration `mapstructure:"sweep_batch_pause"`

	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("badger_path", "./data/badger")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("reservation_expiry_interval", 30*time.Second)
	v.SetDefault("stale_node_interval", 30*time.Second)
	v.SetDefault("default_reservation_ttl", 5*time.Minute)
	v.SetDefault("max_reservation_ttl", time.Hour)
	v.SetDefault("heartbeat_stale_timeout", 2*time.Minute)
	v.SetDefault("health_cpu_threshold", 80.0)
	v.SetDefault("health_mem_threshold", 85.0)
	v.SetDefault("health_disk_threshold", 90.0)
	v.SetDefault("health_max_processes", 400)
	v.SetDefault("trend_hysteresis", 3)
	v.SetDefault("sweep_batch_limit", 200)
	v.SetDefault("sweep_batch_pause", 100*time.Millisecond)
	v.SetDefault("outbox_interval", time.Second)
}

// Load reads the optional yaml file at path, layers FLEETD_* environment
// variables and the bound flag set on top, and validates the result.
// flagSet may be nil.
func Load(path string, flagSet *flag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("FLEETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if flagSet != nil {
		if err := v.BindPFlags(flagSet); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func Validate(cfg *Config) error {
	if cfg.ReservationExpiryInterval <= 0 {
		return fmt.Errorf("reservation_expiry_interval must be positive, got %v", cfg.ReservationExpiryInterval)
	}
	if cfg.StaleNodeInterval <= 0 {
		return fmt.Errorf("stale_node_interval must be positive, got %v", cfg.StaleNodeInterval)
	}
	if cfg.DefaultReservationTTL <= 0 {
		return fmt.Errorf("default_reservation_ttl must be positive, got %v", cfg.DefaultReservationTTL)
	}
	if cfg.MaxReservationTTL < cfg.DefaultReservationTTL {
		return fmt.Errorf("max_reservation_ttl %v is below default_reservation_ttl %v", cfg.MaxReservationTTL, cfg.DefaultReservationTTL)
	}
	if cfg.HeartbeatStaleTimeout <= 0 {
		return fmt.Errorf("heartbeat_stale_timeout must be positive, got %v", cfg.HeartbeatStaleTimeout)
	}
	for name, pct := range map[string]float64{
		"health_cpu_threshold":  cfg.HealthCPUThreshold,
		"health_mem_threshold":  cfg.HealthMemThreshold,
		"health_disk_threshold": cfg.HealthDiskThreshold,
	} {
		if pct <= 0 || pct >= 100 {
			return fmt.Errorf("%s must be in (0,100), got %v", name, pct)
		}
	}
	if cfg.TrendHysteresis < 0 {
		return fmt.Errorf("trend_hysteresis must be non-negative, got %d", cfg.TrendHysteresis)
	}
	if cfg.SweepBatchLimit <= 0 {
		return fmt.Errorf("sweep_batch_limit must be positive, got %d", cfg.SweepBatchLimit)
	}
	return nil
}

// HealthThresholds adapts config fields to the health package.
func (c *Config) HealthThresholds() health.Thresholds {
	return health.Thresholds{
		CPUPercent:   c.HealthCPUThreshold,
		MemPercent:   c.HealthMemThreshold,
		DiskPercent:  c.HealthDiskThreshold,
		MaxProcesses: c.HealthMaxProcesses,
	}
}
