package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Service ServiceConfig `yaml:"service"`
	Store   StoreConfig   `yaml:"store"`
	Aiding  AidingConfig  `yaml:"aiding"`
}

type SerialConfig struct {
	// Device may be empty to auto-detect /dev/ttyACM*, /dev/ttyUSB*.
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// ResetPin, when > 0, is the BCM GPIO wired to the receiver's RESET_N
	// line; it is pulsed before bring-up.
	ResetPin  int           `yaml:"reset_pin"`
	ResetHold time.Duration `yaml:"reset_hold"`
}

type ServiceConfig struct {
	Token string `yaml:"token"`

	OnlinePrimary  string `yaml:"online_primary"`
	OnlineBackup   string `yaml:"online_backup"`
	OfflinePrimary string `yaml:"offline_primary"`
	OfflineBackup  string `yaml:"offline_backup"`

	Timeout time.Duration `yaml:"timeout"`

	GNSS      []string `yaml:"gnss"`
	DataTypes []string `yaml:"data_types"`

	// PeriodWeeks/Resolution shape the offline download (how many weeks
	// of almanac data, at what per-day resolution).
	PeriodWeeks int `yaml:"period_weeks"`
	Resolution  int `yaml:"resolution"`
}

type StoreConfig struct {
	Dir string `yaml:"dir"`
}

type AidingConfig struct {
	Online  bool `yaml:"online"`
	Offline bool `yaml:"offline"`

	// MinYear guards the time assist against unset system clocks.
	MinYear int `yaml:"min_year"`

	Refresh time.Duration `yaml:"refresh"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Service.Token == "" {
		return Config{}, fmt.Errorf("service.token is required")
	}

	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 9600
	}
	if cfg.Serial.ResetHold <= 0 {
		cfg.Serial.ResetHold = 100 * time.Millisecond
	}

	if cfg.Service.Timeout <= 0 {
		cfg.Service.Timeout = 30 * time.Second
	}
	if len(cfg.Service.GNSS) == 0 {
		cfg.Service.GNSS = []string{"gps", "glo"}
	}
	if len(cfg.Service.DataTypes) == 0 {
		cfg.Service.DataTypes = []string{"eph", "alm", "aux"}
	}
	if cfg.Service.PeriodWeeks <= 0 {
		cfg.Service.PeriodWeeks = 4
	}
	if cfg.Service.Resolution <= 0 {
		cfg.Service.Resolution = 1
	}

	if cfg.Aiding.MinYear <= 0 {
		cfg.Aiding.MinYear = 2020
	}
	if cfg.Aiding.Refresh <= 0 {
		cfg.Aiding.Refresh = 24 * time.Hour
	}
	if cfg.Aiding.Offline && cfg.Store.Dir == "" {
		return Config{}, fmt.Errorf("store.dir is required when aiding.offline is enabled")
	}

	return cfg, nil
}
