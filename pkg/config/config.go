// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the bridge configuration from a config.env file.
// Fleet devices are provisioned with flat KEY=VALUE files, so the file is
// parsed as dotenv rather than YAML; every key can also be overridden from
// the environment with the MDBRIDGE_ prefix.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

// Config is the full bridge configuration.
type Config struct {
	Port string `mapstructure:"PORT"`
	Baud int    `mapstructure:"BAUD"`

	APIBase string `mapstructure:"API_BASE"`

	MaxCredit   string `mapstructure:"MAX_CREDIT"`
	CompCredit  string `mapstructure:"COMP_CREDIT"`
	CompOneShot bool   `mapstructure:"COMP_ONESHOT"`

	NayaxTimeout time.Duration `mapstructure:"NAYAX_TIMEOUT"`
	VendTimeout  time.Duration `mapstructure:"VEND_TIMEOUT"`
	CreditWait   time.Duration `mapstructure:"CREDIT_WAIT"`
	CreditTTL    time.Duration `mapstructure:"CREDIT_TTL"`

	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_SECONDS"`

	JournalPath string `mapstructure:"JOURNAL_PATH"`
	StatusAddr  string `mapstructure:"STATUS_ADDR"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogPath  string `mapstructure:"LOG_PATH"`
}

// MaxCreditAmount parses the configured credit ceiling.
func (c *Config) MaxCreditAmount() (qibixx.Amount, error) {
	a, err := qibixx.ParseAmount(c.MaxCredit)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_CREDIT %q: %w", c.MaxCredit, err)
	}
	return a, nil
}

// CompCreditAmount parses the comp-mode credit. Comp mode is enabled when
// the key is present and non-empty.
func (c *Config) CompCreditAmount() (qibixx.Amount, bool, error) {
	if c.CompCredit == "" {
		return 0, false, nil
	}
	a, err := qibixx.ParseAmount(c.CompCredit)
	if err != nil {
		return 0, false, fmt.Errorf("invalid COMP_CREDIT %q: %w", c.CompCredit, err)
	}
	return a, true, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BAUD", 115200)
	v.SetDefault("MAX_CREDIT", "10.00")
	v.SetDefault("NAYAX_TIMEOUT", "15s")
	v.SetDefault("VEND_TIMEOUT", "25s")
	v.SetDefault("CREDIT_WAIT", "6s")
	v.SetDefault("CREDIT_TTL", "5m")
	v.SetDefault("HEARTBEAT_SECONDS", "10s")
	v.SetDefault("JOURNAL_PATH", "./data/mdbridge.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "./logs/mdbridge.log")
}

// Load reads path as a dotenv file and resolves the configuration. A
// missing file is not an error; the defaults plus environment overrides
// still apply so a bare device can run with flags alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MDBRIDGE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if !notFound && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	return cfg, nil
}
