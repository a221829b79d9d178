// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.env")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `PORT=/dev/ttyAMA0
API_BASE=https://venditt.example/api/v1/user
MAX_CREDIT=12.50
NAYAX_TIMEOUT=20s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", cfg.Port)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, "https://venditt.example/api/v1/user", cfg.APIBase)
	assert.Equal(t, 20*time.Second, cfg.NayaxTimeout)
	assert.Equal(t, 25*time.Second, cfg.VendTimeout)

	max, err := cfg.MaxCreditAmount()
	require.NoError(t, err)
	assert.EqualValues(t, 1250, max)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)

	assert.Equal(t, "10.00", cfg.MaxCredit)
	assert.Equal(t, 15*time.Second, cfg.NayaxTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CreditTTL)
}

func TestCompCreditAmount(t *testing.T) {
	cfg := &Config{}
	_, enabled, err := cfg.CompCreditAmount()
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.CompCredit = "0.25"
	amount, enabled, err := cfg.CompCreditAmount()
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.EqualValues(t, 25, amount)

	cfg.CompCredit = "bogus"
	_, _, err = cfg.CompCreditAmount()
	assert.Error(t, err)
}

func TestMaxCreditAmountInvalid(t *testing.T) {
	cfg := &Config{MaxCredit: "ten dollars"}
	_, err := cfg.MaxCreditAmount()
	assert.Error(t, err)
}
