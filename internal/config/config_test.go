// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "otms-autofill", cfg.Logger.ServiceName)
	assert.Equal(t, ModeAttach, cfg.Browser.Mode)
	assert.Equal(t, 9222, cfg.Browser.DebugPort)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 3, cfg.Form.Retries)
	assert.Equal(t, 6*time.Second, cfg.Form.LocateTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Form.StaleBackoff)
	assert.Equal(t, 100*time.Millisecond, cfg.Form.PausePoll)
	assert.Equal(t, time.Second, cfg.Form.StrategyFloor)
	assert.Equal(t, "sr.no", cfg.Data.KeyColumn)
	assert.Contains(t, cfg.Form.URL, "NewPreEnrolment.aspx")
	assert.NoError(t, cfg.Validate())
}

func TestDebuggerURL(t *testing.T) {
	b := BrowserConfig{DebugPort: 9333}
	assert.Equal(t, "ws://127.0.0.1:9333", b.DebuggerURL())

	b.DebugHost = "localhost"
	assert.Equal(t, "ws://localhost:9333", b.DebuggerURL())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Browser Mode", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Browser.Mode = "remote"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.mode must be")

		cfg.Browser.Mode = ModeNew
		cfg.Browser.DebugPort = 0
		assert.NoError(t, cfg.Validate(), "launch mode does not need a debug port")
	})

	t.Run("Debug Port", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Browser.DebugPort = 70000
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.debug_port")
	})

	t.Run("Form Timings", func(t *testing.T) {
		valid := NewDefaultConfig().Form
		assert.NoError(t, valid.Validate())

		noRetries := valid
		noRetries.Retries = 0
		assert.ErrorContains(t, noRetries.Validate(), "retries must be a positive integer")

		noTimeout := valid
		noTimeout.LocateTimeout = 0
		assert.ErrorContains(t, noTimeout.Validate(), "locate_timeout")

		negative := valid
		negative.StaleBackoff = -time.Second
		assert.ErrorContains(t, negative.Validate(), "must not be negative")
	})

	t.Run("Key Column", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Data.KeyColumn = "  "
		assert.ErrorContains(t, cfg.Validate(), "data.key_column")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  mode: new
  headless: true
form:
  retries: 5
  stale_backoff: 50ms
  base_dir: /srv/esf
data:
  file: people.xlsx
  sheet: Batch 3
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, ModeNew, cfg.Browser.Mode)
		assert.True(t, cfg.Browser.Headless)
		assert.Equal(t, 5, cfg.Form.Retries)
		assert.Equal(t, 50*time.Millisecond, cfg.Form.StaleBackoff)
		assert.Equal(t, "/srv/esf", cfg.Form.BaseDir)
		assert.Equal(t, "Batch 3", cfg.Data.Sheet)
		// Defaults survive alongside file values.
		assert.Equal(t, "info", cfg.Logger.Level)
		assert.Equal(t, 6*time.Second, cfg.Form.LocateTimeout)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("form.retries", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "retries must be a positive integer")
	})

	t.Run("Home Expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		require.NoError(t, err)

		v := viper.New()
		SetDefaults(v)
		v.Set("form.base_dir", "~/ESF")
		v.Set("data.file", "~/data/people.csv")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "ESF"), cfg.Form.BaseDir)
		assert.Equal(t, filepath.Join(home, "data", "people.csv"), cfg.Data.File)
	})
}
