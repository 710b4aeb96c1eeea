// File: internal/config/config_test.go
package config

import (
	"bytes"
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

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "unibrowse", cfg.Logger().ServiceName)
	assert.Equal(t, 9009, cfg.Server().Port)
	assert.Equal(t, "127.0.0.1:9009", cfg.Server().Addr())
	assert.Equal(t, 10*time.Second, cfg.RPC().DefaultTimeout)
	assert.Equal(t, 15*time.Second, cfg.RPC().ExecuteTimeout)
	assert.Equal(t, 10000, cfg.Interactions().MaxEvents)
	assert.False(t, cfg.Interactions().Retention.Enabled())
	assert.Equal(t, ExecutorExtension, cfg.Browser().Executor)
	assert.True(t, cfg.Browser().Headless)
	assert.Empty(t, cfg.Database().URL)

	require.NoError(t, cfg.Validate(), "defaults must always validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		bad := *cfg
		bad.ServerCfg.Port = 0
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.port must be between 1 and 65535")

		bad = *cfg
		bad.RPCCfg.DefaultTimeout = 0
		err = bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rpc.default_timeout must be a positive duration")

		bad = *cfg
		bad.RPCCfg.ExecuteTimeout = -time.Second
		err = bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rpc.execute_timeout")

		bad = *cfg
		bad.InteractionsCfg.MaxEvents = -1
		err = bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "interactions.max_events must not be negative")

		bad = *cfg
		bad.BrowserCfg.Executor = "selenium"
		err = bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.executor")
	})

	t.Run("Retention Validation", func(t *testing.T) {
		testCases := []struct {
			name      string
			cfg       RetentionConfig
			expectErr string
		}{
			{"disabled", RetentionConfig{}, ""},
			{"enabled", RetentionConfig{Schedule: "@hourly", MaxAge: 24 * time.Hour}, ""},
			{"max age without schedule", RetentionConfig{MaxAge: time.Hour}, "schedule is required"},
			{"schedule without max age", RetentionConfig{Schedule: "@daily"}, "max_age must be a positive duration"},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				err := tc.cfg.Validate()
				if tc.expectErr == "" {
					assert.NoError(t, err)
					return
				}
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErr)
			})
		}
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
server:
  port: 7777
rpc:
  execute_timeout: 20s
interactions:
  max_events: 50
  retention:
    schedule: "@every 1m"
    max_age: 2h
browser:
  executor: cdp
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 7777, cfg.Server().Port)
		assert.Equal(t, 20*time.Second, cfg.RPC().ExecuteTimeout)
		assert.Equal(t, 10*time.Second, cfg.RPC().DefaultTimeout, "unset keys keep their defaults")
		assert.Equal(t, 50, cfg.Interactions().MaxEvents)
		assert.True(t, cfg.Interactions().Retention.Enabled())
		assert.Equal(t, 2*time.Hour, cfg.Interactions().Retention.MaxAge)
		assert.Equal(t, ExecutorCDP, cfg.Browser().Executor)
	})

	t.Run("Executor Name Is Normalized", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.executor", " Extension ")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, ExecutorExtension, cfg.Browser().Executor)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("server.port", 70000)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "server.port")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
database:
  url: "postgres://configfile/db"
`)))

		testDBURL := "postgres://envvar/db"
		t.Setenv("UNIBROWSE_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Database().URL, "env must override the config file")
	})

	t.Run("Journal Path Expansion", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("interactions.journal_path", "~/unibrowse/journal.db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		home, err := homedir.Dir()
		require.NoError(t, err)
		assert.Equal(t, home+"/unibrowse/journal.db", cfg.Interactions().JournalPath)
	})
}
