package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagekit/core"
)

func TestLoad(t *testing.T) {
	// Test loading default config
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify defaults
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "", cfg.Catalog.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENGAGE_SERVER_ADDR", ":9999")
	t.Setenv("ENGAGE_LOG_LEVEL", "debug")
	t.Setenv("ENGAGE_SECURITY_API_KEYS", "k1, k2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Security.APIKeys)
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	configContent := `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "memory"
		}
	}`

	tmpFile, err := os.CreateTemp("", "config_test_*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(configContent)
	require.NoError(t, err)
	tmpFile.Close()

	// Load config from file
	cfg, err := LoadFromFile(tmpFile.Name())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify loaded values
	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{
			name:        "valid defaults",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid environment",
			mutate:      func(c *Config) { c.Environment = "" },
			expectError: true,
		},
		{
			name:        "invalid server timeout",
			mutate:      func(c *Config) { c.Server.ReadTimeout = 0 },
			expectError: true,
		},
		{
			name:        "unknown storage adapter",
			mutate:      func(c *Config) { c.Storage.Adapter = "cassandra" },
			expectError: true,
		},
		{
			name: "sql adapter without dsn",
			mutate: func(c *Config) {
				c.Storage.Adapter = "sql"
				c.Storage.SQL.DSN = ""
			},
			expectError: true,
		},
		{
			name: "rate limit enabled without budget",
			mutate: func(c *Config) {
				c.Security.EnableRateLimit = true
				c.Security.RateLimit.RequestsPerMinute = 0
			},
			expectError: true,
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.Logging.Format = "yaml" },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConfigPath(t *testing.T) {
	tmpJSON, err := os.CreateTemp("", "config_test_*.json")
	require.NoError(t, err)
	tmpJSON.WriteString("{}")
	tmpJSON.Close()
	defer os.Remove(tmpJSON.Name())

	tmpTxt, err := os.CreateTemp("", "config_test_*.txt")
	require.NoError(t, err)
	tmpTxt.WriteString("{}")
	tmpTxt.Close()
	defer os.Remove(tmpTxt.Name())

	assert.NoError(t, validateConfigPath(tmpJSON.Name()))
	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath(tmpTxt.Name()))
	assert.Error(t, validateConfigPath("nonexistent.json"))
}

func TestLoadCatalog(t *testing.T) {
	// empty path selects the built-in catalog
	catalog, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultCatalog().Version, catalog.Version)

	// a valid seeded catalog file
	valid := `{
		"version": "seeded-1",
		"badges": [
			{"code": "poster", "name": "Poster", "level_thresholds": [3, 10], "reward_per_level": [25, 100]}
		],
		"rewards": {
			"post_created": {"points": 10, "experience": 20}
		},
		"activity_badges": {
			"post_created": ["poster"]
		}
	}`
	tmpFile, err := os.CreateTemp("", "catalog_*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())
	_, err = tmpFile.WriteString(valid)
	require.NoError(t, err)
	tmpFile.Close()

	catalog, err = LoadCatalog(tmpFile.Name())
	require.NoError(t, err)
	assert.Equal(t, "seeded-1", catalog.Version)
	r, ok := catalog.RewardFor(core.ActivityPostCreated)
	require.True(t, ok)
	assert.Equal(t, int64(10), r.Points)

	// a catalog mapping to an undefined badge fails validation
	invalid := `{
		"version": "bad",
		"badges": [
			{"code": "poster", "name": "Poster", "level_thresholds": [3]}
		],
		"activity_badges": {
			"post_created": ["ghost"]
		}
	}`
	badFile, err := os.CreateTemp("", "catalog_bad_*.json")
	require.NoError(t, err)
	defer os.Remove(badFile.Name())
	_, err = badFile.WriteString(invalid)
	require.NoError(t, err)
	badFile.Close()

	_, err = LoadCatalog(badFile.Name())
	assert.Error(t, err)

	// a missing file is an error, not a silent default
	_, err = LoadCatalog("/nonexistent/catalog.json")
	assert.Error(t, err)
}

func TestConfigStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "postgres://user:hunter2@db/engagekit"
	cfg.Storage.Redis.Password = "hunter2"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
}

func TestDefaultConfigTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Security.RateLimit.CleanupInterval)
}
