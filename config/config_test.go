package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnsndwch/struktura/storage"
)

func TestDefaults(t *testing.T) {
	cfg, err := load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "struktura", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "strict", cfg.Registry.DeletePolicy)
	assert.Equal(t, "strict", cfg.Registry.UnknownFields)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"collections"}, cfg.Collections.Paths)
}

func TestFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "struktura.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`storage:
  driver: sqlite
  sqlite_path: data/app.db
registry:
  delete_policy: lenient
log:
  format: json
collections:
  paths: ["schemas/**/*.yaml"]
`), 0o644))

	t.Setenv("STRUKTURA_LOG_LEVEL", "debug")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, storage.Config{Driver: storage.DriverSQLite, SQLitePath: "data/app.db"}, cfg.StorageOptions())
	assert.Equal(t, "lenient", cfg.Registry.DeletePolicy)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level, "environment wins over the file")
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, []string{"schemas/**/*.yaml"}, cfg.Collections.Paths)
}

func TestDatabaseURLWithoutPrefix(t *testing.T) {
	t.Setenv("STRUKTURA_STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/struktura")

	cfg, err := load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/struktura", cfg.Storage.DatabaseURL)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage:  StorageConfig{Driver: "memory"},
			Registry: RegistryConfig{DeletePolicy: "strict", UnknownFields: "lenient"},
			Log:      LogConfig{Level: "warn", Format: "text"},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, want: "unknown storage driver"},
		{name: "postgres without url", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, want: "database_url"},
		{name: "delete policy", mutate: func(c *Config) { c.Registry.DeletePolicy = "cascade" }, want: "delete policy"},
		{name: "unknown fields", mutate: func(c *Config) { c.Registry.UnknownFields = "ignore" }, want: "unknown field policy"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, want: "log level"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, want: "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.Driver = "mongo"
		cfg.Log.Format = "xml"
		err := cfg.Validate()
		assert.ErrorContains(t, err, "mongo")
		assert.ErrorContains(t, err, "xml")
	})
}

func TestConfigFileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "struktura.yaml"), []byte("log:\n  level: error\n"), 0o644))
	t.Chdir(dir)

	cfg, err := load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}
