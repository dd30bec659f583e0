// Package config loads struktura settings from a .env file, the
// environment and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cbnsndwch/struktura/events"
	"github.com/cbnsndwch/struktura/logging"
	"github.com/cbnsndwch/struktura/registry"
	"github.com/cbnsndwch/struktura/storage"
	"github.com/cbnsndwch/struktura/validator"
)

// EnvPrefix prefixes the environment variables mapped onto config keys:
// STRUKTURA_STORAGE_DRIVER sets storage.driver.
const EnvPrefix = "STRUKTURA"

// DefaultConfigName is the config file looked up in the working directory,
// with any extension viper understands.
const DefaultConfigName = "struktura"

// Config holds the application configuration.
type Config struct {
	Storage     StorageConfig    `mapstructure:"storage"`
	NATS        NATSConfig       `mapstructure:"nats"`
	Registry    RegistryConfig   `mapstructure:"registry"`
	Log         LogConfig        `mapstructure:"log"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Collections CollectionConfig `mapstructure:"collections"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type RegistryConfig struct {
	DeletePolicy  string `mapstructure:"delete_policy"`
	UnknownFields string `mapstructure:"unknown_fields"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, for instance ":9090".
	Addr string `mapstructure:"addr"`
}

type CollectionConfig struct {
	// Paths are files, directories or doublestar patterns of definition files.
	Paths []string `mapstructure:"paths"`
}

// Defaults applies the default values to v.
func Defaults(v *viper.Viper) {
	v.SetDefault("storage.driver", string(storage.DriverMemory))
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.sqlite_path", "struktura.db")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", events.DefaultSubjectPrefix)
	v.SetDefault("registry.delete_policy", string(registry.DeleteStrict))
	v.SetDefault("registry.unknown_fields", string(validator.UnknownFieldsStrict))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("collections.paths", []string{"collections"})
}

// Load reads configuration. The .env file is loaded if it exists (silently
// ignored if missing), then path, or struktura.yaml in the working directory
// when path is empty; environment variables win over both. DATABASE_URL and NATS_URL are honoured without the prefix.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	Defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("storage.database_url", EnvPrefix+"_STORAGE_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("nats.url", EnvPrefix+"_NATS_URL", "NATS_URL"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	// a comma separated env value arrives as one element
	if len(cfg.Collections.Paths) == 1 && strings.Contains(cfg.Collections.Paths[0], ",") {
		cfg.Collections.Paths = splitList(cfg.Collections.Paths[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects values outside the known enumerations and incomplete
// backend settings, reporting every problem at once.
func (c *Config) Validate() error {
	var errs []error
	driver, err := storage.ParseDriver(c.Storage.Driver)
	if err != nil {
		errs = append(errs, err)
	}
	if driver == storage.DriverPostgres && c.Storage.DatabaseURL == "" {
		errs = append(errs, errors.New("storage.database_url (or DATABASE_URL) is required for the postgres driver"))
	}
	if _, err := registry.ParseDeletePolicy(c.Registry.DeletePolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := validator.ParseUnknownFieldPolicy(c.Registry.UnknownFields); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := logging.CheckFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// StorageOptions returns the backend settings in the form storage.Open takes.
func (c *Config) StorageOptions() storage.Config {
	return storage.Config{
		Driver:      storage.Driver(c.Storage.Driver),
		DatabaseURL: c.Storage.DatabaseURL,
		SQLitePath:  c.Storage.SQLitePath,
	}
}
