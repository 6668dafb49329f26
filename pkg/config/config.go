// Package config provides configuration management for the gocpool tools.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/daimatz/gocpool/pkg/cpool"
)

// Config holds all configuration for the application.
type Config struct {
	ClassPath ClassPathConfig `mapstructure:"classpath"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Resolve   ResolveConfig   `mapstructure:"resolve"`
	Log       LogConfig       `mapstructure:"log"`
}

// ClassPathConfig says where classes are loaded from.
type ClassPathConfig struct {
	Jmod string `mapstructure:"jmod"` // java.base.jmod for the boot loader
	Dir  string `mapstructure:"dir"`  // directory for the app loader
}

// ArchiveConfig holds the archiving policy.
type ArchiveConfig struct {
	// Loaders lists the loader kinds whose classes resolve deterministically:
	// boot, plat or app.
	Loaders         []string `mapstructure:"loaders"`
	MaxStringLength int      `mapstructure:"max_string_length"`
	HeapObjects     bool     `mapstructure:"heap_objects"`
	MethodHandles   bool     `mapstructure:"method_handles"`
}

// ResolveConfig holds pre-resolution configuration.
type ResolveConfig struct {
	Workers int `mapstructure:"workers"` // 0 means GOMAXPROCS
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Verbosity  int    `mapstructure:"verbosity"`
	OutputPath string `mapstructure:"output_path"` // empty means stderr
}

// Load reads configuration from the specified file path. Environment
// variables prefixed with GOCPOOL_ override it, e.g. GOCPOOL_RESOLVE_WORKERS.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gocpool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gocpool")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFromReader loads configuration from content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("gocpool")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("classpath.jmod", "")
	v.SetDefault("classpath.dir", ".")

	v.SetDefault("archive.loaders", []string{"boot", "plat"})
	v.SetDefault("archive.max_string_length", 0)
	v.SetDefault("archive.heap_objects", true)
	v.SetDefault("archive.method_handles", false)

	v.SetDefault("resolve.workers", 0)

	v.SetDefault("log.verbosity", 0)
	v.SetDefault("log.output_path", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.Archive.loaderKinds(); err != nil {
		return err
	}
	if c.Archive.MaxStringLength < 0 {
		return fmt.Errorf("max string length must not be negative")
	}
	if c.Resolve.Workers < 0 {
		return fmt.Errorf("worker count must not be negative")
	}
	return nil
}

func (a ArchiveConfig) loaderKinds() ([]cpool.LoaderKind, error) {
	kinds := make([]cpool.LoaderKind, 0, len(a.Loaders))
	for _, name := range a.Loaders {
		switch strings.ToLower(name) {
		case "boot":
			kinds = append(kinds, cpool.LoaderBoot)
		case "plat", "platform":
			kinds = append(kinds, cpool.LoaderPlatform)
		case "app":
			kinds = append(kinds, cpool.LoaderApp)
		default:
			return nil, fmt.Errorf("unsupported loader kind: %s", name)
		}
	}
	return kinds, nil
}

// Policy returns the archive policy the configuration describes.
func (a ArchiveConfig) Policy() cpool.ArchivePolicy {
	kinds, _ := a.loaderKinds()
	return cpool.ArchivePolicy{
		IsResolutionDeterministic: cpool.DeterministicLoaders(kinds...),
		MaxStringLength:           a.MaxStringLength,
		ArchiveHeapObjects:        a.HeapObjects,
		ArchiveMethodHandles:      a.MethodHandles,
	}
}
