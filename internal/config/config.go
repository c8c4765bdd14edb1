// Package config resolves runtime settings from an optional YAML file
// overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultBundleSubdir is where driver bundles live relative to the
// executable.
var DefaultBundleSubdir = filepath.Join("Assets", "Resources", "Dependencies", "Drivers")

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`
	Migrations  string `yaml:"migrations"`

	BundleDir  string `yaml:"bundle_dir"`
	ScratchDir string `yaml:"scratch_dir"`

	// Catalog and Strings are optional YAML overlays.
	Catalog string `yaml:"catalog"`
	Strings string `yaml:"strings"`
	// Fixture replaces the live device tree with a YAML description.
	Fixture string `yaml:"fixture"`

	ProbeCommand []string `yaml:"probe_command"`
	ProbeModule  string   `yaml:"probe_module"`
	Language     string   `yaml:"language"`

	InstallCeiling time.Duration `yaml:"install_ceiling"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// Load reads path (when non-empty), applies environment overrides and fills
// defaults.
func Load(path string) (Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.Migrations = envOr("SENSORFIX_MIGRATIONS", c.Migrations)
	c.BundleDir = envOr("SENSORFIX_BUNDLE_DIR", c.BundleDir)
	c.ScratchDir = envOr("SENSORFIX_SCRATCH_DIR", c.ScratchDir)
	c.Catalog = envOr("SENSORFIX_CATALOG", c.Catalog)
	c.Strings = envOr("SENSORFIX_STRINGS", c.Strings)
	c.Fixture = envOr("SENSORFIX_FIXTURE", c.Fixture)
	c.ProbeModule = envOr("SENSORFIX_PROBE_MODULE", c.ProbeModule)
	c.Language = envOr("SENSORFIX_LANGUAGE", c.Language)
	if v := os.Getenv("SENSORFIX_PROBE_COMMAND"); v != "" {
		c.ProbeCommand = strings.Fields(v)
	}
	if v := os.Getenv("SENSORFIX_INSTALL_CEILING"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("SENSORFIX_INSTALL_CEILING: %w", err)
		}
		c.InstallCeiling = d
	}

	c.applyDefaults()
	return c, nil
}

// LoadDotEnv exports the variables in a dotenv file so Load sees them.
// Variables already set in the environment win. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		c.HTTPAddr = ":8081"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if strings.TrimSpace(c.BundleDir) == "" {
		c.BundleDir = defaultBundleDir()
	}
	if strings.TrimSpace(c.ScratchDir) == "" {
		c.ScratchDir = os.TempDir()
	}
	if strings.TrimSpace(c.Migrations) == "" {
		c.Migrations = "migrations"
	}
	if strings.TrimSpace(c.Language) == "" {
		c.Language = "en"
	}
	if c.InstallCeiling <= 0 {
		c.InstallCeiling = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

func defaultBundleDir() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultBundleSubdir
	}
	return filepath.Join(filepath.Dir(exe), DefaultBundleSubdir)
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
