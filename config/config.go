package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given. A missing file is not
// an error; defaults and environment variables still apply.
const DefaultPath = "library.yaml"

// Config is the CLI configuration loaded from YAML.
type Config struct {
	Database   string `yaml:"database"`
	LogLevel   string `yaml:"logLevel"`
	LogFormat  string `yaml:"logFormat"`
	PageSize   int    `yaml:"pageSize"`
	Workers    int    `yaml:"workers"`
	ExportPath string `yaml:"exportPath"`
	Admin      Admin  `yaml:"admin"`
}

// Admin is the bootstrap administrator created on first start.
type Admin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database:   "library.db",
		LogLevel:   "info",
		LogFormat:  "text",
		PageSize:   20,
		Workers:    4,
		ExportPath: "book_history.csv",
	}
}

// Load reads config from path (defaults to library.yaml), then applies
// LIBRARY_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s must be an integer: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("LIBRARY_DB", &cfg.Database)
	setString("LIBRARY_LOG_LEVEL", &cfg.LogLevel)
	setString("LIBRARY_LOG_FORMAT", &cfg.LogFormat)
	setString("LIBRARY_EXPORT_PATH", &cfg.ExportPath)
	setString("LIBRARY_ADMIN_USER", &cfg.Admin.Username)
	if v := os.Getenv("LIBRARY_ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
	if err := setInt("LIBRARY_PAGE_SIZE", &cfg.PageSize); err != nil {
		return err
	}
	return setInt("LIBRARY_WORKERS", &cfg.Workers)
}

func validateConfig(cfg Config) error {
	if cfg.Database == "" {
		return errors.New("config: database is required (set in library.yaml or LIBRARY_DB)")
	}
	if cfg.PageSize <= 0 {
		return errors.New("config: pageSize must be positive")
	}
	if cfg.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: logFormat must be text or json, got %q", cfg.LogFormat)
	}
	if cfg.Admin.Username != "" && cfg.Admin.Password == "" {
		return errors.New("config: admin.password is required when admin.username is set (or LIBRARY_ADMIN_PASSWORD)")
	}
	return nil
}
