package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Clock    ClockConfig    `yaml:"clock"`
	Output   OutputConfig   `yaml:"output"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds PostgreSQL connection settings for run history.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// ClockConfig selects the reference time source for scenario runs.
type ClockConfig struct {
	// Mode is "real" or "simulated".
	Mode string `yaml:"mode"`
	// TimeScale speeds up a simulated clock: a scenario second takes
	// 1/TimeScale real seconds.
	TimeScale int `yaml:"time_scale"`
}

// OutputConfig holds output settings.
type OutputConfig struct {
	File      string `yaml:"file"`
	Format    string `yaml:"format"`
	MarksFile string `yaml:"marks_file"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads configuration from a YAML file and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := LoadConfigWithDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithDefaults returns a Config with default values.
func LoadConfigWithDefaults() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			DBName:  "postgres",
			SSLMode: "prefer",
		},
		Clock: ClockConfig{
			Mode:      "real",
			TimeScale: 1,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	applyEnvOverrides(cfg)
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PGHOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PGPORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PGUSER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("TIMELINE_CLOCK"); v != "" {
		cfg.Clock.Mode = v
	}
	if v := os.Getenv("TIMELINE_TIME_SCALE"); v != "" {
		if scale, err := strconv.Atoi(v); err == nil {
			cfg.Clock.TimeScale = scale
		}
	}
	if v := os.Getenv("TIMELINE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database.dbname is required")
	}
	if c.Clock.Mode != "real" && c.Clock.Mode != "simulated" {
		return fmt.Errorf("clock.mode must be 'real' or 'simulated'")
	}
	if c.Clock.TimeScale < 1 {
		return fmt.Errorf("clock.time_scale must be >= 1")
	}
	if c.Output.Format != "text" && c.Output.Format != "json" {
		return fmt.Errorf("output.format must be 'text' or 'json'")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Simulated reports whether runs use the accelerated clock.
func (c *ClockConfig) Simulated() bool {
	return c.Mode == "simulated"
}

// SlogLevel maps the configured level name to a slog.Level.
func (l *LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return level, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf("host=%s port=%d user=%s dbname=%s",
		d.Host, d.Port, d.User, d.DBName)
	if d.Password != "" {
		connStr += fmt.Sprintf(" password=%s", d.Password)
	}
	if d.SSLMode != "" {
		connStr += fmt.Sprintf(" sslmode=%s", d.SSLMode)
	}
	return connStr
}
