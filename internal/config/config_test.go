package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

var envVars = []string{
	"PGHOST", "PGPORT", "PGUSER", "PGPASSWORD", "PGDATABASE",
	"TIMELINE_CLOCK", "TIMELINE_TIME_SCALE", "TIMELINE_LOG_LEVEL",
}

// clearEnv unsets every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadConfigWithDefaults(t *testing.T) {
	clearEnv(t)

	cfg := LoadConfigWithDefaults()

	// Database defaults
	if cfg.Database.Host != "localhost" {
		t.Errorf("expected host 'localhost', got %q", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("expected port 5432, got %d", cfg.Database.Port)
	}
	if cfg.Database.User != "postgres" {
		t.Errorf("expected user 'postgres', got %q", cfg.Database.User)
	}
	if cfg.Database.SSLMode != "prefer" {
		t.Errorf("expected sslmode 'prefer', got %q", cfg.Database.SSLMode)
	}

	// Clock defaults
	if cfg.Clock.Mode != "real" {
		t.Errorf("expected clock mode 'real', got %q", cfg.Clock.Mode)
	}
	if cfg.Clock.TimeScale != 1 {
		t.Errorf("expected time scale 1, got %d", cfg.Clock.TimeScale)
	}
	if cfg.Clock.Simulated() {
		t.Error("expected real clock by default")
	}

	if cfg.Output.Format != "text" {
		t.Errorf("expected format 'text', got %q", cfg.Output.Format)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoadConfigValidYAML(t *testing.T) {
	clearEnv(t)

	yaml := `
database:
  host: testhost
  port: 5433
  user: testuser
  password: testpass
  dbname: testdb
  sslmode: disable

clock:
  mode: simulated
  time_scale: 60

output:
  file: report.json
  format: json
  marks_file: marks.csv

log:
  level: debug
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Database.Host != "testhost" {
		t.Errorf("expected host 'testhost', got %q", cfg.Database.Host)
	}
	if cfg.Database.Port != 5433 {
		t.Errorf("expected port 5433, got %d", cfg.Database.Port)
	}
	if !cfg.Clock.Simulated() || cfg.Clock.TimeScale != 60 {
		t.Errorf("expected simulated clock at 60x, got %+v", cfg.Clock)
	}
	if cfg.Output.MarksFile != "marks.csv" {
		t.Errorf("expected marks file 'marks.csv', got %q", cfg.Output.MarksFile)
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		t.Fatalf("SlogLevel failed: %v", err)
	}
	if level != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", level)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PGHOST", "envhost")
	t.Setenv("PGPORT", "5434")
	t.Setenv("PGUSER", "envuser")
	t.Setenv("PGPASSWORD", "envpass")
	t.Setenv("PGDATABASE", "envdb")
	t.Setenv("TIMELINE_CLOCK", "simulated")
	t.Setenv("TIMELINE_TIME_SCALE", "10")
	t.Setenv("TIMELINE_LOG_LEVEL", "warn")

	cfg := LoadConfigWithDefaults()

	if cfg.Database.Host != "envhost" {
		t.Errorf("expected host 'envhost', got %q", cfg.Database.Host)
	}
	if cfg.Database.Port != 5434 {
		t.Errorf("expected port 5434, got %d", cfg.Database.Port)
	}
	if cfg.Database.User != "envuser" {
		t.Errorf("expected user 'envuser', got %q", cfg.Database.User)
	}
	if cfg.Database.Password != "envpass" {
		t.Errorf("expected password 'envpass', got %q", cfg.Database.Password)
	}
	if cfg.Database.DBName != "envdb" {
		t.Errorf("expected dbname 'envdb', got %q", cfg.Database.DBName)
	}
	if cfg.Clock.Mode != "simulated" || cfg.Clock.TimeScale != 10 {
		t.Errorf("expected simulated clock at 10x, got %+v", cfg.Clock)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level 'warn', got %q", cfg.Log.Level)
	}
}

func TestLoadConfigEnvBeatsFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TIMELINE_TIME_SCALE", "4")

	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tmpFile, []byte("clock:\n  mode: simulated\n  time_scale: 100\n"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Clock.TimeScale != 4 {
		t.Errorf("expected env time scale 4, got %d", cfg.Clock.TimeScale)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(tmpFile, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	_, err := LoadConfig(tmpFile)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "empty host",
			modify:  func(c *Config) { c.Database.Host = "" },
			wantErr: "database.host is required",
		},
		{
			name:    "invalid port",
			modify:  func(c *Config) { c.Database.Port = 0 },
			wantErr: "database.port must be between 1 and 65535",
		},
		{
			name:    "empty user",
			modify:  func(c *Config) { c.Database.User = "" },
			wantErr: "database.user is required",
		},
		{
			name:    "empty dbname",
			modify:  func(c *Config) { c.Database.DBName = "" },
			wantErr: "database.dbname is required",
		},
		{
			name:    "invalid clock mode",
			modify:  func(c *Config) { c.Clock.Mode = "wall" },
			wantErr: "clock.mode must be 'real' or 'simulated'",
		},
		{
			name:    "zero time scale",
			modify:  func(c *Config) { c.Clock.TimeScale = 0 },
			wantErr: "clock.time_scale must be >= 1",
		},
		{
			name:    "invalid format",
			modify:  func(c *Config) { c.Output.Format = "xml" },
			wantErr: "output.format must be 'text' or 'json'",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level must be one of debug, info, warn, error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			cfg := LoadConfigWithDefaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Errorf("expected error containing %q", tt.wantErr)
				return
			}
			if err.Error() != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	for name, want := range tests {
		l := LogConfig{Level: name}
		got, err := l.SlogLevel()
		if err != nil {
			t.Errorf("SlogLevel(%q) failed: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("SlogLevel(%q): expected %v, got %v", name, want, got)
		}
	}
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "myhost",
		Port:     5432,
		User:     "myuser",
		Password: "mypass",
		DBName:   "mydb",
		SSLMode:  "require",
	}

	connStr := db.ConnectionString()
	expected := "host=myhost port=5432 user=myuser dbname=mydb password=mypass sslmode=require"
	if connStr != expected {
		t.Errorf("expected %q, got %q", expected, connStr)
	}
}

func TestConnectionStringNoPassword(t *testing.T) {
	db := DatabaseConfig{
		Host:    "myhost",
		Port:    5432,
		User:    "myuser",
		DBName:  "mydb",
		SSLMode: "disable",
	}

	connStr := db.ConnectionString()
	expected := "host=myhost port=5432 user=myuser dbname=mydb sslmode=disable"
	if connStr != expected {
		t.Errorf("expected %q, got %q", expected, connStr)
	}
}
