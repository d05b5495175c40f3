// Package config loads the runner daemon configuration.
//
// Values come from three layers, each overriding the previous one: built-in
// defaults, an optional YAML file, and environment variables.
//
// Environment variables:
//
//	LCSM_RUNNER_ID        - runner identifier used in logs and notices (default "runner")
//	LCSM_DATA_DIR         - root of instance working directories (default "./data")
//	LCSM_DB_PATH          - SQLite database path (default "<data dir>/runner.db")
//	LCSM_LISTEN_ADDR      - RPC listen address (default ":8008")
//	LCSM_STATUS_ADDR      - status HTTP listen address, empty disables (default ":8009")
//	LCSM_STATUS_TOKEN     - bearer token required on /status
//	LCSM_GRACE_PERIOD     - StopInstance grace period (default "10s")
//	LCSM_DOCKER_ENABLED   - expose the Docker image inventory (default false)
//	LOG_LEVEL             - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT            - "text" or "json" (default: "text")
//	MATRIX_HOMESERVER     - Matrix homeserver URL for lifecycle notices
//	MATRIX_USER_ID        - Matrix user posting the notices
//	MATRIX_ACCESS_TOKEN   - access token of that user
//	MATRIX_ROOM_ID        - room receiving the notices
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/lcsm/common/environment"
)

const (
	DefaultRunnerID    = "runner"
	DefaultDataDir     = "./data"
	DefaultListenAddr  = ":8008"
	DefaultStatusAddr  = ":8009"
	DefaultGracePeriod = 10 * time.Second
	databaseFile       = "runner.db"
)

// Config is the runner daemon configuration.
type Config struct {
	RunnerID      string        `yaml:"runner_id"`
	DataDir       string        `yaml:"data_dir"`
	DatabasePath  string        `yaml:"db_path"`
	ListenAddr    string        `yaml:"listen_addr"`
	StatusAddr    string        `yaml:"status_addr"`
	StatusToken   string        `yaml:"status_token"`
	GracePeriod   time.Duration `yaml:"grace_period"`
	DockerEnabled bool          `yaml:"docker_enabled"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	Matrix        Matrix        `yaml:"matrix"`
}

// Matrix configures lifecycle notices. Notices are off unless every field
// is set.
type Matrix struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	RoomID      string `yaml:"room_id"`
}

// Enabled reports whether notices should be sent.
func (m Matrix) Enabled() bool {
	return m.Homeserver != "" && m.UserID != "" && m.AccessToken != "" && m.RoomID != ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RunnerID:    DefaultRunnerID,
		DataDir:     DefaultDataDir,
		ListenAddr:  DefaultListenAddr,
		StatusAddr:  DefaultStatusAddr,
		GracePeriod: DefaultGracePeriod,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, databaseFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decode overlays a YAML document on cfg. Unknown keys are rejected.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// ApplyEnv overlays the environment variables listed in the package
// documentation.
func (c *Config) ApplyEnv() error {
	environment.String("LCSM_RUNNER_ID", &c.RunnerID)
	environment.String("LCSM_DATA_DIR", &c.DataDir)
	environment.String("LCSM_DB_PATH", &c.DatabasePath)
	environment.String("LCSM_LISTEN_ADDR", &c.ListenAddr)
	environment.String("LCSM_STATUS_ADDR", &c.StatusAddr)
	environment.String("LCSM_STATUS_TOKEN", &c.StatusToken)
	environment.String("LOG_LEVEL", &c.LogLevel)
	environment.String("LOG_FORMAT", &c.LogFormat)
	environment.String("MATRIX_HOMESERVER", &c.Matrix.Homeserver)
	environment.String("MATRIX_USER_ID", &c.Matrix.UserID)
	environment.String("MATRIX_ACCESS_TOKEN", &c.Matrix.AccessToken)
	environment.String("MATRIX_ROOM_ID", &c.Matrix.RoomID)

	if err := environment.Duration("LCSM_GRACE_PERIOD", &c.GracePeriod); err != nil {
		return err
	}
	return environment.Bool("LCSM_DOCKER_ENABLED", &c.DockerEnabled)
}

// Validate reports the first problem found in c.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RunnerID) == "" {
		return errors.New("runner_id is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return errors.New("db_path is required")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr is required")
	}
	if c.StatusAddr != "" && c.StatusAddr == c.ListenAddr {
		return errors.New("status_addr must differ from listen_addr")
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be positive, got %s", c.GracePeriod)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	m := c.Matrix
	set := m.Homeserver != "" || m.UserID != "" || m.AccessToken != "" || m.RoomID != ""
	if set && !m.Enabled() {
		return errors.New("matrix: homeserver, user_id, access_token and room_id must all be set")
	}
	return nil
}
