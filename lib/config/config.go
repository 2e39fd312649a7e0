// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable Load reads.
const EnvConfig = "ATHENA_CONFIG"

// Config is the master configuration for athena.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Supervisor configures the athena-supervisor process.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Forwarder configures the hook forwarder the agent invokes.
	Forwarder ForwarderConfig `yaml:"forwarder"`

	// Log configures the structured logger of both binaries.
	Log LogConfig `yaml:"log"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for athena data.
	Root string `yaml:"root"`

	// State holds one directory per session under sessions/.
	State string `yaml:"state"`
}

// SupervisorConfig configures the supervisor.
type SupervisorConfig struct {
	// SocketPath is the Unix socket the forwarder connects to.
	// Default: ${ATHENA_ROOT}/supervisor.sock
	SocketPath string `yaml:"socket_path"`

	// RulesFile is the JSONC file of standing permission rules. A
	// missing file means no rules.
	// Default: ${ATHENA_ROOT}/rules.jsonc
	RulesFile string `yaml:"rules_file"`

	// WriteTimeout bounds one reply write to a forwarder connection.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RelaxedSync opens session databases with synchronous=NORMAL.
	// Default: false
	RelaxedSync bool `yaml:"relaxed_sync"`
}

// ForwarderConfig configures the hook forwarder.
type ForwarderConfig struct {
	// SocketPath is where the forwarder dials the supervisor. Empty
	// means Supervisor.SocketPath.
	SocketPath string `yaml:"socket_path"`

	// DialTimeout bounds connecting to the supervisor.
	// Default: 2s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReplyTimeout bounds the wait for a decision. Zero waits until
	// the supervisor answers or goes away; the agent's own hook timeout
	// still applies.
	// Default: 0
	ReplyTimeout time.Duration `yaml:"reply_timeout"`

	// FailClosed blocks the tool call when the supervisor is
	// unreachable instead of letting the agent proceed.
	// Default: false
	FailClosed bool `yaml:"fail_closed"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is auto, text, or json. Auto picks text on a terminal
	// and JSON otherwise.
	// Default: auto
	Format string `yaml:"format"`
}

// Default returns the default configuration. LoadFile starts from it,
// so fields a file omits keep these values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "state", "athena")

	return &Config{
		Paths: PathsConfig{
			Root:  defaultRoot,
			State: filepath.Join(defaultRoot, "state"),
		},
		Supervisor: SupervisorConfig{
			SocketPath:   filepath.Join(defaultRoot, "supervisor.sock"),
			RulesFile:    filepath.Join(defaultRoot, "rules.jsonc"),
			WriteTimeout: 5 * time.Second,
		},
		Forwarder: ForwarderConfig{
			DialTimeout: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by ATHENA_CONFIG.
// It fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your athena.yaml config file, or use --config flag", EnvConfig)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path on top of
// Default and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

// Resolve returns the configuration a binary should run with:
// LoadFile(path) when path is set, Load when ATHENA_CONFIG is set, and
// Default otherwise.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv(EnvConfig) != "" {
		return Load()
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"ATHENA_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["ATHENA_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Supervisor.SocketPath = expandVars(c.Supervisor.SocketPath, vars)
	c.Supervisor.RulesFile = expandVars(c.Supervisor.RulesFile, vars)
	c.Forwarder.SocketPath = expandVars(c.Forwarder.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. vars take
// precedence over the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// ForwarderSocket returns the socket the forwarder dials.
func (c *Config) ForwarderSocket() string {
	if c.Forwarder.SocketPath != "" {
		return c.Forwarder.SocketPath
	}
	return c.Supervisor.SocketPath
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Supervisor.SocketPath == "" {
		errs = append(errs, fmt.Errorf("supervisor.socket_path is required"))
	}
	if c.Supervisor.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("supervisor.write_timeout must not be negative"))
	}
	if c.Forwarder.DialTimeout < 0 || c.Forwarder.ReplyTimeout < 0 {
		errs = append(errs, fmt.Errorf("forwarder timeouts must not be negative"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}
	formats := []string{"auto", "text", "json"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
// Directories are created with mode 0700.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.State, filepath.Dir(c.Supervisor.SocketPath)} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("config: creating %s: %w", path, err)
		}
	}
	return nil
}
