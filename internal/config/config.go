// Package config loads and persists the bridge's settings file: the Kore
// endpoint and reconnect policy, the resolved hook addresses, and logging
// options.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// KoreReconnect mirrors spec's kore.reconnect.* keys.
type KoreReconnect struct {
	InitialMs int     `yaml:"initial_ms"`
	MaxMs     int     `yaml:"max_ms"`
	Backoff   float64 `yaml:"backoff"`
	JitterP   float64 `yaml:"jitter_p"`
}

// Kore mirrors spec's kore.* keys.
type Kore struct {
	Host      string        `yaml:"host"`
	Ports     []int         `yaml:"ports"`
	Reconnect KoreReconnect `yaml:"reconnect"`
}

// Advanced mirrors spec's advanced.* keys: the resolved hook addresses.
type Advanced struct {
	FnSendAddr     string `yaml:"fn_send_addr"`
	FnRecvAddr     string `yaml:"fn_recv_addr"`
	FnSeedAddr     string `yaml:"fn_seed_addr"`
	FnChecksumAddr string `yaml:"fn_checksum_addr"`
}

// Relay mirrors spec's relay.* socket buffer hints.
type Relay struct {
	RecvBuffer int `yaml:"recv_buffer,omitempty"`
	SendBuffer int `yaml:"send_buffer,omitempty"`
}

// Logging mirrors spec's logging.* keys plus the app/socket log split
// supplemented from original_source.
type Logging struct {
	Level             string `yaml:"level,omitempty"`
	Dir               string `yaml:"dir,omitempty"`
	SaveAppLog        bool   `yaml:"save_app_log,omitempty"`
	SaveSocketLog     bool   `yaml:"save_socket_log,omitempty"`
	AppLogFilename    string `yaml:"app_log_filename,omitempty"`
	SocketLogFilename string `yaml:"socket_log_filename,omitempty"`
}

// Config is the full settings file schema.
type Config struct {
	ShowConsole bool     `yaml:"show_console,omitempty"`
	Kore        Kore     `yaml:"kore"`
	Advanced    Advanced `yaml:"advanced"`
	Relay       Relay    `yaml:"relay,omitempty"`
	Logging     Logging  `yaml:"logging,omitempty"`
}

// Default returns a Config with the documented reconnect defaults, a
// loopback host, and candidate ports; hook addresses are left for the
// operator to fill in.
func Default() *Config {
	return &Config{
		Kore: Kore{
			Host:  "127.0.0.1",
			Ports: []int{5293, 5294, 5295},
			Reconnect: KoreReconnect{
				InitialMs: 500,
				MaxMs:     30000,
				Backoff:   2.0,
				JitterP:   0.2,
			},
		},
		Logging: Logging{Level: "info"},
	}
}

// DefaultPath returns the conventional settings file location:
// %PROGRAMDATA%\ArkanRelay\arkan-relay.yaml, falling back to a
// repo-relative path when PROGRAMDATA is unset (development).
func DefaultPath() string {
	if base := os.Getenv("PROGRAMDATA"); base != "" {
		return filepath.Join(base, "ArkanRelay", "arkan-relay.yaml")
	}
	return "arkan-relay.yaml"
}

// Load reads and parses path. If the file does not exist, it writes and
// returns Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if saveErr := Save(path, cfg); saveErr != nil {
				return nil, fmt.Errorf("write default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating its parent directory if needed.
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
