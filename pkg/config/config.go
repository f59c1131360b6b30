// Package config loads the terminal host's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Endpoint EndpointConfig `yaml:"endpoint"`
	// Control is the property bag handed to the control on every update.
	Control map[string]any `yaml:"control"`
	Output  OutputConfig   `yaml:"output"`
	Log     LogConfig      `yaml:"log"`
	Resize  ResizeConfig   `yaml:"resize"`
}

// EndpointConfig locates the record store.
type EndpointConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIPath string        `yaml:"api_path"`
	Timeout time.Duration `yaml:"timeout"`
	// Token is sent as a bearer token when set. Prefer PDFVIEW_TOKEN.
	Token string `yaml:"token"`
}

type OutputConfig struct {
	SurfacePath string `yaml:"surface_path"`
	DownloadDir string `yaml:"download_dir"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	// Path receives log output; empty means stderr.
	Path string `yaml:"path"`
}

type ResizeConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			BaseURL: "http://localhost:8080",
			APIPath: "/api/data/v9.2",
			Timeout: 30 * time.Second,
		},
		Control: map[string]any{
			"fitPolicy":      "auto",
			"allowDownload":  false,
			"allowPrint":     false,
			"toolbarVisible": true,
		},
		Output: OutputConfig{
			SurfacePath: "surface.png",
			DownloadDir: ".",
		},
		Log: LogConfig{
			Level: "info",
		},
		Resize: ResizeConfig{
			Debounce: 100 * time.Millisecond,
		},
	}
}

// Load reads path on top of Default. Control entries in the file are merged
// into the default property bag.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	defaults := cfg.Control
	cfg.Control = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for k, v := range defaults {
		if _, ok := cfg.Control[k]; !ok {
			if cfg.Control == nil {
				cfg.Control = make(map[string]any)
			}
			cfg.Control[k] = v
		}
	}
	if env := strings.TrimSpace(os.Getenv("PDFVIEW_TOKEN")); env != "" {
		cfg.Endpoint.Token = env
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns Default if path is empty or missing.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks the values a file can get wrong.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint.BaseURL) == "" {
		return fmt.Errorf("endpoint.base_url is required")
	}
	if c.Endpoint.APIPath != "" && !strings.HasPrefix(c.Endpoint.APIPath, "/") {
		return fmt.Errorf("endpoint.api_path must start with /, got %q", c.Endpoint.APIPath)
	}
	if c.Endpoint.Timeout < 0 {
		return fmt.Errorf("endpoint.timeout must not be negative")
	}
	if c.Resize.Debounce < 0 {
		return fmt.Errorf("resize.debounce must not be negative")
	}
	return nil
}

// Save writes the configuration as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
