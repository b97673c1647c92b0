// Package config loads the bot configuration from a YAML file, falling
// back to defaults for anything missing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PhoneEnv supplies the pairing phone number out of band.
const PhoneEnv = "APKDROP_PHONE"

// Duration wraps time.Duration for YAML values like "30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// CatalogConfig configures the catalog lookup client.
type CatalogConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// WorkerConfig configures the fetch-worker subprocess.
type WorkerConfig struct {
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

// TransportConfig configures the messaging client.
type TransportConfig struct {
	QueryTimeout Duration `yaml:"query_timeout"`
	DeviceName   string   `yaml:"device_name"`
}

// Config is the full bot configuration.
type Config struct {
	Phone          string          `yaml:"phone"`
	DownloadDir    string          `yaml:"download_dir"`
	CredentialsDir string          `yaml:"credentials_dir"`
	MaxFileSizeMB  int             `yaml:"max_file_size_mb"`
	Catalog        CatalogConfig   `yaml:"catalog"`
	Worker         WorkerConfig    `yaml:"worker"`
	Transport      TransportConfig `yaml:"transport"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DownloadDir:    "downloads",
		CredentialsDir: "credentials",
		MaxFileSizeMB:  2048,
		Catalog: CatalogConfig{
			BaseURL: "https://catalog.apkdrop.dev",
			Timeout: Duration(30 * time.Second),
		},
		Worker: WorkerConfig{
			Command: []string{"python3", "scraper.py"},
			Timeout: Duration(10 * time.Minute),
		},
		Transport: TransportConfig{
			QueryTimeout: Duration(30 * time.Second),
			DeviceName:   "Chrome (Windows)",
		},
	}
}

// Load reads the config file at path, overlaying it on the defaults.
// A missing file is not an error. The pairing phone number may also come
// from the environment, which wins over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if phone := os.Getenv(PhoneEnv); phone != "" {
		cfg.Phone = phone
	}
	return cfg, nil
}
