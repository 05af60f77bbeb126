package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server          string
	ImageDir        string
	BootDir         string
	NodeConfigPath  string
	HTTPSCACert     string
	HTTPSClientCert string
	HTTPSClientKey  string
	ReportInterval  time.Duration
	BootDevicePath  string
	StatusAddr      string
	LogLevel        string
	OtelEndpoint    string
	OtelInsecure    bool
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Server:          getEnv("SERVER", ""),
		ImageDir:        getEnv("IMAGE_DIR", "/isodevice/iconograph"),
		BootDir:         getEnv("BOOT_DIR", "/isodevice"),
		NodeConfigPath:  getEnv("NODE_CONFIG", "/etc/iconograph.json"),
		HTTPSCACert:     getEnv("HTTPS_CA_CERT", ""),
		HTTPSClientCert: getEnv("HTTPS_CLIENT_CERT", ""),
		HTTPSClientKey:  getEnv("HTTPS_CLIENT_KEY", ""),
		ReportInterval:  getEnvDuration("REPORT_INTERVAL", 5*time.Second),
		// casper boots with iso-scan, which attaches the ISO as the first loop device
		BootDevicePath:  getEnv("BOOT_DEVICE_PATH", "/dev/loop0"),
		StatusAddr:      getEnv("STATUS_ADDR", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		OtelEndpoint:    getEnv("OTEL_ENDPOINT", ""),
		OtelInsecure:    getEnv("OTEL_INSECURE", "") == "true",
	}

	return cfg
}

// Validate checks required settings
func (c *Config) Validate() error {
	var errs []error
	if c.Server == "" {
		errs = append(errs, errors.New("SERVER is required"))
	}
	if c.ImageDir == "" {
		errs = append(errs, errors.New("IMAGE_DIR is required"))
	}
	if c.BootDir == "" {
		errs = append(errs, errors.New("BOOT_DIR is required"))
	}
	if (c.HTTPSClientCert == "") != (c.HTTPSClientKey == "") {
		errs = append(errs, errors.New("HTTPS_CLIENT_CERT and HTTPS_CLIENT_KEY must be set together"))
	}
	return errors.Join(errs...)
}

// ControlURL is the websocket endpoint of the fleet server
func (c *Config) ControlURL() string {
	return fmt.Sprintf("wss://%s/ws/slave", c.Server)
}

// ImageBaseURL is the root under which images are published per type
func (c *Config) ImageBaseURL() string {
	return fmt.Sprintf("https://%s/image", c.Server)
}

// NodeConfig is the static per-node configuration file
type NodeConfig struct {
	ImageType string
	// Fields holds every key of the file; all of them are echoed in reports
	Fields map[string]any
}

// LoadNodeConfig reads a JSON or YAML node config file
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node config: %w", err)
	}

	var fields map[string]any
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse node config %s: %w", path, err)
	}

	imageType, _ := fields["image_type"].(string)
	if imageType == "" {
		return nil, fmt.Errorf("node config %s: image_type is required", path)
	}

	return &NodeConfig{ImageType: imageType, Fields: fields}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
