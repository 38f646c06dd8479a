package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvAccessKeyID     = "EXHIBIT_ACCESS_KEY_ID"
	EnvSecretAccessKey = "EXHIBIT_SECRET_ACCESS_KEY"
	EnvAccountID       = "EXHIBIT_ACCOUNT_ID"
	EnvBucket          = "EXHIBIT_BUCKET"
	EnvPublicBaseURL   = "EXHIBIT_PUBLIC_BASE_URL"
	EnvEndpoint        = "EXHIBIT_ENDPOINT"
)

type ObjectStore struct {
	AccessKeyID     string        `yaml:"accessKeyId"`
	SecretAccessKey string        `yaml:"secretAccessKey"`
	AccountID       string        `yaml:"accountId"`
	Bucket          string        `yaml:"bucket"`
	PublicBaseURL   string        `yaml:"publicBaseUrl,omitempty"`
	Endpoint        string        `yaml:"endpoint,omitempty"` // override for dev/alternate providers
	Timeout         time.Duration `yaml:"timeout,omitempty"`
}

type Gallery struct {
	Prefix   string        `yaml:"prefix,omitempty"`
	CacheTTL time.Duration `yaml:"cacheTtl,omitempty"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // requests per second, 0 disables
	Burst int     `yaml:"burst"`
}

type Config struct {
	ObjectStore ObjectStore       `yaml:"objectStore"`
	Gallery     Gallery           `yaml:"gallery"`
	RateLimiter RateLimiterConfig `yaml:"rateLimiter"`
}

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrAccessKeyIDMissing       = errors.New("objectStore.accessKeyId is missing in config")
	ErrSecretAccessKeyMissing   = errors.New("objectStore.secretAccessKey is missing in config")
	ErrAccountIDMissing         = errors.New("objectStore.accountId is missing in config and no endpoint override is set")
	ErrBucketMissing            = errors.New("objectStore.bucket is missing in config")
)

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration purely from environment variables, for
// deployments that never touch a config file.
func FromEnv() (*Config, error) {
	var cfg Config
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Environment values win over file values so a deployment can keep secrets
// out of the config document entirely.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvAccessKeyID); v != "" {
		c.ObjectStore.AccessKeyID = v
	}
	if v := os.Getenv(EnvSecretAccessKey); v != "" {
		c.ObjectStore.SecretAccessKey = v
	}
	if v := os.Getenv(EnvAccountID); v != "" {
		c.ObjectStore.AccountID = v
	}
	if v := os.Getenv(EnvBucket); v != "" {
		c.ObjectStore.Bucket = v
	}
	if v := os.Getenv(EnvPublicBaseURL); v != "" {
		c.ObjectStore.PublicBaseURL = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.ObjectStore.Endpoint = v
	}
}

func (c *Config) validate() error {
	if c.ObjectStore.AccessKeyID == "" {
		return ErrAccessKeyIDMissing
	}
	if c.ObjectStore.SecretAccessKey == "" {
		return ErrSecretAccessKeyMissing
	}
	if c.ObjectStore.Bucket == "" {
		return ErrBucketMissing
	}
	if c.ObjectStore.AccountID == "" && c.ObjectStore.Endpoint == "" {
		return ErrAccountIDMissing
	}
	return nil
}
