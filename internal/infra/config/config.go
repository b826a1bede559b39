package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`
	Batch       BatchConfig       `mapstructure:"batch" yaml:"batch"`
	Upload      UploadConfig      `mapstructure:"upload" yaml:"upload"`

	Port string `mapstructure:"port" yaml:"port"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

type ObjectStoreConfig struct {
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey     string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey     string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket        string `mapstructure:"bucket" yaml:"bucket"`
	Region        string `mapstructure:"region" yaml:"region"`
	UseSSL        bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

type BatchConfig struct {
	// GroupSize bounds how many passport fetches run concurrently.
	GroupSize       int    `mapstructure:"group_size" yaml:"group_size"`
	GroupPauseMS    int    `mapstructure:"group_pause_ms" yaml:"group_pause_ms"`
	FetchTimeoutSec int    `mapstructure:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds"`
	MaxImageBytes   int64  `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`
	Compression     string `mapstructure:"compression" yaml:"compression"`
	KeepAliveSec    int    `mapstructure:"keepalive_seconds" yaml:"keepalive_seconds"`
	// DeadlineSec caps one whole batch download; 0 disables the cap.
	DeadlineSec int `mapstructure:"deadline_seconds" yaml:"deadline_seconds"`
}

type UploadConfig struct {
	MaxFileBytes int64 `mapstructure:"max_file_bytes" yaml:"max_file_bytes"`
}

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// FALLBACK: If we are in Docker (or similar) and didn't provide a flag, check /config/config.yaml
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else if _, errEx := os.Stat("config.yaml.example"); errEx == nil {
				return nil, fmt.Errorf("configuration file 'config.yaml' not found\n\n" +
					"To fix this, run:\n" +
					"  cp config.yaml.example config.yaml\n" +
					"Then edit it with your object store credentials.")
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	// Set Defaults
	v.SetDefault("port", "8080")
	v.SetDefault("log.path", "passportvault.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.sqlite_path", "./data/passportvault.db")
	v.SetDefault("object_store.bucket", "passports")
	v.SetDefault("object_store.region", "us-east-1")
	v.SetDefault("object_store.use_ssl", false)
	v.SetDefault("batch.group_size", 5)
	v.SetDefault("batch.group_pause_ms", 200)
	v.SetDefault("batch.fetch_timeout_seconds", 30)
	v.SetDefault("batch.max_image_bytes", 20<<20)
	v.SetDefault("batch.compression", "deflate")
	v.SetDefault("batch.keepalive_seconds", 15)
	v.SetDefault("batch.deadline_seconds", 0)
	v.SetDefault("upload.max_file_bytes", 8<<20)

	// Read config File
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	// Support Environment Variables
	v.SetEnvPrefix("PASSPORTVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ObjectStore.Endpoint == "" {
		return fmt.Errorf("object_store.endpoint is required")
	}

	if c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey == "" {
		return fmt.Errorf("object_store credentials are required")
	}

	if c.Batch.GroupSize <= 0 {
		// Default to a sane value
		c.Batch.GroupSize = 5
	}

	if c.Batch.FetchTimeoutSec <= 0 {
		c.Batch.FetchTimeoutSec = 30
	}

	if c.Batch.MaxImageBytes <= 0 {
		c.Batch.MaxImageBytes = 20 << 20
	}

	switch c.Batch.Compression {
	case "", "deflate", "store":
	default:
		return fmt.Errorf("batch.compression must be \"store\" or \"deflate\", got %q", c.Batch.Compression)
	}

	if c.Upload.MaxFileBytes <= 0 {
		c.Upload.MaxFileBytes = 8 << 20
	}

	return nil
}
