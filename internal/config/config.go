// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/source"
)

// Supported store types.
const (
	StoreTimestream = "timestream"
	StoreInfluxDB   = "influxdb"
	StorePostgres   = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`

	SourceType          string `mapstructure:"SOURCE_TYPE"`
	SourceURL           string `mapstructure:"SOURCE_URL"`
	SourceToken         string `mapstructure:"SOURCE_TOKEN"`
	SourceTokenSecretID string `mapstructure:"SOURCE_TOKEN_SECRET_ID"`
	FallbackBranch      string `mapstructure:"FALLBACK_BRANCH"`

	StoreType       string `mapstructure:"STORE_TYPE"`
	AWSRegion       string `mapstructure:"AWS_REGION"`
	AWSAccessKey    string `mapstructure:"AWS_ACCESS_KEY"`
	AWSAccessSecret string `mapstructure:"AWS_ACCESS_SECRET"`
	Database        string `mapstructure:"DATABASE"`
	Table           string `mapstructure:"TABLE"`
	S3Bucket        string `mapstructure:"S3_BUCKET"`
	InfluxDBURL     string `mapstructure:"INFLUXDB_URL"`
	InfluxDBToken   string `mapstructure:"INFLUXDB_TOKEN"`
	InfluxDBOrg     string `mapstructure:"INFLUXDB_ORG"`
	PostgresURL     string `mapstructure:"POSTGRES_URL"`

	AllBranches  bool          `mapstructure:"ALL_BRANCHES"`
	Reload       bool          `mapstructure:"RELOAD"`
	Project      string        `mapstructure:"PROJECT"`
	Concurrency  int           `mapstructure:"CONCURRENCY"`
	SyncInterval time.Duration `mapstructure:"SYNC_INTERVAL"`
	ListenAddr   string        `mapstructure:"LISTEN_ADDR"`
	KafkaBrokers []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string        `mapstructure:"KAFKA_TOPIC"`
}

var keys = []string{
	"LOG_LEVEL",
	"SOURCE_TYPE", "SOURCE_URL", "SOURCE_TOKEN", "SOURCE_TOKEN_SECRET_ID", "FALLBACK_BRANCH",
	"STORE_TYPE", "AWS_REGION", "AWS_ACCESS_KEY", "AWS_ACCESS_SECRET", "DATABASE", "TABLE", "S3_BUCKET",
	"INFLUXDB_URL", "INFLUXDB_TOKEN", "INFLUXDB_ORG", "POSTGRES_URL",
	"ALL_BRANCHES", "RELOAD", "PROJECT", "CONCURRENCY", "SYNC_INTERVAL", "LISTEN_ADDR",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
}

// LoadConfig reads configuration from a .env file and/or environment variables.
// Overrides, typically command line flags, take precedence over both.
func LoadConfig(overrides map[string]any) (*Config, error) {
	v := viper.New()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SOURCE_TYPE", source.TypeGitLab)
	v.SetDefault("FALLBACK_BRANCH", "master")
	v.SetDefault("STORE_TYPE", StoreTimestream)
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("TABLE", "gitlab-history")
	v.SetDefault("CONCURRENCY", 1)
	v.SetDefault("SYNC_INTERVAL", "0s")
	v.SetDefault("KAFKA_TOPIC", "gitstats.sync-results")

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validateStore(); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("CONCURRENCY must be at least 1")
	}
	if cfg.SyncInterval < 0 {
		return nil, errors.New("SYNC_INTERVAL must not be negative")
	}

	return &cfg, nil
}

func (c *Config) validateStore() error {
	if c.Database == "" {
		return errors.New("DATABASE is a required configuration field")
	}
	switch c.StoreType {
	case StoreTimestream:
		if c.AWSRegion == "" {
			return errors.New("AWS_REGION is required for the timestream store")
		}
	case StoreInfluxDB:
		if c.InfluxDBURL == "" {
			return errors.New("INFLUXDB_URL is required for the influxdb store")
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required for the postgres store")
		}
	default:
		return &custom_errors.ErrUnsupportedType{Kind: "store", Value: c.StoreType}
	}
	return nil
}

// ValidateSource checks the source settings needed by a sync run.
func (c *Config) ValidateSource() error {
	switch c.SourceType {
	case source.TypeGitLab, source.TypeGitHub:
	case source.TypeGit:
		if c.SourceURL == "" {
			return errors.New("SOURCE_URL must point at a directory for the git source")
		}
		return nil
	default:
		return &custom_errors.ErrUnsupportedType{Kind: "source", Value: c.SourceType}
	}

	if c.SourceToken == "" && c.SourceTokenSecretID == "" {
		return fmt.Errorf("SOURCE_TOKEN or SOURCE_TOKEN_SECRET_ID is required for the %s source", c.SourceType)
	}
	return nil
}

// UsesAWS reports whether AWS clients are needed.
func (c *Config) UsesAWS() bool {
	return c.StoreType == StoreTimestream || (c.SourceToken == "" && c.SourceTokenSecretID != "")
}
