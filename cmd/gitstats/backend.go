// cmd/gitstats/backend.go
package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"gitlab-stats/internal/awsconfig"
	"gitlab-stats/internal/config"
	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/metrics"
	"gitlab-stats/internal/secrets"
	"gitlab-stats/internal/store"
	"gitlab-stats/internal/store/influxdb"
	"gitlab-stats/internal/store/postgres"
	"gitlab-stats/internal/store/timestream"
)

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	if !cfg.UsesAWS() {
		return aws.Config{}, nil
	}
	return awsconfig.Load(ctx, awsconfig.Options{
		Region:       cfg.AWSRegion,
		AccessKey:    cfg.AWSAccessKey,
		AccessSecret: cfg.AWSAccessSecret,
	})
}

// newBackend creates the store named by the configuration and its processor.
func newBackend(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (store.Store, metrics.Processor, error) {
	switch cfg.StoreType {
	case config.StoreTimestream:
		st := timestream.New(awsCfg, logger)
		return st, timestream.NewProcessor(st, logger), nil
	case config.StoreInfluxDB:
		st := influxdb.New(influxdb.Options{URL: cfg.InfluxDBURL, Token: cfg.InfluxDBToken, Org: cfg.InfluxDBOrg}, logger)
		return st, influxdb.NewProcessor(st, logger), nil
	case config.StorePostgres:
		st, err := postgres.New(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, postgres.NewProcessor(st, logger), nil
	default:
		return nil, nil, &custom_errors.ErrUnsupportedType{Kind: "store", Value: cfg.StoreType}
	}
}

// resolveToken returns the configured source token, reading it from Secrets
// Manager when only a secret id is given.
func resolveToken(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (string, error) {
	if cfg.SourceToken != "" || cfg.SourceTokenSecretID == "" {
		return cfg.SourceToken, nil
	}
	return secrets.NewResolver(awsCfg, logger).GetSecret(ctx, cfg.SourceTokenSecretID)
}

func target(cfg *config.Config) store.Target {
	return store.Target{Database: cfg.Database, Table: cfg.Table}
}
