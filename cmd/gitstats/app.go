// cmd/gitstats/app.go
package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"gitlab-stats/internal/config"
)

type application struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar
}

// String flags and the configuration key each one overrides.
var stringFlagKeys = map[string]string{
	"access-key":        "SOURCE_TOKEN",
	"token-secret-id":   "SOURCE_TOKEN_SECRET_ID",
	"source-url":        "SOURCE_URL",
	"site-type":         "SOURCE_TYPE",
	"fallback-branch":   "FALLBACK_BRANCH",
	"region":            "AWS_REGION",
	"database":          "DATABASE",
	"table":             "TABLE",
	"s3-bucket":         "S3_BUCKET",
	"aws-access-key":    "AWS_ACCESS_KEY",
	"aws-access-secret": "AWS_ACCESS_SECRET",
	"store-type":        "STORE_TYPE",
	"influxdb-url":      "INFLUXDB_URL",
	"influxdb-token":    "INFLUXDB_TOKEN",
	"influxdb-org":      "INFLUXDB_ORG",
	"postgres-url":      "POSTGRES_URL",
	"project":           "PROJECT",
	"listen":            "LISTEN_ADDR",
	"kafka-topic":       "KAFKA_TOPIC",
	"log-level":         "LOG_LEVEL",
}

var boolFlagKeys = map[string]string{
	"all-branch": "ALL_BRANCHES",
	"reload":     "RELOAD",
}

func (a *application) cliApp() *cli.App {
	return &cli.App{
		Name:  "gitstats",
		Usage: "Collect commit metrics from GitLab, GitHub or local repositories into a time-series store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "access-key", Aliases: []string{"k"}, Usage: "GitLab or GitHub access token"},
			&cli.StringFlag{Name: "token-secret-id", Usage: "AWS Secrets Manager id holding the access token"},
			&cli.StringFlag{Name: "source-url", Aliases: []string{"u", "gitlab-url"}, Usage: "GitLab URL, GitHub API URL or local repository root"},
			&cli.StringFlag{Name: "site-type", Usage: "Type of site to fetch metrics from (gitlab, github, git)"},
			&cli.StringFlag{Name: "fallback-branch", Usage: "Branch used when a project reports no default branch"},
			&cli.StringFlag{Name: "region", Aliases: []string{"r"}, Usage: "AWS Region"},
			&cli.StringFlag{Name: "database", Aliases: []string{"d"}, Usage: "Timestream database, InfluxDB bucket or Postgres namespace"},
			&cli.StringFlag{Name: "table", Aliases: []string{"t"}, Usage: "Timestream table"},
			&cli.StringFlag{Name: "s3-bucket", Aliases: []string{"c"}, Usage: "S3 bucket for rejected magnetic store writes"},
			&cli.StringFlag{Name: "aws-access-key", Aliases: []string{"a"}, Usage: "AWS access key"},
			&cli.StringFlag{Name: "aws-access-secret", Aliases: []string{"s"}, Usage: "AWS access secret"},
			&cli.BoolFlag{Name: "all-branch", Aliases: []string{"b"}, Usage: "Capture all branches"},
			&cli.BoolFlag{Name: "reload", Aliases: []string{"l"}, Usage: "Ignore stored state and re-ingest full history"},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "A specific project to parse"},
			&cli.StringFlag{Name: "store-type", Usage: "Type of metrics store (timestream, influxdb, postgres)"},
			&cli.StringFlag{Name: "influxdb-url", Usage: "InfluxDB URL"},
			&cli.StringFlag{Name: "influxdb-token", Usage: "InfluxDB token"},
			&cli.StringFlag{Name: "influxdb-org", Usage: "InfluxDB organization"},
			&cli.StringFlag{Name: "postgres-url", Usage: "PostgreSQL connection URL"},
			&cli.IntFlag{Name: "concurrency", Usage: "Number of projects synced in parallel"},
			&cli.DurationFlag{Name: "interval", Usage: "Repeat the sync at this interval (0 runs once)"},
			&cli.StringFlag{Name: "listen", Usage: "Address of the status API, e.g. :8080"},
			&cli.StringSliceFlag{Name: "kafka-brokers", Usage: "Kafka brokers receiving sync results"},
			&cli.StringFlag{Name: "kafka-topic", Usage: "Kafka topic receiving sync results"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error)"},
		},
		Commands: []*cli.Command{
			{
				Name:  "teams",
				Usage: "Capture employee team changes from a JSON file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Path to the JSON file containing team changes"},
				},
				Action: a.teamsAction,
			},
		},
		Action: a.syncAction,
	}
}

// overrides collects the flags set on the command line as configuration overrides.
func overrides(c *cli.Context) map[string]any {
	o := map[string]any{}
	for name, key := range stringFlagKeys {
		if c.IsSet(name) {
			o[key] = c.String(name)
		}
	}
	for name, key := range boolFlagKeys {
		if c.IsSet(name) {
			o[key] = c.Bool(name)
		}
	}
	if c.IsSet("concurrency") {
		o["CONCURRENCY"] = c.Int("concurrency")
	}
	if c.IsSet("interval") {
		o["SYNC_INTERVAL"] = c.Duration("interval")
	}
	if c.IsSet("kafka-brokers") {
		o["KAFKA_BROKERS"] = c.StringSlice("kafka-brokers")
	}
	return o
}

func (a *application) loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(overrides(c))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, a.logLevel)
	a.logger.Info("Configuration loaded successfully", "source", cfg.SourceType, "store", cfg.StoreType)
	return cfg, nil
}
