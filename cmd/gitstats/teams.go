// cmd/gitstats/teams.go
package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"gitlab-stats/internal/teams"
)

func (a *application) teamsAction(c *cli.Context) error {
	cfg, err := a.loadConfig(c)
	if err != nil {
		return err
	}

	changes, err := teams.LoadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read team changes: %w", err)
	}

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	st, _, err := newBackend(ctx, cfg, awsCfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	if err := st.CreateTable(ctx, target(cfg), cfg.S3Bucket); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = teams.NewImporter(st, a.logger).Import(ctx, target(cfg), changes)
	return err
}
