// cmd/gitstats/sync.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"gitlab-stats/internal/api"
	"gitlab-stats/internal/report"
	"gitlab-stats/internal/source"
	"gitlab-stats/internal/syncer"
)

const (
	shutdownTimeout = 5 * time.Second
	publishTimeout  = 10 * time.Second
)

type reportPublisher interface {
	Publish(ctx context.Context, report *syncer.RunReport) error
}

// publishReport detaches from ctx so the report of a pass interrupted by a
// shutdown signal is still delivered.
func publishReport(ctx context.Context, p reportPublisher, r *syncer.RunReport) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return p.Publish(ctx, r)
}

func (a *application) syncAction(c *cli.Context) error {
	cfg, err := a.loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.ValidateSource(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}

	token, err := resolveToken(ctx, cfg, awsCfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to resolve source token: %w", err)
	}
	fetcher, err := source.New(source.Options{
		Type:           cfg.SourceType,
		URL:            cfg.SourceURL,
		Token:          token,
		FallbackBranch: cfg.FallbackBranch,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	st, processor, err := newBackend(ctx, cfg, awsCfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	if err := st.CreateTable(ctx, target(cfg), cfg.S3Bucket); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	console := &report.Console{Out: os.Stdout}
	var publisher *report.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = report.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, a.logger)
		defer publisher.Close()
	}

	appSyncer := syncer.NewSyncer(fetcher, processor, st, a.logger, syncer.Options{
		Target:      target(cfg),
		AllBranches: cfg.AllBranches,
		Reload:      cfg.Reload,
		Project:     cfg.Project,
		Concurrency: cfg.Concurrency,
		OnReport: func(ctx context.Context, r *syncer.RunReport) {
			if err := console.Write(r); err != nil {
				a.logger.Warn("Failed to print report", "error", err)
			}
			if publisher != nil {
				if err := publishReport(ctx, publisher, r); err != nil {
					a.logger.Error("Failed to publish report", "error", err)
				}
			}
		},
	})

	if cfg.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.NewRouter(appSyncer, a.logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("Status API listening", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Status API failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.SyncInterval > 0 {
		return appSyncer.Start(ctx, cfg.SyncInterval)
	}

	if _, err := appSyncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
