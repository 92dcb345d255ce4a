package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driveteam/scoutd/internal/backup"
	"github.com/driveteam/scoutd/internal/config"
	"github.com/driveteam/scoutd/internal/entity"
	"github.com/driveteam/scoutd/internal/events"
	"github.com/driveteam/scoutd/internal/live"
	"github.com/driveteam/scoutd/internal/scouting"
	"github.com/driveteam/scoutd/internal/server"
	"github.com/driveteam/scoutd/internal/session"
	"github.com/driveteam/scoutd/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scouting server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		scouting.Register()
		if err := entity.BuildAll(context.Background(), store); err != nil {
			store.Close()
			return err
		}

		// Bridge store events to NATS when configured.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				store.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (SCOUT_NATS_URL not set)")
		}
		relayCtx, relayCancel := context.WithCancel(context.Background())
		go events.Relay(relayCtx, entity.DefaultBus(), publisher)

		// Live push hub.
		hub := live.NewHub()
		hubCtx, hubCancel := context.WithCancel(context.Background())
		go hub.Run(hubCtx, entity.DefaultBus())

		// Static roster from the config file.
		roster := session.NewStatic()
		for _, acct := range cfg.App.Accounts {
			roster.Add(session.Identity{
				AccountID: acct.ID,
				Name:      acct.Name,
				Roles:     cfg.App.RolesFor(acct),
				Admin:     acct.Admin,
			})
		}
		sessions := session.NewManager(roster, cfg.SessionTTL)

		srv := server.New(sessions, hub, cfg.App.Ruleset(), cfg.App.OpenRead)
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: srv.Handler(),
		}

		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Lifetime sweeper.
		var sweeper *entity.Sweeper
		if cfg.SweepInterval > 0 {
			sweeper = entity.NewSweeper(cfg.SweepInterval)
			sweeper.Start()
			logger.Info("lifetime sweeper started", "interval", cfg.SweepInterval)
		}

		// Backup scheduler.
		var scheduler *backup.Scheduler
		if cfg.SyncInterval > 0 {
			var dest backup.Destination
			switch {
			case cfg.SyncS3Bucket != "":
				s3Dest, err := backup.NewS3Destination(
					context.Background(),
					cfg.SyncS3Bucket,
					cfg.SyncS3Prefix+"scoutd.jsonl",
					cfg.SyncS3Region,
					cfg.SyncS3Endpoint,
				)
				if err != nil {
					logger.Error("failed to create S3 backup destination", "err", err)
				} else {
					dest = s3Dest
					logger.Info("backup S3 destination enabled", "bucket", cfg.SyncS3Bucket)
				}
			case cfg.SyncDir != "":
				dirDest, err := backup.NewDirDestination(cfg.SyncDir)
				if err != nil {
					logger.Error("failed to create backup directory", "err", err)
				} else {
					dest = dirDest
					logger.Info("backup directory enabled", "dir", cfg.SyncDir)
				}
			}
			if dest != nil {
				scheduler = backup.NewScheduler(dest, cfg.SyncInterval)
				scheduler.Start()
				logger.Info("backup scheduler started", "interval", cfg.SyncInterval)
			}
		}

		logger.Info("scoutd started", "http_addr", cfg.HTTPAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("backup scheduler stopped")
		}
		if sweeper != nil {
			sweeper.Stop()
			logger.Info("lifetime sweeper stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		hubCancel()
		hub.Close()
		relayCancel()
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
