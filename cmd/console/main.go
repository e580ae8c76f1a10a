package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"admindash/internal/api"
	"admindash/internal/authgate"
	"admindash/internal/config"
	"admindash/internal/db"
	"admindash/internal/directory"
	"admindash/internal/logging"
	"admindash/internal/notify"
	"admindash/internal/overview"
	"admindash/internal/prefs"
	"admindash/internal/query"
	"admindash/internal/store"
	"admindash/internal/usermgmt"
	"admindash/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("console stopped", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run serves the console until ctx is done or the listener fails. Every
// resource it opens is closed before it returns.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	sqdb, dialect, err := db.Open(ctx, cfg.DBDriver, cfg.DBDSN, cfg.DBPath, db.Pool{
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqdb.Close()
	if err := db.Migrate(ctx, sqdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st := store.New(sqdb, dialect)

	client := directory.NewClient(cfg)
	cache := query.New(query.Options{
		GCTime:       cfg.QueryGCTime(),
		FetchTimeout: cfg.QueryFetchTimeout(),
		Logger:       logger,
	})
	tray := notify.NewTray(0, logger)
	redirects := api.NewRedirects(logger)
	preferences := prefs.Load(ctx, st, cfg.DefaultDisplayName, logger)

	gate := authgate.New(client, cache, authgate.Options{
		LoginPath: cfg.LoginPath,
		Navigator: redirects,
		Recorder:  st,
		Logger:    logger,
	})
	gate.Mount()

	app := api.App{
		Gate:      gate,
		Redirects: redirects,
		Panel: usermgmt.New(client, cache, usermgmt.Options{
			PasswordMinLength: cfg.PasswordMinLength,
			Notifier:          tray,
			Recorder:          st,
			Logger:            logger,
		}),
		Overview:  overview.New(cache, usermgmt.FetchUsers(client), preferences),
		Prefs:     preferences,
		Tray:      tray,
		Activity:  st,
		Directory: client,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	hsrv := &http.Server{
		Handler:           api.NewRouter(cfg, app, logger),
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	info := version.Current()
	logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("directory", cfg.DirectoryBaseURL),
		zap.String("db", dialect),
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hsrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hsrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}
