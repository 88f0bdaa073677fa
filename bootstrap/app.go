// Package bootstrap wires the resolver components from the environment for
// the service and the maintenance CLIs.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/ingest"
	"github.com/mmdatafocus/menu_backend/matcher"
	"github.com/mmdatafocus/menu_backend/metrics"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/mmdatafocus/menu_backend/utils"
	"github.com/mmdatafocus/menu_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type App struct {
	Settings   config.ResolverSettings
	DB         *gorm.DB
	Store      *catalog.Store
	Brain      *brain.Brain
	Normalizer *normalizer.Normalizer
	Matcher    *matcher.Matcher
	Pool       *ingest.Pool
	Engine     *workflow.Engine
	Locker     utils.Locker
	Logger     *logrus.Logger

	closers []func()
}

// OpenBrain opens the Brain with its GCS mirror when BRAIN_GCS_BUCKET is set.
// The returned func closes the storage client.
func OpenBrain(ctx context.Context, settings config.ResolverSettings) (*brain.Brain, func(), error) {
	var mirror brain.Mirror
	closeFn := func() {}
	if settings.BrainGCSBucket != "" {
		client, err := config.GetGCSClient(ctx)
		if err != nil {
			return nil, closeFn, fmt.Errorf("brain mirror: %w", err)
		}
		mirror = brain.NewGCSMirror(client, settings.BrainGCSBucket, settings.BrainGCSObject)
		closeFn = func() { _ = client.Close() }
	}
	b, err := brain.Open(ctx, settings.BrainPath, mirror)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return b, closeFn, nil
}

// OpenLocker returns the Redis-backed locker when REDIS_ADDRESS is set and
// reachable, and an in-process locker otherwise. The returned func closes
// the Redis client.
func OpenLocker(ctx context.Context) (utils.Locker, func()) {
	if os.Getenv("REDIS_ADDRESS") == "" {
		return utils.NewLocalLocker(), func() {}
	}
	if err := config.ConnectRedisWithRetry(ctx); err != nil {
		config.LogError(config.GetLogger(), "bootstrap", "OpenLocker", "Redis unavailable; using in-process locks", nil, err)
		return utils.NewLocalLocker(), func() {}
	}
	return utils.NewRedisLocker(config.GetRedisLock(), 2*time.Minute, 30*time.Second), config.CloseRedis
}

// Open connects the database (blocking until reachable), migrates unless
// SKIP_MIGRATIONS=true, and builds the resolution stack.
func Open(ctx context.Context) (*App, error) {
	logger := config.GetLogger()
	settings := config.LoadResolverSettings()
	app := &App{Settings: settings, Logger: logger}

	config.ConnectDatabaseWithRetry()
	app.DB = config.GetDB()
	app.closers = append(app.closers, func() {
		if sqlDB, err := app.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	app.Store = catalog.New(app.DB)
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := app.Store.Migrate(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	norm := normalizer.Default()
	if settings.NormalizerRulesPath != "" {
		n, err := normalizer.NewFromFile(settings.NormalizerRulesPath)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("normalizer rules: %w", err)
		}
		norm = n
	}
	app.Normalizer = norm

	b, closeBrain, err := OpenBrain(ctx, settings)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Brain = b
	app.closers = append(app.closers, closeBrain)

	locker, closeLocker := OpenLocker(ctx)
	app.Locker = locker
	app.closers = append(app.closers, closeLocker)

	app.Matcher = matcher.New(norm, app.Store, b,
		matcher.WithThreshold(settings.FuzzyThreshold),
		matcher.WithLogger(logger),
	)
	app.Pool = ingest.NewPool(app.Store, app.Matcher,
		ingest.WithConcurrency(settings.IngestConcurrency),
		ingest.WithAutoCreate(settings.AutoCreateUnmatched),
		ingest.WithObserver(metrics.ObserveResolution),
		ingest.WithLogger(logger),
	)

	opts := []workflow.Option{workflow.WithLogger(logger)}
	if settings.SeedCatalogPath != "" {
		opts = append(opts, workflow.WithSeed(SeedFromFile(settings.SeedCatalogPath)))
	}
	app.Engine = workflow.NewEngine(app.Store, b, app.Matcher, app.Pool, app.Locker, opts...)

	config.LogInfo(logger, "bootstrap", "Open", "resolver ready", map[string]interface{}{
		"brain_rules":  b.Len(),
		"threshold":    settings.FuzzyThreshold,
		"concurrency":  settings.IngestConcurrency,
		"auto_create":  settings.AutoCreateUnmatched,
		"brain_mirror": settings.BrainGCSBucket != "",
	})
	return app, nil
}

// SeedFromFile reads the seed catalog workbook on every rebuild, so edits to
// the file are picked up without a restart.
func SeedFromFile(path string) workflow.SeedSource {
	return func(ctx context.Context) ([]catalog.SeedRow, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return catalog.ReadSeedXLSX(f)
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
