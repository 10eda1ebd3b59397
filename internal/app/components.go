package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/podcatch/internal/config"
	"github.com/hitoshi/podcatch/internal/database"
	"github.com/hitoshi/podcatch/internal/episode"
	"github.com/hitoshi/podcatch/internal/feed"
	"github.com/hitoshi/podcatch/internal/imagecache"
	"github.com/hitoshi/podcatch/internal/metrics"
	"github.com/hitoshi/podcatch/internal/repository"
	"github.com/hitoshi/podcatch/internal/security"
	"github.com/hitoshi/podcatch/internal/subscription"
	"github.com/hitoshi/podcatch/internal/worker/cleanup"
	"github.com/hitoshi/podcatch/internal/worker/refresh"
)

// components はserve・worker・refresh・subscribeで共有する依存関係。
type components struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	registry *prometheus.Registry

	subs    *repository.SQLSubscriptionRepo
	images  *imagecache.Downloader
	cleanup *cleanup.CleanupJob
	syncer  *refresh.Syncer
	service *subscription.Service
}

// newComponents はDB接続を開き、未適用のマイグレーションを適用したうえで全依存関係をワイヤリングする。
func newComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	// 1. DB接続
	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	version, err := database.RunMigrations(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database connection established",
		slog.String("dialect", string(dialect)),
		slog.Uint64("schema_version", uint64(version)),
	)

	// 2. リポジトリ
	subs := repository.NewSubscriptionRepo(db, dialect)
	episodes := repository.NewEpisodeRepo(db, dialect)

	// 3. セキュリティ
	var guard security.SSRFGuardService = security.NewSSRFGuard()
	if cfg.AllowPrivateNetworks {
		logger.Warn("プライベートネットワークへのアクセスを許可しています")
		guard = security.NewTrustedNetworkGuard()
	}

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 5. 画像キャッシュ
	images, err := imagecache.New(imagecache.Config{
		Dir:        cfg.ImageDir,
		RatePerSec: cfg.ImageRatePerSec,
		QueueSize:  cfg.ImageQueueSize,
		Timeout:    cfg.FetchTimeout,
		MaxSize:    cfg.FetchMaxSize,
		UserAgent:  cfg.UserAgent,
	}, guard, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	// 6. 同期
	extractor := episode.NewExtractor(
		episodes,
		episode.NewHTTPProber(guard.NewSafeClient(cfg.ProbeTimeout, 0), cfg.UserAgent),
		images,
		logger,
		episode.Options{
			NoTitle:                cfg.EpisodeNoTitle,
			ShortDescriptionLength: cfg.ShortDescriptionLength,
		},
	)
	cleanupJob := cleanup.NewCleanupJob(db, dialect, logger)
	syncer := refresh.NewSyncer(refresh.Deps{
		Subscriptions: subs,
		Items:         extractor,
		Parser:        feed.NewParser(),
		Guard:         guard,
		Images:        images,
		Cleaner:       cleanupJob,
		Reporter:      refresh.NewMetricsReporter(collector),
		Logger:        logger,
	}, refresh.Options{
		Timeout:                cfg.FetchTimeout,
		MaxBodySize:            cfg.FetchMaxSize,
		MaxItems:               cfg.FeedMaxItems,
		UserAgent:              cfg.UserAgent,
		ShortDescriptionLength: cfg.ShortDescriptionLength,
	})

	discoverer := feed.NewDiscoverer(guard, feed.DiscoveryOptions{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		UserAgent:   cfg.UserAgent,
	})

	return &components{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		registry: registry,
		subs:     subs,
		images:   images,
		cleanup:  cleanupJob,
		syncer:   syncer,
		service:  subscription.NewService(subs, episodes, guard, syncer, discoverer, logger),
	}, nil
}

// newScheduler は設定に従ったリフレッシュスケジューラを生成する。
func (c *components) newScheduler() *refresh.Scheduler {
	return refresh.NewScheduler(c.subs, c.syncer, c.logger, c.cfg.FetchMaxConcurrent)
}

// Close はDB接続を閉じる。
func (c *components) Close() error {
	return c.db.Close()
}
