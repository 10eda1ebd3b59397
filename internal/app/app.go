package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/podcatch/internal/config"
	"github.com/hitoshi/podcatch/internal/database"
	"github.com/hitoshi/podcatch/internal/handler"
	"github.com/hitoshi/podcatch/internal/logger"
	"github.com/hitoshi/podcatch/internal/metrics"
	"github.com/hitoshi/podcatch/internal/middleware"
	"github.com/hitoshi/podcatch/internal/model"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetLevel(slog.LevelInfo)
	log := logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, ok := logger.ParseLevel(cfg.LogLevel)
	logger.SetLevel(level)
	if !ok {
		log.Warn("不明なLOG_LEVELのためinfoを使用します", slog.String("log_level", cfg.LogLevel))
	}
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMで停止する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, w, args)
}

func run(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	log := slog.Default()

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if cmd == CommandMigrate {
		return runMigrate(cfg, log)
	}

	c, err := newComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, c)
	case CommandRefresh:
		return runRefresh(ctx, c)
	case CommandSubscribe:
		return runSubscribe(ctx, c, commandArgs(args))
	default:
		return runServe(ctx, c)
	}
}

// runServe はAPIサーバーモードで起動する。
// 手動リフレッシュで要求された画像のダウンロードもこのプロセスで行う。
func runServe(ctx context.Context, c *components) error {
	cfg := c.cfg

	go c.images.Start(ctx)

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitPerMin, cfg.WriteRateLimitPerMin),
		c.logger,
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SubscriptionService: c.service,
		RateLimiter:         rateLimiter,
		HealthChecker:       c.db,
		Logger:              c.logger,
		TrustProxy:          cfg.TrustProxy,
	})

	apiServer := newHTTPServer(":"+cfg.ServerPort, router)
	// 手動リフレッシュはフィード取得とサイズ問い合わせを含むため書き込みタイムアウトを延ばす
	apiServer.WriteTimeout = cfg.FetchTimeout + 2*time.Minute
	metricsServer := newHTTPServer(":"+cfg.MetricsPort, metrics.SetupMetricsRoute(c.registry))

	errCh := make(chan error, 2)
	go listen(apiServer, "API server", c.logger, errCh)
	go listen(metricsServer, "metrics server", c.logger, errCh)

	var runErr error
	select {
	case <-ctx.Done():
		c.logger.Info("shutting down API server...")
	case runErr = <-errCh:
	}

	if err := shutdown(c.logger, apiServer, metricsServer); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil {
		c.logger.Info("API server stopped gracefully")
	}
	return runErr
}

// runWorker はワーカーモードで起動する。
// リフレッシュスケジューラ、クリーンアップジョブ、画像ダウンローダー、メトリクスエンドポイントを起動し、
// シグナルを受信するまでブロックする。
func runWorker(ctx context.Context, c *components) error {
	cfg := c.cfg

	metricsServer := newHTTPServer(":"+cfg.MetricsPort, metrics.SetupMetricsRoute(c.registry))
	errCh := make(chan error, 1)
	go listen(metricsServer, "metrics server", c.logger, errCh)

	go c.images.Start(ctx)
	go c.cleanup.Start(ctx, cfg.CleanupInterval)

	c.logger.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	// リフレッシュスケジューラをメインgoroutineで実行（ブロッキング）
	c.newScheduler().Start(ctx, cfg.FetchInterval)

	if err := shutdown(c.logger, metricsServer); err != nil {
		return err
	}
	c.logger.Info("worker stopped gracefully")
	return nil
}

// runRefresh は全購読を1回リフレッシュして終了する。
// 集計はスケジューラがログに出力する。
func runRefresh(ctx context.Context, c *components) error {
	stopImages := startImages(ctx, c)
	defer stopImages()

	summary, err := c.newScheduler().RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	if n := summary.FailedCount(); n > 0 {
		c.logger.Warn("一部の購読のリフレッシュに失敗しました",
			slog.Int("failed", n),
			slog.Int("total", summary.Total),
		)
	}
	return nil
}

// startImages は画像ダウンローダーを起動し、停止関数を返す。
// 停止関数は処理待ちの画像を最大ImageDrainTimeoutまで処理してからワーカーを止める。
func startImages(ctx context.Context, c *components) func() {
	imgCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		c.images.Start(imgCtx)
		close(stopped)
	}()

	return func() {
		waitCtx, cancelWait := context.WithTimeout(ctx, c.cfg.ImageDrainTimeout)
		defer cancelWait()
		if err := c.images.Wait(waitCtx); err != nil {
			c.logger.Warn("処理待ちの画像を残して終了します",
				slog.Int("pending", c.images.Pending()),
				slog.String("error", err.Error()),
			)
		}
		cancel()
		<-stopped
	}
}

// runSubscribe は引数のフィードURLを購読し、即時にリフレッシュする。
// 引数: <url> [refresh_mode]
func runSubscribe(ctx context.Context, c *components, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: podcatch subscribe <url> [all|none|last|week|month]")
	}
	mode := model.RefreshModeAll
	if len(args) > 1 {
		m, err := model.ParseRefreshMode(args[1])
		if err != nil {
			return err
		}
		mode = m
	}

	sub, err := c.service.Subscribe(ctx, args[0], mode)
	if err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	stopImages := startImages(ctx, c)
	defer stopImages()

	out, err := c.service.Refresh(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	if out.Err != nil {
		return fmt.Errorf("subscribed but refresh failed: %w", out.Err)
	}

	c.logger.Info("購読してリフレッシュしました",
		slog.Int64("subscription_id", sub.ID),
		slog.String("feed_url", sub.FeedURL),
		slog.String("title", out.Title),
		slog.Int("inserted", out.Stats.Inserted),
		slog.Int("new_episodes", out.NewEpisodes),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	version, err := database.RunMigrations(db, dialect)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// listen はサーバーを起動し、予期しない終了をerrChに送る。
func listen(server *http.Server, name string, log *slog.Logger, errCh chan<- error) {
	log.Info(name+" starting", slog.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(name+" listen error", slog.String("error", err.Error()))
		errCh <- fmt.Errorf("%s: %w", name, err)
	}
}

// shutdown はサーバーを順にグレースフルシャットダウンする。
func shutdown(log *slog.Logger, servers ...*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			log.Error("server shutdown failed",
				slog.String("addr", s.Addr),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
