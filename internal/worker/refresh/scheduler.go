package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/podcatch/internal/model"
)

// SubscriptionLister は同期対象の購読一覧を返す。
type SubscriptionLister interface {
	ListAll(ctx context.Context) ([]*model.Subscription, error)
}

// SyncService は購読1件の同期を実行する。
type SyncService interface {
	Sync(ctx context.Context, sub *model.Subscription) Outcome
}

// Scheduler は全購読の同期を定期的に実行する。
// 購読ごとに1タスクを起動し、semaphoreパターンで最大並列数を制御する。
// 購読間の実行順序は保証しない。
type Scheduler struct {
	subs           SubscriptionLister
	syncer         SyncService
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(subs SubscriptionLister, syncer SyncService, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		subs:           subs,
		syncer:         syncer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全購読を1回ずつ並列に同期し、集計結果を返す。
// 購読一覧の取得に失敗した場合のみエラーを返す。
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	tally := NewTally()

	subs, err := s.subs.ListAll(ctx)
	if err != nil {
		return tally.Summary(), err
	}

	if len(subs) == 0 {
		s.logger.Info("同期対象の購読はありません")
		return tally.Summary(), nil
	}

	s.logger.Info("同期サイクルを開始します",
		slog.Int("subscription_count", len(subs)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

loop:
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(sub *model.Subscription) {
			defer wg.Done()
			defer func() { <-sem }()

			tally.Report(s.syncer.Sync(ctx, sub))
		}(sub)
	}

	wg.Wait()

	summary := tally.Summary()
	summary.Log(s.logger)
	s.logger.Info("同期サイクルが完了しました",
		slog.Int("subscription_count", len(subs)),
		slog.Int("synced", summary.Total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return summary, nil
}
