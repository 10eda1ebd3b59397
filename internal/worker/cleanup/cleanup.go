// Package cleanup はエピソードデータの自動削除ジョブを提供する。
// 最後に成功したリフレッシュでフィードから消えていたエピソードのうち、
// 指定状態のものを削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/podcatch/internal/database"
	"github.com/hitoshi/podcatch/internal/model"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// deleteStaleEpisodesQuery は購読の最終リフレッシュ時刻より前に最後に確認されたエピソードを削除する。
// last_refresh_at = 0（リフレッシュ途中）の購読は対象外になる。
const deleteStaleEpisodesQuery = `DELETE FROM episodes
 WHERE state = ?
   AND last_seen_at < (SELECT s.last_refresh_at FROM subscriptions s WHERE s.id = episodes.subscription_id)`

// CleanupJob はフィードから消えたエピソードの削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	db      Executor
	dialect database.Dialect
	logger  *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, dialect database.Dialect, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// CleanupEpisodes は指定状態のうち、所属する購読の最終リフレッシュで確認されなかったエピソードを削除し、
// 削除件数を返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) CleanupEpisodes(ctx context.Context, state model.EpisodeState) (int64, error) {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, database.Rebind(j.dialect, deleteStaleEpisodesQuery), int(state))
	if err != nil {
		j.logger.Error("エピソードクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("state", state.String()),
		)
		return 0, fmt.Errorf("エピソードクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("エピソードクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.String("state", state.String()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return deletedCount, nil
}

// Run はGONE状態の古いエピソードを削除する。定期実行用。
func (j *CleanupJob) Run(ctx context.Context) error {
	_, err := j.CleanupEpisodes(ctx, model.EpisodeGone)
	return err
}

// Start はintervalごとにRunを実行する。起動直後に1回実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
