// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/podcatch/internal/model"
)

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Subscription, error)

	// Create は購読を作成する。同一IDまたは同一URLが存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, sub *model.Subscription) error

	// ListAll は全購読をID順に返す。
	ListAll(ctx context.Context) ([]*model.Subscription, error)

	// Delete は指定IDの購読を削除する。エピソードはCASCADE削除される。
	// 対象が存在しない場合は影響行数0を返す。
	Delete(ctx context.Context, id int64) (int64, error)

	// CommitRefresh はリフレッシュ成功を1回の更新で記録する。
	// フィードのメタデータを書き戻し、stateをSeenOnce、refresh_modeをAll、
	// last_refresh_atをatにしてエラーメッセージを消す。影響行数を返す。
	CommitRefresh(ctx context.Context, id int64, info model.FeedInfo, at time.Time) (int64, error)

	// RecordFailure はリフレッシュ失敗を記録する。
	// stateをRefreshFailedにし、エラーメッセージを保存する。
	RecordFailure(ctx context.Context, id int64, message string) error
}

// EpisodeFilter はエピソード一覧の絞り込み条件。
type EpisodeFilter struct {
	// State がnilでなければその状態のエピソードのみ返す。
	State *model.EpisodeState
	// Limit が0以下の場合は上限なし。
	Limit int
}

// EpisodeRepository はエピソードデータの永続化インターフェース。
type EpisodeRepository interface {
	// TouchLastSeen は既存エピソードのlast_seen_atを更新する。
	// 該当エピソードが存在した場合はtrueを返す。
	TouchLastSeen(ctx context.Context, id int64, at time.Time) (bool, error)

	// Insert はエピソードを作成する。同一IDが存在する場合はErrDuplicateを返す。
	Insert(ctx context.Context, ep *model.Episode) error

	// ListBySubscription は購読のエピソードを公開日時の降順で返す。
	ListBySubscription(ctx context.Context, subscriptionID int64, filter EpisodeFilter) ([]*model.Episode, error)
}
