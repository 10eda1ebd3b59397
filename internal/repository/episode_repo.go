package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/podcatch/internal/database"
	"github.com/hitoshi/podcatch/internal/model"
)

const episodeColumns = `id, subscription_id, title, audio_url, size_bytes, description, short_description,
		        link, published_at, state, last_seen_at, created_at`

// SQLEpisodeRepo はPostgreSQL/SQLiteを使用したエピソードリポジトリ。
type SQLEpisodeRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewEpisodeRepo はSQLEpisodeRepoを生成する。
func NewEpisodeRepo(db *sql.DB, dialect database.Dialect) *SQLEpisodeRepo {
	return &SQLEpisodeRepo{db: db, dialect: dialect}
}

func (r *SQLEpisodeRepo) q(query string) string {
	return database.Rebind(r.dialect, query)
}

// TouchLastSeen は既存エピソードのlast_seen_atを更新する。
func (r *SQLEpisodeRepo) TouchLastSeen(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		r.q(`UPDATE episodes SET last_seen_at = ? WHERE id = ?`),
		toMillis(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("エピソードの最終確認日時の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// Insert はエピソードを作成する。
func (r *SQLEpisodeRepo) Insert(ctx context.Context, ep *model.Episode) error {
	_, err := r.db.ExecContext(ctx,
		r.q(`INSERT INTO episodes (`+episodeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ep.ID, ep.SubscriptionID, ep.Title, ep.AudioURL, ep.SizeBytes, ep.Description, ep.ShortDescription,
		ep.Link, toMillis(ep.PublishedAt), int(ep.State), toMillis(ep.LastSeenAt), toMillis(ep.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("エピソードは既に存在します: %w", ErrDuplicate)
		}
		return fmt.Errorf("エピソードの作成に失敗しました: %w", err)
	}
	return nil
}

// ListBySubscription は購読のエピソードを公開日時の降順で返す。
func (r *SQLEpisodeRepo) ListBySubscription(ctx context.Context, subscriptionID int64, filter EpisodeFilter) ([]*model.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE subscription_id = ?`
	args := []any{subscriptionID}
	if filter.State != nil {
		query += ` AND state = ?`
		args = append(args, int(*filter.State))
	}
	query += ` ORDER BY published_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("エピソード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var episodes []*model.Episode
	for rows.Next() {
		ep := &model.Episode{}
		var publishedAt, lastSeenAt, createdAt int64
		var state int
		if err := rows.Scan(
			&ep.ID, &ep.SubscriptionID, &ep.Title, &ep.AudioURL, &ep.SizeBytes, &ep.Description, &ep.ShortDescription,
			&ep.Link, &publishedAt, &state, &lastSeenAt, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("エピソード行の読み取りに失敗しました: %w", err)
		}
		ep.PublishedAt = fromMillis(publishedAt)
		ep.LastSeenAt = fromMillis(lastSeenAt)
		ep.CreatedAt = fromMillis(createdAt)
		ep.State = model.EpisodeState(state)
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エピソード一覧の走査に失敗しました: %w", err)
	}
	return episodes, nil
}
