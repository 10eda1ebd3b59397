package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/podcatch/internal/database"
	"github.com/hitoshi/podcatch/internal/model"
)

const subscriptionColumns = `id, feed_url, title, link, description, short_description, image_url,
		        last_refresh_at, error_message, state, refresh_mode, created_at`

// SQLSubscriptionRepo はPostgreSQL/SQLiteを使用した購読リポジトリ。
type SQLSubscriptionRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSubscriptionRepo はSQLSubscriptionRepoを生成する。
func NewSubscriptionRepo(db *sql.DB, dialect database.Dialect) *SQLSubscriptionRepo {
	return &SQLSubscriptionRepo{db: db, dialect: dialect}
}

func (r *SQLSubscriptionRepo) q(query string) string {
	return database.Rebind(r.dialect, query)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var lastRefreshAt, createdAt int64
	var state, mode int
	err := row.Scan(
		&sub.ID, &sub.FeedURL, &sub.Title, &sub.Link, &sub.Description, &sub.ShortDescription, &sub.ImageURL,
		&lastRefreshAt, &sub.ErrorMessage, &state, &mode, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	sub.LastRefreshAt = fromMillis(lastRefreshAt)
	sub.CreatedAt = fromMillis(createdAt)
	sub.State = model.SubscriptionState(state)
	sub.RefreshMode = model.RefreshMode(mode)
	return sub, nil
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *SQLSubscriptionRepo) FindByID(ctx context.Context, id int64) (*model.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		r.q(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`),
		id,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return sub, nil
}

// Create は購読を作成する。
func (r *SQLSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		r.q(`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sub.ID, sub.FeedURL, sub.Title, sub.Link, sub.Description, sub.ShortDescription, sub.ImageURL,
		toMillis(sub.LastRefreshAt), sub.ErrorMessage, int(sub.State), int(sub.RefreshMode), toMillis(sub.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("購読は既に存在します: %w", ErrDuplicate)
		}
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	return nil
}

// ListAll は全購読をID順に返す。
func (r *SQLSubscriptionRepo) ListAll(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}
	return subs, nil
}

// Delete は指定IDの購読を削除する。
func (r *SQLSubscriptionRepo) Delete(ctx context.Context, id int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.q(`DELETE FROM subscriptions WHERE id = ?`), id)
	if err != nil {
		return 0, fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// CommitRefresh はリフレッシュ成功を1回の更新で記録する。
func (r *SQLSubscriptionRepo) CommitRefresh(ctx context.Context, id int64, info model.FeedInfo, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.q(`UPDATE subscriptions
		 SET title = ?, link = ?, description = ?, short_description = ?, image_url = ?,
		     state = ?, refresh_mode = ?, last_refresh_at = ?, error_message = ''
		 WHERE id = ?`),
		info.Title, info.Link, info.Description, info.ShortDescription, info.ImageURL,
		int(model.SubscriptionSeenOnce), int(model.RefreshModeAll), toMillis(at), id,
	)
	if err != nil {
		return 0, fmt.Errorf("リフレッシュ結果の保存に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// RecordFailure はリフレッシュ失敗を記録する。
func (r *SQLSubscriptionRepo) RecordFailure(ctx context.Context, id int64, message string) error {
	_, err := r.db.ExecContext(ctx,
		r.q(`UPDATE subscriptions SET state = ?, error_message = ? WHERE id = ?`),
		int(model.SubscriptionRefreshFailed), message, id,
	)
	if err != nil {
		return fmt.Errorf("リフレッシュ失敗の記録に失敗しました: %w", err)
	}
	return nil
}
