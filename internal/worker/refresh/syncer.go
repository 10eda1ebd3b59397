// Package refresh は購読フィードの同期と定期実行を行う。
package refresh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/podcatch/internal/episode"
	"github.com/hitoshi/podcatch/internal/feed"
	"github.com/hitoshi/podcatch/internal/model"
	"github.com/hitoshi/podcatch/internal/repository"
	"github.com/hitoshi/podcatch/internal/richtext"
	"github.com/hitoshi/podcatch/internal/security"
)

// acceptHeader はフィード取得時のAcceptヘッダー。
const acceptHeader = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// failureRecordTimeout は失敗記録に使う書き込みのタイムアウト。
const failureRecordTimeout = 10 * time.Second

// SubscriptionStore はSyncerが使用する購読の永続化インターフェース。
type SubscriptionStore interface {
	CommitRefresh(ctx context.Context, id int64, info model.FeedInfo, at time.Time) (int64, error)
	RecordFailure(ctx context.Context, id int64, message string) error
}

// ItemProcessor はフィード項目1件をエピソードとして処理する。
type ItemProcessor interface {
	Process(ctx context.Context, item model.ParsedItem, subscriptionID int64, now time.Time, budget *episode.Budget) (episode.Result, error)
}

// URLGuard はSSRF検証とHTTPクライアント生成のインターフェース。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// ImageFetcher はアートワーク画像の取得インターフェース。
type ImageFetcher interface {
	IsDownloaded(id int64) bool
	Download(id int64, imageURL string) error
}

// EpisodeCleaner は同期後に古いエピソードを削除する。
type EpisodeCleaner interface {
	CleanupEpisodes(ctx context.Context, state model.EpisodeState) (int64, error)
}

// Options は同期の設定。
type Options struct {
	Timeout                time.Duration // フィード取得のタイムアウト
	MaxBodySize            int64         // フィード本文の最大バイト数
	MaxItems               int           // パースする項目数の上限
	UserAgent              string
	ShortDescriptionLength int
}

// Deps はSyncerの依存。Images、Cleaner、Reporterはnilでもよい。
type Deps struct {
	Subscriptions SubscriptionStore
	Items         ItemProcessor
	Parser        feed.Parser
	Guard         URLGuard
	Images        ImageFetcher
	Cleaner       EpisodeCleaner
	Reporter      Reporter
	Logger        *slog.Logger
}

// Syncer は購読1件の同期を行う。
//
// 処理は取得、パース、項目抽出、購読の確定の順に進む。
// 失敗した場合は購読に失敗メッセージとREFRESH_FAILED状態を記録する。
type Syncer struct {
	subs     SubscriptionStore
	items    ItemProcessor
	parser   feed.Parser
	guard    URLGuard
	client   *http.Client
	images   ImageFetcher
	cleaner  EpisodeCleaner
	reporter Reporter
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
func NewSyncer(deps Deps, opts Options) *Syncer {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 5 << 20
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = feed.DefaultMaxItems
	}
	return &Syncer{
		subs:     deps.Subscriptions,
		items:    deps.Items,
		parser:   deps.Parser,
		guard:    deps.Guard,
		client:   deps.Guard.NewSafeClient(opts.Timeout, opts.MaxBodySize),
		images:   deps.Images,
		cleaner:  deps.Cleaner,
		reporter: deps.Reporter,
		logger:   deps.Logger,
		opts:     opts,
		now:      time.Now,
	}
}

// syncRun は同期1回分の状態。
type syncRun struct {
	sub    *model.Subscription
	now    time.Time
	phase  Phase
	logger *slog.Logger
	out    Outcome
}

// Sync は購読1件を同期し、結果を返す。結果はReporterにも通知される。
// パニックを含むすべての失敗はOutcome.Errとして返す。
func (s *Syncer) Sync(ctx context.Context, sub *model.Subscription) (out Outcome) {
	start := time.Now()
	syncID := uuid.NewString()
	run := &syncRun{
		sub: sub,
		now: s.now().UTC().Truncate(time.Millisecond),
		logger: s.logger.With(
			slog.String("sync_id", syncID),
			slog.Int64("subscription_id", sub.ID),
			slog.String("feed_url", sub.FeedURL),
		),
		out: Outcome{
			SubscriptionID: sub.ID,
			FeedURL:        sub.FeedURL,
			SyncID:         syncID,
			Stats:          Stats{Skipped: make(map[episode.SkipReason]int)},
		},
	}

	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, run, &SyncError{
				Kind:   KindIO,
				Phase:  run.phase,
				Source: sub.FeedURL,
				Err:    fmt.Errorf("panic: %v", r),
			})
		}
		run.out.Duration = time.Since(start)
		out = run.out
		if s.reporter != nil {
			s.reporter.Report(out)
		}
	}()

	if err := s.sync(ctx, run); err != nil {
		s.fail(ctx, run, s.classify(run, err))
		return
	}

	run.logger.Info("購読の同期が完了しました",
		slog.String("title", run.out.Title),
		slog.Int("items", run.out.Stats.Items),
		slog.Int("inserted", run.out.Stats.Inserted),
		slog.Int("new_episodes", run.out.NewEpisodes),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if s.cleaner != nil {
		n, err := s.cleaner.CleanupEpisodes(ctx, model.EpisodeGone)
		if err != nil {
			run.logger.Warn("同期後のエピソード削除に失敗しました",
				slog.String("error", err.Error()),
			)
		}
		run.out.Deleted = n
	}
	return
}

func (s *Syncer) sync(ctx context.Context, run *syncRun) error {
	run.phase = PhaseFetching
	body, err := s.fetch(ctx, run)
	if err != nil {
		return err
	}

	run.phase = PhaseParsing
	parsed, err := s.parser.Parse(bytes.NewReader(body), s.opts.MaxItems)
	if err != nil {
		return &SyncError{Kind: KindParse, Err: err}
	}
	info := s.feedInfo(run.sub, parsed)

	run.phase = PhaseExtractingItems
	s.requestFeedImage(run, parsed.ImageURL)
	if err := s.extract(ctx, run, parsed.Items); err != nil {
		return err
	}

	run.phase = PhaseCommittingSubscription
	n, err := s.subs.CommitRefresh(ctx, run.sub.ID, info, run.now)
	if err != nil {
		return &SyncError{Kind: KindStore, Err: err}
	}
	if n != 1 {
		return &SyncError{Kind: KindStore, Err: fmt.Errorf("subscription %d not found", run.sub.ID)}
	}

	run.out.Title = info.Title
	return nil
}

// fetch はフィードを取得し、本文を返す。
func (s *Syncer) fetch(ctx context.Context, run *syncRun) ([]byte, error) {
	if err := s.guard.ValidateURL(run.sub.FeedURL); err != nil {
		return nil, fmt.Errorf("feed URL rejected: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, run.sub.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	req.Header.Set("Accept", acceptHeader)

	start := time.Now()
	resp, err := s.client.Do(req)
	run.out.FetchDuration = time.Since(start)
	if err != nil {
		if errors.Is(err, security.ErrResponseTooLarge) {
			return nil, fmt.Errorf("feed exceeds %d bytes", s.opts.MaxBodySize)
		}
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	run.out.HTTPStatus = resp.StatusCode
	if class := ClassifyHTTPStatus(resp.StatusCode); class != StatusOK {
		run.logger.Warn("フィード取得が成功ステータスを返しませんでした",
			slog.Int("http_status", resp.StatusCode),
			slog.String("status_class", class.String()),
		)
		return nil, fmt.Errorf("HTTP %d (%s)", resp.StatusCode, class)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxBodySize+1))
	if err != nil && !errors.Is(err, security.ErrResponseTooLarge) {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	if err != nil || int64(len(body)) > s.opts.MaxBodySize {
		return nil, fmt.Errorf("feed exceeds %d bytes", s.opts.MaxBodySize)
	}

	run.logger.Debug("フィードを取得しました",
		slog.Int("http_status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Float64("duration_ms", float64(run.out.FetchDuration.Milliseconds())),
	)
	return body, nil
}

// feedInfo はパース結果から購読に書き戻すメタデータを作る。
func (s *Syncer) feedInfo(sub *model.Subscription, parsed *model.ParsedFeed) model.FeedInfo {
	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = sub.Title
	}
	info := model.FeedInfo{
		Title:    title,
		Link:     strings.TrimSpace(parsed.Link),
		ImageURL: parsed.ImageURL,
	}
	if parsed.Description != "" {
		info.Description = richtext.Simplify(parsed.Description)
		info.ShortDescription = richtext.ShortDescription(info.Description, s.opts.ShortDescriptionLength)
	}
	return info
}

// requestFeedImage は購読のアートワークが未取得ならダウンロードを依頼する。
func (s *Syncer) requestFeedImage(run *syncRun, imageURL string) {
	if s.images == nil || imageURL == "" || s.images.IsDownloaded(run.sub.ID) {
		return
	}
	if err := s.images.Download(run.sub.ID, imageURL); err != nil {
		run.logger.Warn("購読画像のダウンロード依頼に失敗しました",
			slog.String("image_url", imageURL),
			slog.String("error", err.Error()),
		)
	}
}

// extract は項目をフィード順に処理する。
// 項目単位のエラーはログに残して次へ進み、ストア障害のみ同期全体を失敗させる。
func (s *Syncer) extract(ctx context.Context, run *syncRun, items []model.ParsedItem) error {
	budget := episode.NewBudget(run.sub.RefreshMode.Window())
	stats := &run.out.Stats
	stats.Items = len(items)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := s.items.Process(ctx, item, run.sub.ID, run.now, budget)
		if err != nil {
			if repository.IsUnavailable(err) {
				return &SyncError{Kind: KindStore, Err: err}
			}
			stats.Failed++
			run.logger.Warn("項目の処理に失敗しました",
				slog.String("title", item.Title),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch res.Status {
		case episode.StatusInserted:
			stats.Inserted++
		case episode.StatusExisting:
			stats.Existing++
		default:
			stats.Skipped[res.Skip]++
		}
	}

	run.out.NewEpisodes = budget.Marked()
	return nil
}

// classify は段階と元のエラーからSyncErrorを作る。分類できないものはIOErrorとする。
func (s *Syncer) classify(run *syncRun, err error) *SyncError {
	var se *SyncError
	if !errors.As(err, &se) {
		se = &SyncError{Kind: KindIO, Err: err}
	}
	if se.Phase == "" {
		se.Phase = run.phase
	}
	if se.Source == "" {
		se.Source = run.sub.FeedURL
	}
	return se
}

// fail は失敗を購読に記録し、結果に設定する。
// 呼び出し元のコンテキストがキャンセルされていても記録する。
func (s *Syncer) fail(ctx context.Context, run *syncRun, se *SyncError) {
	run.out.Err = se
	run.out.Title = ""
	run.out.NewEpisodes = 0

	run.logger.Error("購読の同期に失敗しました",
		slog.String("kind", se.Kind.String()),
		slog.String("phase", string(se.Phase)),
		slog.String("error", se.Error()),
	)

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()
	if err := s.subs.RecordFailure(recordCtx, run.sub.ID, se.Message()); err != nil {
		run.logger.Error("同期失敗の記録に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
