// Package subscription は購読管理のドメインロジックを提供する。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/podcatch/internal/ident"
	"github.com/hitoshi/podcatch/internal/model"
	"github.com/hitoshi/podcatch/internal/repository"
	"github.com/hitoshi/podcatch/internal/worker/refresh"
)

// ErrAlreadySubscribed は同じフィードURLを既に購読していることを表す。
var ErrAlreadySubscribed = errors.New("already subscribed")

// schemePattern はURLがスキームを持つかどうかを判定する。
var schemePattern = regexp.MustCompile(`^\w+://`)

// URLValidator はフィードURLの安全性検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// FeedDiscoverer はページURLから購読すべきフィードURLを探す。
type FeedDiscoverer interface {
	Discover(ctx context.Context, rawURL string) (string, error)
}

// Syncer は購読1件の同期を実行する。
type Syncer interface {
	Sync(ctx context.Context, sub *model.Subscription) refresh.Outcome
}

// Service は購読管理のサービス層。
// 購読登録、一覧取得、エピソード取得、購読解除、手動リフレッシュを提供する。
type Service struct {
	subRepo     repository.SubscriptionRepository
	episodeRepo repository.EpisodeRepository
	validator   URLValidator
	syncer      Syncer
	discoverer  FeedDiscoverer
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// syncerがnilの場合、Refreshは使用できない。
// discovererがnilの場合、入力URLをそのままフィードURLとして扱う。
func NewService(
	subRepo repository.SubscriptionRepository,
	episodeRepo repository.EpisodeRepository,
	validator URLValidator,
	syncer Syncer,
	discoverer FeedDiscoverer,
	logger *slog.Logger,
) *Service {
	return &Service{
		subRepo:     subRepo,
		episodeRepo: episodeRepo,
		validator:   validator,
		syncer:      syncer,
		discoverer:  discoverer,
		logger:      logger,
		now:         time.Now,
	}
}

// NormalizeURL は前後の空白を除き、スキームがなければhttp://を補う。
// 補った場合はtrueを返す。
func NormalizeURL(rawURL string) (string, bool) {
	u := strings.TrimSpace(rawURL)
	if u == "" || schemePattern.MatchString(strings.ToLower(u)) {
		return u, false
	}
	return "http://" + u, true
}

// Subscribe はフィードURLを購読する。
// 購読IDはURLから導出され、既に存在する場合はErrAlreadySubscribedを返す。
func (s *Service) Subscribe(ctx context.Context, rawURL string, mode model.RefreshMode) (*model.Subscription, error) {
	feedURL, prefixed := NormalizeURL(rawURL)
	if feedURL == "" {
		return nil, model.NewInvalidURLError("URLが空です")
	}
	if prefixed {
		s.logger.Warn("スキームが指定されていないためhttpを使用します",
			slog.String("feed_url", feedURL),
		)
	}

	if err := s.validator.ValidateURL(feedURL); err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}

	feedURL, err := s.resolveFeedURL(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	id := ident.FromURL(feedURL)
	existing, err := s.subRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("購読の確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, feedURL)
	}

	sub := &model.Subscription{
		ID:          id,
		FeedURL:     feedURL,
		State:       model.SubscriptionUnseen,
		RefreshMode: mode,
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, feedURL)
		}
		return nil, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	s.logger.Info("購読を登録しました",
		slog.Int64("subscription_id", sub.ID),
		slog.String("feed_url", sub.FeedURL),
		slog.String("refresh_mode", mode.String()),
	)
	return sub, nil
}

// resolveFeedURL はdiscovererでページURLをフィードURLに解決する。
// 取得に失敗した場合は入力URLのまま購読し、取得エラーは最初のリフレッシュで記録される。
func (s *Service) resolveFeedURL(ctx context.Context, pageURL string) (string, error) {
	if s.discoverer == nil {
		return pageURL, nil
	}

	found, err := s.discoverer.Discover(ctx, pageURL)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeFetchFailed {
			s.logger.Warn("フィードの自動検出に失敗したため入力URLで購読します",
				slog.String("feed_url", pageURL),
				slog.String("error", err.Error()),
			)
			return pageURL, nil
		}
		return "", err
	}
	if found == pageURL {
		return pageURL, nil
	}

	if err := s.validator.ValidateURL(found); err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	s.logger.Info("ページからフィードを検出しました",
		slog.String("page_url", pageURL),
		slog.String("feed_url", found),
	)
	return found, nil
}

// List は全購読を返す。
func (s *Service) List(ctx context.Context) ([]*model.Subscription, error) {
	subs, err := s.subRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	return subs, nil
}

// Get は指定IDの購読を返す。存在しない場合はAPIErrorを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, err := s.subRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubscriptionNotFoundError(strconv.FormatInt(id, 10))
	}
	return sub, nil
}

// Episodes は購読のエピソードを公開日時の降順で返す。
func (s *Service) Episodes(ctx context.Context, id int64, filter repository.EpisodeFilter) ([]*model.Episode, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	eps, err := s.episodeRepo.ListBySubscription(ctx, id, filter)
	if err != nil {
		return nil, fmt.Errorf("エピソードの取得に失敗しました: %w", err)
	}
	return eps, nil
}

// Unsubscribe は購読を解除する。エピソードも削除される。
func (s *Service) Unsubscribe(ctx context.Context, id int64) error {
	n, err := s.subRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	if n == 0 {
		return model.NewSubscriptionNotFoundError(strconv.FormatInt(id, 10))
	}

	s.logger.Info("購読を解除しました", slog.Int64("subscription_id", id))
	return nil
}

// Refresh は購読1件を即時に同期する。
// 同期の失敗はOutcome.Errで返し、errorは購読の取得に失敗した場合のみ返す。
func (s *Service) Refresh(ctx context.Context, id int64) (refresh.Outcome, error) {
	if s.syncer == nil {
		return refresh.Outcome{}, errors.New("syncer is not configured")
	}
	sub, err := s.Get(ctx, id)
	if err != nil {
		return refresh.Outcome{}, err
	}
	return s.syncer.Sync(ctx, sub), nil
}
