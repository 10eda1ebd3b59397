package episode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/podcatch/internal/ident"
	"github.com/hitoshi/podcatch/internal/model"
)

// Store はExtractorが使用するエピソードの永続化インターフェース。
type Store interface {
	// TouchLastSeen は既存エピソードの最終確認時刻を更新する。
	// 該当エピソードが存在した場合trueを返す。
	TouchLastSeen(ctx context.Context, id int64, seenAt time.Time) (bool, error)
	// Insert は新しいエピソードを保存する。
	Insert(ctx context.Context, ep *model.Episode) error
}

// ImageFetcher はアートワーク画像の取得インターフェース。
// Downloadは非同期で、失敗しても呼び出し元には影響しない。
type ImageFetcher interface {
	IsDownloaded(id int64) bool
	Download(id int64, imageURL string) error
}

// Extractor はフィード項目1件をエピソードとして保存するかを判断し、保存する。
type Extractor struct {
	store  Store
	prober SizeProber
	images ImageFetcher
	logger *slog.Logger
	opts   Options
}

// NewExtractor はExtractorを生成する。imagesはnilでもよい。
func NewExtractor(store Store, prober SizeProber, images ImageFetcher, logger *slog.Logger, opts Options) *Extractor {
	return &Extractor{
		store:  store,
		prober: prober,
		images: images,
		logger: logger,
		opts:   opts,
	}
}

// Process は項目1件を処理する。
//
// 音声ソースがない項目はスキップする。音声URLから導出したIDのエピソードが既にあれば
// 最終確認時刻だけを更新する。新規の場合は必要に応じてサイズを問い合わせ、
// budgetでNEW判定したうえで保存する。NEWとして保存した場合のみbudgetを消費し、
// 項目のアートワークを非同期で取得する。
//
// 返すエラーはストア操作の失敗のみで、呼び出し元が致命的かどうかを判断する。
func (e *Extractor) Process(ctx context.Context, item ParsedItem, subscriptionID int64, now time.Time, budget *Budget) (Result, error) {
	audio, ok := ResolveAudio(item)
	if !ok {
		e.logger.Debug("音声ソースのない項目をスキップしました",
			slog.Int64("subscription_id", subscriptionID),
			slog.String("title", item.Title),
		)
		return Result{Status: StatusSkipped, Skip: SkipNoAudio}, nil
	}

	id := ident.FromURL(audio.URL)

	existing, err := e.store.TouchLastSeen(ctx, id, now)
	if err != nil {
		return Result{Status: StatusSkipped}, fmt.Errorf("エピソード %d の最終確認時刻の更新に失敗: %w", id, err)
	}
	if existing {
		return Result{Status: StatusExisting}, nil
	}

	if audio.Size < MinPlausibleSize {
		size, err := e.prober.ProbeSize(ctx, audio.URL)
		switch {
		case errors.Is(err, ErrMalformedURL):
			e.logger.Warn("音声URLが不正なため項目をスキップしました",
				slog.Int64("subscription_id", subscriptionID),
				slog.String("audio_url", audio.URL),
				slog.String("error", err.Error()),
			)
			return Result{Status: StatusSkipped, Skip: SkipMalformedURL}, nil
		case err != nil:
			e.logger.Warn("音声ファイルのサイズ確認に失敗しました。宣言サイズを使用します",
				slog.Int64("episode_id", id),
				slog.String("audio_url", audio.URL),
				slog.Int64("declared_size", audio.Size),
				slog.String("error", err.Error()),
			)
		case size >= 0:
			audio.Size = size
		}
	}

	markNew := budget.Eligible(item.PublishedAt, now)

	ep := Build(item, audio, subscriptionID, now, e.opts)
	if markNew {
		ep.State = model.EpisodeNew
	}

	if err := e.store.Insert(ctx, ep); err != nil {
		return Result{Status: StatusSkipped}, fmt.Errorf("エピソード %d の保存に失敗: %w", id, err)
	}

	if markNew {
		budget.Consume()
		e.requestImage(id, item.ImageURL)
	}

	return Result{Status: StatusInserted, Episode: ep}, nil
}

// requestImage はアートワークが未取得の場合にダウンロードを依頼する。
func (e *Extractor) requestImage(id int64, imageURL string) {
	if e.images == nil || imageURL == "" || e.images.IsDownloaded(id) {
		return
	}
	if err := e.images.Download(id, imageURL); err != nil {
		e.logger.Warn("エピソード画像のダウンロード依頼に失敗しました",
			slog.Int64("episode_id", id),
			slog.String("image_url", imageURL),
			slog.String("error", err.Error()),
		)
	}
}
