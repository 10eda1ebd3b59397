package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/podcatch/internal/middleware"
	"github.com/hitoshi/podcatch/internal/model"
	"github.com/hitoshi/podcatch/internal/repository"
	"github.com/hitoshi/podcatch/internal/worker/refresh"
)

// maxRequestBodySize は購読登録リクエストのボディ上限。
const maxRequestBodySize = 64 << 10

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// Subscribe はフィードURLを購読する。
	Subscribe(ctx context.Context, rawURL string, mode model.RefreshMode) (*model.Subscription, error)
	// List は全購読を返す。
	List(ctx context.Context) ([]*model.Subscription, error)
	// Get は指定IDの購読を返す。
	Get(ctx context.Context, id int64) (*model.Subscription, error)
	// Episodes は購読のエピソードを返す。
	Episodes(ctx context.Context, id int64, filter repository.EpisodeFilter) ([]*model.Episode, error)
	// Unsubscribe は購読を解除する。
	Unsubscribe(ctx context.Context, id int64) error
	// Refresh は購読1件を即時に同期する。
	Refresh(ctx context.Context, id int64) (refresh.Outcome, error)
}

// SubscriptionHandler は購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
	logger  *slog.Logger
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
		logger:  logger,
	}
}

// subscribeRequest は購読登録リクエストのボディ。
type subscribeRequest struct {
	URL         string `json:"url"`
	RefreshMode string `json:"refresh_mode"`
}

// subscriptionResponse は購読情報のAPIレスポンス。
// IDはJavaScriptの整数精度を超えるため文字列で返す。
type subscriptionResponse struct {
	ID               string     `json:"id"`
	FeedURL          string     `json:"feed_url"`
	Title            string     `json:"title"`
	Link             string     `json:"link,omitempty"`
	Description      string     `json:"description,omitempty"`
	ShortDescription string     `json:"short_description,omitempty"`
	ImageURL         string     `json:"image_url,omitempty"`
	State            string     `json:"state"`
	RefreshMode      string     `json:"refresh_mode"`
	LastRefreshAt    *time.Time `json:"last_refresh_at,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// episodeResponse はエピソードのAPIレスポンス。
type episodeResponse struct {
	ID               string    `json:"id"`
	SubscriptionID   string    `json:"subscription_id"`
	Title            string    `json:"title"`
	AudioURL         string    `json:"audio_url"`
	SizeBytes        int64     `json:"size_bytes,omitempty"`
	Description      string    `json:"description,omitempty"`
	ShortDescription string    `json:"short_description,omitempty"`
	Link             string    `json:"link,omitempty"`
	PublishedAt      time.Time `json:"published_at"`
	State            string    `json:"state"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}

// refreshResponse は手動リフレッシュの結果。
type refreshResponse struct {
	SubscriptionID string                        `json:"subscription_id"`
	SyncID         string                        `json:"sync_id"`
	Result         string                        `json:"result"`
	Title          string                        `json:"title,omitempty"`
	NewEpisodes    int                           `json:"new_episodes"`
	Inserted       int                           `json:"inserted"`
	Existing       int                           `json:"existing"`
	Skipped        map[string]int                `json:"skipped,omitempty"`
	Failed         int                           `json:"failed"`
	Deleted        int64                         `json:"deleted"`
	HTTPStatus     int                           `json:"http_status,omitempty"`
	DurationMs     int64                         `json:"duration_ms"`
	Error          *middleware.ErrorResponseBody `json:"error,omitempty"`
}

// Subscribe はフィードURLの購読登録を処理する。
// POST /api/subscriptions
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return
	}

	mode, err := model.ParseRefreshMode(req.RefreshMode)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRefreshModeError(req.RefreshMode))
		return
	}

	sub, err := h.service.Subscribe(r.Context(), req.URL, mode)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

// ListSubscriptions は購読一覧を取得する。
// GET /api/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, toSubscriptionResponse(sub))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GetSubscription は購読詳細を取得する。
// GET /api/subscriptions/{id}
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDParam(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// ListEpisodes は購読のエピソード一覧を取得する。
// GET /api/subscriptions/{id}/episodes?state=new|gone&limit=N
func (h *SubscriptionHandler) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDParam(w, r)
	if !ok {
		return
	}

	var filter repository.EpisodeFilter
	q := r.URL.Query()
	switch state := q.Get("state"); state {
	case "":
	case "new":
		s := model.EpisodeNew
		filter.State = &s
	case "gone":
		s := model.EpisodeGone
		filter.State = &s
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("stateはnewまたはgoneを指定してください"))
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limitは正の整数を指定してください"))
			return
		}
		filter.Limit = limit
	}

	eps, err := h.service.Episodes(r.Context(), id, filter)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]episodeResponse, 0, len(eps))
	for _, ep := range eps {
		resp = append(resp, toEpisodeResponse(ep))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Unsubscribe は購読を解除する。
// DELETE /api/subscriptions/{id}
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Unsubscribe(r.Context(), id); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshSubscription は購読を即時にリフレッシュする。
// 同期に失敗した場合も結果の内訳をボディに含める。
// POST /api/subscriptions/{id}/refresh
func (h *SubscriptionHandler) RefreshSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDParam(w, r)
	if !ok {
		return
	}

	out, err := h.service.Refresh(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := toRefreshResponse(out)
	status := http.StatusOK
	if out.Err != nil {
		apiErr := syncErrorToAPIError(out.Err)
		status = mapAPIErrorToHTTPStatus(apiErr)
		body := middleware.NewErrorResponseBody(apiErr)
		resp.Error = &body
	}
	middleware.WriteJSON(w, status, resp)
}

// subscriptionIDParam はパスパラメータの購読IDを解析する。
// 不正な場合は400を書き込みfalseを返す。
func subscriptionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidIDError(raw))
		return 0, false
	}
	return id, true
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func toSubscriptionResponse(sub *model.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:               formatID(sub.ID),
		FeedURL:          sub.FeedURL,
		Title:            sub.Title,
		Link:             sub.Link,
		Description:      sub.Description,
		ShortDescription: sub.ShortDescription,
		ImageURL:         sub.ImageURL,
		State:            sub.State.String(),
		RefreshMode:      sub.RefreshMode.String(),
		ErrorMessage:     sub.ErrorMessage,
		CreatedAt:        sub.CreatedAt,
	}
	if !sub.LastRefreshAt.IsZero() {
		t := sub.LastRefreshAt
		resp.LastRefreshAt = &t
	}
	return resp
}

func toEpisodeResponse(ep *model.Episode) episodeResponse {
	return episodeResponse{
		ID:               formatID(ep.ID),
		SubscriptionID:   formatID(ep.SubscriptionID),
		Title:            ep.Title,
		AudioURL:         ep.AudioURL,
		SizeBytes:        ep.SizeBytes,
		Description:      ep.Description,
		ShortDescription: ep.ShortDescription,
		Link:             ep.Link,
		PublishedAt:      ep.PublishedAt,
		State:            ep.State.String(),
		LastSeenAt:       ep.LastSeenAt,
	}
}

func toRefreshResponse(out refresh.Outcome) refreshResponse {
	resp := refreshResponse{
		SubscriptionID: formatID(out.SubscriptionID),
		SyncID:         out.SyncID,
		Result:         out.Result(),
		Title:          out.Title,
		NewEpisodes:    out.NewEpisodes,
		Inserted:       out.Stats.Inserted,
		Existing:       out.Stats.Existing,
		Failed:         out.Stats.Failed,
		Deleted:        out.Deleted,
		HTTPStatus:     out.HTTPStatus,
		DurationMs:     out.Duration.Milliseconds(),
	}
	for reason, n := range out.Stats.Skipped {
		if reason == "" || n == 0 {
			continue
		}
		if resp.Skipped == nil {
			resp.Skipped = make(map[string]int)
		}
		resp.Skipped[string(reason)] = n
	}
	return resp
}
