package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/podcatch/internal/episode"
	"github.com/hitoshi/podcatch/internal/middleware"
	"github.com/hitoshi/podcatch/internal/model"
	"github.com/hitoshi/podcatch/internal/repository"
	"github.com/hitoshi/podcatch/internal/subscription"
	"github.com/hitoshi/podcatch/internal/worker/refresh"
)

// --- モック定義 ---

// mockSubscriptionService はSubscriptionServiceInterfaceのモック実装。
type mockSubscriptionService struct {
	subscribeFn   func(ctx context.Context, rawURL string, mode model.RefreshMode) (*model.Subscription, error)
	listFn        func(ctx context.Context) ([]*model.Subscription, error)
	getFn         func(ctx context.Context, id int64) (*model.Subscription, error)
	episodesFn    func(ctx context.Context, id int64, filter repository.EpisodeFilter) ([]*model.Episode, error)
	unsubscribeFn func(ctx context.Context, id int64) error
	refreshFn     func(ctx context.Context, id int64) (refresh.Outcome, error)
}

func (m *mockSubscriptionService) Subscribe(ctx context.Context, rawURL string, mode model.RefreshMode) (*model.Subscription, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, rawURL, mode)
	}
	return nil, nil
}

func (m *mockSubscriptionService) List(ctx context.Context) ([]*model.Subscription, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockSubscriptionService) Get(ctx context.Context, id int64) (*model.Subscription, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSubscriptionService) Episodes(ctx context.Context, id int64, filter repository.EpisodeFilter) ([]*model.Episode, error) {
	if m.episodesFn != nil {
		return m.episodesFn(ctx, id, filter)
	}
	return nil, nil
}

func (m *mockSubscriptionService) Unsubscribe(ctx context.Context, id int64) error {
	if m.unsubscribeFn != nil {
		return m.unsubscribeFn(ctx, id)
	}
	return nil
}

func (m *mockSubscriptionService) Refresh(ctx context.Context, id int64) (refresh.Outcome, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, id)
	}
	return refresh.Outcome{}, nil
}

// --- ヘルパー ---

var testTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestRouter(svc SubscriptionServiceInterface) http.Handler {
	return NewRouter(&RouterDeps{
		SubscriptionService: svc,
		Logger:              slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスのデコードに失敗: %v", err)
	}
	return body
}

func sampleSubscription(id int64) *model.Subscription {
	return &model.Subscription{
		ID:          id,
		FeedURL:     "https://example.com/feed.xml",
		Title:       "Example Cast",
		State:       model.SubscriptionSeenOnce,
		RefreshMode: model.RefreshModeAll,
		CreatedAt:   testTime,
	}
}

// --- POST /api/subscriptions ---

func TestSubscribe_Created(t *testing.T) {
	var gotURL string
	var gotMode model.RefreshMode
	svc := &mockSubscriptionService{
		subscribeFn: func(ctx context.Context, rawURL string, mode model.RefreshMode) (*model.Subscription, error) {
			gotURL, gotMode = rawURL, mode
			sub := sampleSubscription(-5823436284762133)
			sub.State = model.SubscriptionUnseen
			sub.RefreshMode = mode
			return sub, nil
		},
	}

	w := doRequest(t, newTestRouter(svc), http.MethodPost, "/api/subscriptions",
		`{"url":"https://example.com/feed.xml","refresh_mode":"week"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if gotURL != "https://example.com/feed.xml" || gotMode != model.RefreshModeWeek {
		t.Errorf("Subscribe(%q, %v)", gotURL, gotMode)
	}

	var resp subscriptionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if resp.ID != "-5823436284762133" {
		t.Errorf("id = %q, want string form of the ID", resp.ID)
	}
	if resp.State != "unseen" || resp.RefreshMode != "week" {
		t.Errorf("state = %q refresh_mode = %q", resp.State, resp.RefreshMode)
	}
	if resp.LastRefreshAt != nil {
		t.Errorf("last_refresh_at = %v, want omitted", resp.LastRefreshAt)
	}
}

func TestSubscribe_DefaultsToAllMode(t *testing.T) {
	var gotMode model.RefreshMode = -1
	svc := &mockSubscriptionService{
		subscribeFn: func(ctx context.Context, rawURL string, mode model.RefreshMode) (*model.Subscription, error) {
			gotMode = mode
			return sampleSubscription(1), nil
		},
	}

	w := doRequest(t, newTestRouter(svc), http.MethodPost, "/api/subscriptions", `{"url":"example.com/feed"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotMode != model.RefreshModeAll {
		t.Errorf("mode = %v, want %v", gotMode, model.RefreshModeAll)
	}
}

func TestSubscribe_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"壊れたJSON", `{"url":`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"不明なモード", `{"url":"https://example.com/feed","refresh_mode":"yearly"}`, nil, http.StatusBadRequest, model.ErrCodeInvalidRefreshMode},
		{"不正なURL", `{"url":"ftp://example.com/feed"}`, model.NewInvalidURLError("unsupported scheme"), http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"購読済み", `{"url":"https://example.com/feed"}`, fmt.Errorf("%w: https://example.com/feed", subscription.ErrAlreadySubscribed), http.StatusConflict, model.ErrCodeDuplicateSubscription},
		{"内部エラー", `{"url":"https://example.com/feed"}`, errors.New("db down"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockSubscriptionService{
				subscribeFn: func(ctx context.Context, rawURL string, mode model.RefreshMode) (*model.Subscription, error) {
					called = true
					return nil, tt.err
				},
			}

			w := doRequest(t, newTestRouter(svc), http.MethodPost, "/api/subscriptions", tt.body)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if body := decodeError(t, w); body.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", body.Code, tt.wantErr)
			}
			if tt.err == nil && called {
				t.Error("不正なリクエストでサービスが呼ばれた")
			}
		})
	}
}

// --- GET /api/subscriptions ---

func TestListSubscriptions(t *testing.T) {
	svc := &mockSubscriptionService{
		listFn: func(ctx context.Context) ([]*model.Subscription, error) {
			failed := sampleSubscription(2)
			failed.State = model.SubscriptionRefreshFailed
			failed.ErrorMessage = "HTTP 404 (gone class) (IOError)"
			failed.LastRefreshAt = testTime
			return []*model.Subscription{sampleSubscription(1), failed}, nil
		},
	}

	w := doRequest(t, newTestRouter(svc), http.MethodGet, "/api/subscriptions", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp []subscriptionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("len = %d, want 2", len(resp))
	}
	if resp[1].State != "refresh_failed" || resp[1].ErrorMessage == "" {
		t.Errorf("resp[1] = %+v", resp[1])
	}
	if resp[1].LastRefreshAt == nil || !resp[1].LastRefreshAt.Equal(testTime) {
		t.Errorf("last_refresh_at = %v, want %v", resp[1].LastRefreshAt, testTime)
	}
}

func TestListSubscriptions_EmptyIsArray(t *testing.T) {
	w := doRequest(t, newTestRouter(&mockSubscriptionService{}), http.MethodGet, "/api/subscriptions", "")

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

// --- GET /api/subscriptions/{id} ---

func TestGetSubscription(t *testing.T) {
	svc := &mockSubscriptionService{
		getFn: func(ctx context.Context, id int64) (*model.Subscription, error) {
			if id != 42 {
				return nil, model.NewSubscriptionNotFoundError(fmt.Sprint(id))
			}
			return sampleSubscription(42), nil
		},
	}
	router := newTestRouter(svc)

	w := doRequest(t, router, http.MethodGet, "/api/subscriptions/42", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/api/subscriptions/43", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeSubscriptionNotFound {
		t.Errorf("code = %q", body.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/api/subscriptions/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeInvalidID {
		t.Errorf("code = %q", body.Code)
	}
}

// --- GET /api/subscriptions/{id}/episodes ---

func TestListEpisodes_PassesFilter(t *testing.T) {
	var got repository.EpisodeFilter
	svc := &mockSubscriptionService{
		episodesFn: func(ctx context.Context, id int64, filter repository.EpisodeFilter) ([]*model.Episode, error) {
			got = filter
			return []*model.Episode{{
				ID:             7,
				SubscriptionID: id,
				Title:          "Ep 1",
				AudioURL:       "https://cdn.example.com/1.mp3",
				SizeBytes:      1234,
				PublishedAt:    testTime,
				State:          model.EpisodeNew,
				LastSeenAt:     testTime,
			}}, nil
		},
	}

	w := doRequest(t, newTestRouter(svc), http.MethodGet, "/api/subscriptions/9/episodes?state=new&limit=5", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if got.State == nil || *got.State != model.EpisodeNew || got.Limit != 5 {
		t.Errorf("filter = %+v", got)
	}

	var resp []episodeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != "7" || resp[0].SubscriptionID != "9" || resp[0].State != "new" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestListEpisodes_InvalidQuery(t *testing.T) {
	router := newTestRouter(&mockSubscriptionService{})

	for _, q := range []string{"state=deleted", "limit=0", "limit=ten"} {
		w := doRequest(t, router, http.MethodGet, "/api/subscriptions/9/episodes?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

// --- DELETE /api/subscriptions/{id} ---

func TestUnsubscribe(t *testing.T) {
	var deleted int64
	svc := &mockSubscriptionService{
		unsubscribeFn: func(ctx context.Context, id int64) error {
			if id == 404 {
				return model.NewSubscriptionNotFoundError("404")
			}
			deleted = id
			return nil
		},
	}
	router := newTestRouter(svc)

	w := doRequest(t, router, http.MethodDelete, "/api/subscriptions/12", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if deleted != 12 {
		t.Errorf("deleted = %d, want 12", deleted)
	}

	w = doRequest(t, router, http.MethodDelete, "/api/subscriptions/404", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// --- POST /api/subscriptions/{id}/refresh ---

func TestRefreshSubscription_Success(t *testing.T) {
	svc := &mockSubscriptionService{
		refreshFn: func(ctx context.Context, id int64) (refresh.Outcome, error) {
			return refresh.Outcome{
				SubscriptionID: id,
				SyncID:         "sync-1",
				Title:          "Example Cast",
				NewEpisodes:    1,
				Deleted:        2,
				HTTPStatus:     200,
				Duration:       1500 * time.Millisecond,
				Stats: refresh.Stats{
					Items:    4,
					Inserted: 2,
					Existing: 1,
					Skipped:  map[episode.SkipReason]int{episode.SkipNoAudio: 1, episode.SkipNone: 3},
				},
			}, nil
		},
	}

	w := doRequest(t, newTestRouter(svc), http.MethodPost, "/api/subscriptions/3/refresh", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp refreshResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if resp.Result != "success" || resp.SyncID != "sync-1" || resp.SubscriptionID != "3" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.NewEpisodes != 1 || resp.Inserted != 2 || resp.Existing != 1 || resp.Deleted != 2 {
		t.Errorf("counts = %+v", resp)
	}
	if len(resp.Skipped) != 1 || resp.Skipped["no_audio"] != 1 {
		t.Errorf("skipped = %v, want only no_audio", resp.Skipped)
	}
	if resp.DurationMs != 1500 {
		t.Errorf("duration_ms = %d, want 1500", resp.DurationMs)
	}
	if resp.Error != nil {
		t.Errorf("error = %+v, want nil", resp.Error)
	}
}

func TestRefreshSubscription_FailureStatus(t *testing.T) {
	tests := []struct {
		kind     refresh.Kind
		wantCode int
		wantErr  string
	}{
		{refresh.KindIO, http.StatusBadGateway, model.ErrCodeFetchFailed},
		{refresh.KindParse, http.StatusUnprocessableEntity, model.ErrCodeParseFailed},
		{refresh.KindStore, http.StatusServiceUnavailable, model.ErrCodeStoreFailed},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			svc := &mockSubscriptionService{
				refreshFn: func(ctx context.Context, id int64) (refresh.Outcome, error) {
					return refresh.Outcome{
						SubscriptionID: id,
						Err: &refresh.SyncError{
							Kind:   tt.kind,
							Phase:  refresh.PhaseFetching,
							Source: "https://example.com/feed",
							Err:    errors.New("broken"),
						},
					}, nil
				},
			}

			w := doRequest(t, newTestRouter(svc), http.MethodPost, "/api/subscriptions/3/refresh", "")

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp refreshResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("レスポンスのデコードに失敗: %v", err)
			}
			if resp.Result != tt.kind.Label() {
				t.Errorf("result = %q, want %q", resp.Result, tt.kind.Label())
			}
			if resp.Error == nil || resp.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want code %q", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestRefreshSubscription_NotFound(t *testing.T) {
	svc := &mockSubscriptionService{
		refreshFn: func(ctx context.Context, id int64) (refresh.Outcome, error) {
			return refresh.Outcome{}, model.NewSubscriptionNotFoundError("5")
		},
	}

	w := doRequest(t, newTestRouter(svc), http.MethodPost, "/api/subscriptions/5/refresh", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// --- エラーマッピング ---

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeInvalidURL, http.StatusBadRequest},
		{model.ErrCodeInvalidRefreshMode, http.StatusBadRequest},
		{model.ErrCodeInvalidID, http.StatusBadRequest},
		{model.ErrCodeInvalidRequest, http.StatusBadRequest},
		{model.ErrCodeDuplicateSubscription, http.StatusConflict},
		{model.ErrCodeSubscriptionNotFound, http.StatusNotFound},
		{model.ErrCodeFetchFailed, http.StatusBadGateway},
		{model.ErrCodeParseFailed, http.StatusUnprocessableEntity},
		{model.ErrCodeFeedNotDetected, http.StatusUnprocessableEntity},
		{model.ErrCodeStoreFailed, http.StatusServiceUnavailable},
		{model.ErrCodeRateLimited, http.StatusTooManyRequests},
		{"UNKNOWN", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.want {
			t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestHandleServiceError_LogsInternalErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	w := httptest.NewRecorder()

	handleServiceError(w, logger, errors.New("connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Error("内部エラーの詳細がレスポンスに含まれている")
	}
	if !strings.Contains(buf.String(), "connection refused") {
		t.Errorf("内部エラーがログに記録されていない: %s", buf.String())
	}
}
