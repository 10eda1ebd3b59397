package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/podcatch/internal/middleware"
	"github.com/hitoshi/podcatch/internal/model"
)

type mockHealthChecker struct {
	err error
}

func (m mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name    string
		checker HealthChecker
		want    int
	}{
		{"チェッカーなし", nil, http.StatusOK},
		{"DB正常", mockHealthChecker{}, http.StatusOK},
		{"DB異常", mockHealthChecker{err: errors.New("down")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(&RouterDeps{
				SubscriptionService: &mockSubscriptionService{},
				HealthChecker:       tt.checker,
				Logger:              slog.New(slog.NewJSONHandler(io.Discard, nil)),
			})

			w := doRequest(t, router, http.MethodGet, "/health", "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRouter_AppliesSecurityHeaders(t *testing.T) {
	w := doRequest(t, newTestRouter(&mockSubscriptionService{}), http.MethodGet, "/api/subscriptions", "")

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestRouter_UnknownRoutes(t *testing.T) {
	router := newTestRouter(&mockSubscriptionService{})

	if w := doRequest(t, router, http.MethodGet, "/api/feeds", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /api/feeds status = %d, want 404", w.Code)
	}
	if w := doRequest(t, router, http.MethodPut, "/api/subscriptions/1", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /api/subscriptions/1 status = %d, want 405", w.Code)
	}
}

func TestRouter_RecoversPanics(t *testing.T) {
	svc := &mockSubscriptionService{
		listFn: func(ctx context.Context) ([]*model.Subscription, error) {
			panic("unexpected")
		},
	}

	w := doRequest(t, newTestRouter(svc), http.MethodGet, "/api/subscriptions", "")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRouter_WriteRateLimitAppliesToSubscribeAndRefresh(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		WriteRate:       rate.Limit(0.01),
		WriteBurst:      1,
		CleanupInterval: time.Minute,
	}, logger)
	defer rl.Stop()

	svc := &mockSubscriptionService{
		subscribeFn: func(ctx context.Context, rawURL string, mode model.RefreshMode) (*model.Subscription, error) {
			return sampleSubscription(1), nil
		},
		getFn: func(ctx context.Context, id int64) (*model.Subscription, error) {
			return sampleSubscription(id), nil
		},
	}
	router := NewRouter(&RouterDeps{SubscriptionService: svc, RateLimiter: rl, Logger: logger})

	if w := doRequest(t, router, http.MethodPost, "/api/subscriptions", `{"url":"https://example.com/feed"}`); w.Code != http.StatusCreated {
		t.Fatalf("1回目の登録 status = %d, want 201", w.Code)
	}
	if w := doRequest(t, router, http.MethodPost, "/api/subscriptions/1/refresh", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("リフレッシュ status = %d, want 429", w.Code)
	}
	// 読み取りは登録用の制限を受けない
	if w := doRequest(t, router, http.MethodGet, "/api/subscriptions/1", ""); w.Code != http.StatusOK {
		t.Errorf("GET status = %d, want 200", w.Code)
	}
	// /health はレート制限の外
	if w := doRequest(t, router, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}
}
