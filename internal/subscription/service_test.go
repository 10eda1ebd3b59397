package subscription

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/podcatch/internal/database"
	"github.com/hitoshi/podcatch/internal/ident"
	"github.com/hitoshi/podcatch/internal/model"
	"github.com/hitoshi/podcatch/internal/repository"
	"github.com/hitoshi/podcatch/internal/security"
	"github.com/hitoshi/podcatch/internal/worker/refresh"
)

// --- モック ---

type mockSyncer struct {
	syncFn func(ctx context.Context, sub *model.Subscription) refresh.Outcome
	synced []int64
}

func (m *mockSyncer) Sync(ctx context.Context, sub *model.Subscription) refresh.Outcome {
	m.synced = append(m.synced, sub.ID)
	if m.syncFn != nil {
		return m.syncFn(ctx, sub)
	}
	return refresh.Outcome{SubscriptionID: sub.ID, FeedURL: sub.FeedURL, Title: "Synced"}
}

type mockDiscoverer struct {
	discoverFn func(ctx context.Context, rawURL string) (string, error)
	calls      []string
}

func (m *mockDiscoverer) Discover(ctx context.Context, rawURL string) (string, error) {
	m.calls = append(m.calls, rawURL)
	return m.discoverFn(ctx, rawURL)
}

// failingSubRepo はFindByIDが常に失敗するリポジトリ。
type failingSubRepo struct {
	repository.SubscriptionRepository
}

func (failingSubRepo) FindByID(context.Context, int64) (*model.Subscription, error) {
	return nil, repository.ErrUnavailable
}

type testEnv struct {
	svc    *Service
	subs   *repository.SQLSubscriptionRepo
	eps    *repository.SQLEpisodeRepo
	syncer *mockSyncer
	logs   *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("SQLiteのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := database.RunMigrations(db, database.DialectSQLite); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	env := &testEnv{
		subs:   repository.NewSubscriptionRepo(db, database.DialectSQLite),
		eps:    repository.NewEpisodeRepo(db, database.DialectSQLite),
		syncer: &mockSyncer{},
		logs:   &bytes.Buffer{},
	}
	env.svc = NewService(env.subs, env.eps, security.NewSSRFGuard(), env.syncer, nil,
		slog.New(slog.NewJSONHandler(env.logs, nil)))
	env.svc.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return env
}

// --- NormalizeURL ---

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		prefixed bool
	}{
		{"https://example.com/feed.xml", "https://example.com/feed.xml", false},
		{"  HTTP://Example.com/rss  ", "HTTP://Example.com/rss", false},
		{"example.com/feed.xml", "http://example.com/feed.xml", true},
		{"ftp://example.com/feed.xml", "ftp://example.com/feed.xml", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, prefixed := NormalizeURL(tt.in)
		if got != tt.want || prefixed != tt.prefixed {
			t.Errorf("NormalizeURL(%q) = (%q, %v), want (%q, %v)", tt.in, got, prefixed, tt.want, tt.prefixed)
		}
	}
}

// --- Subscribe ---

func TestSubscribe_CreatesUnseenSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.svc.Subscribe(ctx, "https://example.com/feed.xml", model.RefreshModeWeek)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if sub.ID != ident.FromURL("https://example.com/feed.xml") {
		t.Errorf("ID = %d, want hash of URL", sub.ID)
	}

	got, err := env.subs.FindByID(ctx, sub.ID)
	if err != nil || got == nil {
		t.Fatalf("保存された購読が見つからない: %v", err)
	}
	if got.State != model.SubscriptionUnseen {
		t.Errorf("State = %v, want %v", got.State, model.SubscriptionUnseen)
	}
	if got.RefreshMode != model.RefreshModeWeek {
		t.Errorf("RefreshMode = %v, want %v", got.RefreshMode, model.RefreshModeWeek)
	}
	if !got.LastRefreshAt.IsZero() {
		t.Errorf("LastRefreshAt = %v, want zero", got.LastRefreshAt)
	}
}

func TestSubscribe_PrefixesHTTP(t *testing.T) {
	env := newTestEnv(t)

	sub, err := env.svc.Subscribe(context.Background(), "example.com/feed.xml", model.RefreshModeAll)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if sub.FeedURL != "http://example.com/feed.xml" {
		t.Errorf("FeedURL = %q, want http:// prefix", sub.FeedURL)
	}
	if !bytes.Contains(env.logs.Bytes(), []byte("WARN")) {
		t.Errorf("スキーム補完がWARNログに出力されていない: %s", env.logs.String())
	}
}

func TestSubscribe_AlreadySubscribed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Subscribe(ctx, "https://example.com/feed.xml", model.RefreshModeAll); err != nil {
		t.Fatalf("1回目の Subscribe でエラー: %v", err)
	}
	_, err := env.svc.Subscribe(ctx, "https://example.com/feed.xml", model.RefreshModeNone)
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("err = %v, want ErrAlreadySubscribed", err)
	}

	// 既存の購読は変更されない
	got, _ := env.subs.FindByID(ctx, ident.FromURL("https://example.com/feed.xml"))
	if got.RefreshMode != model.RefreshModeAll {
		t.Errorf("RefreshMode = %v, want %v", got.RefreshMode, model.RefreshModeAll)
	}
}

func TestSubscribe_RejectsUnsafeURL(t *testing.T) {
	env := newTestEnv(t)

	for _, u := range []string{"", "ftp://example.com/feed.xml", "http://127.0.0.1/feed.xml", "http://localhost/feed"} {
		_, err := env.svc.Subscribe(context.Background(), u, model.RefreshModeAll)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidURL {
			t.Errorf("Subscribe(%q) err = %v, want INVALID_URL", u, err)
		}
	}
}

func TestSubscribe_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.svc.subRepo = failingSubRepo{}

	_, err := env.svc.Subscribe(context.Background(), "https://example.com/feed.xml", model.RefreshModeAll)
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestSubscribe_Discovery(t *testing.T) {
	tests := []struct {
		name     string
		found    string
		err      error
		wantURL  string
		wantCode string
	}{
		{"フィードURLはそのまま", "https://example.com/show", nil, "https://example.com/show", ""},
		{"ページからフィードを検出", "https://example.com/podcast.rss", nil, "https://example.com/podcast.rss", ""},
		{"取得失敗は入力URLで購読", "", model.NewFetchFailedError("HTTP 503"), "https://example.com/show", ""},
		{"フィードなしはエラー", "", model.NewFeedNotDetectedError("https://example.com/show"), "", model.ErrCodeFeedNotDetected},
		{"検出先が危険なURL", "http://127.0.0.1/feed", nil, "", model.ErrCodeInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			disc := &mockDiscoverer{discoverFn: func(context.Context, string) (string, error) {
				return tt.found, tt.err
			}}
			env.svc.discoverer = disc

			sub, err := env.svc.Subscribe(context.Background(), "https://example.com/show", model.RefreshModeAll)
			if len(disc.calls) != 1 || disc.calls[0] != "https://example.com/show" {
				t.Errorf("Discover calls = %v", disc.calls)
			}
			if tt.wantCode != "" {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
					t.Fatalf("err = %v, want %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Subscribe returned error: %v", err)
			}
			if sub.FeedURL != tt.wantURL || sub.ID != ident.FromURL(tt.wantURL) {
				t.Errorf("FeedURL = %q ID = %d, want %q", sub.FeedURL, sub.ID, tt.wantURL)
			}
		})
	}
}

func TestSubscribe_DiscoveredDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.Subscribe(ctx, "https://example.com/podcast.rss", model.RefreshModeAll); err != nil {
		t.Fatalf("1回目の Subscribe でエラー: %v", err)
	}

	env.svc.discoverer = &mockDiscoverer{discoverFn: func(context.Context, string) (string, error) {
		return "https://example.com/podcast.rss", nil
	}}
	_, err := env.svc.Subscribe(ctx, "https://example.com/show", model.RefreshModeAll)
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("err = %v, want ErrAlreadySubscribed", err)
	}
}

// --- Get / List / Episodes / Unsubscribe ---

func TestGet_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Get(context.Background(), 404)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSubscriptionNotFound {
		t.Errorf("err = %v, want SUBSCRIPTION_NOT_FOUND", err)
	}
}

func TestList_ReturnsAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, u := range []string{"https://a.example/feed", "https://b.example/feed"} {
		if _, err := env.svc.Subscribe(ctx, u, model.RefreshModeAll); err != nil {
			t.Fatalf("Subscribe(%q): %v", u, err)
		}
	}

	subs, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("len = %d, want 2", len(subs))
	}
}

func TestEpisodes_FiltersByState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, _ := env.svc.Subscribe(ctx, "https://example.com/feed.xml", model.RefreshModeAll)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, state := range []model.EpisodeState{model.EpisodeNew, model.EpisodeGone} {
		ep := &model.Episode{
			ID:             int64(100 + i),
			SubscriptionID: sub.ID,
			Title:          "ep",
			AudioURL:       "https://cdn.example.com/" + string(rune('a'+i)) + ".mp3",
			PublishedAt:    base.Add(time.Duration(i) * time.Hour),
			State:          state,
			LastSeenAt:     base,
			CreatedAt:      base,
		}
		if err := env.eps.Insert(ctx, ep); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	newState := model.EpisodeNew
	eps, err := env.svc.Episodes(ctx, sub.ID, repository.EpisodeFilter{State: &newState})
	if err != nil {
		t.Fatalf("Episodes returned error: %v", err)
	}
	if len(eps) != 1 || eps[0].ID != 100 {
		t.Errorf("episodes = %+v, want only 100", eps)
	}

	if _, err := env.svc.Episodes(ctx, 404, repository.EpisodeFilter{}); err == nil {
		t.Error("存在しない購読でエラーが返らない")
	}
}

func TestUnsubscribe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, _ := env.svc.Subscribe(ctx, "https://example.com/feed.xml", model.RefreshModeAll)

	if err := env.svc.Unsubscribe(ctx, sub.ID); err != nil {
		t.Fatalf("Unsubscribe returned error: %v", err)
	}
	if got, _ := env.subs.FindByID(ctx, sub.ID); got != nil {
		t.Error("購読が削除されていない")
	}

	err := env.svc.Unsubscribe(ctx, sub.ID)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSubscriptionNotFound {
		t.Errorf("2回目の err = %v, want SUBSCRIPTION_NOT_FOUND", err)
	}
}

// --- Refresh ---

func TestRefresh_SyncsSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, _ := env.svc.Subscribe(ctx, "https://example.com/feed.xml", model.RefreshModeAll)

	out, err := env.svc.Refresh(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if out.Title != "Synced" {
		t.Errorf("Title = %q, want %q", out.Title, "Synced")
	}
	if len(env.syncer.synced) != 1 || env.syncer.synced[0] != sub.ID {
		t.Errorf("synced = %v", env.syncer.synced)
	}
}

func TestRefresh_NotFound(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.Refresh(context.Background(), 404); err == nil {
		t.Fatal("存在しない購読でエラーが返らない")
	}
	if len(env.syncer.synced) != 0 {
		t.Error("存在しない購読が同期された")
	}
}

func TestRefresh_WithoutSyncer(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.subs, env.eps, security.NewSSRFGuard(), nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	if _, err := svc.Refresh(context.Background(), 1); err == nil {
		t.Fatal("syncer未設定でエラーが返らない")
	}
}
