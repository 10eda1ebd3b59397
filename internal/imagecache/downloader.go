// Package imagecache はフィードとエピソードのアートワーク画像をローカルに保存する。
// ダウンロード要求はキューに積まれ、バックグラウンドのワーカーがレート制限付きで処理する。
package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/podcatch/internal/security"
)

// ErrQueueFull はキューと待機列がどちらも満杯で要求を受け付けられないことを表す。
var ErrQueueFull = errors.New("imagecache: queue is full")

// ErrNotImage はレスポンスが画像ではないことを表す。
var ErrNotImage = errors.New("imagecache: response is not an image")

// Config は画像キャッシュの設定。
// BacklogSizeはキューが満杯のときに要求を預かる待機列の長さで、0の場合はQueueSizeの4倍になる。
type Config struct {
	Dir         string
	RatePerSec  float64
	QueueSize   int
	BacklogSize int
	Timeout     time.Duration
	MaxSize     int64
	UserAgent   string
}

type request struct {
	id  int64
	url string
}

// Downloader は画像のダウンロードキューとローカルキャッシュを管理する。
type Downloader struct {
	cfg     Config
	guard   security.SSRFGuardService
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	queue   chan request

	mu      sync.Mutex
	pending map[int64]struct{}
	backlog []request
	// idle は処理待ちの要求がなくなった時点で閉じられる。
	idle chan struct{}
}

// New はDownloaderを生成し、保存先ディレクトリを作成する。
func New(cfg Config, guard security.SSRFGuardService, logger *slog.Logger) (*Downloader, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("image directory is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("画像ディレクトリの作成に失敗しました: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BacklogSize <= 0 {
		cfg.BacklogSize = 4 * cfg.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 5 << 20
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	return &Downloader{
		cfg:     cfg,
		guard:   guard,
		client:  guard.NewSafeClient(cfg.Timeout, cfg.MaxSize),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		queue:   make(chan request, cfg.QueueSize),
		pending: make(map[int64]struct{}),
	}, nil
}

// Path は指定IDの画像の保存先パスを返す。
func (d *Downloader) Path(id int64) string {
	return filepath.Join(d.cfg.Dir, strconv.FormatInt(id, 10))
}

// IsDownloaded は指定IDの画像が保存済みかどうかを返す。
func (d *Downloader) IsDownloaded(id int64) bool {
	info, err := os.Stat(d.Path(id))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Download は画像のダウンロードをキューに積む。処理完了は待たない。
// 同じIDの要求が処理待ちの場合は何もしない。キューが満杯の場合は待機列に預け、
// ワーカーがキューに空きができた時点で移す。
func (d *Downloader) Download(id int64, imageURL string) error {
	if imageURL == "" {
		return nil
	}
	if err := d.guard.ValidateURL(imageURL); err != nil {
		return fmt.Errorf("画像URLが不正です: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[id]; ok {
		return nil
	}

	req := request{id: id, url: imageURL}
	select {
	case d.queue <- req:
	default:
		if len(d.backlog) >= d.cfg.BacklogSize {
			return ErrQueueFull
		}
		d.backlog = append(d.backlog, req)
	}

	if len(d.pending) == 0 {
		d.idle = make(chan struct{})
	}
	d.pending[id] = struct{}{}
	return nil
}

// Pending は処理待ちと処理中の要求の数を返す。
func (d *Downloader) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Wait は処理待ちと処理中の要求がすべて終わるまで待つ。
// キューを処理するStartが動作している必要がある。
func (d *Downloader) Wait(ctx context.Context) error {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return nil
	}
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// done は処理を終えた要求を処理待ちから外し、待機列からキューへ補充する。
func (d *Downloader) done(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[id]; !ok {
		return
	}
	delete(d.pending, id)

refill:
	for len(d.backlog) > 0 {
		select {
		case d.queue <- d.backlog[0]:
			d.backlog = d.backlog[1:]
		default:
			break refill
		}
	}

	if len(d.pending) == 0 {
		close(d.idle)
	}
}

// Start はキューを処理するワーカーを起動する。ctxがキャンセルされるまでブロックする。
func (d *Downloader) Start(ctx context.Context) {
	d.logger.Info("画像ダウンローダーを開始しました",
		slog.String("dir", d.cfg.Dir),
		slog.Float64("rate_per_sec", d.cfg.RatePerSec),
	)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("画像ダウンローダーを停止しました")
			return
		case req := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				d.done(req.id)
				return
			}
			if err := d.Fetch(ctx, req.id, req.url); err != nil {
				d.logger.Warn("画像のダウンロードに失敗しました",
					slog.Int64("image_id", req.id),
					slog.String("url", req.url),
					slog.String("error", err.Error()),
				)
			}
			d.done(req.id)
		}
	}
}

// Fetch は画像を同期的にダウンロードし、保存する。保存済みの場合は何もしない。
func (d *Downloader) Fetch(ctx context.Context, id int64, imageURL string) error {
	if d.IsDownloaded(id) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("画像の取得に失敗しました: HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return fmt.Errorf("%w: %s", ErrNotImage, ct)
	}

	// MaxSizeを超える画像はクライアントのTransportが読み取りを打ち切る
	return d.store(id, resp.Body)
}

// store は一時ファイルに書き込んでからリネームする。
func (d *Downloader) store(id int64, r io.Reader) error {
	tmp, err := os.CreateTemp(d.cfg.Dir, ".download-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = errors.New("empty image body")
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("画像の保存に失敗しました: %w", err)
	}

	if err := os.Rename(tmpName, d.Path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("画像の保存に失敗しました: %w", err)
	}
	return nil
}
