// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Subscription はポッドキャストの購読を表す。
// IDはフィードURLから ident.FromURL で導出される。
type Subscription struct {
	ID               int64
	FeedURL          string
	Title            string
	Link             string
	Description      string // 簡略化済みHTML
	ShortDescription string // プレーンテキスト
	ImageURL         string
	LastRefreshAt    time.Time // ゼロ値は未リフレッシュ
	ErrorMessage     string
	State            SubscriptionState
	RefreshMode      RefreshMode
	CreatedAt        time.Time
}

// SubscriptionState は購読のリフレッシュ状態を表す。
type SubscriptionState int

const (
	// SubscriptionUnseen は一度もリフレッシュに成功していない状態。
	SubscriptionUnseen SubscriptionState = iota
	// SubscriptionSeenOnce は直近のリフレッシュに成功した状態。
	SubscriptionSeenOnce
	// SubscriptionRefreshFailed は直近のリフレッシュに失敗した状態。
	SubscriptionRefreshFailed
)

// String は状態名を返す。
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionUnseen:
		return "unseen"
	case SubscriptionSeenOnce:
		return "seen_once"
	case SubscriptionRefreshFailed:
		return "refresh_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// RefreshMode は次回リフレッシュでNEWとして扱うエピソードの範囲を表す。
// 永続化時は順序値で保存する。成功したリフレッシュの後はRefreshModeAllに戻る。
type RefreshMode int

const (
	// RefreshModeAll は件数・経過時間の制限なし。
	RefreshModeAll RefreshMode = iota
	// RefreshModeNone はどのエピソードもNEWにしない。
	RefreshModeNone
	// RefreshModeLast は最初に見つかった1件のみNEWにする。
	RefreshModeLast
	// RefreshModeWeek は公開から1週間以内のエピソードをNEWにする。
	RefreshModeWeek
	// RefreshModeMonth は公開から31日以内のエピソードをNEWにする。
	RefreshModeMonth
)

// RefreshWindow はNEW判定に使う件数上限と最大経過時間。
type RefreshWindow struct {
	Count  int
	MaxAge time.Duration
}

// NoAgeLimit は経過時間による制限がないことを表すMaxAge。
const NoAgeLimit = time.Duration(math.MaxInt64)

// Window はモードに対応するRefreshWindowを返す。
func (m RefreshMode) Window() RefreshWindow {
	switch m {
	case RefreshModeNone:
		return RefreshWindow{Count: 0, MaxAge: 0}
	case RefreshModeLast:
		return RefreshWindow{Count: 1, MaxAge: NoAgeLimit}
	case RefreshModeWeek:
		return RefreshWindow{Count: math.MaxInt, MaxAge: 7 * 24 * time.Hour}
	case RefreshModeMonth:
		return RefreshWindow{Count: math.MaxInt, MaxAge: 31 * 24 * time.Hour}
	default:
		return RefreshWindow{Count: math.MaxInt, MaxAge: NoAgeLimit}
	}
}

var refreshModeNames = []string{"all", "none", "last", "week", "month"}

// String はモード名を返す。
func (m RefreshMode) String() string {
	if int(m) >= 0 && int(m) < len(refreshModeNames) {
		return refreshModeNames[m]
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

// ParseRefreshMode はモード名をRefreshModeに変換する。空文字列はRefreshModeAllとして扱う。
func ParseRefreshMode(s string) (RefreshMode, error) {
	if s == "" {
		return RefreshModeAll, nil
	}
	for i, name := range refreshModeNames {
		if strings.EqualFold(s, name) {
			return RefreshMode(i), nil
		}
	}
	return RefreshModeAll, fmt.Errorf("unknown refresh mode: %q", s)
}

// FeedInfo はリフレッシュ時に購読へ書き戻すフィードのメタデータ。
type FeedInfo struct {
	Title            string
	Link             string
	Description      string
	ShortDescription string
	ImageURL         string
}

// ParsedFeed はフィードパーサーから取得した未保存のフィードデータを表す。
type ParsedFeed struct {
	Title       string
	Link        string
	Description string
	ImageURL    string
	Items       []ParsedItem
}
