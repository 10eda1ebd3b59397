package episode

import (
	"time"

	"github.com/hitoshi/podcatch/internal/model"
)

// ShouldMarkNew はエピソードをNEWとして扱うかどうかを判定する。
// 同期中にNEWとした件数がウィンドウの件数上限未満で、かつ公開日時が分かる場合は
// 経過時間が最大経過時間未満であるときにtrueを返す。
// 公開日時には補正前の値を渡す。
func ShouldMarkNew(markedSoFar int, published *time.Time, w model.RefreshWindow, now time.Time) bool {
	if markedSoFar >= w.Count {
		return false
	}
	if published == nil || w.MaxAge == model.NoAgeLimit {
		return true
	}
	return now.Sub(*published) < w.MaxAge
}

// Budget は1回の同期におけるNEW判定の残り枠を管理する。
// 新規に保存され、かつNEWとされた項目だけが枠を消費する。
type Budget struct {
	window model.RefreshWindow
	marked int
}

// NewBudget はウィンドウに対応するBudgetを生成する。
func NewBudget(w model.RefreshWindow) *Budget {
	return &Budget{window: w}
}

// Eligible は公開日時publishedの項目をNEWとして扱えるかを返す。
func (b *Budget) Eligible(published *time.Time, now time.Time) bool {
	return ShouldMarkNew(b.marked, published, b.window, now)
}

// Consume は枠を1つ消費する。
func (b *Budget) Consume() {
	b.marked++
}

// Marked はこれまでにNEWとした件数を返す。
func (b *Budget) Marked() int {
	return b.marked
}
