package refresh

import (
	"errors"
	"fmt"
)

// Kind は同期失敗の分類。
type Kind int

const (
	// KindIO は取得やネットワークの失敗。分類できない失敗もここに含める。
	KindIO Kind = iota
	// KindParse はフィードのパース失敗。
	KindParse
	// KindStore はストアが利用できないことによる失敗。
	KindStore
)

// String は失敗メッセージに付ける種別名を返す。
func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindStore:
		return "StoreError"
	default:
		return "IOError"
	}
}

// Label はメトリクスのラベル値を返す。
func (k Kind) Label() string {
	switch k {
	case KindParse:
		return "parse"
	case KindStore:
		return "store"
	default:
		return "io"
	}
}

// Phase は同期処理の段階。
type Phase string

const (
	PhaseFetching               Phase = "fetching"
	PhaseParsing                Phase = "parsing"
	PhaseExtractingItems        Phase = "extracting_items"
	PhaseCommittingSubscription Phase = "committing_subscription"
)

// SyncError は同期の失敗を表す。
type SyncError struct {
	Kind   Kind
	Phase  Phase
	Source string // フィードURL
	Err    error
}

// Error はエラー文字列を返す。
func (e *SyncError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Source, e.Phase, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Message は購読に保存するメッセージを返す。
func (e *SyncError) Message() string {
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s (%s)", msg, e.Kind)
}

// KindOf はエラーの分類を返す。SyncErrorでない場合はKindIOとして扱う。
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindIO
}
