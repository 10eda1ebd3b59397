// Package ident はフィードURLや音声URLから永続IDを導出する。
// 同じURLからは常に同じIDが得られるため、購読とエピソードの重複排除キーとして使う。
package ident

import (
	"math"
	"unicode/utf16"
)

// FromURL はURL文字列から [0, 2^32) の範囲のIDを返す。
// UTF-16コード単位に対する 31 倍多項式ハッシュ（int32でラップアラウンド）を
// 符号なし範囲へシフトした値で、既存データのIDと互換性を保つ。
func FromURL(url string) int64 {
	var h int32
	for _, u := range utf16.Encode([]rune(url)) {
		h = 31*h + int32(u)
	}
	return int64(h) - math.MinInt32
}
