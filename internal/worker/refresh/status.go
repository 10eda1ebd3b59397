package refresh

// StatusClass はHTTPステータスコードの分類。
type StatusClass int

const (
	// StatusOK は2xx。
	StatusOK StatusClass = iota
	// StatusGone はフィードが存在しないステータス（404/410）。
	StatusGone
	// StatusForbidden は認証・認可エラー（401/403）。
	StatusForbidden
	// StatusThrottled はレート制限（429）。
	StatusThrottled
	// StatusServerError はサーバーエラー（5xx）。
	StatusServerError
	// StatusUnexpected はその他のステータスコード。
	StatusUnexpected
)

// String は分類名を返す。
func (c StatusClass) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusGone:
		return "gone"
	case StatusForbidden:
		return "forbidden"
	case StatusThrottled:
		return "throttled"
	case StatusServerError:
		return "server_error"
	default:
		return "unexpected"
	}
}

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
// StatusOK以外はいずれもIOErrorとして扱う。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode <= 299:
		return StatusOK
	case statusCode == 404 || statusCode == 410:
		return StatusGone
	case statusCode == 401 || statusCode == 403:
		return StatusForbidden
	case statusCode == 429:
		return StatusThrottled
	case statusCode >= 500 && statusCode <= 599:
		return StatusServerError
	default:
		return StatusUnexpected
	}
}
