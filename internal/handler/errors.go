package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/podcatch/internal/middleware"
	"github.com/hitoshi/podcatch/internal/model"
	"github.com/hitoshi/podcatch/internal/subscription"
	"github.com/hitoshi/podcatch/internal/worker/refresh"
)

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, subscription.ErrAlreadySubscribed) {
		writeAPIErrorResponse(w, http.StatusConflict, model.NewDuplicateSubscriptionError())
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidRefreshMode,
		model.ErrCodeInvalidID, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeDuplicateSubscription:
		return http.StatusConflict
	case model.ErrCodeSubscriptionNotFound:
		return http.StatusNotFound
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeParseFailed, model.ErrCodeFeedNotDetected:
		return http.StatusUnprocessableEntity
	case model.ErrCodeStoreFailed:
		return http.StatusServiceUnavailable
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// syncErrorToAPIError は同期失敗の種別をAPIErrorに変換する。
func syncErrorToAPIError(se *refresh.SyncError) *model.APIError {
	reason := "unknown error"
	if se.Err != nil {
		reason = se.Err.Error()
	}
	switch se.Kind {
	case refresh.KindParse:
		return model.NewParseFailedError(reason)
	case refresh.KindStore:
		return model.NewStoreFailedError()
	default:
		return model.NewFetchFailedError(reason)
	}
}
