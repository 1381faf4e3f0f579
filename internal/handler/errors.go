package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/packmart/internal/catalog"
	"github.com/hitoshi/packmart/internal/guard"
	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/session"
)

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}

// maxJSONBodySize はJSONリクエストボディの上限。
const maxJSONBodySize = 64 << 10

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrStaleResponse) || errors.Is(err, session.ErrSuperseded) {
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewStaleResponseError())
		return
	}
	if errors.Is(err, model.ErrProfileRequired) {
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewProfileRequiredError())
		return
	}

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, verr.APIError())
		return
	}

	var aerr *model.AuthError
	if errors.As(err, &aerr) {
		status := http.StatusUnauthorized
		if aerr.Reason == model.AuthReasonEmailTaken {
			status = http.StatusConflict
		}
		middleware.WriteErrorResponse(w, status, aerr.APIError())
		return
	}

	var perr *model.ProfileCreationError
	if errors.As(err, &perr) {
		middleware.WriteErrorResponse(w, http.StatusBadGateway, perr.APIError())
		return
	}

	var rerr *model.RemoteQueryError
	if errors.As(err, &rerr) {
		slog.Error("remote query failed",
			slog.String("op", rerr.Op),
			slog.String("path", r.URL.Path),
			slog.String("error", rerr.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, rerr.APIError())
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// 分類できないエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidURL, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthenticated, model.ErrCodeInvalidCredentials, model.ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case model.ErrCodeForbiddenRole, model.ErrCodeSSRFBlocked, model.ErrCodeCSRFFailed:
		return http.StatusForbidden
	case model.ErrCodeProductNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken, model.ErrCodeProfileRequired, model.ErrCodeStaleResponse:
		return http.StatusConflict
	case model.ErrCodeImageNotDetected:
		return http.StatusUnprocessableEntity
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeImageFetchFailed, model.ErrCodeRemoteQuery, model.ErrCodeProfileCreation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requireStore はリクエストのセッションStoreを返す。
// クライアントミドルウェアを通過していない場合は500を書き込みnilを返す。
func requireStore(w http.ResponseWriter, r *http.Request) *session.Store {
	store := middleware.StoreFromContext(r.Context())
	if store == nil {
		slog.Error("session store missing from request context", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil
	}
	return store
}

// requireSession は現在のセッションを返す。未ログインの場合は401を書き込みnilを返す。
func requireSession(w http.ResponseWriter, r *http.Request) *model.Session {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError(guard.DefaultLanding))
		return nil
	}
	return sess
}
