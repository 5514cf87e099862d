// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/captionly/internal/middleware"
	"github.com/hitoshi/captionly/internal/model"
	"github.com/hitoshi/captionly/internal/session"
)

// maxRequestBodySize はJSONリクエストボディの上限サイズ。
const maxRequestBodySize = 64 * 1024

// ControllerResolver はクライアントIDに対応するセッションコントローラーを利用中として返す。
// session.Registryが実装する。
type ControllerResolver interface {
	Acquire(ctx context.Context, clientID string) (*session.Controller, func(), error)
}

// controllerFor はリクエストのクライアントIDに対応するコントローラーを取得する。
// 取得できた場合、呼び出し側はハンドラーの終了時にreleaseを呼ぶ。
// 取得できない場合はエラーレスポンスを書き込み、falseを返す。
func controllerFor(w http.ResponseWriter, r *http.Request, resolver ControllerResolver) (*session.Controller, func(), bool) {
	clientID, err := middleware.ClientIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "CLIENT_REQUIRED",
			Message:  "Client session is missing.",
			Category: model.CategoryAuth,
			Action:   "Please reload the page.",
		})
		return nil, nil, false
	}

	ctrl, release, err := resolver.Acquire(r.Context(), clientID)
	if err != nil {
		slog.Error("セッションコントローラーの取得に失敗しました",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     "SERVICE_UNAVAILABLE",
			Message:  "The service is shutting down.",
			Category: model.CategorySystem,
			Action:   "Please try again in a moment.",
		})
		return nil, nil, false
	}
	return ctrl, release, true
}

// decodeJSON はリクエストボディをJSONとしてデコードする。
// 失敗した場合は400レスポンスを書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "Failed to parse the request body.",
			Category: model.CategoryValidation,
			Action:   "Please send a valid JSON body.",
		})
		return false
	}
	return true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// writeSnapshot はセッションのスナップショットを200で返す。
func writeSnapshot(w http.ResponseWriter, ctrl *session.Controller) {
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// handleServiceError はコントローラーから返されたエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}
