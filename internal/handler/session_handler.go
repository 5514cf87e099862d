package handler

import (
	"net/http"
)

// SessionHandler はセッション状態の取得と画面・ゲスト操作のHTTPハンドラー。
type SessionHandler struct {
	resolver ControllerResolver
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(resolver ControllerResolver) *SessionHandler {
	return &SessionHandler{resolver: resolver}
}

// navigateRequest は画面切り替えリクエストのボディ。
type navigateRequest struct {
	Screen string `json:"screen"`
}

// GetSession は現在のセッション状態を返す。
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	writeSnapshot(w, ctrl)
}

// ContinueAsGuest はゲストとして利用を開始する。
// POST /api/session/guest
func (h *SessionHandler) ContinueAsGuest(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	if err := ctrl.ContinueAsGuest(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeSnapshot(w, ctrl)
}

// SignUpRedirect はゲストを終了してサインアップ画面へ誘導する。
// POST /api/session/signup-redirect
func (h *SessionHandler) SignUpRedirect(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	if err := ctrl.SignUpRedirect(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeSnapshot(w, ctrl)
}

// Navigate は表示画面を切り替える。
// PUT /api/session/screen
func (h *SessionHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	var req navigateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ctrl.Navigate(req.Screen); err != nil {
		handleServiceError(w, err)
		return
	}
	writeSnapshot(w, ctrl)
}

// DismissNotification は表示中の通知を消す。
// DELETE /api/session/notification
func (h *SessionHandler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	ctrl.DismissNotification()
	w.WriteHeader(http.StatusNoContent)
}
