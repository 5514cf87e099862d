package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AccountHandler は連携アカウントと料金プランのHTTPハンドラー。
type AccountHandler struct {
	resolver ControllerResolver
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(resolver ControllerResolver) *AccountHandler {
	return &AccountHandler{resolver: resolver}
}

// ToggleIntegration は連携アカウントの接続状態を切り替える。
// POST /api/integrations/{platform}/toggle
func (h *AccountHandler) ToggleIntegration(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	if err := ctrl.ToggleIntegration(r.Context(), chi.URLParam(r, "platform")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeSnapshot(w, ctrl)
}

// Upgrade は有料プランへのアップグレードを受け付ける。
// POST /api/pricing/upgrade
func (h *AccountHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	if err := ctrl.Upgrade(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeSnapshot(w, ctrl)
}

// ContactSales は営業問い合わせを受け付ける。
// POST /api/pricing/contact
func (h *AccountHandler) ContactSales(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	ctrl.ContactSales()
	writeSnapshot(w, ctrl)
}
