package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/captionly/internal/history"
	"github.com/hitoshi/captionly/internal/model"
)

// HistoryHandler は保存済みキャプション履歴のHTTPハンドラー。
type HistoryHandler struct {
	resolver ControllerResolver
}

// NewHistoryHandler はHistoryHandlerを生成する。
func NewHistoryHandler(resolver ControllerResolver) *HistoryHandler {
	return &HistoryHandler{resolver: resolver}
}

// historyListResponse は履歴一覧のレスポンス。
type historyListResponse struct {
	Entries []model.CaptionResult `json:"entries"`
	Total   int                   `json:"total"`
	Options history.Options       `json:"options"`
}

// List は検索条件で絞り込んだ履歴と、絞り込み候補を返す。
// GET /api/history?q=&tone=&platform=
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	all := ctrl.Snapshot().History
	q := r.URL.Query()
	entries := history.Filter(all, history.Criteria{
		Query:    q.Get("q"),
		Tone:     q.Get("tone"),
		Platform: q.Get("platform"),
	})
	writeJSON(w, http.StatusOK, historyListResponse{
		Entries: entries,
		Total:   len(all),
		Options: history.FilterOptions(all),
	})
}

// Save は生成結果を履歴に保存する。
// ボディが空の場合は最新の生成結果を保存する。
// POST /api/history
func (h *HistoryHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()

	var result *model.CaptionResult
	if !decodeJSON(w, r, &result) {
		return
	}

	var (
		saved model.CaptionResult
		err   error
	)
	if result == nil {
		saved, err = ctrl.SaveCurrent(r.Context())
	} else {
		saved, err = ctrl.SaveResult(r.Context(), *result)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// Delete は履歴エントリを削除する。
// DELETE /api/history/{id}
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	id := model.ParseHistoryID(chi.URLParam(r, "id"))
	if err := ctrl.DeleteResult(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Share は履歴エントリのシェア用テキストを返す。
// GET /api/history/{id}/share?index=n
func (h *HistoryHandler) Share(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	entry, found := ctrl.FindHistory(model.ParseHistoryID(chi.URLParam(r, "id")))
	if !found {
		handleServiceError(w, model.NewNotFoundError("History entry"))
		return
	}
	writeShare(w, r, entry)
}
