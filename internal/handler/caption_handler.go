package handler

import (
	"net/http"
	"strconv"

	"github.com/hitoshi/captionly/internal/generator"
	"github.com/hitoshi/captionly/internal/history"
	"github.com/hitoshi/captionly/internal/model"
)

// MsgInvalidShareIndex はシェア対象のキャプション番号が範囲外の場合のメッセージ。
const MsgInvalidShareIndex = "Please choose one of the generated captions."

// CaptionHandler はキャプション生成のHTTPハンドラー。
type CaptionHandler struct {
	resolver ControllerResolver
}

// NewCaptionHandler はCaptionHandlerを生成する。
func NewCaptionHandler(resolver ControllerResolver) *CaptionHandler {
	return &CaptionHandler{resolver: resolver}
}

// shareResponse はシェア・コピー用テキストのレスポンス。
type shareResponse struct {
	Caption  string `json:"caption"`
	Hashtags string `json:"hashtags"`
	Text     string `json:"text"`
}

// Generate はキャプションを生成する。
// POST /api/captions
func (h *CaptionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	var req generator.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := ctrl.Generate(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ClearCurrent は最新の生成結果を破棄する。
// DELETE /api/captions/current
func (h *CaptionHandler) ClearCurrent(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	ctrl.ClearResult()
	w.WriteHeader(http.StatusNoContent)
}

// ShareCurrent は最新の生成結果のシェア用テキストを返す。
// GET /api/captions/current/share?index=n
func (h *CaptionHandler) ShareCurrent(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	cur, found := ctrl.CurrentResult()
	if !found {
		handleServiceError(w, model.NewNotFoundError("Generated result"))
		return
	}
	writeShare(w, r, cur)
}

// writeShare はindexクエリで指定したキャプションのシェア用テキストを書き込む。
func writeShare(w http.ResponseWriter, r *http.Request, entry model.CaptionResult) {
	index := 0
	if raw := r.URL.Query().Get("index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handleServiceError(w, model.NewValidationError(MsgInvalidShareIndex))
			return
		}
		index = n
	}
	if index < 0 || index >= len(entry.Captions) {
		handleServiceError(w, model.NewValidationError(MsgInvalidShareIndex))
		return
	}

	caption := entry.Captions[index]
	writeJSON(w, http.StatusOK, shareResponse{
		Caption:  caption,
		Hashtags: history.HashtagText(entry),
		Text:     history.ShareText(caption, entry),
	})
}
