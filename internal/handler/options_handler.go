package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/captionly/internal/model"
)

// optionsResponse は画面の選択肢一覧のレスポンス。
type optionsResponse struct {
	Tones          []string     `json:"tones"`
	Platforms      []string     `json:"platforms"`
	Integrations   []string     `json:"integrations"`
	Plans          []model.Plan `json:"plans"`
	MaxTopicLength int          `json:"maxTopicLength"`
}

// Options はトーン・プラットフォーム・連携先・料金プランの一覧を返す。
// GET /api/options
func Options(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, optionsResponse{
		Tones:          model.Tones,
		Platforms:      model.Platforms,
		Integrations:   model.Integrations,
		Plans:          model.Plans,
		MaxTopicLength: model.MaxTopicLength,
	})
}

// HealthChecker はヘルスチェック対象の依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// NewHealthHandler はヘルスチェックのハンドラーを返す。
// checkerがnilの場合（オフライン構成）は常に200を返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "disabled"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := checker.PingContext(ctx); err != nil {
			slog.Error("ヘルスチェックに失敗しました", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
	}
}
