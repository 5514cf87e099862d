package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// responseRecorder はhttp.ResponseWriterをラップし、ステータスコードと書き込みバイト数を記録する。
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.status = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// StatusRecorder はレスポンスステータスコードの記録先。
// metrics.Collectorが実装する。
type StatusRecorder interface {
	RecordHTTPStatus(code int)
}

// NewLoggingMiddleware はリクエストごとに1行のJSON構造化ログを出力するミドルウェアを返す。
// 5xxはERROR、4xxはWARN、それ以外はINFOで記録する。
// recorderがnilでない場合はステータスコードも記録する。
func NewLoggingMiddleware(logger *slog.Logger, recorder StatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if route := routePattern(r); route != "" {
				attrs = append(attrs, slog.String("route", route))
			}
			if clientID := clientIDForLog(r, rec); clientID != "" {
				attrs = append(attrs, slog.String("client_id", clientID))
			}

			if recorder != nil {
				recorder.RecordHTTPStatus(rec.status)
			}

			logger.LogAttrs(r.Context(), levelForStatus(rec.status), "http_request", attrs...)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// routePattern はchiがマッチしたルートパターン（例: /api/history/{id}）を返す。
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

// clientIDForLog はリクエストのCookie、または新規発行されたCookieからクライアントIDを取得する。
// クライアントIDは内側のミドルウェアで注入されるため、コンテキストからは取れないことが多い。
func clientIDForLog(r *http.Request, w http.ResponseWriter) string {
	if clientID, err := ClientIDFromContext(r.Context()); err == nil {
		return clientID
	}
	if cookie, err := r.Cookie(ClientCookieName); err == nil && isValidClientID(cookie.Value) {
		return cookie.Value
	}
	header := http.Header{"Set-Cookie": w.Header().Values("Set-Cookie")}
	for _, c := range (&http.Response{Header: header}).Cookies() {
		if c.Name == ClientCookieName {
			return c.Value
		}
	}
	return ""
}
