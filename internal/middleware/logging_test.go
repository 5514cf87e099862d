package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// serveLogged はhandlerをロギングミドルウェアで包んで1リクエスト処理し、出力されたログ1行を返す。
func serveLogged(t *testing.T, recorder StatusRecorder, handler http.Handler, req *http.Request) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLoggingMiddleware(logger, recorder)(handler).ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	entry := serveLogged(t, nil, statusHandler(http.StatusOK), httptest.NewRequest(http.MethodGet, "/api/history", nil))

	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" || entry["path"] != "/api/history" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry["duration_ms"])
	}
}

// ステータスコードに応じてログレベルが変わる
func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNoContent, "INFO"},
		{http.StatusBadRequest, "WARN"},
		{http.StatusTooManyRequests, "WARN"},
		{http.StatusBadGateway, "ERROR"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			entry := serveLogged(t, nil, statusHandler(tt.status), httptest.NewRequest(http.MethodGet, "/test", nil))

			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}

// WriteHeaderを呼ばずにWriteすると暗黙的に200となり、書き込みバイト数も記録される
func TestLoggingMiddleware_ImplicitStatusAndBytes(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
		w.Write([]byte(" world"))
	})

	entry := serveLogged(t, nil, handler, httptest.NewRequest(http.MethodGet, "/test", nil))

	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if entry["bytes"] != float64(11) {
		t.Errorf("bytes = %v, want 11", entry["bytes"])
	}
}

func TestLoggingMiddleware_ClientID(t *testing.T) {
	t.Run("コンテキストのクライアントID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req = req.WithContext(ContextWithClientID(req.Context(), "client-123"))

		entry := serveLogged(t, nil, statusHandler(http.StatusOK), req)

		if entry["client_id"] != "client-123" {
			t.Errorf("client_id = %v, want client-123", entry["client_id"])
		}
	})

	t.Run("内側で新規発行されたクライアントID", func(t *testing.T) {
		var issued string
		inner := NewClientMiddleware(ClientConfig{MaxAge: time.Hour})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			issued, _ = ClientIDFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		entry := serveLogged(t, nil, inner, httptest.NewRequest(http.MethodGet, "/api/session", nil))

		if issued == "" || entry["client_id"] != issued {
			t.Errorf("client_id = %v, want %q", entry["client_id"], issued)
		}
	})

	t.Run("クライアントIDなし", func(t *testing.T) {
		entry := serveLogged(t, nil, statusHandler(http.StatusOK), httptest.NewRequest(http.MethodGet, "/health", nil))

		if _, ok := entry["client_id"]; ok {
			t.Errorf("client_id should be omitted, got %v", entry["client_id"])
		}
	})
}

// chiのルーター配下ではマッチしたルートパターンを記録する
func TestLoggingMiddleware_RoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(logger, nil))
	r.Delete("/api/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/history/abc123", nil))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["route"] != "/api/history/{id}" {
		t.Errorf("route = %v, want /api/history/{id}", entry["route"])
	}
	if entry["path"] != "/api/history/abc123" {
		t.Errorf("path = %v", entry["path"])
	}
}

type mockStatusRecorder struct {
	codes []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(code int) { m.codes = append(m.codes, code) }

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	rec := &mockStatusRecorder{}

	serveLogged(t, rec, statusHandler(http.StatusBadGateway), httptest.NewRequest(http.MethodPost, "/api/captions", nil))

	if len(rec.codes) != 1 || rec.codes[0] != http.StatusBadGateway {
		t.Errorf("recorded = %v, want [502]", rec.codes)
	}
}
