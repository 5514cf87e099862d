// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ClientCookieName はクライアントIDを保持するCookieの名前。
const ClientCookieName = "client_id"

// clientIDLength はクライアントIDのバイト長（hex表現で64文字）。
const clientIDLength = 32

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// clientIDContextKey はリクエストコンテキストにクライアントIDを格納するためのキー。
var clientIDContextKey = contextKey("client_id")

// ClientConfig はクライアントIDミドルウェアの設定。
type ClientConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       time.Duration
}

// NewClientMiddleware はHTTP Only CookieからクライアントIDを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、または形式が不正な場合は新しいクライアントIDを発行する。
func NewClientMiddleware(config ClientConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからクライアントIDを取得
			clientID := ""
			if cookie, err := r.Cookie(ClientCookieName); err == nil && isValidClientID(cookie.Value) {
				clientID = cookie.Value
			}

			// 2. 未発行の場合は新規発行してCookieに設定
			if clientID == "" {
				id, err := generateClientID()
				if err != nil {
					slog.Error("クライアントIDの生成に失敗しました",
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
				clientID = id
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookieName,
					Value:    clientID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   int(config.MaxAge.Seconds()),
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			// 3. クライアントIDをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithClientID(r.Context(), clientID)))
		})
	}
}

// ClientIDFromContext はリクエストコンテキストからクライアントIDを取得する。
// クライアントミドルウェアを通過したリクエストでのみ有効。
func ClientIDFromContext(ctx context.Context) (string, error) {
	clientID, ok := ctx.Value(clientIDContextKey).(string)
	if !ok || clientID == "" {
		return "", fmt.Errorf("client ID not found in context")
	}
	return clientID, nil
}

// ContextWithClientID はコンテキストにクライアントIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDContextKey, clientID)
}

// generateClientID は暗号的に安全なクライアントIDを生成する。
func generateClientID() (string, error) {
	b := make([]byte, clientIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func isValidClientID(s string) bool {
	if len(s) != clientIDLength*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
