package handler

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/captionly/internal/auth"
	"github.com/hitoshi/captionly/internal/middleware"
	"github.com/hitoshi/captionly/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はサインイン・サインアップ・サインアウトのHTTPハンドラー。
// 認証状態の遷移はセッションコントローラーが認証状態通知を受けて行う。
type AuthHandler struct {
	resolver ControllerResolver
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(resolver ControllerResolver, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		resolver: resolver,
		config:   config,
	}
}

// credentialsRequest はメールアドレス・パスワード認証のリクエストボディ。
type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// Login はメールアドレスとパスワードでサインインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ctrl.Login(r.Context(), req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}
	writeSnapshot(w, ctrl)
}

// SignUp はアカウントを作成してサインインする。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ctrl.SignUpWithCredentials(r.Context(), req.Email, req.Password, req.DisplayName); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ctrl.Snapshot())
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()

	state, err := generateState()
	if err != nil {
		slog.Error("OAuth stateの生成に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := ctrl.ProviderLoginURL(auth.ProviderGoogle, state)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("OAuth stateが一致しません",
			slog.String("query_state", state),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid state parameter."))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Missing authorization code."))
		return
	}

	// 3. 認証処理
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	if err := ctrl.SignInWithProvider(r.Context(), auth.ProviderGoogle, code); err != nil {
		handleServiceError(w, err)
		return
	}

	// 4. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はサインアウトしてセッション状態を初期化する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctrl, release, ok := controllerFor(w, r, h.resolver)
	if !ok {
		return
	}
	defer release()
	if err := ctrl.Logout(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeSnapshot(w, ctrl)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
