package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// fakeGoogle はトークンエンドポイントとユーザー情報エンドポイントを1つのサーバーで模倣する。
type fakeGoogle struct {
	tokenStatus    int
	userInfoStatus int
	userInfo       map[string]interface{}
	gotForm        url.Values
}

func (f *fakeGoogle) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		f.gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		if f.tokenStatus != 0 && f.tokenStatus != http.StatusOK {
			w.WriteHeader(f.tokenStatus)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "Code was already redeemed.",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "test-access-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "test-refresh-token",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-access-token" {
			t.Errorf("unexpected Authorization header: %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.userInfoStatus != 0 && f.userInfoStatus != http.StatusOK {
			w.WriteHeader(f.userInfoStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.userInfo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFakeGoogleProvider(srv *httptest.Server) *GoogleOAuthProvider {
	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
		HTTPClient:   srv.Client(),
	})
}

func TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/auth/google/callback",
	})

	raw := provider.GetLoginURL("test-state-value")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("login URL is not parseable: %v", err)
	}
	if u.Host != "accounts.google.com" {
		t.Errorf("host = %q, want accounts.google.com", u.Host)
	}

	q := u.Query()
	want := map[string]string{
		"client_id":     "test-client-id",
		"redirect_uri":  "http://localhost:8080/auth/google/callback",
		"state":         "test-state-value",
		"response_type": "code",
		"scope":         "openid email profile",
		"access_type":   "offline",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Success(t *testing.T) {
	fake := &fakeGoogle{userInfo: map[string]interface{}{
		"sub":            "google-sub-12345",
		"email":          "user@gmail.com",
		"email_verified": true,
		"name":           "Google User",
		"picture":        "https://lh3.googleusercontent.com/a/photo.jpg",
	}}
	provider := newFakeGoogleProvider(fake.server(t))

	userInfo, err := provider.ExchangeCode(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	// クライアント認証はリクエストボディで送る
	if got := fake.gotForm.Get("client_secret"); got != "test-client-secret" {
		t.Errorf("client_secret = %q, want test-client-secret", got)
	}
	if got := fake.gotForm.Get("code"); got != "test-auth-code" {
		t.Errorf("code = %q, want test-auth-code", got)
	}

	want := OAuthUserInfo{
		ProviderUserID: "google-sub-12345",
		Email:          "user@gmail.com",
		Name:           "Google User",
		AvatarURL:      "https://lh3.googleusercontent.com/a/photo.jpg",
		Provider:       ProviderGoogle,
	}
	if *userInfo != want {
		t.Errorf("userInfo = %+v, want %+v", *userInfo, want)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Errors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeGoogle
	}{
		{"token_rejected", &fakeGoogle{tokenStatus: http.StatusBadRequest}},
		{"userinfo_unauthorized", &fakeGoogle{userInfoStatus: http.StatusUnauthorized}},
		{"empty_sub", &fakeGoogle{userInfo: map[string]interface{}{"email": "a@gmail.com", "email_verified": true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeGoogleProvider(tt.fake.server(t))
			if _, err := provider.ExchangeCode(context.Background(), "code"); err == nil {
				t.Fatal("expected error from ExchangeCode")
			}
		})
	}
}

// 未検証のメールアドレスは既存ユーザーへの連携に使わせない
func TestGoogleOAuthProvider_ExchangeCode_UnverifiedEmail(t *testing.T) {
	fake := &fakeGoogle{userInfo: map[string]interface{}{
		"sub":            "google-sub-999",
		"email":          "jane@example.com",
		"email_verified": false,
	}}
	provider := newFakeGoogleProvider(fake.server(t))

	_, err := provider.ExchangeCode(context.Background(), "code")
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Errorf("err = %v, want ErrEmailNotVerified", err)
	}
}
