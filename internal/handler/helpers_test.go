package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/captionly/internal/auth"
	"github.com/hitoshi/captionly/internal/gemini"
	"github.com/hitoshi/captionly/internal/generator"
	"github.com/hitoshi/captionly/internal/localcache"
	"github.com/hitoshi/captionly/internal/middleware"
	"github.com/hitoshi/captionly/internal/model"
	"github.com/hitoshi/captionly/internal/session"
)

const (
	testCSRFToken = "test-csrf-token"
	testBaseURL   = "http://localhost:3000"
)

var testClientID = strings.Repeat("0a", 32)

// --- モック定義 ---

type mockCaptionService struct {
	generateFn func(ctx context.Context, topic, tone, platform string) (gemini.Captions, error)
}

func (m *mockCaptionService) GenerateCaptions(ctx context.Context, topic, tone, platform string) (gemini.Captions, error) {
	if m.generateFn != nil {
		return m.generateFn(ctx, topic, tone, platform)
	}
	return gemini.Captions{
		Captions: []string{"Glow naturally", "Clean beauty, clear skin", "Skincare that loves the planet"},
		Hashtags: []string{"eco", "#skincare", "#clean", "#beauty", "#green"},
	}, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

// fakeIdentity はauth.Serviceと同様に、サインイン・サインアウト時にリスナーへ同期的に通知する。
type fakeIdentity struct {
	mu        sync.Mutex
	passwords map[string]string
	sessions  map[string]*model.User
	listeners map[string][]auth.Listener
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		passwords: map[string]string{"jane@example.com": "secret1"},
		sessions:  make(map[string]*model.User),
		listeners: make(map[string][]auth.Listener),
	}
}

func (f *fakeIdentity) publish(ctx context.Context, clientID string, ev auth.Event) {
	f.mu.Lock()
	fns := append([]auth.Listener{}, f.listeners[clientID]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ctx, ev)
	}
}

func (f *fakeIdentity) Subscribe(ctx context.Context, clientID string, fn auth.Listener) (func(), error) {
	f.mu.Lock()
	f.listeners[clientID] = append(f.listeners[clientID], fn)
	user := f.sessions[clientID]
	f.mu.Unlock()

	if user != nil {
		fn(ctx, auth.SignedIn(user))
	} else {
		fn(ctx, auth.SignedOut())
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, clientID)
	}, nil
}

func (f *fakeIdentity) signIn(ctx context.Context, clientID string, user *model.User) {
	f.mu.Lock()
	f.sessions[clientID] = user
	f.mu.Unlock()
	f.publish(ctx, clientID, auth.SignedIn(user))
}

func (f *fakeIdentity) SignInWithPassword(ctx context.Context, clientID, email, password string) (*model.User, error) {
	f.mu.Lock()
	pw, ok := f.passwords[email]
	f.mu.Unlock()
	if !ok || pw != password {
		return nil, auth.ErrInvalidCredentials
	}
	user := &model.User{ID: "user-1", Email: email, DisplayName: "Jane"}
	f.signIn(ctx, clientID, user)
	return user, nil
}

func (f *fakeIdentity) SignUpWithPassword(ctx context.Context, clientID, email, password, displayName string) (*model.User, error) {
	f.mu.Lock()
	if _, exists := f.passwords[email]; exists {
		f.mu.Unlock()
		return nil, auth.ErrEmailAlreadyInUse
	}
	f.passwords[email] = password
	f.mu.Unlock()
	user := &model.User{ID: "user-new", Email: email, DisplayName: displayName}
	f.signIn(ctx, clientID, user)
	return user, nil
}

func (f *fakeIdentity) LoginURL(providerID, state string) (string, error) {
	if providerID != auth.ProviderGoogle {
		return "", auth.ErrUnsupportedProvider
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state, nil
}

func (f *fakeIdentity) SignInWithFederatedProvider(ctx context.Context, clientID, providerID, code string) (*model.User, error) {
	if code != "good-code" {
		return nil, auth.ErrFederatedSignIn
	}
	user := &model.User{ID: "user-google", Email: "g@example.com", DisplayName: "G User"}
	f.signIn(ctx, clientID, user)
	return user, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context, clientID string) error {
	f.mu.Lock()
	delete(f.sessions, clientID)
	f.mu.Unlock()
	f.publish(ctx, clientID, auth.SignedOut())
	return nil
}

// --- テスト用ルーター ---

type testEnv struct {
	t        *testing.T
	router   http.Handler
	registry *session.Registry
	service  *mockCaptionService
}

type envOptions struct {
	identity      session.IdentityProvider
	health        HealthChecker
	generateBurst int
}

// newTestEnv は実際のRegistryとミドルウェアチェーンを持つテスト用ルーターを構築する。
func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	svc := &mockCaptionService{}
	registry := session.NewRegistry(session.Deps{
		Identity:  opts.identity,
		Cache:     localcache.NewMemoryStore(),
		Generator: generator.NewMediator(svc, nil),
	}, 0)
	t.Cleanup(registry.Close)

	burst := opts.generateBurst
	if burst == 0 {
		burst = 100
	}
	limiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(1000, burst))
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		CORSAllowedOrigin: testBaseURL,
		RateLimiter:       limiter,
		Controllers:       registry,
		AuthConfig:        AuthHandlerConfig{BaseURL: testBaseURL},
		HealthChecker:     opts.health,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	})

	return &testEnv{t: t, router: router, registry: registry, service: svc}
}

// do はクライアントCookieとCSRFトークンを付与してリクエストを実行する。
func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	req.AddCookie(&http.Cookie{Name: middleware.ClientCookieName, Value: testClientID})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// snapshot は現在のセッション状態を取得する。
func (e *testEnv) snapshot() session.Snapshot {
	e.t.Helper()
	w := e.do(http.MethodGet, "/api/session", nil)
	if w.Code != http.StatusOK {
		e.t.Fatalf("GET /api/session status = %d", w.Code)
	}
	return decode[session.Snapshot](e.t, w)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
	return v
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d\nbody: %s", w.Code, want, w.Body.String())
	}
}

func requireErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) middleware.ErrorResponseBody {
	t.Helper()
	requireStatus(t, w, status)
	body := decode[middleware.ErrorResponseBody](t, w)
	if body.Code != code {
		t.Fatalf("code = %q, want %q", body.Code, code)
	}
	return body
}

var errUpstream = errors.New("upstream unavailable")

func validGenerateRequest() generator.Request {
	return generator.Request{
		Topic:    "Launching eco-friendly skincare",
		Tone:     "Casual",
		Platform: "Instagram",
	}
}
