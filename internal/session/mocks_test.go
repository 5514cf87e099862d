package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/captionly/internal/auth"
	"github.com/hitoshi/captionly/internal/generator"
	"github.com/hitoshi/captionly/internal/localcache"
	"github.com/hitoshi/captionly/internal/model"
)

const testClientID = "client-1"

var errBoom = errors.New("boom")

// --- IDプロバイダーのフェイク ---

type fakeAccount struct {
	user     *model.User
	password string
}

// fakeIdentity はauth.Serviceと同様に、サインイン・サインアウト時にリスナーへ同期的に通知する。
type fakeIdentity struct {
	mu        sync.Mutex
	sessions  map[string]*model.User
	accounts  map[string]fakeAccount
	listeners map[string]map[int]auth.Listener
	nextID    int
	// expiresAt はSubscribe時に通知するセッションの有効期限。ゼロ値は期限なし。
	expiresAt time.Time

	subscribeErr error
	signOutErr   error
	signOutCalls int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		sessions:  make(map[string]*model.User),
		accounts:  make(map[string]fakeAccount),
		listeners: make(map[string]map[int]auth.Listener),
	}
}

func (f *fakeIdentity) addAccount(user *model.User, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[user.Email] = fakeAccount{user: user, password: password}
}

func (f *fakeIdentity) setSession(clientID string, user *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[clientID] = user
}

func (f *fakeIdentity) setExpiry(expiresAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiresAt = expiresAt
}

func (f *fakeIdentity) listenerCount(clientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[clientID])
}

func (f *fakeIdentity) publish(ctx context.Context, clientID string, ev auth.Event) {
	f.mu.Lock()
	fns := make([]auth.Listener, 0, len(f.listeners[clientID]))
	for _, fn := range f.listeners[clientID] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, ev)
	}
}

func (f *fakeIdentity) Subscribe(ctx context.Context, clientID string, fn auth.Listener) (func(), error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.listeners[clientID] == nil {
		f.listeners[clientID] = make(map[int]auth.Listener)
	}
	f.listeners[clientID][id] = fn
	user := f.sessions[clientID]
	expiresAt := f.expiresAt
	subscribeErr := f.subscribeErr
	f.mu.Unlock()

	unsubscribe := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners[clientID], id)
	}
	if subscribeErr != nil {
		return unsubscribe, subscribeErr
	}
	if user != nil {
		fn(ctx, auth.SignedInUntil(user, expiresAt))
	} else {
		fn(ctx, auth.SignedOut())
	}
	return unsubscribe, nil
}

func (f *fakeIdentity) SignInWithPassword(ctx context.Context, clientID, email, password string) (*model.User, error) {
	f.mu.Lock()
	acct, ok := f.accounts[email]
	if !ok || acct.password != password {
		f.mu.Unlock()
		return nil, auth.ErrInvalidCredentials
	}
	f.sessions[clientID] = acct.user
	f.mu.Unlock()

	f.publish(ctx, clientID, auth.SignedIn(acct.user))
	return acct.user, nil
}

func (f *fakeIdentity) SignUpWithPassword(ctx context.Context, clientID, email, password, displayName string) (*model.User, error) {
	f.mu.Lock()
	if _, exists := f.accounts[email]; exists {
		f.mu.Unlock()
		return nil, auth.ErrEmailAlreadyInUse
	}
	user := &model.User{ID: "user-new", Email: email, DisplayName: displayName}
	f.accounts[email] = fakeAccount{user: user, password: password}
	f.sessions[clientID] = user
	f.mu.Unlock()

	f.publish(ctx, clientID, auth.SignedIn(user))
	return user, nil
}

func (f *fakeIdentity) LoginURL(providerID, state string) (string, error) {
	if providerID != auth.ProviderGoogle {
		return "", auth.ErrUnsupportedProvider
	}
	return "https://accounts.example.com/auth?state=" + state, nil
}

func (f *fakeIdentity) SignInWithFederatedProvider(ctx context.Context, clientID, providerID, code string) (*model.User, error) {
	if code != "good-code" {
		return nil, auth.ErrFederatedSignIn
	}
	user := &model.User{ID: "user-google", Email: "g@example.com", DisplayName: "G User"}
	f.setSession(clientID, user)
	f.publish(ctx, clientID, auth.SignedIn(user))
	return user, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context, clientID string) error {
	f.mu.Lock()
	f.signOutCalls++
	if f.signOutErr != nil {
		err := f.signOutErr
		f.mu.Unlock()
		return err
	}
	delete(f.sessions, clientID)
	f.mu.Unlock()

	f.publish(ctx, clientID, auth.SignedOut())
	return nil
}

// --- ドキュメントストアのモック ---

type mockProfileRepo struct {
	mu                 sync.Mutex
	getFn              func(ctx context.Context, userID string) (*model.Profile, error)
	createFn           func(ctx context.Context, userID, displayName, email string) error
	setIntegrationsFn  func(ctx context.Context, userID string, accounts []string) error
	createCalls        int
	setIntegrationArgs [][]string
}

func (m *mockProfileRepo) Get(ctx context.Context, userID string) (*model.Profile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockProfileRepo) Create(ctx context.Context, userID, displayName, email string) error {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, userID, displayName, email)
	}
	return nil
}

func (m *mockProfileRepo) SetIntegrations(ctx context.Context, userID string, accounts []string) error {
	m.mu.Lock()
	m.setIntegrationArgs = append(m.setIntegrationArgs, append([]string{}, accounts...))
	m.mu.Unlock()
	if m.setIntegrationsFn != nil {
		return m.setIntegrationsFn(ctx, userID, accounts)
	}
	return nil
}

type mockHistoryRepo struct {
	mu          sync.Mutex
	listFn      func(ctx context.Context, userID string) ([]model.CaptionResult, error)
	saveFn      func(ctx context.Context, userID string, result model.CaptionResult) (model.CaptionResult, error)
	deleteFn    func(ctx context.Context, userID string, id model.HistoryID) error
	saveCalls   int
	deleteCalls int
}

func (m *mockHistoryRepo) List(ctx context.Context, userID string) ([]model.CaptionResult, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []model.CaptionResult{}, nil
}

func (m *mockHistoryRepo) Save(ctx context.Context, userID string, result model.CaptionResult) (model.CaptionResult, error) {
	m.mu.Lock()
	m.saveCalls++
	m.mu.Unlock()
	if m.saveFn != nil {
		return m.saveFn(ctx, userID, result)
	}
	return result.WithHistoryID(model.PersistedID("generated")), nil
}

func (m *mockHistoryRepo) Delete(ctx context.Context, userID string, id model.HistoryID) error {
	m.mu.Lock()
	m.deleteCalls++
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, id)
	}
	return nil
}

// --- 生成器のモック ---

type mockGenerator struct {
	generateFn func(ctx context.Context, req generator.Request) (model.CaptionResult, error)
}

func (m *mockGenerator) Generate(ctx context.Context, req generator.Request) (model.CaptionResult, error) {
	return m.generateFn(ctx, req)
}

// --- 時計 ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// failingStore は書き込みが常に失敗するlocalcache.Store。
type failingStore struct {
	*localcache.MemoryStore
}

func (s failingStore) Set(context.Context, string, string, []byte) error {
	return errBoom
}

// --- テストデータ ---

var testUser = &model.User{
	ID:          "user-1",
	Email:       "jane@example.com",
	DisplayName: "Jane",
	AvatarURL:   "https://i.pravatar.cc/150?u=user-1",
}

func sampleResult() model.CaptionResult {
	return model.CaptionResult{
		Captions: []string{"Glow naturally 🌿", "Clean beauty, clear skin", "Skincare that loves the planet"},
		Hashtags: []string{"#eco", "#skincare", "#clean", "#beauty", "#green"},
		InputDetails: model.InputDetails{
			Topic:    "Launching eco-friendly skincare",
			Tone:     "Casual",
			Platform: "Instagram",
		},
	}
}

func savedEntry(id string) model.CaptionResult {
	return sampleResult().WithHistoryID(model.PersistedID(id))
}

type fixture struct {
	identity *fakeIdentity
	profiles *mockProfileRepo
	history  *mockHistoryRepo
	cache    *localcache.MemoryStore
	clock    *fakeClock
}

func newFixture() *fixture {
	return &fixture{
		identity: newFakeIdentity(),
		profiles: &mockProfileRepo{},
		history:  &mockHistoryRepo{},
		cache:    localcache.NewMemoryStore(),
		clock:    newFakeClock(),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Identity: f.identity,
		Profiles: f.profiles,
		History:  f.history,
		Cache:    f.cache,
		Now:      f.clock.Now,
	}
}

// start はControllerを生成して起動する。
func (f *fixture) start(t *testing.T, deps Deps) *Controller {
	t.Helper()
	c := NewController(testClientID, deps)
	c.Start(context.Background())
	t.Cleanup(c.Dispose)
	return c
}

// signedIn は既存プロフィールと履歴を持つユーザーでサインイン済みのControllerを返す。
func (f *fixture) signedIn(t *testing.T, entries ...model.CaptionResult) *Controller {
	t.Helper()
	f.identity.setSession(testClientID, testUser)
	f.profiles.getFn = func(ctx context.Context, userID string) (*model.Profile, error) {
		return &model.Profile{UserID: userID, DisplayName: "Jane", ConnectedAccounts: []string{}}, nil
	}
	f.history.listFn = func(ctx context.Context, userID string) ([]model.CaptionResult, error) {
		return entries, nil
	}
	c := f.start(t, f.deps())
	if s := c.Snapshot().State; s != StateAuthenticated {
		t.Fatalf("State = %q, want authenticated", s)
	}
	return c
}

func requireCategory(t *testing.T, err error, category string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError", err)
	}
	if apiErr.Category != category {
		t.Fatalf("Category = %q, want %q", apiErr.Category, category)
	}
	return apiErr
}

func requireNotification(t *testing.T, c *Controller, message string) {
	t.Helper()
	n := c.Snapshot().Notification
	if n == nil {
		t.Fatalf("notification = nil, want %q", message)
	}
	if n.Message != message {
		t.Fatalf("notification = %q, want %q", n.Message, message)
	}
}
