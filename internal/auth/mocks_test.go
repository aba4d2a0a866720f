package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/oauth"
	"github.com/hitoshi/authgate/internal/password"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/token"
)

// --- モック定義 ---

// memUserRepo は一意制約を再現するインメモリのUserRepository。
// *Fnが設定されている場合はそちらを優先する。
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
	touchFn       func(ctx context.Context, userID string, at time.Time) error

	findByEmailCalls int
	createCalls      int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*model.User{}}
}

func (m *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (m *memUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	m.findByEmailCalls++
	m.mu.Unlock()
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByProviderIdentity(_ context.Context, provider, oauthID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.OAuthProvider == provider && u.OAuthID == oauthID {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicateEmail
		}
		if user.OAuthProvider != "" && u.OAuthProvider == user.OAuthProvider && u.OAuthID == user.OAuthID {
			return repository.ErrDuplicateIdentity
		}
	}
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *memUserRepo) CreatePasswordUser(ctx context.Context, user *model.User) error {
	return m.create(ctx, user)
}

func (m *memUserRepo) CreateOAuthUser(ctx context.Context, user *model.User) error {
	return m.create(ctx, user)
}

func (m *memUserRepo) LinkOAuthIdentity(_ context.Context, userID string, identity model.LinkedIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.HasOAuthIdentity() {
		return repository.ErrAlreadyLinked
	}
	u.OAuthProvider = identity.Provider
	u.OAuthID = identity.OAuthID
	if u.FullName == "" {
		u.FullName = identity.FullName
	}
	if u.AvatarURL == "" {
		u.AvatarURL = identity.AvatarURL
	}
	return nil
}

func (m *memUserRepo) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, userID, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		t := at
		u.LastLogin = &t
	}
	return nil
}

// snapshot はロールバック用にユーザーの複製を返す。
func (m *memUserRepo) snapshot() map[string]*model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*model.User, len(m.users))
	for id, u := range m.users {
		c := *u
		out[id] = &c
	}
	return out
}

func (m *memUserRepo) restore(users map[string]*model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = users
}

func (m *memUserRepo) add(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions []*model.Session
	createFn func(ctx context.Context, session *model.Session) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, session); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, session)
	return nil
}

func (m *mockSessionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// memTransactor はfnの失敗時にユーザーを実行前の状態へ戻す。
type memTransactor struct {
	users     *memUserRepo
	sessions  *mockSessionRepo
	commits   int
	rollbacks int
}

func (m *memTransactor) WithinTx(_ context.Context, fn func(repository.Stores) error) error {
	before := m.users.snapshot()
	if err := fn(repository.Stores{Users: m.users, Sessions: m.sessions}); err != nil {
		m.users.restore(before)
		m.rollbacks++
		return err
	}
	m.commits++
	return nil
}

type mockCaptcha struct {
	verifyFn func(ctx context.Context, token string) (bool, error)
	calls    int
}

func (m *mockCaptcha) Verify(ctx context.Context, token string) (bool, error) {
	m.calls++
	if m.verifyFn != nil {
		return m.verifyFn(ctx, token)
	}
	return token == "ok", nil
}

type mockBridge struct {
	beginFn    func(ctx context.Context, provider string) (string, error)
	completeFn func(ctx context.Context, code, state string) (*oauth.Identity, error)
	calls      int
}

func (m *mockBridge) Begin(ctx context.Context, provider string) (string, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx, provider)
	}
	return "https://idp.example.com/authorize?state=s", nil
}

func (m *mockBridge) Complete(ctx context.Context, code, state string) (*oauth.Identity, error) {
	m.calls++
	if m.completeFn != nil {
		return m.completeFn(ctx, code, state)
	}
	return nil, oauth.ErrInvalidState
}

// --- compile-time interface checks ---
var (
	_ repository.UserRepository    = (*memUserRepo)(nil)
	_ repository.SessionRepository = (*mockSessionRepo)(nil)
	_ OAuthBridge                  = (*mockBridge)(nil)
	_ repository.Transactor        = (*memTransactor)(nil)
)

const testSecret = "test-signing-secret"

// testEnv はテスト用に組み立てたServiceと依存コンポーネント。
type testEnv struct {
	svc      *Service
	users    *memUserRepo
	sessions *mockSessionRepo
	tx       *memTransactor
	captcha  *mockCaptcha
	bridge   *mockBridge
	issuer   *token.Issuer
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	issuer, err := token.NewIssuer(token.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	env := &testEnv{
		users:    newMemUserRepo(),
		sessions: &mockSessionRepo{},
		captcha:  &mockCaptcha{},
		bridge:   &mockBridge{},
		issuer:   issuer,
		registry: prometheus.NewRegistry(),
	}
	env.tx = &memTransactor{users: env.users, sessions: env.sessions}
	env.svc = NewService(Dependencies{
		Users:    env.users,
		Sessions: env.sessions,
		Tx:       env.tx,
		// テストを高速にするため最小コストのパラメータを使う
		Hasher:    password.NewHasher(password.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}),
		Tokens:    issuer,
		Captcha:   env.captcha,
		OAuth:     env.bridge,
		Sanitizer: security.NewProfileSanitizer(),
		Metrics:   metrics.NewCollector(env.registry),
	})
	return env
}
