package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cadence-diary-server/internal/domain"
	"cadence-diary-server/internal/matcher"

	"go.uber.org/zap"
)

type mockUserRepo struct {
	mu         sync.Mutex
	users      map[string]*domain.User
	findErr    error
	appendErr  error
	insertErr  error
	appendCall int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*domain.User)}
}

func (m *mockUserRepo) Find(id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return nil, domain.ErrUserNotFound
}

func (m *mockUserRepo) Insert(user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) AppendLoginPattern(id string, pattern domain.TypingPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	user, ok := m.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	m.appendCall++
	user.IDPatterns = append(user.IDPatterns, pattern)
	return nil
}

func (m *mockUserRepo) AppendNotePattern(id string, pattern domain.TypingPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	user, ok := m.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	m.appendCall++
	user.NotePatterns = append(user.NotePatterns, pattern)
	return nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	saveErr  error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (m *mockSessionRepo) Create(session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *mockSessionRepo) Find(id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok && !sess.Expired(time.Now()) {
		return sess, nil
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessionRepo) Update(session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *mockSessionRepo) Destroy(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// mockMatcher replays a scripted sequence of scores and transport errors.
type mockMatcher struct {
	mu          sync.Mutex
	scores      []int
	errs        []error
	calls       int
	lastQuality int
}

func (m *mockMatcher) Match(ctx context.Context, sample, reference domain.TypingPattern, quality int) (*matcher.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.lastQuality = quality
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.scores) {
		return &matcher.Outcome{Score: m.scores[i]}, nil
	}
	return &matcher.Outcome{Score: 0}, nil
}

func testSession() *domain.Session {
	return &domain.Session{
		ID:        "sess-1",
		Trust:     domain.TrustUnknown,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newAuthService(users *mockUserRepo, sessions *mockSessionRepo, m *mockMatcher) *AuthService {
	return NewAuthService(users, sessions, m, 50, zap.NewNop())
}

func TestNormalizeLoginID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"lowercases", "A@B.com", "a@b.com", true},
		{"trims", "  user  ", "user", true},
		{"empty rejected", "", "", false},
		{"whitespace rejected", "   ", "", false},
		{"mango operator rejected", "$gt", "", false},
		{"reserved doc prefix rejected", "_design", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeLoginID(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("NormalizeLoginID(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMatchQuality(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 1},
		{-1, 1},
		{0.25, 2},
		{0.5, 3},
		{0.9, 5},
		{1, 5},
		{2, 5},
	}

	for _, tt := range tests {
		if got := matchQuality(tt.in); got != tt.want {
			t.Errorf("matchQuality(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAuthService_Login_UnknownUser(t *testing.T) {
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	service := newAuthService(users, sessions, &mockMatcher{})

	sess := testSession()
	sessions.Create(sess)

	resp := service.Login(context.Background(), sess, &domain.LoginRequest{
		LoginID:       "A@B.com",
		TypingPattern: "pattern-1",
	})

	if resp.AuthenticationStatus != domain.AuthUserNotFound {
		t.Fatalf("expected userNotFound, got %s", resp.AuthenticationStatus)
	}
	if sess.Key != "a@b.com" {
		t.Errorf("expected candidate key recorded, got %q", sess.Key)
	}
	if sess.PendingPattern != "pattern-1" {
		t.Errorf("expected pending pattern recorded, got %q", sess.PendingPattern)
	}
	if sess.Trust != domain.TrustUnknown {
		t.Errorf("expected trust 0, got %d", sess.Trust)
	}
}

func TestAuthService_Login_ThinRecordIsUserNotFound(t *testing.T) {
	users := newMockUserRepo()
	users.users["a@b.com"] = &domain.User{
		ID:         "a@b.com",
		IDPatterns: []domain.TypingPattern{"only-one"},
	}
	sessions := newMockSessionRepo()
	m := &mockMatcher{scores: []int{100}}
	service := newAuthService(users, sessions, m)

	sess := testSession()
	sessions.Create(sess)

	resp := service.Login(context.Background(), sess, &domain.LoginRequest{
		LoginID:       "a@b.com",
		TypingPattern: "pattern-2",
	})

	if resp.AuthenticationStatus != domain.AuthUserNotFound {
		t.Fatalf("expected userNotFound for thin record, got %s", resp.AuthenticationStatus)
	}
	if m.calls != 0 {
		t.Errorf("matcher must not be consulted for thin records, got %d calls", m.calls)
	}
}

func TestAuthService_Login_InvalidIdentifiers(t *testing.T) {
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	service := newAuthService(users, sessions, &mockMatcher{})

	for _, loginID := range []string{"", "$where", "_users"} {
		sess := testSession()
		sessions.Create(sess)
		resp := service.Login(context.Background(), sess, &domain.LoginRequest{
			LoginID:       loginID,
			TypingPattern: "p",
		})
		if resp.AuthenticationStatus != domain.AuthFailure {
			t.Errorf("loginID %q: expected failure, got %s", loginID, resp.AuthenticationStatus)
		}
	}
}

func TestAuthService_Login_Success(t *testing.T) {
	users := newMockUserRepo()
	users.users["a@b.com"] = &domain.User{
		ID:         "a@b.com",
		IDPatterns: []domain.TypingPattern{"p1", "p2"},
	}
	sessions := newMockSessionRepo()
	m := &mockMatcher{scores: []int{80}}
	service := newAuthService(users, sessions, m)

	sess := testSession()
	sessions.Create(sess)

	resp := service.Login(context.Background(), sess, &domain.LoginRequest{
		LoginID:        "a@b.com",
		TypingPattern:  "p3",
		PatternQuality: 1,
	})

	if resp.AuthenticationStatus != domain.AuthSuccess {
		t.Fatalf("expected success, got %s", resp.AuthenticationStatus)
	}
	if m.lastQuality != 5 {
		t.Errorf("expected the client quality estimate forwarded as hint 5, got %d", m.lastQuality)
	}
	if sess.Trust != domain.TrustIdentified {
		t.Errorf("expected trust 1, got %d", sess.Trust)
	}
	if sess.CachedUser == nil {
		t.Error("expected user cached on session")
	}
	stored := users.users["a@b.com"].IDPatterns
	if len(stored) != 3 || stored[2] != "p3" {
		t.Errorf("expected new pattern appended, got %v", stored)
	}
}

func TestAuthService_Login_LowScore(t *testing.T) {
	users := newMockUserRepo()
	users.users["a@b.com"] = &domain.User{
		ID:         "a@b.com",
		IDPatterns: []domain.TypingPattern{"p1", "p2"},
	}
	sessions := newMockSessionRepo()
	service := newAuthService(users, sessions, &mockMatcher{scores: []int{49}})

	sess := testSession()
	sessions.Create(sess)

	resp := service.Login(context.Background(), sess, &domain.LoginRequest{
		LoginID:       "a@b.com",
		TypingPattern: "p3",
	})

	if resp.AuthenticationStatus != domain.AuthFailure {
		t.Fatalf("expected failure, got %s", resp.AuthenticationStatus)
	}
	if sess.Trust != domain.TrustUnknown {
		t.Errorf("failure must not change trust, got %d", sess.Trust)
	}
	if len(users.users["a@b.com"].IDPatterns) != 2 {
		t.Error("failure must not append patterns")
	}
}

func TestAuthService_Login_TransportErrorIsNotFailure(t *testing.T) {
	users := newMockUserRepo()
	users.users["a@b.com"] = &domain.User{
		ID:         "a@b.com",
		IDPatterns: []domain.TypingPattern{"p1", "p2"},
	}
	sessions := newMockSessionRepo()
	m := &mockMatcher{errs: []error{&matcher.TransportError{Op: "match", Err: errors.New("connection refused")}}}
	service := newAuthService(users, sessions, m)

	sess := testSession()
	sessions.Create(sess)

	resp := service.Login(context.Background(), sess, &domain.LoginRequest{
		LoginID:       "a@b.com",
		TypingPattern: "p3",
	})

	if resp.AuthenticationStatus != domain.AuthError {
		t.Fatalf("expected error status, got %s", resp.AuthenticationStatus)
	}
	if len(users.users["a@b.com"].IDPatterns) != 2 {
		t.Error("transport error must not change state")
	}
}

func TestAuthService_Login_StoreReadError(t *testing.T) {
	users := newMockUserRepo()
	users.findErr = errors.New("store down")
	sessions := newMockSessionRepo()
	service := newAuthService(users, sessions, &mockMatcher{})

	sess := testSession()
	sessions.Create(sess)

	resp := service.Login(context.Background(), sess, &domain.LoginRequest{
		LoginID:       "a@b.com",
		TypingPattern: "p",
	})

	if resp.AuthenticationStatus != domain.AuthError {
		t.Fatalf("store failure must be error, not failure; got %s", resp.AuthenticationStatus)
	}
}

func TestAuthService_CreateAccount_RequiresPendingPattern(t *testing.T) {
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	service := newAuthService(users, sessions, &mockMatcher{})

	sess := testSession()
	sessions.Create(sess)

	_, err := service.CreateAccount(context.Background(), sess, &domain.CreateAccountRequest{
		TypingPattern: "p",
	})

	if !errors.Is(err, ErrNoPendingPattern) {
		t.Fatalf("expected ErrNoPendingPattern, got %v", err)
	}
}

func TestAuthService_CreateAccount_Success(t *testing.T) {
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	service := newAuthService(users, sessions, &mockMatcher{scores: []int{80}})

	sess := testSession()
	sess.Key = "a@b.com"
	sess.PendingPattern = "p1"
	sessions.Create(sess)

	resp, err := service.CreateAccount(context.Background(), sess, &domain.CreateAccountRequest{
		TypingPattern: "p2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.AuthenticationStatus != domain.AuthSuccess {
		t.Fatalf("expected success, got %s", resp.AuthenticationStatus)
	}
	if sess.Trust != domain.TrustIdentified {
		t.Errorf("expected trust 1, got %d", sess.Trust)
	}
	if !sess.PendingPattern.Empty() {
		t.Error("pending pattern must be discarded")
	}

	user, ok := users.users["a@b.com"]
	if !ok {
		t.Fatal("expected user record created")
	}
	if len(user.IDPatterns) != 2 || user.IDPatterns[0] != "p1" || user.IDPatterns[1] != "p2" {
		t.Errorf("expected record seeded with both patterns, got %v", user.IDPatterns)
	}
	if len(user.NotePatterns) != 0 {
		t.Error("note patterns must be empty until the first note is bootstrapped")
	}
}

func TestAuthService_CreateAccount_DiscardsPendingOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		matcher *mockMatcher
		want    domain.AuthStatus
	}{
		{"low score", &mockMatcher{scores: []int{30}}, domain.AuthFailure},
		{"transport error", &mockMatcher{errs: []error{errors.New("timeout")}}, domain.AuthError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newMockUserRepo()
			sessions := newMockSessionRepo()
			service := newAuthService(users, sessions, tt.matcher)

			sess := testSession()
			sess.Key = "a@b.com"
			sess.PendingPattern = "p1"
			sessions.Create(sess)

			resp, err := service.CreateAccount(context.Background(), sess, &domain.CreateAccountRequest{
				TypingPattern: "p2",
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if resp.AuthenticationStatus != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, resp.AuthenticationStatus)
			}
			if !sess.PendingPattern.Empty() {
				t.Error("pending pattern must be discarded regardless of outcome")
			}
			if _, ok := users.users["a@b.com"]; ok {
				t.Error("no user record may be created on a failed comparison")
			}
		})
	}
}

func TestAuthService_Logout(t *testing.T) {
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	service := newAuthService(users, sessions, &mockMatcher{})

	sess := testSession()
	sessions.Create(sess)

	if err := service.Logout(sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := sessions.Find(sess.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Error("expected session destroyed")
	}
}
