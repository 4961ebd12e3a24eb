package identity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/icantchat/internal/discord"
	"github.com/hitoshi/icantchat/internal/model"
)

// --- モック ---

type mockGuard struct {
	requireFreshFn func(ctx context.Context, token any) (*model.Token, error)
}

func (m *mockGuard) RequireFresh(ctx context.Context, token any) (*model.Token, error) {
	if m.requireFreshFn != nil {
		return m.requireFreshFn(ctx, token)
	}
	t, _ := token.(*model.Token)
	return t, nil
}

type mockUserFetcher struct {
	getCurrentUserFn func(ctx context.Context, accessToken string) (*discord.UserPayload, error)
	calls            int
}

func (m *mockUserFetcher) GetCurrentUser(ctx context.Context, accessToken string) (*discord.UserPayload, error) {
	m.calls++
	return m.getCurrentUserFn(ctx, accessToken)
}

// memoryStore はアカウント・identity・トークンを保持するインメモリストア。
type memoryStore struct {
	accounts   map[string]*model.Account
	identities map[string]*model.Identity
	tokens     map[string]*model.Token
	deleted    []string
	bindErr    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts:   make(map[string]*model.Account),
		identities: make(map[string]*model.Identity),
		tokens:     make(map[string]*model.Token),
	}
}

type accountRepo struct{ s *memoryStore }

func (r accountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	return r.s.accounts[id], nil
}

func (r accountRepo) CreateWithIdentity(_ context.Context, account *model.Account, identity *model.Identity) error {
	r.s.accounts[account.ID] = account
	c := *identity
	r.s.identities[identity.ID] = &c
	return nil
}

type identityRepo struct{ s *memoryStore }

func (r identityRepo) FindByExternalUserID(_ context.Context, externalUserID string) (*model.Identity, error) {
	for _, i := range r.s.identities {
		if i.ExternalUserID == externalUserID {
			c := *i
			return &c, nil
		}
	}
	return nil, nil
}

func (r identityRepo) FindByAccountID(_ context.Context, accountID string) (*model.Identity, error) {
	for _, i := range r.s.identities {
		if i.AccountID == accountID {
			c := *i
			return &c, nil
		}
	}
	return nil, nil
}

func (r identityRepo) FindByTokenID(_ context.Context, tokenID string) (*model.Identity, error) {
	for _, i := range r.s.identities {
		if i.TokenID == tokenID {
			c := *i
			return &c, nil
		}
	}
	return nil, nil
}

func (r identityRepo) Bind(_ context.Context, identity *model.Identity, staleTokenID string) error {
	if r.s.bindErr != nil {
		return r.s.bindErr
	}
	if staleTokenID != "" {
		delete(r.s.tokens, staleTokenID)
		r.s.deleted = append(r.s.deleted, staleTokenID)
	}
	c := *identity
	r.s.identities[identity.ID] = &c
	return nil
}

type tokenRepo struct{ s *memoryStore }

func (r tokenRepo) FindByID(_ context.Context, id string) (*model.Token, error) {
	return r.s.tokens[id], nil
}
func (r tokenRepo) FindByAccessToken(context.Context, string) (*model.Token, error) { return nil, nil }
func (r tokenRepo) FindByExternalUserID(context.Context, string) (*model.Token, error) {
	return nil, nil
}
func (r tokenRepo) GetOrCreate(context.Context, *model.Token) (bool, error) { return true, nil }
func (r tokenRepo) UpdateRefreshed(context.Context, *model.Token, string) (bool, error) {
	return true, nil
}

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestBinder(guard FreshnessGuard, fetcher UserFetcher, s *memoryStore) *Binder {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	b := NewBinder(guard, fetcher, accountRepo{s}, identityRepo{s}, tokenRepo{s}, logger)
	b.SetClock(func() time.Time { return baseTime })
	return b
}

func freshToken(id string) *model.Token {
	return &model.Token{ID: id, AccessToken: "access-" + id, IssuedAt: baseTime, TTL: time.Hour}
}

func userFetcher(id, name, avatar string) *mockUserFetcher {
	return &mockUserFetcher{
		getCurrentUserFn: func(context.Context, string) (*discord.UserPayload, error) {
			return &discord.UserPayload{ID: id, Username: name, Avatar: avatar}, nil
		},
	}
}

// --- テスト ---

func TestBinder_Bind_CreatesAccountOnFirstBind(t *testing.T) {
	s := newMemoryStore()
	token := freshToken("tok-1")
	s.tokens[token.ID] = token
	b := newTestBinder(&mockGuard{}, userFetcher("42", "nelly", "abc"), s)

	identity, err := b.Bind(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(s.accounts) != 1 || len(s.identities) != 1 {
		t.Fatalf("accounts=%d identities=%d, want 1/1", len(s.accounts), len(s.identities))
	}
	if identity.ExternalUserID != "42" || identity.DisplayName != "nelly" || identity.AvatarHash != "abc" {
		t.Errorf("unexpected identity: %+v", identity)
	}
	if identity.TokenID != "tok-1" {
		t.Errorf("TokenID = %q, want tok-1", identity.TokenID)
	}
	account := s.accounts[identity.AccountID]
	if account == nil || account.Username != "42" {
		t.Errorf("account = %+v, want username 42", account)
	}
}

func TestBinder_Bind_IsIdempotentPerExternalUser(t *testing.T) {
	s := newMemoryStore()
	first := freshToken("tok-1")
	second := freshToken("tok-2")
	s.tokens[first.ID] = first
	s.tokens[second.ID] = second

	fetcher := userFetcher("42", "nelly", "abc")
	b := newTestBinder(&mockGuard{}, fetcher, s)

	if _, err := b.Bind(context.Background(), first); err != nil {
		t.Fatalf("first bind: %v", err)
	}

	fetcher.getCurrentUserFn = func(context.Context, string) (*discord.UserPayload, error) {
		return &discord.UserPayload{ID: "42", Username: "nelly2", Avatar: ""}, nil
	}
	identity, err := b.Bind(context.Background(), second)
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}

	if len(s.identities) != 1 {
		t.Fatalf("identities = %d, want 1", len(s.identities))
	}
	if identity.DisplayName != "nelly2" || identity.AvatarHash != "" {
		t.Errorf("profile not overwritten: %+v", identity)
	}
	if identity.TokenID != "tok-2" {
		t.Errorf("TokenID = %q, want tok-2", identity.TokenID)
	}
	// tok-1は期限内なので削除されない
	if len(s.deleted) != 0 {
		t.Errorf("deleted = %v, want none", s.deleted)
	}
}

func TestBinder_Bind_DeletesExpiredPreviousToken(t *testing.T) {
	s := newMemoryStore()
	old := &model.Token{ID: "tok-old", AccessToken: "old", IssuedAt: baseTime.Add(-2 * time.Hour), TTL: time.Hour}
	s.tokens[old.ID] = old
	s.identities["idn-1"] = &model.Identity{ID: "idn-1", AccountID: "acc-1", ExternalUserID: "42", TokenID: "tok-old"}

	token := freshToken("tok-new")
	s.tokens[token.ID] = token
	b := newTestBinder(&mockGuard{}, userFetcher("42", "nelly", "abc"), s)

	identity, err := b.Bind(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.deleted) != 1 || s.deleted[0] != "tok-old" {
		t.Errorf("deleted = %v, want [tok-old]", s.deleted)
	}
	if identity.ID != "idn-1" {
		t.Errorf("identity ID = %q, want idn-1", identity.ID)
	}
}

func TestBinder_Bind_SameTokenIsNotDeleted(t *testing.T) {
	s := newMemoryStore()
	token := freshToken("tok-1")
	s.tokens[token.ID] = token
	s.identities["idn-1"] = &model.Identity{ID: "idn-1", AccountID: "acc-1", ExternalUserID: "42", TokenID: "tok-1"}
	b := newTestBinder(&mockGuard{}, userFetcher("42", "nelly", "abc"), s)

	if _, err := b.Bind(context.Background(), token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.deleted) != 0 {
		t.Errorf("deleted = %v, want none", s.deleted)
	}
}

func TestBinder_Bind_UserFetchFailureLeavesIdentityUntouched(t *testing.T) {
	s := newMemoryStore()
	original := model.Identity{ID: "idn-1", AccountID: "acc-1", ExternalUserID: "42", DisplayName: "nelly", TokenID: "tok-1"}
	c := original
	s.identities["idn-1"] = &c

	fetcher := &mockUserFetcher{
		getCurrentUserFn: func(context.Context, string) (*discord.UserPayload, error) {
			return nil, &discord.APIError{Message: "401: Unauthorized", Code: 0}
		},
	}
	b := newTestBinder(&mockGuard{}, fetcher, s)

	_, err := b.Bind(context.Background(), freshToken("tok-2"))
	var wfErr *model.WorkflowError
	if !errors.As(err, &wfErr) {
		t.Fatalf("expected WorkflowError, got %v", err)
	}
	if wfErr.Summary != model.SummaryUserFetch {
		t.Errorf("Summary = %q, want %q", wfErr.Summary, model.SummaryUserFetch)
	}
	if *s.identities["idn-1"] != original {
		t.Errorf("identity modified: %+v", s.identities["idn-1"])
	}
}

func TestBinder_Bind_GuardFailureSkipsRemoteCall(t *testing.T) {
	s := newMemoryStore()
	guardErr := model.NewWorkflowError(model.SummaryTokenType, errors.New("expected *model.Token"))
	guard := &mockGuard{
		requireFreshFn: func(context.Context, any) (*model.Token, error) { return nil, guardErr },
	}
	fetcher := userFetcher("42", "nelly", "")
	b := newTestBinder(guard, fetcher, s)

	_, err := b.Bind(context.Background(), "not-a-token")
	if !errors.Is(err, guardErr) {
		t.Fatalf("err = %v, want guard error", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("GetCurrentUser calls = %d, want 0", fetcher.calls)
	}
}

func TestBinder_Bind_StoreFailure(t *testing.T) {
	s := newMemoryStore()
	s.bindErr = errors.New("serialization failure")
	b := newTestBinder(&mockGuard{}, userFetcher("42", "nelly", ""), s)

	if _, err := b.Bind(context.Background(), freshToken("tok-1")); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestService_Profile(t *testing.T) {
	s := newMemoryStore()
	s.identities["idn-1"] = &model.Identity{ID: "idn-1", AccountID: "acc-1", ExternalUserID: "42", DisplayName: "nelly", AvatarHash: "a_anim", TokenID: "tok-1"}
	svc := NewService(identityRepo{s})

	profile, err := svc.Profile(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.AvatarURL != "https://cdn.discordapp.com/avatars/42/a_anim.gif" {
		t.Errorf("AvatarURL = %q", profile.AvatarURL)
	}
	if !profile.HasToken {
		t.Error("HasToken = false, want true")
	}
}

func TestService_Profile_NotFound(t *testing.T) {
	svc := NewService(identityRepo{newMemoryStore()})

	_, err := svc.Profile(context.Background(), "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeIdentityNotFound {
		t.Fatalf("expected IDENTITY_NOT_FOUND, got %v", err)
	}
}
