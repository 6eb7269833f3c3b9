package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
)

type fakeDirectory struct {
	tokenUser auth.TokenUser
	userID    string
	detail    auth.UserDetail

	failAt string // "exchange", "user", "unionid", "detail"

	calls map[string]int
}

func (d *fakeDirectory) hit(step string) error {
	if d.calls == nil {
		d.calls = map[string]int{}
	}
	d.calls[step]++
	if d.failAt == step {
		return auth.Upstream(step+" failed", `{"errcode":60020,"errmsg":"not allowed"}`, nil)
	}
	return nil
}

func (d *fakeDirectory) ExchangeCode(_ context.Context, code string) (*oauth2.Token, error) {
	if err := d.hit("exchange"); err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: "user-token-" + code}, nil
}

func (d *fakeDirectory) GetUserByToken(_ context.Context, _ string) (*auth.TokenUser, error) {
	if err := d.hit("user"); err != nil {
		return nil, err
	}
	u := d.tokenUser
	return &u, nil
}

func (d *fakeDirectory) GetUserIDByUnionID(_ context.Context, _ string) (string, error) {
	if err := d.hit("unionid"); err != nil {
		return "", err
	}
	return d.userID, nil
}

func (d *fakeDirectory) GetUserDetail(_ context.Context, _ string) (*auth.UserDetail, error) {
	if err := d.hit("detail"); err != nil {
		return nil, err
	}
	det := d.detail
	return &det, nil
}

type linkKey struct {
	authenticator, externalUserID string
}

// memStore keeps users and links in memory with the same uniqueness rule
// as the SQL schema.
type memStore struct {
	mu      sync.Mutex
	users   map[string]*auth.User
	links   map[linkKey]string
	nextID  int
	created int
	linked  int
}

func newMemStore(users ...*auth.User) *memStore {
	s := &memStore{users: map[string]*auth.User{}, links: map[linkKey]string{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) FindLinkedUser(_ context.Context, authenticator, externalUserID string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.links[linkKey{authenticator, externalUserID}]
	if !ok {
		return nil, nil
	}
	return s.users[id], nil
}

func (s *memStore) FindUserByContact(_ context.Context, key auth.MatchKey) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if key.Field == auth.ContactEmail && u.Email == key.Value {
			return u, nil
		}
		if key.Field == auth.ContactPhone && u.Phone == key.Value {
			return u, nil
		}
	}
	return nil, nil
}

func (s *memStore) LinkUser(_ context.Context, authenticator, externalUserID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := linkKey{authenticator, externalUserID}
	if _, ok := s.links[k]; ok {
		return nil
	}
	s.links[k] = userID
	s.linked++
	return nil
}

func (s *memStore) CreateLinkedUser(_ context.Context, authenticator, externalUserID string, nu auth.NewUser) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := linkKey{authenticator, externalUserID}
	if id, ok := s.links[k]; ok {
		return s.users[id], nil
	}
	s.nextID++
	u := &auth.User{
		ID:       fmt.Sprintf("user-%d", s.nextID),
		Username: nu.Username,
		Nickname: nu.Nickname,
		Email:    nu.Email,
		Phone:    nu.Phone,
		Meta:     nu.Meta,
	}
	s.users[u.ID] = u
	s.links[k] = u.ID
	s.created++
	s.linked++
	return u, nil
}

func aliceDirectory() *fakeDirectory {
	return &fakeDirectory{
		tokenUser: auth.TokenUser{UnionID: "union-1", Nick: "alice", Mobile: "13800000000", Email: "a@corp.com"},
		userID:    "ext-1",
		detail:    auth.UserDetail{UserID: "ext-1", Name: "Alice Liu", Email: "a@corp.com", OrgEmail: "alice@org.corp.com"},
	}
}

func personalEmailConfig(autoSignup bool) DingTalkConfig {
	return DingTalkConfig{
		Authenticator:  "dingtalk",
		AutoSignup:     autoSignup,
		MatchStrategy:  auth.MatchPersonalEmail,
		AllowedDomains: []string{"corp.com"},
	}
}

func TestResolve_EmptyCode(t *testing.T) {
	dir := aliceDirectory()
	r := NewDingTalkResolver(personalEmailConfig(true), dir, newMemStore())

	_, err := r.Resolve(context.Background(), "")
	assert.True(t, auth.IsKind(err, auth.KindInvalidRequest))
	assert.Empty(t, dir.calls)
}

func TestResolve_FastPathSkipsDetail(t *testing.T) {
	dir := aliceDirectory()
	store := newMemStore(&auth.User{ID: "local-1", Username: "alice"})
	store.links[linkKey{"dingtalk", "ext-1"}] = "local-1"

	r := NewDingTalkResolver(personalEmailConfig(false), dir, store)

	for i := 0; i < 2; i++ {
		u, err := r.Resolve(context.Background(), "code")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "local-1", u.ID)
	}

	assert.Zero(t, dir.calls["detail"])
	assert.Zero(t, store.linked)
	assert.Len(t, store.links, 1)
}

func TestResolve_LinksExistingAccount(t *testing.T) {
	dir := aliceDirectory()
	store := newMemStore(&auth.User{ID: "local-1", Username: "alice", Email: "a@corp.com"})
	r := NewDingTalkResolver(personalEmailConfig(false), dir, store)

	u, err := r.Resolve(context.Background(), "code")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "local-1", u.ID)
	assert.Equal(t, "local-1", store.links[linkKey{"dingtalk", "ext-1"}])
	assert.Zero(t, store.created)

	// Second sign-in takes the fast path and adds no link.
	_, err = r.Resolve(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, 1, store.linked)
	assert.Equal(t, 1, dir.calls["detail"])
}

func TestResolve_LinksByMobile(t *testing.T) {
	dir := aliceDirectory()
	store := newMemStore(&auth.User{ID: "local-9", Username: "al", Phone: "13800000000"})
	r := NewDingTalkResolver(DingTalkConfig{
		Authenticator: "dingtalk",
		MatchStrategy: auth.MatchMobile,
	}, dir, store)

	u, err := r.Resolve(context.Background(), "code")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "local-9", u.ID)
}

func TestResolve_AutoSignup(t *testing.T) {
	dir := aliceDirectory()
	store := newMemStore()
	r := NewDingTalkResolver(personalEmailConfig(true), dir, store)

	u, err := r.Resolve(context.Background(), "code")
	require.NoError(t, err)
	require.NotNil(t, u)

	assert.Equal(t, "a", u.Username)
	assert.Equal(t, "a@corp.com", u.Email)
	assert.Equal(t, "13800000000", u.Phone)
	assert.Equal(t, "Alice Liu", u.Nickname)

	var meta auth.ExternalProfile
	require.NoError(t, json.Unmarshal(u.Meta, &meta))
	assert.Equal(t, auth.ExternalProfile{
		ExternalUserID: "ext-1",
		UnionID:        "union-1",
		Mobile:         "13800000000",
		Email:          "a@corp.com",
		OrgEmail:       "alice@org.corp.com",
		DisplayName:    "Alice Liu",
	}, meta)

	assert.Equal(t, u.ID, store.links[linkKey{"dingtalk", "ext-1"}])
	assert.Equal(t, 1, store.created)
}

func TestResolve_AutoSignupFallsBackToNick(t *testing.T) {
	dir := aliceDirectory()
	dir.detail.Name = ""
	r := NewDingTalkResolver(personalEmailConfig(true), dir, newMemStore())

	u, err := r.Resolve(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Nickname)
}

func TestResolve_AutoSignupMobileUsername(t *testing.T) {
	dir := aliceDirectory()
	r := NewDingTalkResolver(DingTalkConfig{
		Authenticator: "dingtalk",
		AutoSignup:    true,
		MatchStrategy: auth.MatchMobile,
	}, dir, newMemStore())

	u, err := r.Resolve(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "13800000000", u.Username)
	assert.Empty(t, u.Email)
}

func TestResolve_SignupDisabled(t *testing.T) {
	store := newMemStore()
	r := NewDingTalkResolver(personalEmailConfig(false), aliceDirectory(), store)

	u, err := r.Resolve(context.Background(), "code")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Zero(t, store.created)
	assert.Empty(t, store.links)
}

func TestResolve_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		cfg      DingTalkConfig
		mutate   func(*fakeDirectory)
		wantCode string
	}{
		{
			name:     "personal email missing",
			cfg:      personalEmailConfig(true),
			mutate:   func(d *fakeDirectory) { d.tokenUser.Email = "" },
			wantCode: auth.CodeMissingContactField,
		},
		{
			name: "org email missing",
			cfg: DingTalkConfig{
				Authenticator: "dingtalk", AutoSignup: true,
				MatchStrategy: auth.MatchOrgEmail, AllowedDomains: []string{"corp.com"},
			},
			mutate:   func(d *fakeDirectory) { d.detail.OrgEmail = "" },
			wantCode: auth.CodeMissingContactField,
		},
		{
			name: "mobile missing",
			cfg: DingTalkConfig{
				Authenticator: "dingtalk", AutoSignup: true, MatchStrategy: auth.MatchMobile,
			},
			mutate:   func(d *fakeDirectory) { d.tokenUser.Mobile = "" },
			wantCode: auth.CodeMissingContactField,
		},
		{
			name: "domain not allowed",
			cfg: DingTalkConfig{
				Authenticator: "dingtalk", AutoSignup: true,
				MatchStrategy: auth.MatchPersonalEmail, AllowedDomains: []string{"example.com"},
			},
			wantCode: auth.CodeDomainNotAllowed,
		},
		{
			name: "empty domain set",
			cfg: DingTalkConfig{
				Authenticator: "dingtalk", AutoSignup: true, MatchStrategy: auth.MatchOrgEmail,
			},
			wantCode: auth.CodeDomainNotAllowed,
		},
		{
			// The personal email comes from the token profile; the detail
			// record's email must not be consulted for the domain check.
			name: "domain check uses extracted profile email",
			cfg:  personalEmailConfig(true),
			mutate: func(d *fakeDirectory) {
				d.tokenUser.Email = "a@gmail.com"
				d.detail.Email = "a@corp.com"
			},
			wantCode: auth.CodeDomainNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := aliceDirectory()
			if tt.mutate != nil {
				tt.mutate(dir)
			}
			store := newMemStore()
			r := NewDingTalkResolver(tt.cfg, dir, store)

			u, err := r.Resolve(context.Background(), "code")
			assert.Nil(t, u)
			require.Error(t, err)
			e, ok := auth.As(err)
			require.True(t, ok)
			assert.Equal(t, auth.KindValidation, e.Kind)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Zero(t, store.created)
			assert.Empty(t, store.links)
		})
	}
}

func TestResolve_UpstreamFailures(t *testing.T) {
	for _, step := range []string{"exchange", "user", "unionid", "detail"} {
		t.Run(step, func(t *testing.T) {
			dir := aliceDirectory()
			dir.failAt = step
			store := newMemStore(&auth.User{ID: "local-1", Email: "a@corp.com"})
			r := NewDingTalkResolver(personalEmailConfig(true), dir, store)

			u, err := r.Resolve(context.Background(), "code")
			assert.Nil(t, u)
			require.Error(t, err)
			assert.True(t, auth.IsKind(err, auth.KindUpstream))
			assert.Contains(t, err.Error(), "60020")

			assert.Zero(t, store.created)
			assert.Zero(t, store.linked)
		})
	}
}

type failingStore struct {
	*memStore
}

func (failingStore) FindLinkedUser(context.Context, string, string) (*auth.User, error) {
	return nil, errors.New("connection reset")
}

func TestResolve_StoreErrorIsNotClassified(t *testing.T) {
	r := NewDingTalkResolver(personalEmailConfig(true), aliceDirectory(), failingStore{newMemStore()})

	_, err := r.Resolve(context.Background(), "code")
	require.Error(t, err)
	_, ok := auth.As(err)
	assert.False(t, ok)
}
