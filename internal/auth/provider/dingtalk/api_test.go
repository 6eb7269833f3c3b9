package dingtalk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// handleMethod registers a "METHOD /path" route with Go 1.22 ServeMux
// semantics on toolchains whose ServeMux does not parse method patterns.
func handleMethod(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}

// fakeDingTalk serves the endpoints used by sign-in.
type fakeDingTalk struct {
	appTokenFetches atomic.Int32
	detailCalls     atomic.Int32
	appTokenTTL     int64
	unionErrCode    int
}

func (f *fakeDingTalk) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	handleMethod(mux, "POST /v1.0/oauth2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "key", body["appKey"])
		assert.Equal(t, "secret", body["appSecret"])

		n := f.appTokenFetches.Add(1)
		writeJSON(w, map[string]any{
			"accessToken": "app-token-" + string(rune('0'+n)),
			"expireIn":    f.appTokenTTL,
		})
	})

	handleMethod(mux, "POST /v1.0/oauth2/userAccessToken", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["code"] == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"invalidAuthCode","message":"bad code"}`))
			return
		}
		assert.Equal(t, "key", body["clientId"])
		if body["grantType"] == "refresh_token" {
			assert.Equal(t, "refresh", body["refreshToken"])
			writeJSON(w, map[string]any{
				"accessToken":  "user-token-2",
				"refreshToken": "refresh-2",
				"expireIn":     7200,
			})
			return
		}
		assert.Equal(t, "authorization_code", body["grantType"])
		writeJSON(w, map[string]any{
			"accessToken":  "user-token",
			"refreshToken": "refresh",
			"expireIn":     7200,
			"corpId":       "corp",
		})
	})

	handleMethod(mux, "GET /v1.0/contact/users/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-token", r.Header.Get("x-acs-dingtalk-access-token"))
		writeJSON(w, map[string]any{
			"nick":    "Alice",
			"unionId": "union-1",
			"mobile":  "13800000000",
			"email":   "a@corp.com",
		})
	})

	handleMethod(mux, "POST /topapi/user/getbyunionid", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("access_token"))
		if f.unionErrCode != 0 {
			writeJSON(w, map[string]any{"errcode": f.unionErrCode, "errmsg": "not found"})
			return
		}
		writeJSON(w, map[string]any{
			"errcode": 0,
			"result":  map[string]any{"contact_type": 0, "userid": "ext-1"},
		})
	})

	handleMethod(mux, "POST /topapi/v2/user/getbymobile", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "13800000000", body["mobile"])
		writeJSON(w, map[string]any{
			"errcode": 0,
			"result":  map[string]any{"userid": "ext-1"},
		})
	})

	handleMethod(mux, "POST /topapi/v2/user/get", func(w http.ResponseWriter, r *http.Request) {
		f.detailCalls.Add(1)
		writeJSON(w, map[string]any{
			"errcode": 0,
			"result": map[string]any{
				"userid":    "ext-1",
				"name":      "Alice Liu",
				"email":     "a@corp.com",
				"org_email": "alice@org.corp.com",
			},
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestAPI(t *testing.T, f *fakeDingTalk, clock *fakeClock) *API {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	api, err := New(Config{
		AppKey:      "key",
		AppSecret:   "secret",
		APIBaseURL:  srv.URL,
		OAPIBaseURL: srv.URL + "/",
		HTTPClient:  srv.Client(),
		Now:         clock.Now,
	})
	require.NoError(t, err)
	return api
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{AppKey: "key"})
	assert.Error(t, err)
}

func TestAuthCodeURL(t *testing.T) {
	api, err := New(Config{AppKey: "key", AppSecret: "secret"})
	require.NoError(t, err)

	raw := api.AuthCodeURL("1700000000000", "https://app.example.com/api/dingtalk/redirect-auth?authenticator=dt")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "login.dingtalk.com", u.Host)
	assert.Equal(t, "/oauth2/auth", u.Path)
	q := u.Query()
	assert.Equal(t, "key", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid", q.Get("scope"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "1700000000000", q.Get("state"))
	assert.Equal(t, "https://app.example.com/api/dingtalk/redirect-auth?authenticator=dt", q.Get("redirect_uri"))
}

func TestExchangeCode(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	api := newTestAPI(t, &fakeDingTalk{appTokenTTL: 7200}, clock)

	tok, err := api.ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "user-token", tok.AccessToken)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.Equal(t, clock.Now().Add(2*time.Hour), tok.Expiry)
	assert.Equal(t, "corp", tok.Extra("corpId"))
}

func TestRefreshUserToken(t *testing.T) {
	api := newTestAPI(t, &fakeDingTalk{appTokenTTL: 7200}, &fakeClock{t: time.Unix(1_700_000_000, 0)})

	tok, err := api.OAuth2.RefreshUserToken(context.Background(), "refresh")
	require.NoError(t, err)
	assert.Equal(t, "user-token-2", tok.AccessToken)
	assert.Equal(t, "refresh-2", tok.RefreshToken)

	_, err = api.OAuth2.RefreshUserToken(context.Background(), "")
	assert.True(t, auth.IsKind(err, auth.KindInvalidRequest))
}

func TestGetUserIDByMobile(t *testing.T) {
	api := newTestAPI(t, &fakeDingTalk{appTokenTTL: 7200}, &fakeClock{t: time.Now()})

	id, err := api.Contact.GetUserIDByMobile(context.Background(), "13800000000")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", id)
}

func TestExchangeCode_Failures(t *testing.T) {
	api := newTestAPI(t, &fakeDingTalk{appTokenTTL: 7200}, &fakeClock{t: time.Now()})

	_, err := api.ExchangeCode(context.Background(), "")
	assert.True(t, auth.IsKind(err, auth.KindInvalidRequest))

	_, err = api.ExchangeCode(context.Background(), "bad")
	require.Error(t, err)
	e, ok := auth.As(err)
	require.True(t, ok)
	assert.Equal(t, auth.KindUpstream, e.Kind)
	assert.Contains(t, e.Payload, "invalidAuthCode")
}

func TestAppAccessToken_Cache(t *testing.T) {
	f := &fakeDingTalk{appTokenTTL: 7200}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	api := newTestAPI(t, f, clock)
	ctx := context.Background()

	first, err := api.OAuth2.AppAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(7200*time.Second-appTokenSafetyMargin), api.t.appToken.expiresAt())

	clock.Advance(time.Hour)
	second, err := api.OAuth2.AppAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.appTokenFetches.Load())

	// Inside the safety margin the cached token is treated as expired.
	clock.Advance(time.Hour - appTokenSafetyMargin)
	third, err := api.OAuth2.AppAccessToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.EqualValues(t, 2, f.appTokenFetches.Load())
	assert.Equal(t, clock.Now().Add(7200*time.Second-appTokenSafetyMargin), api.t.appToken.expiresAt())
}

func TestDirectoryLookups(t *testing.T) {
	f := &fakeDingTalk{appTokenTTL: 7200}
	api := newTestAPI(t, f, &fakeClock{t: time.Now()})
	ctx := context.Background()

	u, err := api.GetUserByToken(ctx, "user-token")
	require.NoError(t, err)
	assert.Equal(t, &auth.TokenUser{UnionID: "union-1", Nick: "Alice", Mobile: "13800000000", Email: "a@corp.com"}, u)

	id, err := api.GetUserIDByUnionID(ctx, "union-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", id)

	d, err := api.GetUserDetail(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice Liu", d.Name)
	assert.Equal(t, "alice@org.corp.com", d.OrgEmail)

	// Both oapi calls shared one app token.
	assert.EqualValues(t, 1, f.appTokenFetches.Load())
}

func TestDirectoryLookups_ProviderErrorCode(t *testing.T) {
	f := &fakeDingTalk{appTokenTTL: 7200, unionErrCode: 60020}
	api := newTestAPI(t, f, &fakeClock{t: time.Now()})

	_, err := api.GetUserIDByUnionID(context.Background(), "union-1")
	require.Error(t, err)
	e, ok := auth.As(err)
	require.True(t, ok)
	assert.Equal(t, auth.KindUpstream, e.Kind)
	assert.Contains(t, e.Payload, "60020")
}

func TestGetUserByToken_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	api, err := New(Config{AppKey: "key", AppSecret: "secret", APIBaseURL: srv.URL})
	require.NoError(t, err)

	_, err = api.GetUserByToken(context.Background(), "user-token")
	assert.True(t, auth.IsKind(err, auth.KindUpstream))
}
