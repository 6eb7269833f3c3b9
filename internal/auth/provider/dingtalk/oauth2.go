package dingtalk

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
)

// appTokenSafetyMargin is subtracted from the advertised lifetime so a
// cached token is never used right at its expiry.
const appTokenSafetyMargin = 100 * time.Second

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

// OAuth2 covers the token endpoints of api.dingtalk.com.
type OAuth2 struct {
	t *transport
}

type userAccessTokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	GrantType    string `json:"grantType"`
}

type userAccessTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpireIn     int64  `json:"expireIn"` // seconds
	CorpID       string `json:"corpId"`
}

// ExchangeCode trades a one-time authorization code for a user access token.
func (o *OAuth2) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, auth.InvalidRequest("authorization code is empty")
	}
	return o.userAccessToken(ctx, userAccessTokenRequest{
		Code:      code,
		GrantType: grantAuthorizationCode,
	})
}

// RefreshUserToken renews a user access token from its refresh token.
func (o *OAuth2) RefreshUserToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, auth.InvalidRequest("refresh token is empty")
	}
	return o.userAccessToken(ctx, userAccessTokenRequest{
		RefreshToken: refreshToken,
		GrantType:    grantRefreshToken,
	})
}

func (o *OAuth2) userAccessToken(ctx context.Context, body userAccessTokenRequest) (*oauth2.Token, error) {
	body.ClientID = o.t.appKey
	body.ClientSecret = o.t.appSecret

	var res userAccessTokenResponse
	err := o.t.doJSON(ctx, request{
		endpoint: "oauth2.userAccessToken",
		method:   http.MethodPost,
		url:      o.t.apiBaseURL + "/v1.0/oauth2/userAccessToken",
		body:     body,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, auth.Upstream("oauth2.userAccessToken returned no access token", "", nil)
	}

	tok := &oauth2.Token{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
	}
	if res.ExpireIn > 0 {
		tok.Expiry = o.t.now().Add(time.Duration(res.ExpireIn) * time.Second)
	}
	return tok.WithExtra(map[string]any{"corpId": res.CorpID}), nil
}

// AppAccessToken returns the application token used for directory lookups.
func (o *OAuth2) AppAccessToken(ctx context.Context) (string, error) {
	return o.t.appAccessToken(ctx)
}

type appAccessTokenRequest struct {
	AppKey    string `json:"appKey"`
	AppSecret string `json:"appSecret"`
}

type appAccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpireIn    int64  `json:"expireIn"` // seconds
}

func (t *transport) appAccessToken(ctx context.Context) (string, error) {
	if tok, ok := t.appToken.get(t.now()); ok {
		return tok, nil
	}

	var res appAccessTokenResponse
	err := t.doJSON(ctx, request{
		endpoint: "oauth2.accessToken",
		method:   http.MethodPost,
		url:      t.apiBaseURL + "/v1.0/oauth2/accessToken",
		body:     appAccessTokenRequest{AppKey: t.appKey, AppSecret: t.appSecret},
	}, &res)
	if err != nil {
		return "", err
	}
	if res.AccessToken == "" {
		return "", auth.Upstream("oauth2.accessToken returned no access token", "", nil)
	}

	expiry := t.now().Add(time.Duration(res.ExpireIn)*time.Second - appTokenSafetyMargin)
	t.appToken.set(&oauth2.Token{AccessToken: res.AccessToken, Expiry: expiry})

	logger.Debug("dingtalk app token refreshed", zap.Time("expires_at", expiry))
	return res.AccessToken, nil
}

// appTokenCache holds the app token of one authenticator. Concurrent misses
// may each fetch a token; the last one stored wins.
type appTokenCache struct {
	mu    sync.Mutex
	token *oauth2.Token
}

func (c *appTokenCache) get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil || c.token.AccessToken == "" || !now.Before(c.token.Expiry) {
		return "", false
	}
	return c.token.AccessToken, true
}

func (c *appTokenCache) set(tok *oauth2.Token) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// expiresAt reports the cached expiry; zero when nothing is cached.
func (c *appTokenCache) expiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return time.Time{}
	}
	return c.token.Expiry
}
