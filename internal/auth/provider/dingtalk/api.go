// Package dingtalk is a client for the DingTalk open platform endpoints used
// by sign-in: OAuth token exchange, the app token and directory lookups.
// It returns identity facts only; account decisions live in the resolver.
package dingtalk

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
)

const (
	DefaultAPIBaseURL   = "https://api.dingtalk.com"
	DefaultOAPIBaseURL  = "https://oapi.dingtalk.com"
	DefaultLoginBaseURL = "https://login.dingtalk.com"
)

// Config holds the credentials and endpoints of one DingTalk application.
// Empty base URLs fall back to the public DingTalk hosts.
type Config struct {
	AppKey    string
	AppSecret string

	APIBaseURL   string
	OAPIBaseURL  string
	LoginBaseURL string

	HTTPClient *http.Client
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// API groups the DingTalk namespaces around one shared transport.
type API struct {
	OAuth2  *OAuth2
	Contact *Contact

	t *transport
}

func New(cfg Config) (*API, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return nil, errors.New("dingtalk config missing app key or secret")
	}

	t := &transport{
		appKey:       cfg.AppKey,
		appSecret:    cfg.AppSecret,
		apiBaseURL:   baseURL(cfg.APIBaseURL, DefaultAPIBaseURL),
		oapiBaseURL:  baseURL(cfg.OAPIBaseURL, DefaultOAPIBaseURL),
		loginBaseURL: baseURL(cfg.LoginBaseURL, DefaultLoginBaseURL),
		httpClient:   cfg.HTTPClient,
		now:          cfg.Now,
	}
	if t.httpClient == nil {
		t.httpClient = http.DefaultClient
	}
	if t.now == nil {
		t.now = time.Now
	}

	return &API{
		OAuth2:  &OAuth2{t: t},
		Contact: &Contact{t: t},
		t:       t,
	}, nil
}

func baseURL(v, def string) string {
	if v == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}

// AuthCodeURL builds the DingTalk login URL. DingTalk expects
// scope=openid and prompt=consent; the state is echoed back untouched.
func (a *API) AuthCodeURL(state, redirectURI string) string {
	cfg := oauth2.Config{
		ClientID:    a.t.appKey,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL: a.t.loginBaseURL + "/oauth2/auth",
		},
		Scopes: []string{"openid"},
	}
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// The methods below flatten the namespaces so *API satisfies the
// resolver's directory interface.

func (a *API) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return a.OAuth2.ExchangeCode(ctx, code)
}

func (a *API) GetUserByToken(ctx context.Context, userAccessToken string) (*auth.TokenUser, error) {
	return a.Contact.GetUserByToken(ctx, userAccessToken)
}

func (a *API) GetUserIDByUnionID(ctx context.Context, unionID string) (string, error) {
	return a.Contact.GetUserIDByUnionID(ctx, unionID)
}

func (a *API) GetUserDetail(ctx context.Context, userID string) (*auth.UserDetail, error) {
	return a.Contact.GetUserDetail(ctx, userID)
}
