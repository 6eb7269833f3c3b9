package provider

import (
	"github.com/ruanjf/nocobase-plugins/internal/auth/resolver"
)

// OAuthProvider builds the provider authorization URL. Implementations
// return identity facts only and never create, link or sign in users.
type OAuthProvider interface {
	// AuthCodeURL returns the URL the browser is sent to. redirectURI is
	// where the provider calls back with the authorization code.
	AuthCodeURL(state, redirectURI string) string
}

// Authenticator is one configured sign-in method. OAuth and Resolver are
// set for OAuth types and nil for password authenticators.
type Authenticator struct {
	Name     string
	Type     string
	OAuth    OAuthProvider
	Resolver resolver.Resolver
}

// IsOAuth reports whether the authenticator signs users in through a
// provider redirect.
func (a *Authenticator) IsOAuth() bool {
	return a.OAuth != nil && a.Resolver != nil
}
