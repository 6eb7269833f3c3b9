package resolver

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
)

// Resolver determines which local user an OAuth sign-in belongs to.
// It is the ONLY place where identity-to-user mapping logic lives.
//
// A nil user with a nil error means the profile is valid but no account
// matches and signup is disabled.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*auth.User, error)
}

// Directory is the provider side of resolution.
type Directory interface {
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	GetUserByToken(ctx context.Context, userAccessToken string) (*auth.TokenUser, error)
	GetUserIDByUnionID(ctx context.Context, unionID string) (string, error)
	GetUserDetail(ctx context.Context, userID string) (*auth.UserDetail, error)
}

// UserStore is the local side of resolution. Find methods return
// (nil, nil) when nothing matches.
//
// Implementations must keep (authenticator, externalUserID) unique:
// LinkUser is a no-op when the link exists, and CreateLinkedUser returns
// the already linked user instead of creating a second one.
type UserStore interface {
	FindLinkedUser(ctx context.Context, authenticator, externalUserID string) (*auth.User, error)
	FindUserByContact(ctx context.Context, key auth.MatchKey) (*auth.User, error)
	LinkUser(ctx context.Context, authenticator, externalUserID, userID string) error
	CreateLinkedUser(ctx context.Context, authenticator, externalUserID string, u auth.NewUser) (*auth.User, error)
}
