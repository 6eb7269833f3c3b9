package resolver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
)

// DingTalkConfig is the per-authenticator matching policy. It is fixed
// for the lifetime of the resolver.
type DingTalkConfig struct {
	Authenticator  string
	AutoSignup     bool
	MatchStrategy  auth.MatchStrategy
	AllowedDomains []string
}

// DingTalkResolver maps a DingTalk sign-in to a local account: by existing
// link first, then by contact field, then by provisioning a new user.
type DingTalkResolver struct {
	cfg       DingTalkConfig
	directory Directory
	store     UserStore
}

func NewDingTalkResolver(cfg DingTalkConfig, directory Directory, store UserStore) *DingTalkResolver {
	domains := make([]string, len(cfg.AllowedDomains))
	copy(domains, cfg.AllowedDomains)
	cfg.AllowedDomains = domains

	return &DingTalkResolver{
		cfg:       cfg,
		directory: directory,
		store:     store,
	}
}

func (r *DingTalkResolver) Resolve(ctx context.Context, code string) (*auth.User, error) {
	if code == "" {
		return nil, auth.InvalidRequest("authorization code is missing")
	}

	// 1. Code -> user token -> union id -> org user id
	token, err := r.directory.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	tokenUser, err := r.directory.GetUserByToken(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	externalUserID, err := r.directory.GetUserIDByUnionID(ctx, tokenUser.UnionID)
	if err != nil {
		return nil, err
	}

	// 2. Already linked
	linked, err := r.store.FindLinkedUser(ctx, r.cfg.Authenticator, externalUserID)
	if err != nil {
		return nil, fmt.Errorf("find linked user: %w", err)
	}
	if linked != nil {
		logger.Debug("dingtalk user already linked",
			zap.String("authenticator", r.cfg.Authenticator),
			zap.String("user_id", linked.ID),
		)
		return linked, nil
	}

	// 3. Full profile and match key
	detail, err := r.directory.GetUserDetail(ctx, externalUserID)
	if err != nil {
		return nil, err
	}

	profile := auth.ExternalProfile{
		ExternalUserID: externalUserID,
		UnionID:        tokenUser.UnionID,
		Mobile:         tokenUser.Mobile,
		Email:          tokenUser.Email,
		OrgEmail:       detail.OrgEmail,
		DisplayName:    detail.Name,
	}
	if profile.DisplayName == "" {
		profile.DisplayName = tokenUser.Nick
	}

	key, err := auth.SelectMatchKey(profile, r.cfg.MatchStrategy, r.cfg.AllowedDomains)
	if err != nil {
		return nil, err
	}

	// 4. Existing local account: link it
	existing, err := r.store.FindUserByContact(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find user by %s: %w", key.Field, err)
	}
	if existing != nil {
		if err := r.store.LinkUser(ctx, r.cfg.Authenticator, externalUserID, existing.ID); err != nil {
			return nil, fmt.Errorf("link user: %w", err)
		}
		// Re-read: a concurrent callback may have linked first.
		user, err := r.store.FindLinkedUser(ctx, r.cfg.Authenticator, externalUserID)
		if err != nil {
			return nil, fmt.Errorf("find linked user: %w", err)
		}
		logger.Info("dingtalk user linked to existing account",
			zap.String("authenticator", r.cfg.Authenticator),
			zap.String("match_field", string(key.Field)),
			zap.String("user_id", existing.ID),
		)
		return user, nil
	}

	// 5. No account
	if !r.cfg.AutoSignup {
		logger.Info("no matching account and signup disabled",
			zap.String("authenticator", r.cfg.Authenticator),
			zap.String("match_field", string(key.Field)),
		)
		return nil, nil
	}

	meta, err := profile.Metadata()
	if err != nil {
		return nil, fmt.Errorf("encode profile metadata: %w", err)
	}

	newUser := auth.NewUser{
		Username: auth.Username(key, profile),
		Nickname: profile.DisplayName,
		Phone:    profile.Mobile,
		Meta:     meta,
	}
	if key.IsEmail() {
		newUser.Email = key.Value
	}

	user, err := r.store.CreateLinkedUser(ctx, r.cfg.Authenticator, externalUserID, newUser)
	if err != nil {
		return nil, fmt.Errorf("create linked user: %w", err)
	}

	logger.Info("dingtalk user provisioned",
		zap.String("authenticator", r.cfg.Authenticator),
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
	)
	return user, nil
}
