package app

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
	"github.com/ruanjf/nocobase-plugins/internal/auth/provider"
	"github.com/ruanjf/nocobase-plugins/internal/auth/provider/dingtalk"
	"github.com/ruanjf/nocobase-plugins/internal/auth/resolver"
	"github.com/ruanjf/nocobase-plugins/internal/config"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
)

// buildRegistry turns the configured authenticators into a registry. Each
// DingTalk authenticator gets its own client, and with it its own app
// token cache.
func buildRegistry(cfg *config.Config, store resolver.UserStore) (*provider.Registry, error) {
	httpClient := &http.Client{Timeout: cfg.DingTalk.HTTPTimeout}

	list := make([]*provider.Authenticator, 0, len(cfg.Authenticators))
	for _, ac := range cfg.Authenticators {
		a := &provider.Authenticator{Name: ac.Name, Type: ac.Type}

		if ac.Type == config.AuthenticatorTypeDingTalk {
			api, err := dingtalk.New(dingtalk.Config{
				AppKey:       ac.AppKey,
				AppSecret:    ac.AppSecret,
				APIBaseURL:   cfg.DingTalk.APIBaseURL,
				OAPIBaseURL:  cfg.DingTalk.OAPIBaseURL,
				LoginBaseURL: cfg.DingTalk.LoginBaseURL,
				HTTPClient:   httpClient,
			})
			if err != nil {
				return nil, fmt.Errorf("authenticator %q: %w", ac.Name, err)
			}

			strategy, err := auth.ParseMatchStrategy(ac.MatchStrategy)
			if err != nil {
				return nil, fmt.Errorf("authenticator %q: %w", ac.Name, err)
			}

			a.OAuth = api
			a.Resolver = resolver.NewDingTalkResolver(resolver.DingTalkConfig{
				Authenticator:  ac.Name,
				AutoSignup:     ac.AutoSignup,
				MatchStrategy:  strategy,
				AllowedDomains: ac.Domains(),
			}, api, store)
		}

		logger.Info("authenticator registered",
			zap.String("name", ac.Name),
			zap.String("type", ac.Type),
		)
		list = append(list, a)
	}

	return provider.NewRegistry(list...)
}
