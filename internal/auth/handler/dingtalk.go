package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/config"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
	"github.com/ruanjf/nocobase-plugins/internal/metrics"
)

// authURL returns the DingTalk login URL for an authenticator.
func (h *Handler) authURL(c *gin.Context) {
	name := c.Query("authenticator")
	a, err := h.authenticator(name, config.AuthenticatorTypeDingTalk)
	if err != nil {
		fail(c, err)
		return
	}

	redirect := c.Query("redirect")
	state := strconv.FormatInt(h.now().UnixMilli(), 10)
	callback := h.callbackURL(c.Request, name, redirect)

	c.JSON(http.StatusOK, gin.H{
		"url": a.OAuth.AuthCodeURL(state, callback),
	})
}

// redirectAuth is the OAuth callback: it resolves the code to a local
// user, starts a session and sends the browser to the redirect target.
func (h *Handler) redirectAuth(c *gin.Context) {
	name := c.Query("authenticator")
	label, outcome := metrics.UnknownAuthenticator, metrics.OutcomeSuccess
	defer func() { metrics.ObserveSignin(label, outcome) }()

	a, err := h.authenticator(name, config.AuthenticatorTypeDingTalk)
	if err != nil {
		outcome = fail(c, err)
		return
	}
	label = a.Name

	code := c.Query("code")
	if code == "" {
		outcome = metrics.OutcomeInvalidRequest
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "authorization code is missing")
		return
	}

	ctx := c.Request.Context()
	user, err := a.Resolver.Resolve(ctx, code)
	if err != nil {
		logger.Warn("dingtalk sign-in failed",
			zap.String("authenticator", name),
			zap.Error(err),
		)
		outcome = fail(c, err)
		return
	}
	if user == nil {
		outcome = metrics.OutcomeAccountNotFound
		writeError(c, http.StatusUnauthorized, "ACCOUNT_NOT_FOUND", "no matching account, signup disabled")
		return
	}

	token, err := h.sessions.Start(ctx, user.ID, name)
	if err != nil {
		outcome = fail(c, err)
		return
	}

	logger.Info("dingtalk sign-in",
		zap.String("authenticator", name),
		zap.String("user_id", user.ID),
		zap.String("ip", c.ClientIP()),
	)

	c.Redirect(http.StatusFound, h.signedInURL(c.Query("redirect"), name, token))
}
