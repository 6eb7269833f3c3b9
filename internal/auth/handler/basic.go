package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/auth/credentials"
	"github.com/ruanjf/nocobase-plugins/internal/config"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
	"github.com/ruanjf/nocobase-plugins/internal/metrics"
)

type signUpRequest struct {
	Authenticator string `json:"authenticator" binding:"required"`
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
}

type signInRequest struct {
	Authenticator string `json:"authenticator" binding:"required"`
	Account       string `json:"account" binding:"required"`
	Password      string `json:"password" binding:"required"`
}

func (h *Handler) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request")
		return
	}
	if _, err := h.authenticator(req.Authenticator, config.AuthenticatorTypeBasic); err != nil {
		fail(c, err)
		return
	}

	ctx := c.Request.Context()
	userID, err := h.credentials.Register(ctx, req.Email, req.Password)
	switch {
	case errors.Is(err, credentials.ErrAlreadyRegistered):
		writeError(c, http.StatusConflict, "ALREADY_REGISTERED", "account already exists")
		return
	case errors.Is(err, credentials.ErrUsernameTaken):
		writeError(c, http.StatusConflict, "USERNAME_TAKEN", "username already taken")
		return
	case errors.Is(err, credentials.ErrInvalidEmail), errors.Is(err, credentials.ErrPasswordTooShort):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	case err != nil:
		fail(c, err)
		return
	}

	token, err := h.sessions.Start(ctx, userID, req.Authenticator)
	if err != nil {
		fail(c, err)
		return
	}

	logger.Info("user registered", zap.String("user_id", userID))
	c.JSON(http.StatusCreated, gin.H{"user_id": userID, "token": token})
}

func (h *Handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request")
		return
	}

	label, outcome := metrics.UnknownAuthenticator, metrics.OutcomeSuccess
	defer func() { metrics.ObserveSignin(label, outcome) }()

	a, err := h.authenticator(req.Authenticator, config.AuthenticatorTypeBasic)
	if err != nil {
		outcome = fail(c, err)
		return
	}
	label = a.Name

	ctx := c.Request.Context()
	userID, err := h.credentials.Authenticate(ctx, req.Account, req.Password)
	if errors.Is(err, credentials.ErrInvalidCredentials) {
		outcome = metrics.OutcomeInvalidCredentials
		writeError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}
	if err != nil {
		outcome = fail(c, err)
		return
	}

	token, err := h.sessions.Start(ctx, userID, req.Authenticator)
	if err != nil {
		outcome = fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "token": token})
}
