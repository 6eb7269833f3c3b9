package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/logger"
	"github.com/ruanjf/nocobase-plugins/internal/middleware"
)

// signOut ends the current session. Repeating it is harmless.
func (h *Handler) signOut(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c.Request.Context())
	if ok {
		if err := h.sessions.End(c.Request.Context(), sess.SessionID); err != nil {
			logger.Warn("failed to delete session", zap.Error(err))
		}
		logger.Info("signed out",
			zap.String("user_id", sess.UserID),
			zap.String("ip", c.ClientIP()),
		)
	}
	c.Status(http.StatusNoContent)
}

// check returns the user behind the current session.
func (h *Handler) check(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c.Request.Context())
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	user, err := h.users.FindUserByID(c.Request.Context(), sess.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	if user == nil {
		writeError(c, http.StatusUnauthorized, "ACCOUNT_NOT_FOUND", "account no longer exists")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          user,
		"authenticator": sess.Authenticator,
		"expires_at":    sess.ExpiresAt,
	})
}
