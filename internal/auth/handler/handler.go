package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
	"github.com/ruanjf/nocobase-plugins/internal/auth/provider"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
	"github.com/ruanjf/nocobase-plugins/internal/metrics"
)

// Sessions starts and ends sign-in sessions.
type Sessions interface {
	Start(ctx context.Context, userID, authenticator string) (string, error)
	End(ctx context.Context, sessionID string) error
}

// Credentials is the password authenticator.
type Credentials interface {
	Register(ctx context.Context, email, password string) (string, error)
	Authenticate(ctx context.Context, account, password string) (string, error)
}

// Users loads local accounts by id.
type Users interface {
	FindUserByID(ctx context.Context, userID string) (*auth.User, error)
}

// Options configures the HTTP boundary.
type Options struct {
	// PublicURL is the externally visible base URL. When empty the base
	// is derived from the request and PublicPath.
	PublicURL       string
	PublicPath      string
	DefaultRedirect string
}

type Handler struct {
	authenticators *provider.Registry
	sessions       Sessions
	credentials    Credentials
	users          Users
	opts           Options
	now            func() time.Time
}

func NewHandler(
	registry *provider.Registry,
	sessions Sessions,
	credentials Credentials,
	users Users,
	opts Options,
) *Handler {
	if opts.DefaultRedirect == "" {
		opts.DefaultRedirect = "/"
	}
	return &Handler{
		authenticators: registry,
		sessions:       sessions,
		credentials:    credentials,
		users:          users,
		opts:           opts,
		now:            time.Now,
	}
}

// RegisterRoutes mounts the sign-in endpoints. requireAuth guards the
// endpoints that act on the current session.
func (h *Handler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	dingtalk := r.Group("/api/dingtalk")
	dingtalk.GET("/auth-url", h.authURL)
	dingtalk.GET("/redirect-auth", h.redirectAuth)

	api := r.Group("/api/auth")
	api.POST("/signup", h.signUp)
	api.POST("/signin", h.signIn)
	api.POST("/signout", requireAuth, h.signOut)
	api.GET("/check", requireAuth, h.check)
}

// authenticator returns the named authenticator when it has the wanted type.
func (h *Handler) authenticator(name, typ string) (*provider.Authenticator, error) {
	if name == "" {
		return nil, auth.InvalidRequest("authenticator is required")
	}
	a, err := h.authenticators.Get(name)
	if err != nil {
		return nil, auth.InvalidRequest("unknown authenticator " + name)
	}
	if a.Type != typ {
		return nil, auth.InvalidRequest("authenticator " + name + " is not of type " + typ)
	}
	return a, nil
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":  code,
		"error": message,
	})
}

// fail answers with the classified error and returns the metrics outcome.
func fail(c *gin.Context, err error) string {
	if e, ok := auth.As(err); ok {
		writeError(c, e.HTTPStatus(), e.Code, e.Message)
		switch e.Kind {
		case auth.KindValidation:
			return metrics.OutcomeValidation
		case auth.KindUpstream:
			return metrics.OutcomeUpstream
		default:
			return metrics.OutcomeInvalidRequest
		}
	}

	logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	return metrics.OutcomeError
}
