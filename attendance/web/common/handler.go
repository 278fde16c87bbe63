package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/security"
	web "punchcard.com/punchcard/web/common"
	"punchcard.com/punchcard/web/middlewares"
)

// Notifier raises an alert for failures nobody will otherwise see.
type Notifier interface {
	Notify(ctx context.Context, title, detail string) error
}

// Archiver keeps a copy of an accepted payload under key.
type Archiver interface {
	Archive(ctx context.Context, key string, payload any) error
}

// Handler holds what every attendance endpoint needs.
type Handler struct {
	Service  *core.Service
	Issuer   *security.ScanTokenIssuer
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Notifier Notifier
	Archiver Archiver
}

// Log never returns nil.
func (h *Handler) Log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Identity returns the authenticated caller or aborts with 401.
func (h *Handler) Identity(c *gin.Context) (security.Identity, bool) {
	identity, ok := middlewares.CurrentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, web.NewErrorResponse("not authenticated"))
		return security.Identity{}, false
	}
	return identity, true
}

func (h *Handler) BindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, web.NewErrorResponse(web.FormatBindingError(err)))
}

// Error maps a service error to its response. Anything outside the known
// taxonomy is logged, alerted and answered with a generic message.
func (h *Handler) Error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		c.JSON(http.StatusBadRequest, web.NewErrorResponse(err.Error()))
	case errors.Is(err, core.ErrForbidden):
		c.JSON(http.StatusForbidden, web.NewErrorResponse(err.Error()))
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, web.NewErrorResponse(err.Error()))
	case errors.Is(err, core.ErrConflict):
		c.JSON(http.StatusConflict, web.NewErrorResponseWithData(err.Error(), core.ConflictRecord(err)))
	case errors.Is(err, security.ErrTokenRejected):
		c.JSON(http.StatusUnprocessableEntity, web.NewErrorResponse(security.ErrTokenRejected.Error()))
	default:
		h.Log().Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		if h.Notifier != nil {
			title := fmt.Sprintf("%s %s failed", c.Request.Method, c.FullPath())
			if nerr := h.Notifier.Notify(c.Request.Context(), title, err.Error()); nerr != nil {
				h.Log().Warn("failed to send alert", "error", nerr)
			}
		}
		c.JSON(http.StatusInternalServerError, web.NewErrorResponse("internal server error"))
	}
}
