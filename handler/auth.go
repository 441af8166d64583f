package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/session"
	"persona-chat/internal/usecase"
)

func (h *Handler) Login(c *gin.Context) {
	if _, _, err := h.sessions.Resolve(c.Request); err == nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	modes := []string{"token"}
	if h.sessions.GuestEnabled() {
		modes = append(modes, "guest")
	}
	c.JSON(http.StatusOK, gin.H{
		"modes":    modes,
		"callback": "/auth/callback",
	})
}

// AuthCallback exchanges a token minted by the identity provider for a
// session cookie and redirects to a local path.
func (h *Handler) AuthCallback(c *gin.Context) {
	id, _, err := h.sessions.Verify(strings.TrimSpace(c.Query("token")))
	if err != nil {
		h.respondError(c, &usecase.Error{Code: usecase.ErrorUnauthenticated, Reason: "callback_token_rejected", Err: err, Message: "invalid sign-in token"})
		return
	}
	if err := h.sessions.SetSession(c.Writer, id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, safeNext(c.Query("next")))
}

func (h *Handler) Logout(c *gin.Context) {
	h.sessions.ClearSession(c.Writer)
	c.Status(http.StatusNoContent)
}

func (h *Handler) Session(c *gin.Context) {
	id, ok := session.FromContext(c.Request.Context())
	if !ok {
		h.respondError(c, &usecase.Error{Code: usecase.ErrorUnauthenticated, Reason: "missing_identity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": id.UserID, "guest": id.Guest})
}

// safeNext only allows same-origin absolute paths.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
