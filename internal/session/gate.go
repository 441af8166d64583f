// Package session resolves caller identity from a signed session cookie and
// gates every non-public route on it.
package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"persona-chat/internal/logger"
)

const (
	minSecretLen = 32
	loginPath    = "/login"
)

var publicPaths = map[string]struct{}{
	"/login":         {},
	"/auth/callback": {},
	"/auth/logout":   {},
	"/healthz":       {},
}

type Config struct {
	Secret       []byte
	CookieName   string
	TTL          time.Duration
	SecureCookie bool
	GuestEnabled bool
}

type Manager struct {
	cfg Config
	log *logger.Logger
	now func() time.Time
}

func NewManager(cfg Config, log *logger.Logger) (*Manager, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, errors.New("session: secret must be at least 32 bytes")
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		return nil, errors.New("session: cookie name must not be empty")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{cfg: cfg, log: log.With("component", "session"), now: time.Now}, nil
}

// GuestEnabled reports whether anonymous callers receive guest sessions.
func (m *Manager) GuestEnabled() bool {
	return m.cfg.GuestEnabled
}

// Gate resolves the caller for every non-public path. Valid sessions close to
// expiry get a fresh cookie. Without a valid session the caller either gets a
// guest identity or is rejected: 401 JSON under /api/, 302 to /login elsewhere.
func (m *Manager) Gate() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := publicPaths[path]; ok {
			c.Next()
			return
		}

		id, exp, err := m.Resolve(c.Request)
		switch {
		case err == nil:
			if m.needsRefresh(exp) {
				if err := m.SetSession(c.Writer, id); err != nil {
					m.log.Warn("session refresh failed", "error", err)
				}
			}
		case m.cfg.GuestEnabled:
			id = Identity{UserID: uuid.NewString(), Guest: true}
			if err := m.SetSession(c.Writer, id); err != nil {
				m.log.Error("guest session issue failed", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "INTERNAL_ERROR"})
				return
			}
			m.log.Info("guest session issued", "user_id", id.UserID, "path", path)
		default:
			m.log.Warn("request without valid session", "reason", rejectReason(err), "path", path)
			if strings.HasPrefix(path, "/api/") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "UNAUTHENTICATED"})
				return
			}
			c.Redirect(http.StatusFound, loginPath)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// Resolve reads the session token from the cookie, then from a Bearer
// Authorization header, and verifies it.
func (m *Manager) Resolve(r *http.Request) (Identity, time.Time, error) {
	return m.Verify(m.tokenFrom(r))
}

// Verify checks a raw session token signed with the shared secret.
func (m *Manager) Verify(raw string) (Identity, time.Time, error) {
	return verify(m.cfg.Secret, raw, m.now)
}

// SetSession signs a new token for id and sets it as the session cookie.
func (m *Manager) SetSession(w http.ResponseWriter, id Identity) error {
	token, exp, err := issue(m.cfg.Secret, id, m.now(), m.cfg.TTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(m.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) tokenFrom(r *http.Request) string {
	if ck, err := r.Cookie(m.cfg.CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// needsRefresh reports whether exp falls inside the last quarter of the TTL.
func (m *Manager) needsRefresh(exp time.Time) bool {
	return exp.Sub(m.now()) < m.cfg.TTL/4
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	default:
		return "invalid"
	}
}
