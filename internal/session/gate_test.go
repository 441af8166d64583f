package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestManager(t *testing.T, guest bool) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Secret:       testSecret,
		CookieName:   "sess",
		TTL:          4 * time.Hour,
		GuestEnabled: guest,
	}, nil)
	require.NoError(t, err)
	return m
}

func newGatedRouter(m *Manager) *gin.Engine {
	r := gin.New()
	r.Use(m.Gate())
	whoami := func(c *gin.Context) {
		id, ok := FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"ok": ok, "user": id.UserID, "guest": id.Guest})
	}
	r.GET("/api/whoami", whoami)
	r.GET("/chat", whoami)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/login", func(c *gin.Context) { c.String(http.StatusOK, "login") })
	return r
}

func tokenFor(t *testing.T, m *Manager, id Identity, issuedAt time.Time) string {
	t.Helper()
	tok, _, err := issue(m.cfg.Secret, id, issuedAt, m.cfg.TTL)
	require.NoError(t, err)
	return tok
}

func sessionCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func TestNewManager_Validates(t *testing.T) {
	_, err := NewManager(Config{Secret: []byte("short"), CookieName: "s", TTL: time.Hour}, nil)
	require.Error(t, err)
	_, err = NewManager(Config{Secret: testSecret, CookieName: " ", TTL: time.Hour}, nil)
	require.Error(t, err)
	_, err = NewManager(Config{Secret: testSecret, CookieName: "s"}, nil)
	require.Error(t, err)
}

func TestGate_PublicPathsPassWithoutSession(t *testing.T) {
	r := newGatedRouter(newTestManager(t, false))
	for _, path := range []string{"/healthz", "/login"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestGate_RejectsWithoutSession(t *testing.T) {
	r := newGatedRouter(newTestManager(t, false))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/whoami", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"authentication required","code":"UNAUTHENTICATED"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestGate_AcceptsCookieAndBearer(t *testing.T) {
	m := newTestManager(t, false)
	r := newGatedRouter(m)
	tok := tokenFor(t, m, Identity{UserID: "user-1"}, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "sess", Value: tok})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true,"user":"user-1","guest":false}`, rec.Body.String())
	require.Nil(t, sessionCookie(rec, "sess"))

	req = httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_RejectsBadTokens(t *testing.T) {
	m := newTestManager(t, false)
	r := newGatedRouter(m)

	other, err := NewManager(Config{Secret: []byte("ffffffffffffffffffffffffffffffff"), CookieName: "sess", TTL: time.Hour}, nil)
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":      "not-a-jwt",
		"wrong secret": tokenFor(t, other, Identity{UserID: "user-1"}, time.Now()),
		"expired":      tokenFor(t, m, Identity{UserID: "user-1"}, time.Now().Add(-5*time.Hour)),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
			req.AddCookie(&http.Cookie{Name: "sess", Value: tok})
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestGate_RefreshesNearExpiry(t *testing.T) {
	m := newTestManager(t, false)
	r := newGatedRouter(m)
	tok := tokenFor(t, m, Identity{UserID: "user-1"}, time.Now().Add(-3*time.Hour-30*time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "sess", Value: tok})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	ck := sessionCookie(rec, "sess")
	require.NotNil(t, ck)
	require.True(t, ck.HttpOnly)
	id, exp, err := m.Verify(ck.Value)
	require.NoError(t, err)
	require.Equal(t, "user-1", id.UserID)
	require.WithinDuration(t, time.Now().Add(4*time.Hour), exp, time.Minute)
}

func TestGate_IssuesGuestSession(t *testing.T) {
	m := newTestManager(t, true)
	r := newGatedRouter(m)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/whoami", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ck := sessionCookie(rec, "sess")
	require.NotNil(t, ck)
	id, _, err := m.Verify(ck.Value)
	require.NoError(t, err)
	require.True(t, id.Guest)
	require.NotEmpty(t, id.UserID)
	require.Contains(t, rec.Body.String(), id.UserID)
}

func TestVerify_RejectsUnexpectedAlgorithm(t *testing.T) {
	m := newTestManager(t, false)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, _, err = m.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RequiresSubject(t *testing.T) {
	m := newTestManager(t, false)
	tok := tokenFor(t, m, Identity{}, time.Now())
	_, _, err := m.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRejectReason(t *testing.T) {
	require.Equal(t, "missing", rejectReason(ErrMissingToken))
	require.Equal(t, "expired", rejectReason(ErrExpiredToken))
	require.Equal(t, "invalid", rejectReason(ErrInvalidToken))
}

func TestClearSession(t *testing.T) {
	m := newTestManager(t, false)
	rec := httptest.NewRecorder()
	m.ClearSession(rec)
	ck := sessionCookie(rec, "sess")
	require.NotNil(t, ck)
	require.Empty(t, ck.Value)
	require.Equal(t, -1, ck.MaxAge)
}
