package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newTestRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", a.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c)+"|"+UserIDFromContext(c.Request.Context()))
	})
	return r
}

func TestRequireAuthWithBearerToken(t *testing.T) {
	r := newTestRouter(NewAuthenticator("secret", ""))
	token := signToken(t, "secret", jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-42|user-42", w.Body.String())
}

func TestRequireAuthWithQueryToken(t *testing.T) {
	r := newTestRouter(NewAuthenticator("secret", ""))
	token := signToken(t, "secret", jwt.RegisteredClaims{Subject: "user-7"}, jwt.SigningMethodHS256)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-7|user-7", w.Body.String())
}

func TestRequireAuthRejects(t *testing.T) {
	r := newTestRouter(NewAuthenticator("secret", "supabase"))

	cases := map[string]string{
		"missing":      "",
		"wrong secret": signToken(t, "other", jwt.RegisteredClaims{Subject: "u", Issuer: "supabase"}, jwt.SigningMethodHS256),
		"expired": signToken(t, "secret", jwt.RegisteredClaims{
			Subject:   "u",
			Issuer:    "supabase",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}, jwt.SigningMethodHS256),
		"wrong issuer": signToken(t, "secret", jwt.RegisteredClaims{Subject: "u", Issuer: "other"}, jwt.SigningMethodHS256),
		"no subject":   signToken(t, "secret", jwt.RegisteredClaims{Issuer: "supabase"}, jwt.SigningMethodHS256),
		"wrong alg":    signToken(t, "secret", jwt.RegisteredClaims{Subject: "u", Issuer: "supabase"}, jwt.SigningMethodHS512),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireAuthDevMode(t *testing.T) {
	r := newTestRouter(NewAuthenticator("", ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, "anonymous|anonymous", w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(DevUserHeader, "alice")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "alice|alice", w.Body.String())
}
