package auth

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

func TestSignVerifyRoundTrip(t *testing.T) {
	j := JWT{Secret: []byte("s3cret"), Issuer: "stratflow", TokenTTL: time.Minute}
	claims := Claims{Role: RoleArbiter}
	claims.Subject = "GCREATOR"
	tok, exp, err := j.Sign(claims)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	got, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "GCREATOR", got.Identity())
	assert.Equal(t, RoleArbiter, got.Role)

	_, err = JWT{Secret: []byte("other"), Issuer: "stratflow"}.Verify(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsMissingSubjectAndExpired(t *testing.T) {
	j := JWT{Secret: []byte("s3cret")}
	tok, _, err := j.Sign(Claims{})
	require.NoError(t, err)
	_, err = j.Verify(tok)
	assert.Error(t, err)

	old := Claims{}
	old.Subject = "GTRADER"
	old.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	tok, _, err = j.Sign(old)
	require.NoError(t, err)
	_, err = j.Verify(tok)
	assert.Error(t, err)
}

func newRouter(j JWT, disabled bool, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(j, disabled))
	r.GET("/me", Require(roles...), func(c *gin.Context) {
		c.String(http.StatusOK, IdentityFrom(c))
	})
	return r
}

func TestMiddlewareBearer(t *testing.T) {
	j := JWT{Secret: []byte("s3cret")}
	claims := Claims{}
	claims.Subject = "GTRADER"
	tok, _, _ := j.Sign(claims)
	r := newRouter(j, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GTRADER", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareDevHeaderAndRoles(t *testing.T) {
	r := newRouter(JWT{}, true, RoleArbiter)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(DevIdentityHeader, "GUSER")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(DevIdentityHeader, "GARB")
	req.Header.Set("X-Role", RoleArbiter)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GARB", w.Body.String())
}
