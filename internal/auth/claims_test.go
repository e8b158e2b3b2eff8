package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext() echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/challenges", nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestGetClaims(t *testing.T) {
	c := newContext()
	c.Set("user", jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{TeamCode: "alpha01", Role: RoleAdmin}))

	claims, err := GetClaims(c)
	require.NoError(t, err)
	assert.Equal(t, "alpha01", string(claims.Team()))
	assert.True(t, claims.IsAdmin())
}

func TestGetClaims_Missing(t *testing.T) {
	_, err := GetClaims(newContext())
	assert.Error(t, err)
}

func TestGetClaims_WrongClaimsType(t *testing.T) {
	c := newContext()
	c.Set("user", jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"team_code": "alpha01"}))
	_, err := GetClaims(c)
	assert.Error(t, err)
}
