package auth

import (
	"fmt"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const RoleAdmin = "admin"

// Claims matches the JWT structure
type Claims struct {
	TeamCode string `json:"team_code"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Team() challenge.TeamCode {
	return challenge.TeamCode(c.TeamCode)
}

func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

func GetClaims(ctx echo.Context) (*Claims, error) {
	token, ok := ctx.Get("user").(*jwt.Token)
	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	return claims, nil
}
