package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cashplace/escrow/pkg/util/errorutil"
)

func TestGenerateAndParseToken(t *testing.T) {
	tm := NewTokenManager("secret", 10)

	token, expires, err := tm.GenerateToken("alice", ScopeAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), expires, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.Equal(t, ScopeAdmin, claims.Scope)

	_, err = NewTokenManager("other", 10).ParseToken(token)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpiredAndForeignAlgorithms(t *testing.T) {
	tm := NewTokenManager("secret", 10)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Operator: "bob",
		Scope:    ScopeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(signed)
	assert.Error(t, err)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{Operator: "bob", Scope: ScopeAdmin})
	signed, err = hs512.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(signed)
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 10)
	mw := NewAuthMiddleware(tm)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
		},
	})
	app.Get("/admin", mw.Handle, RequireScope(ScopeAdmin), func(c *fiber.Ctx) error {
		p, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.ErrInternalServerError
		}
		return c.SendString(p.Operator)
	})

	call := func(header string) int {
		req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	good, _, err := tm.GenerateToken("ops", ScopeAdmin)
	require.NoError(t, err)
	other, _, err := tm.GenerateToken("ops", "escrow:read")
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, call("Bearer "+good))
	assert.Equal(t, fiber.StatusUnauthorized, call(""))
	assert.Equal(t, fiber.StatusUnauthorized, call("Basic abc"))
	assert.Equal(t, fiber.StatusUnauthorized, call("Bearer garbage"))
	assert.Equal(t, fiber.StatusForbidden, call("Bearer "+other))
}
