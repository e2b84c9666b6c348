package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("gw-token", "/healthz"))
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })

	secured := app.Group("/", UserContextMiddleware())
	secured.Get("/whoami", func(c *fiber.Ctx) error { return c.SendString(UserID(c)) })
	secured.Get("/admin/ping", RequireRole(RoleAdmin), func(c *fiber.Ctx) error { return c.SendString("pong") })
	return app
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := newTestApp()

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
	}{
		{name: "exempt path", path: "/healthz", status: fiber.StatusOK},
		{name: "missing token", path: "/whoami", status: fiber.StatusUnauthorized},
		{name: "wrong token", path: "/whoami", auth: "Bearer nope", status: fiber.StatusUnauthorized},
		{name: "bearer token", path: "/whoami", auth: "Bearer gw-token", status: fiber.StatusOK},
		{name: "raw token", path: "/whoami", auth: "gw-token", status: fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.auth)
			}
			req.Header.Set("X-User-ID", "user-1")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestUserContextMiddleware(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(fiber.MethodGet, "/whoami", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer gw-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodGet, "/whoami", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer gw-token")
	req.Header.Set("X-User-ID", "user-7")
	resp, err = app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "user-7", string(body))
}

func TestRequireRole(t *testing.T) {
	app := newTestApp()

	for roles, status := range map[string]int{
		"":               fiber.StatusForbidden,
		"member":         fiber.StatusForbidden,
		"member, Admin ": fiber.StatusOK,
	} {
		req := httptest.NewRequest(fiber.MethodGet, "/admin/ping", nil)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer gw-token")
		req.Header.Set("X-User-ID", "user-1")
		req.Header.Set("X-User-Roles", roles)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode, "roles %q", roles)
	}
}
