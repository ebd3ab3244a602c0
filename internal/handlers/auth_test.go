package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newProfileApp wires the profile routes without a database; the covered
// paths reject the request before any query runs.
func newProfileApp(authenticated bool) *fiber.App {
	app := fiber.New()
	if authenticated {
		app.Use(func(c *fiber.Ctx) error {
			c.Locals("currentUserID", uuid.New())
			return c.Next()
		})
	}

	handler := NewAuthHandler(nil, nil)
	app.Get("/auth/profile", handler.Profile)
	app.Put("/auth/profile", handler.UpdateProfile)
	return app
}

func TestProfileRequiresAuth(t *testing.T) {
	app := newProfileApp(false)

	req := httptest.NewRequest(fiber.MethodGet, "/auth/profile", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestUpdateProfileRequiresAuth(t *testing.T) {
	app := newProfileApp(false)

	body, err := json.Marshal(map[string]any{"name": "Asha", "phone": "9999999999"})
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodPut, "/auth/profile", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestUpdateProfileRejectsEmptyName(t *testing.T) {
	app := newProfileApp(true)

	body, err := json.Marshal(map[string]any{"name": "   ", "phone": "9999999999"})
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodPut, "/auth/profile", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
