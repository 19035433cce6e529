package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"discourse/internal/models"
	"discourse/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

const cookieName = "discourse_token"

func newTestApp(t *testing.T) (*fiber.App, *auth.LocalJWTAuth) {
	t.Helper()

	jwtAuth, err := auth.NewLocalJWTAuth("test-secret", 15*time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	app := fiber.New()
	app.Get("/me", AuthRequired(jwtAuth, cookieName), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id": c.Locals("user_id"),
			"role":    c.Locals("user_role"),
		})
	})
	app.Get("/teacher", AuthRequired(jwtAuth, cookieName), RequireTeacher(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app, jwtAuth
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthRequiredAcceptsCookie(t *testing.T) {
	app, jwtAuth := newTestApp(t)

	token, _, err := jwtAuth.GenerateTokens("user-1", "s@example.com", models.RoleStudent)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: token})

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequiredAcceptsBearerHeader(t *testing.T) {
	app, jwtAuth := newTestApp(t)

	token, _, err := jwtAuth.GenerateTokens("user-1", "s@example.com", models.RoleStudent)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequiredRejectsGarbageToken(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRequireTeacher(t *testing.T) {
	app, jwtAuth := newTestApp(t)

	tests := []struct {
		role string
		want int
	}{
		{models.RoleTeacher, fiber.StatusOK},
		{models.RoleStudent, fiber.StatusForbidden},
	}

	for _, tt := range tests {
		token, _, err := jwtAuth.GenerateTokens("user-1", "u@example.com", tt.role)
		if err != nil {
			t.Fatal(err)
		}

		req := httptest.NewRequest("GET", "/teacher", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != tt.want {
			t.Errorf("role %s: status = %d, want %d", tt.role, resp.StatusCode, tt.want)
		}
	}
}
