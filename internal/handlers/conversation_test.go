package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"discourse/internal/llm"
	"discourse/internal/models"
	"discourse/internal/prompts"
	"discourse/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	metricsOnce sync.Once
	metrics     *services.Metrics
)

func testMetrics() *services.Metrics {
	metricsOnce.Do(func() {
		metrics = services.InitMetrics()
	})
	return metrics
}

// mockAuth stands in for the JWT middleware in handler tests.
func mockAuth(userID, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_role", role)
		return c.Next()
	}
}

// emptyStore has no conversations at all.
type emptyStore struct{}

func (emptyStore) GetByID(context.Context, primitive.ObjectID) (*models.Conversation, error) {
	return nil, services.ErrNotFound
}

func (emptyStore) AppendTurn(context.Context, primitive.ObjectID, int,
	models.ConversationMessage, models.ConversationMessage,
	[]bool, models.ConversationWarning) (*models.Conversation, error) {
	return nil, services.ErrNotFound
}

// failingCaller fails every model call; reaching it at all is a test
// failure for the validation paths.
type failingCaller struct{}

func (failingCaller) Complete(context.Context, llm.Request, any) error {
	return &llm.Error{Kind: llm.KindNetwork, Err: fmt.Errorf("should not be called")}
}

func newChatTestApp(t *testing.T) *fiber.App {
	t.Helper()

	registry, err := prompts.NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	language := services.NewLanguageService(failingCaller{}, registry)
	turnService := services.NewTurnService(emptyStore{}, failingCaller{}, registry, language, testMetrics(), 0.7, 1.0)
	handler := NewConversationHandler(nil, turnService)

	app := fiber.New()
	app.Use(mockAuth("student-1", models.RoleStudent))
	app.Post("/api/conversations/:id/chat", handler.Chat)
	return app
}

func TestChatRejectsOverlongMessage(t *testing.T) {
	app := newChatTestApp(t)

	body, _ := json.Marshal(models.ChatRequest{
		Message: strings.Repeat("啊", models.MaxChatMessageLength+1),
	})
	req := httptest.NewRequest("POST", "/api/conversations/"+primitive.NewObjectID().Hex()+"/chat", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatRejectsInvalidBody(t *testing.T) {
	app := newChatTestApp(t)

	req := httptest.NewRequest("POST", "/api/conversations/"+primitive.NewObjectID().Hex()+"/chat", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatUnknownConversation(t *testing.T) {
	app := newChatTestApp(t)

	body, _ := json.Marshal(models.ChatRequest{Message: "哈囉"})
	req := httptest.NewRequest("POST", "/api/conversations/"+primitive.NewObjectID().Hex()+"/chat", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatMalformedConversationID(t *testing.T) {
	app := newChatTestApp(t)

	body, _ := json.Marshal(models.ChatRequest{Message: "哈囉"})
	req := httptest.NewRequest("POST", "/api/conversations/not-an-oid/chat", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
