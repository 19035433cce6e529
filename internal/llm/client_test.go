package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type verdictOutput struct {
	Verdict bool `json:"verdict"`
}

var verdictSchema = Schema{
	Name: "verdict",
	Properties: map[string]Property{
		"verdict": {Type: "boolean"},
	},
	Required: []string{"verdict"},
}

func newTestClient(url string) *Client {
	return NewClient(Options{
		BaseURL:           url,
		APIKey:            "test-key",
		Model:             "test-model",
		Timeout:           5 * time.Second,
		RequestsPerMinute: 6000,
	})
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func TestCompleteDecodesStructuredContent(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		fmt.Fprint(w, completionBody(`{"verdict": true}`))
	}))
	defer server.Close()

	var out verdictOutput
	err := newTestClient(server.URL).Complete(context.Background(), Request{
		System:      "decide",
		History:     []Message{{Role: "user", Content: "hello"}},
		Schema:      verdictSchema,
		Temperature: 0.0,
		TopP:        1.0,
	}, &out)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !out.Verdict {
		t.Error("verdict not decoded")
	}

	rf, ok := captured["response_format"].(map[string]any)
	if !ok {
		t.Fatal("request missing response_format")
	}
	if rf["type"] != "json_schema" {
		t.Errorf("response_format type = %v", rf["type"])
	}
}

func TestCompleteErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    ErrorKind
	}{
		{
			"provider error status",
			func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusTooManyRequests)
			},
			KindStatus,
		},
		{
			"empty content",
			func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, completionBody(""))
			},
			KindEmpty,
		},
		{
			"no choices",
			func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"choices": []}`)
			},
			KindEmpty,
		},
		{
			"content not json",
			func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, completionBody("plain text, not an object"))
			},
			KindSchema,
		},
		{
			"missing required field",
			func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, completionBody(`{"something_else": 1}`))
			},
			KindSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			var out verdictOutput
			err := newTestClient(server.URL).Complete(context.Background(), Request{
				Schema: verdictSchema,
			}, &out)
			if err == nil {
				t.Fatal("expected an error")
			}

			var llmErr *Error
			if !errors.As(err, &llmErr) {
				t.Fatalf("error is %T, want *Error", err)
			}
			if llmErr.Kind != tt.want {
				t.Errorf("kind = %s, want %s", llmErr.Kind, tt.want)
			}
		})
	}
}

func TestCompleteNetworkError(t *testing.T) {
	// Point at a closed server.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	var out verdictOutput
	err := newTestClient(server.URL).Complete(context.Background(), Request{Schema: verdictSchema}, &out)

	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("error is %T, want *Error", err)
	}
	if llmErr.Kind != KindNetwork {
		t.Errorf("kind = %s, want %s", llmErr.Kind, KindNetwork)
	}
}

func TestSchemaRendering(t *testing.T) {
	s := Schema{
		Name: "demo",
		Properties: map[string]Property{
			"items": {Type: "array", Items: &Property{Type: "string"}},
			"count": {Type: "integer", Description: "how many"},
		},
		Required: []string{"items", "count"},
	}

	rendered := s.jsonSchema()
	if rendered["type"] != "object" {
		t.Errorf("type = %v", rendered["type"])
	}
	if rendered["additionalProperties"] != false {
		t.Error("additionalProperties must be false for strict mode")
	}
	props := rendered["properties"].(map[string]any)
	items := props["items"].(map[string]any)
	if items["items"].(map[string]any)["type"] != "string" {
		t.Error("array item type lost")
	}
}
