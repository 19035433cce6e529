package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	requestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discourse_llm_requests_total",
		Help: "Total number of LLM gateway requests",
	})
	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discourse_llm_request_duration_seconds",
		Help:    "LLM request latency in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discourse_llm_errors_total",
		Help: "Total number of LLM gateway errors by kind",
	}, []string{"kind"})
)

// Message is one conversation entry sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single structured-output generation request.
type Request struct {
	System      string
	History     []Message
	Schema      Schema
	Temperature float64
	TopP        float64
}

// Caller is the gateway interface consumed by services. The concrete
// Client talks to a hosted OpenAI-compatible endpoint; tests substitute
// a fake.
type Caller interface {
	// Complete sends the request and decodes the structured response
	// into out (a struct pointer). A returned error is always *Error.
	Complete(ctx context.Context, req Request, out any) error
}

// Client is the hosted-model gateway. Construct once per process and
// inject; it carries the HTTP client, the outbound rate limiter and the
// provider credentials. Every call is metered upstream, so callers must
// not call more often than needed.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logrus.Entry
}

// Options configure a Client.
type Options struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
}

// NewClient creates the gateway client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm/6+1),
		log:     logrus.WithField("component", "llm"),
	}
}

// chatResponse is the OpenAI-style completion envelope.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements Caller. Single attempt, no retries; the full
// failure cause is logged here and never surfaced past the typed error.
func (c *Client) Complete(ctx context.Context, req Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(KindNetwork, 0, fmt.Errorf("rate limiter: %w", err))
	}

	messages := make([]Message, 0, len(req.History)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.History...)

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": req.Temperature,
		"top_p":       req.TopP,
		"stream":      false,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.Schema.Name,
				"strict": true,
				"schema": req.Schema.jsonSchema(),
			},
		},
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return c.fail(KindNetwork, 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return c.fail(KindNetwork, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	requestsTotal.Inc()
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.fail(KindNetwork, 0, err)
	}
	defer resp.Body.Close()

	requestDuration.Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return c.fail(KindStatus, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 500)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return c.fail(KindSchema, 0, fmt.Errorf("decode envelope: %w", err))
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return c.fail(KindEmpty, 0, fmt.Errorf("no content in response"))
	}
	content := parsed.Choices[0].Message.Content

	// Check required fields before handing anything to the caller: the
	// decode/validate boundary is exactly here, never deeper.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return c.fail(KindSchema, 0, fmt.Errorf("content is not a JSON object: %w", err))
	}
	for _, name := range req.Schema.Required {
		if _, ok := fields[name]; !ok {
			return c.fail(KindSchema, 0, fmt.Errorf("missing required field %q", name))
		}
	}

	if err := json.Unmarshal([]byte(content), out); err != nil {
		return c.fail(KindSchema, 0, fmt.Errorf("content does not match %s: %w", req.Schema.Name, err))
	}

	c.log.WithFields(logrus.Fields{
		"schema":            req.Schema.Name,
		"duration_ms":       time.Since(start).Milliseconds(),
		"prompt_tokens":     parsed.Usage.PromptTokens,
		"completion_tokens": parsed.Usage.CompletionTokens,
	}).Debug("llm request completed")

	return nil
}

func (c *Client) fail(kind ErrorKind, status int, err error) error {
	errorsTotal.WithLabelValues(string(kind)).Inc()
	c.log.WithFields(logrus.Fields{
		"kind":   string(kind),
		"status": status,
	}).WithError(err).Warn("llm request failed")
	return &Error{Kind: kind, Status: status, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
