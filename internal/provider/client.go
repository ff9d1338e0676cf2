// Package provider talks to the generative answer provider (a Responses-style
// HTTP API) and reduces its loosely typed replies to domain values.
//
// Responses are decoded into an untyped tree. Normalize walks that tree
// field by field, skipping anything it does not recognise.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-ask-gateway/internal/config"
	"github.com/tbourn/go-ask-gateway/internal/domain"
)

// Request is one answer request: the system turn, history, and the query.
type Request struct {
	Turns []domain.Turn
}

// Client is a minimal Responses API client.
type Client struct {
	BaseURL         string
	APIKey          string
	Model           string
	ImageModel      string
	MaxOutputTokens int
	HTTP            *http.Client
}

// New builds a client from configuration. A zero timeout leaves requests
// unbounded; callers cancel through the context instead.
func New(cfg config.ProviderConfig) *Client {
	return &Client{
		BaseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:          cfg.APIKey,
		Model:           cfg.Model,
		ImageModel:      cfg.ImageModel,
		MaxOutputTokens: cfg.MaxOutputTokens,
		HTTP:            &http.Client{Timeout: cfg.Timeout},
	}
}

// Create sends the conversation and returns the decoded response tree.
// Non-2xx replies are returned as *APIError.
func (c *Client) Create(ctx context.Context, req Request) (map[string]any, error) {
	tr := otel.Tracer("provider/Client")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.model", c.Model),
			attribute.Int("provider.turns", len(req.Turns)),
		),
	)
	defer span.End()

	body, err := json.Marshal(c.payload(req))
	if err != nil {
		return nil, fmt.Errorf("encode provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseAPIError(resp.StatusCode, raw)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Type)
		return nil, apiErr
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return out, nil
}

// payload renders the Responses API body: text output, web search and image
// generation tools, bounded output, and no server-side storage.
func (c *Client) payload(req Request) map[string]any {
	input := make([]map[string]any, 0, len(req.Turns))
	for _, t := range req.Turns {
		kind := "input_text"
		if t.Role == domain.RoleAssistant {
			kind = "output_text"
		}
		input = append(input, map[string]any{
			"role":    t.Role,
			"content": []map[string]any{{"type": kind, "text": t.Text}},
		})
	}

	return map[string]any{
		"model":     c.Model,
		"input":     input,
		"text":      map[string]any{"format": map[string]any{"type": "text"}},
		"reasoning": map[string]any{},
		"tools": []map[string]any{
			{
				"type":                "web_search",
				"user_location":       map[string]any{"type": "approximate"},
				"search_context_size": "low",
			},
			{
				"type":           "image_generation",
				"model":          c.ImageModel,
				"size":           "auto",
				"quality":        "auto",
				"output_format":  "png",
				"background":     "auto",
				"moderation":     "low",
				"partial_images": 0,
			},
		},
		"temperature":       1,
		"max_output_tokens": c.MaxOutputTokens,
		"top_p":             1,
		"store":             false,
		"include":           []string{"web_search_call.action.sources"},
	}
}

// APIError is a non-2xx provider reply.
type APIError struct {
	Status           int
	Type             string
	Code             string
	Param            string
	Message          string
	SafetyViolations []string
	Body             map[string]any
}

// Error renders the status and message; known safety categories are appended
// as safety_violations=[a, b] so text-only consumers can still read them.
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider error %d", e.Status)
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.SafetyViolations) > 0 && !strings.Contains(e.Message, "safety_violations=") {
		fmt.Fprintf(&b, " safety_violations=[%s]", strings.Join(e.SafetyViolations, ", "))
	}
	return b.String()
}

// Snapshot is the loggable form of the error.
func (e *APIError) Snapshot() any {
	return map[string]any{
		"status":            e.Status,
		"type":              e.Type,
		"code":              e.Code,
		"param":             e.Param,
		"message":           e.Message,
		"safety_violations": e.SafetyViolations,
		"body":              e.Body,
	}
}

func parseAPIError(status int, raw []byte) *APIError {
	e := &APIError{Status: status}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		e.Message = strings.TrimSpace(string(raw))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}
	e.Body = body

	detail := obj(body, "error")
	if detail == nil {
		detail = body
	}
	e.Type = str(detail, "type")
	e.Code = scalarString(detail["code"])
	e.Param = str(detail, "param")
	e.Message = str(detail, "message")
	e.SafetyViolations = stringList(detail["safety_violations"])
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
