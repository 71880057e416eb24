package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go/v3/shared"
)

func TestNormalizeReasoningEffort(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want shared.ReasoningEffort
	}{
		{name: "empty defaults to medium", in: "", want: shared.ReasoningEffortMedium},
		{name: "trim and lower", in: "  HIGH ", want: shared.ReasoningEffortHigh},
		{name: "none maps to minimal", in: "none", want: shared.ReasoningEffortMinimal},
		{name: "unsupported defaults to medium", in: "ultra", want: shared.ReasoningEffortMedium},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeReasoningEffort(tc.in)
			if got != tc.want {
				t.Fatalf("normalizeReasoningEffort(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func sseLines(events ...string) string {
	var b strings.Builder
	for _, ev := range events {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(ev), &head)
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", head.Type, ev)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func streamServer(t *testing.T, body string, seen func(r *http.Request, payload map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if seen != nil {
			seen(r, payload)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestResponses(t *testing.T, baseURL string, cfg ResponsesConfig) *ResponsesCompleter {
	t.Helper()
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL + "/v1"
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	c, err := NewResponses(cfg)
	if err != nil {
		t.Fatalf("NewResponses: %v", err)
	}
	return c
}

func TestResponsesCompleterJoinsDeltas(t *testing.T) {
	body := sseLines(
		`{"type":"response.created","sequence_number":0,"response":{"id":"resp_1","status":"in_progress"}}`,
		`{"type":"response.output_text.delta","sequence_number":1,"delta":"{\"capabilities\":"}`,
		`{"type":"response.output_text.delta","sequence_number":2,"delta":"[\"echo\"]}"}`,
		`{"type":"response.completed","sequence_number":3,"response":{"id":"resp_1","status":"completed"}}`,
	)
	var got map[string]any
	var auth string
	srv := streamServer(t, body, func(r *http.Request, payload map[string]any) {
		got = payload
		auth = r.Header.Get("Authorization")
	})

	c := newTestResponses(t, srv.URL, ResponsesConfig{ReasoningEffort: "low", MaxOutputTokens: 123})
	out, err := c.Complete(context.Background(), "be brief", "list capabilities")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if out != `{"capabilities":["echo"]}` {
		t.Fatalf("Complete returned %q", out)
	}
	if auth != "Bearer test-key" {
		t.Fatalf("Authorization=%q", auth)
	}
	if got["model"] != "test-model" || got["instructions"] != "be brief" || got["input"] != "list capabilities" {
		t.Fatalf("unexpected request payload: %v", got)
	}
	if got["stream"] != true {
		t.Fatalf("request is not streaming: %v", got["stream"])
	}
	if got["max_output_tokens"] != float64(123) {
		t.Fatalf("max_output_tokens=%v", got["max_output_tokens"])
	}
	reasoning, _ := got["reasoning"].(map[string]any)
	if reasoning["effort"] != "low" {
		t.Fatalf("reasoning=%v", got["reasoning"])
	}
}

func TestResponsesCompleterFallsBackToCompletedOutput(t *testing.T) {
	body := sseLines(
		`{"type":"response.completed","sequence_number":1,"response":{"id":"resp_2","status":"completed","output":[{"type":"message","id":"msg_1","role":"assistant","status":"completed","content":[{"type":"output_text","text":"final answer","annotations":[]}]}]}}`,
	)
	srv := streamServer(t, body, nil)

	c := newTestResponses(t, srv.URL, ResponsesConfig{})
	out, err := c.Complete(context.Background(), "", "q")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if out != "final answer" {
		t.Fatalf("Complete returned %q", out)
	}
}

func TestResponsesCompleterReportsFailedResponse(t *testing.T) {
	body := sseLines(
		`{"type":"response.failed","sequence_number":1,"response":{"id":"resp_3","status":"failed","error":{"code":"server_error","message":"model overloaded"}}}`,
	)
	srv := streamServer(t, body, nil)

	c := newTestResponses(t, srv.URL, ResponsesConfig{})
	_, err := c.Complete(context.Background(), "", "q")
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected failed response error, got %v", err)
	}
}

func TestResponsesCompleterEnforcesOutputLimit(t *testing.T) {
	body := sseLines(
		`{"type":"response.output_text.delta","sequence_number":1,"delta":"0123456789"}`,
		`{"type":"response.output_text.delta","sequence_number":2,"delta":"0123456789"}`,
	)
	srv := streamServer(t, body, nil)

	c := newTestResponses(t, srv.URL, ResponsesConfig{MaxOutputBytes: 15})
	_, err := c.Complete(context.Background(), "", "q")
	if !errors.Is(err, ErrOutputTooLarge) {
		t.Fatalf("expected ErrOutputTooLarge, got %v", err)
	}
}

func TestResponsesCompleterRejectsEmptyOutput(t *testing.T) {
	body := sseLines(`{"type":"response.completed","sequence_number":1,"response":{"id":"resp_4","status":"completed"}}`)
	srv := streamServer(t, body, nil)

	c := newTestResponses(t, srv.URL, ResponsesConfig{})
	if _, err := c.Complete(context.Background(), "", "q"); err == nil {
		t.Fatal("expected empty response error")
	}
}

func TestResponsesCompleterRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	body := sseLines(`{"type":"response.output_text.delta","sequence_number":1,"delta":"ok"}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After-Ms", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestResponses(t, srv.URL, ResponsesConfig{MaxRetries: 2})
	out, err := c.Complete(context.Background(), "", "q")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("Complete returned %q", out)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestResponsesCompleterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := newTestResponses(t, srv.URL, ResponsesConfig{MaxRetries: 3})
	_, err := c.Complete(context.Background(), "", "q")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestNewResponsesRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewResponses(ResponsesConfig{Model: "m"}); err == nil {
		t.Fatal("expected missing key error")
	}
}
