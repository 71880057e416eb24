package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare", in: `{"capabilities":["echo"]}`, want: `{"capabilities":["echo"]}`},
		{name: "fenced with tag", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fenced without tag", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "surrounded by prose", in: "Here you go:\n{\"a\":{\"b\":2}}\nThanks", want: `{"a":{"b":2}}`},
		{name: "no object", in: "I cannot help with that", wantErr: true},
		{name: "broken object", in: "{\"a\":", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNoJSONObject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFuncCompleter(t *testing.T) {
	c := Func(func(_ context.Context, system, user string) (string, error) {
		return system + "|" + user, nil
	})
	got, err := c.Complete(context.Background(), "sys", "usr")
	require.NoError(t, err)
	assert.Equal(t, "sys|usr", got)
}

func TestAnthropicCompleterSendsSystemPrompt(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "hello there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 2}
		}`)
	}))
	defer srv.Close()

	c, err := NewAnthropic(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL, MaxRetries: -1})
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), "you are terse", "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)

	require.NotNil(t, body)
	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	system, ok := body["system"].([]any)
	require.True(t, ok, "system prompt should be sent as text blocks")
	require.Len(t, system, 1)
	assert.Equal(t, "you are terse", system[0].(map[string]any)["text"])
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropic(AnthropicConfig{})
	assert.Error(t, err)
}

func TestNewProviderRejectsUnknownKind(t *testing.T) {
	_, err := New(Provider{Kind: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
