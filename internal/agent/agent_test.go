package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrouter/internal/llm"
)

func TestCalculator(t *testing.T) {
	calc := NewCalculator("")
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "calculate 15 * 3", want: "15 * 3 = 45"},
		{in: "what is 7.5+2.5?", want: "7.5 + 2.5 = 10"},
		{in: "10 - 12", want: "10 - 12 = -2"},
		{in: "9 / 2", want: "9 / 2 = 4.5"},
		{in: "1 / 0", wantErr: ErrDivisionByZero},
		{in: "write a haiku", wantErr: ErrNoExpression},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := calc.Invoke(context.Background(), tc.in)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
	assert.Equal(t, []string{"calculation", "math"}, calc.Capabilities())
}

func TestEcho(t *testing.T) {
	e := NewEcho("e1")
	got, err := e.Invoke(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Echo from e1: hello", got)
	assert.True(t, HasCapability(e, "echo"))
	assert.False(t, HasCapability(e, "math"))
}

func TestLLMAgentUsesSystemPrompt(t *testing.T) {
	var gotSystem string
	completer := llm.Func(func(_ context.Context, system, user string) (string, error) {
		gotSystem = system
		return "  answer to " + user + "  ", nil
	})
	a, err := NewLLMAgent(Info{ID: "w", Capabilities: []string{"creative_writing", " creative_writing", ""}}, "be poetic", completer)
	require.NoError(t, err)

	out, err := a.Invoke(context.Background(), "a haiku")
	require.NoError(t, err)
	assert.Equal(t, "answer to a haiku", out)
	assert.Equal(t, "be poetic", gotSystem)
	assert.Equal(t, []string{"creative_writing"}, a.Capabilities())
	assert.Equal(t, "LLM Agent (w)", a.Name())
}

func TestLLMAgentPropagatesErrors(t *testing.T) {
	boom := errors.New("rate limited")
	a, err := NewLLMAgent(Info{ID: "w", Capabilities: []string{"x"}}, "", llm.Func(func(context.Context, string, string) (string, error) {
		return "", boom
	}))
	require.NoError(t, err)
	_, err = a.Invoke(context.Background(), "x")
	assert.ErrorIs(t, err, boom)

	_, err = NewLLMAgent(Info{ID: "w"}, "", nil)
	assert.Error(t, err)
}

func TestParseCatalogYAMLAndTOML(t *testing.T) {
	yamlCat := []byte(`
agents:
  - id: calc
    kind: calculator
  - id: poet
    name: Poet
    kind: llm
    capabilities: [creative_writing]
    system_prompt: write verse
`)
	cat, err := ParseCatalog(yamlCat, ".yaml")
	require.NoError(t, err)
	require.Len(t, cat.Agents, 2)
	assert.Equal(t, "write verse", cat.Agents[1].SystemPrompt)

	tomlCat := []byte(`
[[agents]]
id = "echo"
kind = "echo"

[[agents]]
id = "poet"
kind = "llm"
capabilities = ["creative_writing"]
`)
	cat, err = ParseCatalog(tomlCat, ".toml")
	require.NoError(t, err)
	require.Len(t, cat.Agents, 2)

	agents, err := cat.Build(llm.Func(func(context.Context, string, string) (string, error) { return "ok", nil }))
	require.NoError(t, err)
	assert.Equal(t, "echo", agents[0].ID())
	assert.Equal(t, []string{"creative_writing"}, agents[1].Capabilities())
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"duplicate":     "agents:\n  - {id: a, kind: echo}\n  - {id: a, kind: echo}\n",
		"empty id":      "agents:\n  - {kind: echo}\n",
		"unknown kind":  "agents:\n  - {id: a, kind: oracle}\n",
		"no caps":       "agents:\n  - {id: a, kind: llm}\n",
		"unknown field": "agents:\n  - {id: a, kind: echo, colour: red}\n",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(raw), ".yml")
			assert.Error(t, err)
		})
	}
}

func TestDefaultCatalog(t *testing.T) {
	agents, err := DefaultCatalog(false).Build(nil)
	require.NoError(t, err)
	require.Len(t, agents, 2)

	withLLM := DefaultCatalog(true)
	require.NoError(t, withLLM.Validate())
	_, err = withLLM.Build(nil)
	assert.Error(t, err, "llm specialists need a completer")
}

func TestWatchCatalogReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - {id: a, kind: echo}\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Catalog, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchCatalog(ctx, path, func(c Catalog) { changes <- c }, nil)
	}()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - {id: a, kind: echo}\n  - {id: b, kind: calculator}\n"), 0o644))

	select {
	case cat := <-changes:
		assert.Len(t, cat.Agents, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog change not observed")
	}
	cancel()
	require.NoError(t, <-done)
}
