package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrouter/internal/domain"
	"agentrouter/internal/llm"
)

func TestAnalyzeFencedJSON(t *testing.T) {
	raw := "Here you go:\n```json\n" + `{
  "capabilities": ["calculation", " creative_writing ", "calculation"],
  "subtasks": {"calculation": "15 * 3"},
  "dependencies": {"creative_writing": ["calculation", "calculation"], "unknown": ["calculation"]}
}` + "\n```"

	var gotSystem, gotUser string
	a := NewAnalyzer(llm.Func(func(_ context.Context, system, user string) (string, error) {
		gotSystem, gotUser = system, user
		return raw, nil
	}), nil)

	res, err := a.Analyze(context.Background(), "calculate 15 * 3 and write a haiku")
	require.NoError(t, err)

	assert.Equal(t, []string{"calculation", "creative_writing"}, res.Capabilities)
	assert.Equal(t, "15 * 3", res.Subtasks["calculation"])
	assert.Equal(t, "calculate 15 * 3 and write a haiku", res.Subtasks["creative_writing"])
	assert.Equal(t, map[string][]string{"creative_writing": {"calculation"}}, res.Dependencies)

	assert.Equal(t, "calculate 15 * 3 and write a haiku", gotUser)
	for _, c := range DefaultVocabulary() {
		assert.Contains(t, gotSystem, c.Name)
	}
}

func TestAnalyzeEmptyCapabilities(t *testing.T) {
	a := NewAnalyzer(staticCompleter(`{"capabilities": []}`), nil)
	res, err := a.Analyze(context.Background(), "hello")
	require.NoError(t, err)
	assert.Empty(t, res.Capabilities)
	assert.Nil(t, res.Dependencies)
}

func TestAnalyzeErrors(t *testing.T) {
	cases := map[string]llm.Completer{
		"model error": llm.Func(func(context.Context, string, string) (string, error) {
			return "", errors.New("overloaded")
		}),
		"no json":            staticCompleter("I cannot help with that"),
		"missing capability": staticCompleter(`{"subtasks": {}}`),
		"malformed":          staticCompleter(`{"capabilities": "calculation"}`),
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewAnalyzer(c, nil).Analyze(context.Background(), "task")
			require.ErrorIs(t, err, domain.ErrAnalysis)
		})
	}
}

func TestAnalyzeTrimsRawOutputInError(t *testing.T) {
	long := strings.Repeat("x", 2000)
	_, err := NewAnalyzer(staticCompleter(long), nil).Analyze(context.Background(), "task")
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 600)
}

func TestCustomVocabularyInPrompt(t *testing.T) {
	a := NewAnalyzer(staticCompleter("{}"), []Capability{{Name: "sql", Description: "writing queries"}})
	assert.Contains(t, a.systemPrompt, "sql: writing queries")
	assert.NotContains(t, a.systemPrompt, "creative_writing")
}
