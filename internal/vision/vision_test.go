package vision

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseCritique(t *testing.T) {
	t.Run("clean JSON", func(t *testing.T) {
		crit, err := parseCritique(`{"score":0.87,"findings":["logo too small"],"pageNotes":["p1 ok"]}`)
		require.NoError(t, err)
		assert.Equal(t, 0.87, crit.Score)
		assert.Equal(t, []string{"logo too small"}, crit.Findings)
	})

	t.Run("fenced JSON", func(t *testing.T) {
		crit, err := parseCritique("```json\n{\"score\":0.5,\"findings\":[],\"pageNotes\":[]}\n```")
		require.NoError(t, err)
		assert.Equal(t, 0.5, crit.Score)
	})

	t.Run("prose around JSON", func(t *testing.T) {
		crit, err := parseCritique(`Here is my review: {"score":1,"findings":[],"pageNotes":[]} Hope that helps!`)
		require.NoError(t, err)
		assert.Equal(t, 1.0, crit.Score)
	})

	t.Run("no JSON at all", func(t *testing.T) {
		_, err := parseCritique("The layout looks great, I'd give it an 8/10.")
		require.Error(t, err)
	})

	t.Run("score outside range", func(t *testing.T) {
		_, err := parseCritique(`{"score":8.5,"findings":[],"pageNotes":[]}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outside [0,1]")
	})
}

func TestStrictRetryOnMalformedResponse(t *testing.T) {
	log := zap.NewNop().Sugar()

	t.Run("second attempt recovers", func(t *testing.T) {
		calls := 0
		var prompts []string
		gen := func(_ context.Context, prompt string, _ []string) (string, error) {
			calls++
			prompts = append(prompts, prompt)
			if calls == 1 {
				return "I think the design scores well overall.", nil
			}
			return `{"score":0.9,"findings":[],"pageNotes":[]}`, nil
		}
		crit, err := critiqueViaModel(context.Background(), log, gen, nil, "rate this")
		require.NoError(t, err)
		assert.Equal(t, 0.9, crit.Score)
		assert.Equal(t, 2, calls)
		assert.Contains(t, prompts[1], "JSON only")
	})

	t.Run("two malformed responses fail", func(t *testing.T) {
		gen := func(context.Context, string, []string) (string, error) {
			return "still just prose", nil
		}
		_, err := critiqueViaModel(context.Background(), log, gen, nil, "rate this")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strict retry")
	})

	t.Run("provider error is not retried", func(t *testing.T) {
		calls := 0
		gen := func(context.Context, string, []string) (string, error) {
			calls++
			return "", fmt.Errorf("rate limited")
		}
		_, err := critiqueViaModel(context.Background(), log, gen, nil, "rate this")
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestDryRunProvider(t *testing.T) {
	d := NewDryRun(0.92)
	crit, err := d.Critique(context.Background(), []string{"p1.png"}, "rubric")
	require.NoError(t, err)
	assert.InDelta(t, 0.93, crit.Score, 1e-9)
	assert.True(t, crit.DryRun)
	require.NotEmpty(t, crit.Findings)
	assert.Contains(t, crit.Findings[0], "dry-run")

	t.Run("score capped at 1", func(t *testing.T) {
		crit, err := NewDryRun(0.995).Critique(context.Background(), nil, "")
		require.NoError(t, err)
		assert.Equal(t, 1.0, crit.Score)
	})
}

func TestFromEnv(t *testing.T) {
	t.Run("dry run wins", func(t *testing.T) {
		t.Setenv(EnvDryRun, "1")
		t.Setenv(EnvGeminiKey, "key")
		p, err := FromEnv(context.Background(), 0.8)
		require.NoError(t, err)
		assert.Equal(t, "dryrun", p.Name())
	})

	t.Run("explicit provider without key", func(t *testing.T) {
		t.Setenv(EnvDryRun, "")
		t.Setenv(EnvProvider, "claude")
		t.Setenv(EnvAnthropicKey, "")
		_, err := FromEnv(context.Background(), 0.8)
		require.Error(t, err)
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv(EnvDryRun, "")
		t.Setenv(EnvProvider, "")
		t.Setenv(EnvGeminiKey, "")
		t.Setenv(EnvAnthropicKey, "")
		_, err := FromEnv(context.Background(), 0.8)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no vision provider configured")
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		t.Setenv(EnvDryRun, "")
		t.Setenv(EnvProvider, "llava")
		_, err := FromEnv(context.Background(), 0.8)
		require.Error(t, err)
	})

	t.Run("anthropic key selects claude", func(t *testing.T) {
		t.Setenv(EnvDryRun, "")
		t.Setenv(EnvProvider, "")
		t.Setenv(EnvGeminiKey, "")
		t.Setenv(EnvAnthropicKey, "test-key")
		p, err := FromEnv(context.Background(), 0.8)
		require.NoError(t, err)
		assert.Equal(t, "claude", p.Name())
	})
}
