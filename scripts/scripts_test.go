package scripts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/veracity/internal/extract"
	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/runtime"
	"github.com/jward/veracity/scripts"
)

const src = `verus! {
pub proof fn lemma_done(x: int)
    ensures x == x,
{
}

pub proof fn lemma_todo(x: int)
    ensures x > 0,
{
    admit();
}

pub fn checked_add(a: u64, b: u64) -> (r: u64)
    requires a + b < 100,
    ensures r == a + b,
{
    a + b
}

pub fn unchecked(a: u64) -> u64 {
    assume(a > 0);
    a
}

pub open spec fn double(x: int) -> int { 2 * x }

fn private_helper() {}
}
`

func runView(t *testing.T, name string) any {
	t.Helper()
	res, err := extract.New().Extract(context.Background(), "lib.rs", []byte(src), item.OriginCodebase)
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	rt := runtime.NewRuntime("", runtime.WithRuntimeFS(scripts.FS))
	obj, err := rt.RunScript(context.Background(), name, map[string]any{
		"items": runtime.ItemList(res.Items),
	})
	require.NoError(t, err)
	return obj.Interface()
}

func names(t *testing.T, v any) []string {
	t.Helper()
	rows, ok := v.([]any)
	require.True(t, ok, "want a list, got %T", v)
	var out []string
	for _, r := range rows {
		m, ok := r.(map[string]any)
		require.True(t, ok)
		out = append(out, m["name"].(string))
	}
	return out
}

func TestEmbeddedScriptsListed(t *testing.T) {
	t.Parallel()
	got, err := runtime.NewRuntime("", runtime.WithRuntimeFS(scripts.FS)).Scripts()
	require.NoError(t, err)
	assert.Equal(t, []string{"missing_ensures", "mode_ratio", "proof_holes"}, got)
}

func TestProofHoles(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"lemma_todo", "unchecked"}, names(t, runView(t, "proof_holes")))
}

func TestMissingEnsures(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"unchecked"}, names(t, runView(t, "missing_ensures")))
}

func TestModeRatio(t *testing.T) {
	t.Parallel()
	got, ok := runView(t, "mode_ratio").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"spec": int64(1), "proof": int64(2), "exec": int64(3)}, got)
}
