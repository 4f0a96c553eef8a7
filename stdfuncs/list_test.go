package stdfuncs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/configtree"
)

func TestListConcatenate(t *testing.T) {
	t.Run("joins lists in order", func(t *testing.T) {
		cfg := map[string]any{"x": map[string]any{
			"__list.concatenate__": []any{[]any{1, 2}, []any{}, []any{3}},
		}}
		got, err := resolveWithStdlib(t, cfg, configtree.Any())
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff([]any{1, 2, 3}, got.(map[string]any)["x"]))
	})

	t.Run("errors", func(t *testing.T) {
		cfg := map[string]any{"x": map[string]any{"__list.concatenate__": []any{1}}}
		_, err := resolveWithStdlib(t, cfg, configtree.Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Input to 'concatenate' must be a list of lists.")

		cfg = map[string]any{"x": map[string]any{"__list.concatenate__": []any{}}}
		_, err = resolveWithStdlib(t, cfg, configtree.Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(),
			"Input to 'concatenate' must be a non-empty list of lists.")
	})
}

func TestListZip(t *testing.T) {
	t.Run("zips to the shortest", func(t *testing.T) {
		cfg := map[string]any{"x": map[string]any{
			"__list.zip__": []any{[]any{1, 2, 3}, []any{"a", "b"}},
		}}
		got, err := resolveWithStdlib(t, cfg, configtree.Any())
		require.NoError(t, err)
		want := []any{[]any{1, "a"}, []any{2, "b"}}
		assert.Empty(t, cmp.Diff(want, got.(map[string]any)["x"]))
	})

	t.Run("errors", func(t *testing.T) {
		cfg := map[string]any{"x": map[string]any{"__list.zip__": "nope"}}
		_, err := resolveWithStdlib(t, cfg, configtree.Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Input to 'zip' must be a list of lists.")
	})
}

func TestListRange(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]any
		want  []any
	}{
		{"stop only", map[string]any{"stop": 3}, []any{0, 1, 2}},
		{"start and stop", map[string]any{"start": 2, "stop": 5}, []any{2, 3, 4}},
		{"step", map[string]any{"start": 0, "stop": 10, "step": 5}, []any{0, 5}},
		{"negative step", map[string]any{"start": 3, "stop": 0, "step": -1}, []any{3, 2, 1}},
		{"empty", map[string]any{"start": 5, "stop": 5}, []any{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := map[string]any{"x": map[string]any{"__list.range__": tc.input}}
			got, err := resolveWithStdlib(t, cfg, configtree.Any())
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tc.want, got.(map[string]any)["x"]))
		})
	}

	t.Run("errors", func(t *testing.T) {
		cases := []struct {
			name    string
			input   any
			message string
		}{
			{"not a dict", 1, "Input to 'range' must be a dictionary."},
			{"missing stop", map[string]any{"start": 1},
				"Input to 'range' must be a dictionary with a key 'stop'."},
			{"unexpected key", map[string]any{"stop": 3, "until": 5},
				"Input to 'range' must be a dictionary with keys 'start', 'stop' and 'step'."},
			{"non-integer", map[string]any{"stop": 1.5},
				"The values of 'start', 'stop' and 'step' in 'range' must be integers."},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				cfg := map[string]any{"x": map[string]any{"__list.range__": tc.input}}
				_, err := resolveWithStdlib(t, cfg, configtree.Any())
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.message)
			})
		}
	})
}

func TestListLoop(t *testing.T) {
	t.Run("resolves a copy per element", func(t *testing.T) {
		cfg := map[string]any{"x": map[string]any{
			"__list.loop__": map[string]any{
				"variable": "name",
				"over":     []any{"alice", "bob"},
				"in":       map[string]any{"greeting": "hello ${name}"},
			},
		}}
		got, err := resolveWithStdlib(t, cfg, configtree.Any())
		require.NoError(t, err)
		want := []any{
			map[string]any{"greeting": "hello alice"},
			map[string]any{"greeting": "hello bob"},
		}
		assert.Empty(t, cmp.Diff(want, got.(map[string]any)["x"]))
	})

	t.Run("elements resolve under the declared element schema", func(t *testing.T) {
		schema := &configtree.Schema{
			Type: "dict",
			RequiredKeys: map[string]*configtree.Schema{
				"x": {Type: "list", ElementSchema: &configtree.Schema{Type: "integer"}},
			},
		}
		cfg := map[string]any{"x": map[string]any{
			"__list.loop__": map[string]any{
				"variable": "n",
				"over":     map[string]any{"__list.range__": map[string]any{"stop": 3}},
				"in":       "${n * 10}",
			},
		}}
		got, err := resolveWithStdlib(t, cfg, schema)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff([]any{0, 10, 20}, got.(map[string]any)["x"]))
	})

	t.Run("errors", func(t *testing.T) {
		cfg := map[string]any{"x": map[string]any{
			"__list.loop__": map[string]any{"variable": "n", "over": []any{}},
		}}
		_, err := resolveWithStdlib(t, cfg, configtree.Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(),
			"Input to 'loop' must be a dictionary with keys 'variable', 'over' and 'in'.")

		cfg = map[string]any{"x": map[string]any{
			"__list.loop__": map[string]any{"variable": 1, "over": []any{}, "in": 1},
		}}
		_, err = resolveWithStdlib(t, cfg, configtree.Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "The 'variable' in 'loop' must be a string.")
	})
}

func TestListFilter(t *testing.T) {
	t.Run("keeps matching elements", func(t *testing.T) {
		cfg := map[string]any{"x": map[string]any{
			"__list.filter__": map[string]any{
				"iterable":  []any{1, 2, 3, 4},
				"variable":  "n",
				"condition": "${n > 2}",
			},
		}}
		got, err := resolveWithStdlib(t, cfg, configtree.Any())
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff([]any{3, 4}, got.(map[string]any)["x"]))
	})

	t.Run("iterable may reference the tree", func(t *testing.T) {
		cfg := map[string]any{
			"threshold": 10,
			"values":    []any{5, 15, 25},
			"x": map[string]any{"__list.filter__": map[string]any{
				"iterable":  map[string]any{"__splice__": "values"},
				"variable":  "v",
				"condition": "${v > threshold}",
			}},
		}
		got, err := resolveWithStdlib(t, cfg, configtree.Any())
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff([]any{15, 25}, got.(map[string]any)["x"]))
	})

	t.Run("errors", func(t *testing.T) {
		cfg := map[string]any{"x": map[string]any{"__list.filter__": 1}}
		_, err := resolveWithStdlib(t, cfg, configtree.Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(),
			"Input to 'filter' must be a dictionary with keys 'iterable', 'variable' and 'condition'.")
	})
}
