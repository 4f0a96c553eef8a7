package configtree

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplice(t *testing.T) {
	ctx := context.Background()

	t.Run("copies a subtree", func(t *testing.T) {
		cfg := map[string]any{
			"a": map[string]any{"x": 1, "y": "${a.x}"},
			"b": map[string]any{"__splice__": "a"},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		want := map[string]any{"x": 1, "y": "1"}
		assert.Empty(t, cmp.Diff(want, got.(map[string]any)["b"]))
	})

	t.Run("spliced value is re-converted under the local schema", func(t *testing.T) {
		schema := &Schema{
			Type: "dict",
			RequiredKeys: map[string]*Schema{
				"a": {Type: "string"},
				"b": {Type: "integer"},
			},
		}
		cfg := map[string]any{
			"a": "42",
			"b": map[string]any{"__splice__": "a"},
		}
		got, err := Resolve(ctx, cfg, schema)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "42", "b": 42}, got)
	})

	t.Run("destination conversion applies per leaf", func(t *testing.T) {
		schema := &Schema{
			Type: "dict",
			RequiredKeys: map[string]*Schema{
				"nums": {Type: "dict", ExtraKeysSchema: &Schema{Type: "integer"}},
				"strs": {Type: "dict", ExtraKeysSchema: &Schema{Type: "string"}},
			},
		}
		cfg := map[string]any{
			"nums": map[string]any{"a": 1, "b": 2},
			"strs": map[string]any{"__splice__": "nums"},
		}
		got, err := Resolve(ctx, cfg, schema)
		require.NoError(t, err)
		want := map[string]any{"a": "1", "b": "2"}
		assert.Empty(t, cmp.Diff(want, got.(map[string]any)["strs"]))
	})

	t.Run("input must be a string", func(t *testing.T) {
		cfg := map[string]any{"b": map[string]any{"__splice__": 1}}
		_, err := Resolve(ctx, cfg, Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Input to 'splice' must be a string.")
	})

	t.Run("missing keypath", func(t *testing.T) {
		cfg := map[string]any{"b": map[string]any{"__splice__": "nowhere"}}
		_, err := Resolve(ctx, cfg, Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Keypath 'nowhere' does not exist.")
	})

	t.Run("keypath is not interpolated", func(t *testing.T) {
		cfg := map[string]any{
			"which": "a",
			"a":     1,
			"b":     map[string]any{"__splice__": "${which}"},
		}
		_, err := Resolve(ctx, cfg, Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Keypath '${which}' does not exist.")
	})
}

func TestRaw(t *testing.T) {
	ctx := context.Background()

	t.Run("interpolation is suppressed", func(t *testing.T) {
		cfg := map[string]any{
			"a": "hello",
			"b": map[string]any{"__raw__": "${a}"},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		assert.Equal(t, "${a}", got.(map[string]any)["b"])
	})

	t.Run("function calls inside raw are not detected", func(t *testing.T) {
		cfg := map[string]any{
			"b": map[string]any{"__raw__": map[string]any{"__splice__": "a"}},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"__splice__": "a"}, got.(map[string]any)["b"])
	})

	t.Run("conversion still applies", func(t *testing.T) {
		schema := &Schema{
			Type:         "dict",
			RequiredKeys: map[string]*Schema{"b": {Type: "integer"}},
		}
		cfg := map[string]any{"b": map[string]any{"__raw__": "42"}}
		got, err := Resolve(ctx, cfg, schema)
		require.NoError(t, err)
		assert.Equal(t, 42, got.(map[string]any)["b"])
	})

}

func TestResolveFunction(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves under the declared schema", func(t *testing.T) {
		schema := &Schema{
			Type: "dict",
			RequiredKeys: map[string]*Schema{
				"x":      {Type: "integer"},
				"y":      {Type: "integer"},
				"result": {Type: "integer"},
			},
		}
		cfg := map[string]any{
			"x":      3,
			"y":      4,
			"result": map[string]any{"__resolve__": "${x + y}"},
		}
		got, err := Resolve(ctx, cfg, schema)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"x": 3, "y": 4, "result": 7}, got)
	})

	t.Run("template content used in standard mode keeps nested markers", func(t *testing.T) {
		cfg := map[string]any{
			"name": "${greeting}",
			"tpl":  map[string]any{"__template__": "hello ${name}"},
			"once": map[string]any{"__use__": "tpl"},
		}
		got, err := Resolve(ctx, cfg, Any(),
			WithGlobalVariables(map[string]any{"greeting": "hi"}))
		require.NoError(t, err)
		// One interpolation pass: the marker inside name's value was
		// already consumed resolving name, not re-expanded here.
		assert.Equal(t, "hello hi", got.(map[string]any)["once"])
	})
}

func TestFullyResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("interpolation repeats until stable", func(t *testing.T) {
		cfg := map[string]any{
			"name": "bob",
			"msg":  map[string]any{"__fully_resolve__": "${greeting}"},
		}
		got, err := Resolve(ctx, cfg, Any(),
			WithGlobalVariables(map[string]any{"greeting": "hello ${name}"}))
		require.NoError(t, err)
		assert.Equal(t, "hello bob", got.(map[string]any)["msg"])
	})

	t.Run("standard mode stops after one pass", func(t *testing.T) {
		cfg := map[string]any{
			"name": "bob",
			"msg":  "${greeting}",
		}
		got, err := Resolve(ctx, cfg, Any(),
			WithGlobalVariables(map[string]any{"greeting": "hello ${name}"}))
		require.NoError(t, err)
		assert.Equal(t, "hello ${name}", got.(map[string]any)["msg"])
	})
}

func TestTemplateAndUse(t *testing.T) {
	ctx := context.Background()

	base := map[string]any{
		"defaults": map[string]any{"host": "h"},
		"templates": map[string]any{
			"svc": map[string]any{"__template__": map[string]any{
				"host": "${defaults.host}",
				"port": 80,
			}},
		},
	}

	t.Run("template bodies stay unresolved", func(t *testing.T) {
		got, err := Resolve(ctx, base, Any())
		require.NoError(t, err)
		svc := got.(map[string]any)["templates"].(map[string]any)["svc"].(map[string]any)
		body := svc["__template__"].(map[string]any)
		assert.Equal(t, "${defaults.host}", body["host"])
	})

	t.Run("use instantiates a template", func(t *testing.T) {
		cfg := map[string]any{
			"defaults":  base["defaults"],
			"templates": base["templates"],
			"a":         map[string]any{"__use__": "templates.svc"},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		want := map[string]any{"host": "h", "port": 80}
		assert.Empty(t, cmp.Diff(want, got.(map[string]any)["a"]))
	})

	t.Run("use with overrides deep-merges", func(t *testing.T) {
		cfg := map[string]any{
			"defaults":  base["defaults"],
			"templates": base["templates"],
			"a": map[string]any{"__use__": map[string]any{
				"template":  "templates.svc",
				"overrides": map[string]any{"port": 8443},
			}},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		want := map[string]any{"host": "h", "port": 8443}
		assert.Empty(t, cmp.Diff(want, got.(map[string]any)["a"]))
	})

	t.Run("each use re-resolves independently", func(t *testing.T) {
		cfg := map[string]any{
			"templates": map[string]any{
				"item": map[string]any{"__template__": map[string]any{"tag": "${label}"}},
			},
			"one": map[string]any{
				"__let__": map[string]any{
					"variables": map[string]any{"label": "first"},
					"in":        map[string]any{"__use__": "templates.item"},
				},
			},
			"two": map[string]any{
				"__let__": map[string]any{
					"variables": map[string]any{"label": "second"},
					"in":        map[string]any{"__use__": "templates.item"},
				},
			},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		result := got.(map[string]any)
		assert.Equal(t, "first", result["one"].(map[string]any)["tag"])
		assert.Equal(t, "second", result["two"].(map[string]any)["tag"])
	})

	t.Run("target need only contain the template marker", func(t *testing.T) {
		// Inside a raw region a dict can carry a "__template__" key next
		// to other keys without being a call; 'use' still accepts it.
		cfg := map[string]any{
			"templates": map[string]any{"__raw__": map[string]any{
				"svc": map[string]any{
					"__template__": map[string]any{"port": 80},
					"comment":      "extra",
				},
			}},
			"a": map[string]any{"__use__": "templates.svc"},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		want := map[string]any{"port": 80}
		assert.Empty(t, cmp.Diff(want, got.(map[string]any)["a"]))
	})

	t.Run("errors", func(t *testing.T) {
		cases := []struct {
			name    string
			input   any
			message string
		}{
			{"missing template key", map[string]any{"overrides": map[string]any{}},
				"Dict input to 'use' must contain a 'template' key."},
			{"template not a string", map[string]any{"template": 1},
				"The 'template' value in 'use' must be a string."},
			{"overrides not a dict", map[string]any{"template": "templates.svc", "overrides": 1},
				"The 'overrides' value in 'use' must be a dictionary."},
			{"unexpected keys", map[string]any{"template": "templates.svc", "huh": 1},
				"Unexpected keys in 'use': ['huh']."},
			{"bad input type", 7,
				"Input to 'use' must be a string or a dictionary."},
			{"missing keypath", "templates.nope",
				"Keypath 'templates.nope' does not exist."},
			{"target not a template", "defaults",
				"The target of 'use' must be a '__template__' function call."},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				cfg := map[string]any{
					"defaults":  base["defaults"],
					"templates": base["templates"],
					"a":         map[string]any{"__use__": tc.input},
				}
				_, err := Resolve(ctx, cfg, Any())
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.message)
			})
		}
	})

	t.Run("overrides need a dictionary template", func(t *testing.T) {
		cfg := map[string]any{
			"templates": map[string]any{
				"greeting": map[string]any{"__template__": "hello"},
			},
			"a": map[string]any{"__use__": map[string]any{
				"template":  "templates.greeting",
				"overrides": map[string]any{"x": 1},
			}},
		}
		_, err := Resolve(ctx, cfg, Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(),
			"Overrides can only be applied when the template resolves to a dictionary.")
	})
}

func TestIf(t *testing.T) {
	ctx := context.Background()

	t.Run("takes the then branch", func(t *testing.T) {
		cfg := map[string]any{
			"flag": true,
			"x": map[string]any{"__if__": map[string]any{
				"condition": "${flag}",
				"then":      "yes",
				"else":      "no",
			}},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		assert.Equal(t, "yes", got.(map[string]any)["x"])
	})

	t.Run("takes the else branch", func(t *testing.T) {
		cfg := map[string]any{
			"x": map[string]any{"__if__": map[string]any{
				"condition": "${2 > 3}",
				"then":      "yes",
				"else":      "no",
			}},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		assert.Equal(t, "no", got.(map[string]any)["x"])
	})

	t.Run("untaken branch is never built", func(t *testing.T) {
		cfg := map[string]any{
			"x": map[string]any{"__if__": map[string]any{
				"condition": "true",
				"then":      1,
				"else":      map[string]any{"__no_such_function__": nil},
			}},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		assert.Equal(t, 1, got.(map[string]any)["x"])
	})

	t.Run("branch resolves under the call's schema", func(t *testing.T) {
		schema := &Schema{
			Type:         "dict",
			RequiredKeys: map[string]*Schema{"x": {Type: "integer"}},
		}
		cfg := map[string]any{
			"x": map[string]any{"__if__": map[string]any{
				"condition": "false",
				"then":      "1",
				"else":      "${3 + 4}",
			}},
		}
		got, err := Resolve(ctx, cfg, schema)
		require.NoError(t, err)
		assert.Equal(t, 7, got.(map[string]any)["x"])
	})

	t.Run("errors", func(t *testing.T) {
		_, err := Resolve(ctx, map[string]any{"x": map[string]any{"__if__": 1}}, Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Input to 'if' must be a dictionary.")

		cfg := map[string]any{"x": map[string]any{"__if__": map[string]any{"condition": true}}}
		_, err = Resolve(ctx, cfg, Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(),
			"Input to 'if' must be a dictionary with keys 'condition', 'then' and 'else'.")
	})
}

func TestLet(t *testing.T) {
	ctx := context.Background()

	t.Run("binds variables", func(t *testing.T) {
		schema := &Schema{
			Type:         "dict",
			RequiredKeys: map[string]*Schema{"x": {Type: "integer"}},
		}
		cfg := map[string]any{
			"x": map[string]any{"__let__": map[string]any{
				"variables": map[string]any{"n": 5},
				"in":        "${n + 1}",
			}},
		}
		got, err := Resolve(ctx, cfg, schema)
		require.NoError(t, err)
		assert.Equal(t, 6, got.(map[string]any)["x"])
	})

	t.Run("local variables shadow root keys", func(t *testing.T) {
		cfg := map[string]any{
			"name": "root",
			"x": map[string]any{"__let__": map[string]any{
				"variables": map[string]any{"name": "local"},
				"in":        "${name}",
			}},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		assert.Equal(t, "local", got.(map[string]any)["x"])
	})

	t.Run("variables may reference the tree", func(t *testing.T) {
		cfg := map[string]any{
			"base": 10,
			"x": map[string]any{"__let__": map[string]any{
				"variables": map[string]any{"n": "${base}"},
				"in":        "${n}0",
			}},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		assert.Equal(t, "100", got.(map[string]any)["x"])
	})

	t.Run("this reference", func(t *testing.T) {
		cfg := map[string]any{
			"x": map[string]any{"__let__": map[string]any{
				"references": map[string]any{"me": "__this__"},
				"in": map[string]any{
					"a": 1,
					"b": "${me.a}",
				},
			}},
		}
		got, err := Resolve(ctx, cfg, Any())
		require.NoError(t, err)
		want := map[string]any{"a": 1, "b": "1"}
		assert.Empty(t, cmp.Diff(want, got.(map[string]any)["x"]))
	})

	t.Run("previous reference chains through a list", func(t *testing.T) {
		schema := &Schema{
			Type: "list",
			ElementSchema: &Schema{
				Type:         "dict",
				RequiredKeys: map[string]*Schema{"n": {Type: "integer"}},
			},
		}
		next := map[string]any{"__let__": map[string]any{
			"references": map[string]any{"prev": "__previous__"},
			"in":         map[string]any{"n": "${prev.n + 1}"},
		}}
		cfg := []any{map[string]any{"n": 0}, next, next}

		got, err := Resolve(ctx, cfg, schema)
		require.NoError(t, err)
		want := []any{
			map[string]any{"n": 0},
			map[string]any{"n": 1},
			map[string]any{"n": 2},
		}
		assert.Empty(t, cmp.Diff(want, got))
	})

	t.Run("previous wraps a function-call sibling unevaluated", func(t *testing.T) {
		var order []string
		stamp := NewRawFunction(func(args *FunctionArgs) (any, error) {
			label := args.Input.(string)
			order = append(order, label)
			return map[string]any{"v": label}, nil
		})

		// "a" is resolved first (sorted key order) and forces the second
		// list element, whose 'prev' binding must not evaluate the first
		// element's call; only resolving the list itself does that.
		cfg := map[string]any{
			"a": "${items[1].x.v}",
			"items": []any{
				map[string]any{"__stamp__": "zero"},
				map[string]any{"__let__": map[string]any{
					"references": map[string]any{"prev": "__previous__"},
					"in":         map[string]any{"x": map[string]any{"__stamp__": "one"}},
				}},
			},
		}
		got, err := Resolve(ctx, cfg, Any(),
			WithFunctions(CoreFunctions().Merge(FunctionSet{"stamp": stamp})))
		require.NoError(t, err)
		assert.Equal(t, "one", got.(map[string]any)["a"])
		assert.Equal(t, []string{"one", "zero"}, order)
	})

	t.Run("errors", func(t *testing.T) {
		cases := []struct {
			name    string
			input   any
			message string
		}{
			{"not a dict", 1, "Input to 'let' must be a dictionary."},
			{"missing in", map[string]any{"variables": map[string]any{}},
				"Input to 'let' must contain an 'in' key."},
			{"missing variables and references", map[string]any{"in": 1},
				"Input to 'let' must contain 'variables' and/or 'references'."},
			{"variables not a dict", map[string]any{"variables": 1, "in": 1},
				"The value of 'variables' in 'let' must be a dictionary."},
			{"this on a scalar", map[string]any{
				"references": map[string]any{"me": "__this__"}, "in": 1},
				"'__this__' cannot be used when 'in' is a scalar value."},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				cfg := map[string]any{"x": map[string]any{"__let__": tc.input}}
				_, err := Resolve(ctx, cfg, Any())
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.message)
			})
		}
	})

	t.Run("previous outside a list", func(t *testing.T) {
		cfg := map[string]any{
			"x": map[string]any{"__let__": map[string]any{
				"references": map[string]any{"prev": "__previous__"},
				"in":         map[string]any{"n": 1},
			}},
		}
		_, err := Resolve(ctx, cfg, Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "'__previous__' can only be used inside a list.")
	})

	t.Run("previous on the first element", func(t *testing.T) {
		cfg := []any{map[string]any{"__let__": map[string]any{
			"references": map[string]any{"prev": "__previous__"},
			"in":         map[string]any{"n": 1},
		}}}
		_, err := Resolve(ctx, cfg, Any())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "'__previous__' cannot be used on the first element of a list.")
	})
}
