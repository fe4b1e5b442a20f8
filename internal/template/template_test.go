package template

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tmpl string
		vars map[string]any
		want string
	}{
		{
			name: "no placeholders is unchanged",
			tmpl: "You are a helpful assistant.",
			vars: map[string]any{},
			want: "You are a helpful assistant.",
		},
		{
			name: "missing key passes through",
			tmpl: "Hi {{x}}",
			vars: map[string]any{},
			want: "Hi {{x}}",
		},
		{
			name: "whitespace inside braces trimmed",
			tmpl: "Hi {{  name  }}!",
			vars: map[string]any{"name": "Ada"},
			want: "Hi Ada!",
		},
		{
			name: "nested lookup",
			tmpl: "{{u.name}}",
			vars: map[string]any{"u": map[string]any{"name": "Ada"}},
			want: "Ada",
		},
		{
			name: "object serialized as json",
			tmpl: "{{v}}",
			vars: map[string]any{"v": map[string]any{"a": 1}},
			want: `{"a":1}`,
		},
		{
			name: "array serialized as json",
			tmpl: "tags: {{tags}}",
			vars: map[string]any{"tags": []any{"a", "<b>"}},
			want: `tags: ["a","<b>"]`,
		},
		{
			name: "bool and number scalars",
			tmpl: "{{flag}} {{count}} {{ratio}}",
			vars: map[string]any{"flag": false, "count": float64(42), "ratio": 1.5},
			want: "false 42 1.5",
		},
		{
			name: "json number keeps literal",
			tmpl: "{{id}}",
			vars: map[string]any{"id": json.Number("9007199254740993")},
			want: "9007199254740993",
		},
		{
			name: "null value passes through",
			tmpl: "{{x}}",
			vars: map[string]any{"x": nil},
			want: "{{x}}",
		},
		{
			name: "traversal through scalar passes through",
			tmpl: "{{u.name.first}}",
			vars: map[string]any{"u": map[string]any{"name": "Ada"}},
			want: "{{u.name.first}}",
		},
		{
			name: "missing nested segment passes through",
			tmpl: "{{ u.email }}",
			vars: map[string]any{"u": map[string]any{"name": "Ada"}},
			want: "{{ u.email }}",
		},
		{
			name: "repeated placeholder substituted each time",
			tmpl: "{{x}} and {{ x }} and {{x}}",
			vars: map[string]any{"x": "y"},
			want: "y and y and y",
		},
		{
			name: "empty placeholder passes through",
			tmpl: "{{ }} {{}}",
			vars: map[string]any{"": "nope"},
			want: "{{ }} {{}}",
		},
		{
			name: "nil vars",
			tmpl: "Hello {{name}}",
			vars: nil,
			want: "Hello {{name}}",
		},
		{
			name: "string map values",
			tmpl: "{{env.region}}",
			vars: map[string]any{"env": map[string]string{"region": "eu"}},
			want: "eu",
		},
		{
			name: "unterminated placeholder left alone",
			tmpl: "{{name",
			vars: map[string]any{"name": "Ada"},
			want: "{{name",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Render(tt.tmpl, tt.vars))
		})
	}
}

func TestRenderIsIdentityWithoutPlaceholders(t *testing.T) {
	t.Parallel()

	inputs := []string{"", "plain", "{ single braces }", "}} reversed {{", strings.Repeat("x", 4096)}
	for _, in := range inputs {
		if HasPlaceholders(in) {
			continue
		}
		assert.Equal(t, in, Render(in, map[string]any{}))
	}
}

func TestHasPlaceholders(t *testing.T) {
	t.Parallel()

	assert.True(t, HasPlaceholders("Hi {{ name }}"))
	assert.False(t, HasPlaceholders("Hi { name }"))
}
