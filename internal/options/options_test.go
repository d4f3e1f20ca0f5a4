package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func set(kv ...any) Set {
	var s Set
	for i := 0; i < len(kv); i += 2 {
		key := kv[i].(string)
		switch v := kv[i+1].(type) {
		case string:
			s = s.With(key, String(v))
		case []string:
			s = s.With(key, Strings(v...))
		case Set:
			s = s.With(key, Nested(v))
		}
	}
	return s
}

func TestFold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		layers []Set
		want   Set
	}{
		{
			name:   "empty",
			layers: nil,
			want:   Set{},
		},
		{
			name: "scalar overwrite",
			layers: []Set{
				set("port", "22", "user", "root"),
				set("port", "8022"),
			},
			want: set("port", "8022", "user", "root"),
		},
		{
			name: "lists append",
			layers: []Set{
				set("flags", []string{"-A"}),
				set("flags", []string{"-v", "-C"}),
			},
			want: set("flags", []string{"-A", "-v", "-C"}),
		},
		{
			name: "gateways replace",
			layers: []Set{
				set("gateways", []string{"a", "b"}),
				set("gateways", []string{"direct"}),
			},
			want: set("gateways", []string{"direct"}),
		},
		{
			name: "maps deep merge",
			layers: []Set{
				set("options", set("ServerAliveInterval", "10", "Compression", "yes")),
				set("options", set("ServerAliveInterval", "30", "ForwardAgent", "no")),
			},
			want: set("options", set("ServerAliveInterval", "30", "Compression", "yes", "ForwardAgent", "no")),
		},
		{
			name: "kind change overwrites",
			layers: []Set{
				set("identity", []string{"a.key", "b.key"}),
				set("identity", "c.key"),
			},
			want: set("identity", "c.key"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Fold(tt.layers...)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got.Keys(), tt.want.Keys())
		})
	}
}

func TestFoldDoesNotModifyInputs(t *testing.T) {
	t.Parallel()

	base := set("flags", []string{"-A"}, "options", set("A", "1"))
	top := set("flags", []string{"-v"}, "options", set("B", "2"))

	_ = Fold(base, top)

	assert.Equal(t, []string{"-A"}, mustGet(t, base, "flags").List())
	assert.Equal(t, []string{"A"}, mustGet(t, base, "options").Map().Keys())
}

func TestFoldAssociative(t *testing.T) {
	t.Parallel()

	p1 := set("port", "1", "flags", []string{"-a"}, "options", set("X", "1"))
	p2 := set("user", "u", "flags", []string{"-b"}, "options", set("Y", "2"))
	p3 := set("port", "3", "flags", []string{"-c"}, "options", set("X", "3"))

	all := Fold(p1, p2, p3)
	left := Fold(Fold(p1, p2), p3)
	right := Fold(p1, Fold(p2, p3))

	assert.True(t, all.Equal(left))
	assert.True(t, all.Equal(right))
}

func TestFoldNestedKeysIgnoreCase(t *testing.T) {
	t.Parallel()

	base := set("options", set("Compression", "no", "User", "a"))
	top := set("options", set("compression", "yes"))

	nested := mustGet(t, Fold(base, top), "options").Map()
	assert.Equal(t, []string{"Compression", "User"}, nested.Keys())
	assert.Equal(t, "yes", nested.Lookup("Compression"))

	flat := Fold(set("port", "1"), set("Port", "2"))
	assert.Equal(t, []string{"port", "Port"}, flat.Keys(), "top-level keys are lower-cased by the loader, not here")
}

func TestWithFold(t *testing.T) {
	t.Parallel()

	s := set("ForwardAgent", "no", "port", "22").WithFold("forwardagent", String("yes"))
	assert.Equal(t, []string{"ForwardAgent", "port"}, s.Keys())
	assert.Equal(t, "yes", s.Lookup("ForwardAgent"))

	s = s.WithFold("Ciphers", String("aes128-ctr"))
	assert.Equal(t, []string{"ForwardAgent", "port", "Ciphers"}, s.Keys())
}

func TestSetOrderAndCopies(t *testing.T) {
	t.Parallel()

	s := set("b", "1", "a", "2").With("b", String("3"))
	assert.Equal(t, []string{"b", "a"}, s.Keys())
	assert.Equal(t, "3", s.Lookup("b"))

	only := s.Only("a")
	assert.Equal(t, []string{"a"}, only.Keys())
	without := s.Without("a")
	assert.Equal(t, []string{"b"}, without.Keys())
	assert.Equal(t, 2, s.Len())
}

func TestValueForms(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a,b", Strings("a", "b").Scalar())
	assert.Equal(t, []string{"x"}, String("x").List())
	assert.Nil(t, String("").List())
	assert.Equal(t, 0, String("x").Map().Len())
	assert.Equal(t, "list", List.String())
}

func TestMapStrings(t *testing.T) {
	t.Parallel()

	s := set("hostname", "%n", "flags", []string{"%n"}, "options", set("X", "%n"))
	got, err := s.MapStrings(func(_, v string) (string, error) {
		if v == "%n" {
			return "web", nil
		}
		return v, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "web", got.Lookup("hostname"))
	assert.Equal(t, []string{"web"}, mustGet(t, got, "flags").List())
	assert.Equal(t, "web", mustGet(t, got, "options").Map().Lookup("X"))
	assert.Equal(t, "%n", s.Lookup("hostname"))
}

func TestMarshalYAML(t *testing.T) {
	t.Parallel()

	s := set("port", "22", "flags", []string{"-A"}, "options", set("Compression", "yes"))
	out, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, "port: 22\nflags: [-A]\noptions:\n    Compression: yes\n", string(out))
}

func mustGet(t *testing.T, s Set, key string) Value {
	t.Helper()
	v, ok := s.Get(key)
	require.True(t, ok, "missing %q", key)
	return v
}
