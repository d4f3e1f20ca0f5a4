package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pat struct {
	name  string
	rules []Rule
}

func (p pat) MatchRules() []Rule { return p.rules }

func newPat(t *testing.T, names ...string) pat {
	t.Helper()
	p := pat{name: names[0]}
	for _, n := range names {
		r, err := Compile(n)
		require.NoError(t, err)
		p.rules = append(p.rules, r)
	}
	return p
}

func names(ps []pat) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.name)
	}
	return out
}

func TestCompile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text    string
		kind    Kind
		wantErr bool
	}{
		{text: "web-prod", kind: Exact},
		{text: "web-*", kind: Glob},
		{text: "db?", kind: Glob},
		{text: "host[0-9]", kind: Glob},
		{text: "/db[0-9]+/", kind: Regex},
		{text: "/", kind: Exact},
		{text: "", wantErr: true},
		{text: "/db[/", wantErr: true},
		{text: "bad[", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()

			r, err := Compile(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, r.Kind())
			assert.Equal(t, tt.text, r.String())
		})
	}
}

func TestRuleMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		alias   string
		want    bool
	}{
		{"web-prod", "web-prod", true},
		{"web-prod", "web-prod2", false},
		{"web-*", "web-prod", true},
		{"web-*", "db-prod", false},
		{"db?", "db1", true},
		{"db?", "db12", false},
		{"/db[0-9]+/", "db12", true},
		{"/db[0-9]+/", "xdb12", false},
		{"/db[0-9]+/", "db12x", false},
		{"/a|b/", "ab", false},
		{"/a|b/", "b", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MustCompile(tt.pattern).Matches(tt.alias), "%s ~ %s", tt.pattern, tt.alias)
	}
}

func TestMatchOrder(t *testing.T) {
	t.Parallel()

	patterns := []pat{
		newPat(t, "web-prod"),
		newPat(t, "/web-.*/"),
		newPat(t, "web-*"),
		newPat(t, "db-*"),
		newPat(t, "*"),
		newPat(t, "/.*/"),
	}

	got := Match("web-prod", patterns)
	assert.Equal(t, []string{"/web-.*/", "/.*/", "web-*", "*", "web-prod"}, names(got))
}

func TestMatchDeterministic(t *testing.T) {
	t.Parallel()

	patterns := []pat{
		newPat(t, "*"),
		newPat(t, "/.*/"),
		newPat(t, "a*"),
		newPat(t, "/a.*/"),
		newPat(t, "abc"),
	}

	first := names(Match("abc", patterns))
	for range 50 {
		assert.Equal(t, first, names(Match("abc", patterns)))
	}
}

func TestMatchAliasesUseMostSpecificKind(t *testing.T) {
	t.Parallel()

	patterns := []pat{
		newPat(t, "prod", "www-*"),
		newPat(t, "/www-.*/", "www-1"),
	}

	// The second pattern matches "www-1" exactly through its alias.
	got := Match("www-1", patterns)
	assert.Equal(t, []string{"prod", "/www-.*/"}, names(got))
}

func TestMatchNone(t *testing.T) {
	t.Parallel()

	got := Match("nothing", []pat{newPat(t, "web-*")})
	assert.Empty(t, got)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "exact", Exact.String())
	assert.Equal(t, "glob", Glob.String())
	assert.Equal(t, "regex", Regex.String())
	assert.Equal(t, "Kind(7)", Kind(7).String())
}
