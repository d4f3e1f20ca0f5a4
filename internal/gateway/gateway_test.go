package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/hopssh/internal/config"
)

// graph resolves names from a static map; unknown names are literal hosts.
func graph(gateways map[string][]string) ResolveFunc {
	return func(_ context.Context, name string) (Node, error) {
		return Node{
			Hop:      Hop{Name: name, Hostname: name + ".example", Port: "22"},
			Gateways: gateways[name],
		}, nil
	}
}

func hopNames(hops []Hop) []string {
	var out []string
	for _, h := range hops {
		out = append(out, h.Name)
	}
	return out
}

func TestBuild(t *testing.T) {
	t.Parallel()

	resolve := graph(map[string][]string{
		"internal": {"jump"},
		"deep":     {"internal"},
		"pair":     {"a", "b"},
		"b":        {"c"},
		"cancel":   {"direct", "jump"},
	})

	tests := []struct {
		name     string
		alias    string
		gateways []string
		want     []string
	}{
		{name: "none", alias: "x", gateways: nil, want: nil},
		{name: "direct", alias: "x", gateways: []string{"direct"}, want: nil},
		{name: "one hop", alias: "internal", gateways: []string{"jump"}, want: []string{"jump"}},
		{name: "nested", alias: "x", gateways: []string{"deep"}, want: []string{"jump", "internal", "deep"}},
		{name: "sequence", alias: "x", gateways: []string{"pair"}, want: []string{"a", "c", "b", "pair"}},
		{name: "direct skipped", alias: "x", gateways: []string{"cancel"}, want: []string{"jump", "cancel"}},
		{name: "host path", alias: "x", gateways: []string{"internal/other"}, want: []string{"other", "internal"}},
		{name: "host path chain", alias: "x", gateways: []string{"a/b/c"}, want: []string{"c", "b", "a"}},
		{name: "proxy first", alias: "x", gateways: []string{"socks5://proxy:1080", "jump"}, want: []string{"socks5://proxy:1080", "jump"}},
		{name: "same gateway twice in sequence", alias: "x", gateways: []string{"jump", "jump"}, want: []string{"jump", "jump"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hops, err := Builder{}.Build(context.Background(), tt.alias, tt.gateways, resolve)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hopNames(hops))
		})
	}
}

func TestBuildHopFields(t *testing.T) {
	t.Parallel()

	hops, err := Builder{}.Build(context.Background(), "x", []string{"http://user@proxy", "jump"}, graph(nil))
	require.NoError(t, err)
	require.Len(t, hops, 2)

	assert.Equal(t, HopHTTP, hops[0].Kind)
	assert.Equal(t, "proxy:80", hops[0].Address())
	assert.Equal(t, "user", hops[0].User)
	assert.Equal(t, HopSSH, hops[1].Kind)
	assert.Equal(t, "jump.example:22", hops[1].Address())
}

func TestBuildCycle(t *testing.T) {
	t.Parallel()

	resolve := graph(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {"d"},
		"d": {"e"},
		"e": {"c"},
	})

	_, err := Builder{}.Build(context.Background(), "a", []string{"b"}, resolve)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "a"}, cycle.Chain)
	assert.EqualError(t, err, "gateway cycle: a -> b -> a")

	_, err = Builder{}.Build(context.Background(), "x", []string{"c"}, resolve)
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"x", "c", "d", "e", "c"}, cycle.Chain)

	_, err = Builder{}.Build(context.Background(), "self", []string{"self"}, resolve)
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"self", "self"}, cycle.Chain)

	_, err = Builder{}.Build(context.Background(), "a/b", []string{"b"}, resolve)
	require.ErrorAs(t, err, &cycle)
}

func TestBuildDepth(t *testing.T) {
	t.Parallel()

	chain := make(map[string][]string)
	for i := range 20 {
		chain[fmt.Sprintf("h%d", i)] = []string{fmt.Sprintf("h%d", i+1)}
	}

	_, err := Builder{MaxDepth: 3}.Build(context.Background(), "x", []string{"h0"}, graph(chain))
	var depth *DepthExceededError
	require.ErrorAs(t, err, &depth)
	assert.Equal(t, 3, depth.Limit)

	hops, err := Builder{MaxDepth: 3}.Build(context.Background(), "x", []string{"h18"}, graph(chain))
	require.NoError(t, err)
	assert.Equal(t, []string{"h20", "h19", "h18"}, hopNames(hops))
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	_, err := Builder{}.Build(context.Background(), "x", []string{""}, graph(nil))
	var unresolved *config.UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "x", unresolved.From)

	_, err = Builder{}.Build(context.Background(), "x", []string{"jump", "socks5://proxy"}, graph(nil))
	assert.True(t, errors.Is(err, ErrProxyNotFirst))

	_, err = Builder{}.Build(context.Background(), "x", []string{"ftp://proxy"}, graph(nil))
	assert.ErrorContains(t, err, "unsupported scheme")

	boom := errors.New("boom")
	_, err = Builder{}.Build(context.Background(), "x", []string{"jump"}, func(context.Context, string) (Node, error) {
		return Node{}, boom
	})
	assert.True(t, errors.Is(err, boom))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Builder{}.Build(ctx, "x", []string{"jump"}, graph(nil))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSplitPath(t *testing.T) {
	t.Parallel()

	head, via := SplitPath("a/b/c")
	assert.Equal(t, "a", head)
	assert.Equal(t, []string{"b/c"}, via)

	head, via = SplitPath("a")
	assert.Equal(t, "a", head)
	assert.Nil(t, via)

	head, via = SplitPath("socks5://proxy:1080")
	assert.Equal(t, "socks5://proxy:1080", head)
	assert.Nil(t, via)
}
