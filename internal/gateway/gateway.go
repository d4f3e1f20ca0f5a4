// Package gateway turns gateway names into an ordered chain of hops.
//
// Gateways are traversed in sequence, like OpenSSH's ProxyJump: for each
// gateway g, the chain needed to reach g comes first, then g itself. The
// first hop of the result is the one nearest to the caller and the last hop
// connects to the target.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/die-net/hopssh/internal/config"
)

// DefaultMaxDepth caps the number of hops in a chain.
const DefaultMaxDepth = 8

// Direct is the gateway name meaning "no gateway". A more specific pattern
// uses it to cancel the gateways of a broader one.
const Direct = "direct"

// HopKind is how a hop is traversed.
type HopKind int

const (
	// HopSSH is an SSH server forwarding to the next hop.
	HopSSH HopKind = iota
	// HopSOCKS5 is a SOCKS5 proxy.
	HopSOCKS5
	// HopHTTP is an HTTP CONNECT proxy.
	HopHTTP
)

func (k HopKind) String() string {
	switch k {
	case HopSSH:
		return "ssh"
	case HopSOCKS5:
		return "socks5"
	case HopHTTP:
		return "http"
	default:
		return fmt.Sprintf("HopKind(%d)", int(k))
	}
}

// Hop is one resolved gateway.
type Hop struct {
	// Name is the gateway name as configured. For proxy hops it is the
	// proxy URL.
	Name          string
	Kind          HopKind
	Hostname      string
	Port          string
	User          string
	IdentityFiles []string
}

// Address returns the hop's host:port.
func (h Hop) Address() string {
	return net.JoinHostPort(h.Hostname, h.Port)
}

// Node is a resolved gateway name: its hop and the gateways needed to reach
// it.
type Node struct {
	Hop      Hop
	Gateways []string
}

// ResolveFunc resolves a gateway name.
type ResolveFunc func(ctx context.Context, name string) (Node, error)

// CycleError reports a gateway that is needed to reach itself.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "gateway cycle: " + strings.Join(e.Chain, " -> ")
}

// DepthExceededError reports a chain longer than the configured limit.
type DepthExceededError struct {
	Limit int
	Chain []string
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("gateway chain exceeds %d hops: %s", e.Limit, strings.Join(e.Chain, " -> "))
}

// ErrProxyNotFirst is returned for a SOCKS5 or HTTP proxy gateway that is not
// the hop nearest to the caller.
var ErrProxyNotFirst = errors.New("proxy gateways must be the first hop")

// SplitPath splits a host path "a/b/c" (a through b through c) into its head
// and the gateways given by the rest. A plain name has no path gateways.
func SplitPath(name string) (string, []string) {
	if IsProxy(name) {
		return name, nil
	}
	head, rest, ok := strings.Cut(name, "/")
	if !ok || rest == "" {
		return name, nil
	}
	return head, []string{rest}
}

// IsProxy reports whether name is a SOCKS5 or HTTP proxy URL.
func IsProxy(name string) bool {
	return strings.Contains(name, "://")
}

// ProxyHop parses a proxy URL into a hop.
func ProxyHop(name string) (Hop, error) {
	u, err := url.Parse(name)
	if err != nil {
		return Hop{}, fmt.Errorf("gateway %q: %w", name, err)
	}
	hop := Hop{Name: name, Hostname: u.Hostname(), Port: u.Port()}
	switch strings.ToLower(u.Scheme) {
	case "socks5", "socks5h":
		hop.Kind = HopSOCKS5
		if hop.Port == "" {
			hop.Port = "1080"
		}
	case "http":
		hop.Kind = HopHTTP
		if hop.Port == "" {
			hop.Port = "80"
		}
	case "https":
		hop.Kind = HopHTTP
		if hop.Port == "" {
			hop.Port = "443"
		}
	default:
		return Hop{}, fmt.Errorf("gateway %q: unsupported scheme %q", name, u.Scheme)
	}
	if hop.Hostname == "" {
		return Hop{}, fmt.Errorf("gateway %q: missing host", name)
	}
	if u.User != nil {
		hop.User = u.User.Username()
	}
	return hop, nil
}

// Builder builds gateway chains. The zero Builder uses DefaultMaxDepth.
type Builder struct {
	MaxDepth int
}

// Build returns the hops needed to reach alias through gateways. Each
// gateway name is resolved with resolve; a name that is being expanded
// further up the chain is a CycleError.
func (b Builder) Build(ctx context.Context, alias string, gateways []string, resolve ResolveFunc) ([]Hop, error) {
	head, _ := SplitPath(alias)
	w := walker{limit: b.maxDepth(), resolve: resolve, stack: []string{head}}
	if err := w.walk(ctx, gateways); err != nil {
		return nil, err
	}

	for i, h := range w.hops {
		if i > 0 && h.Kind != HopSSH {
			return nil, fmt.Errorf("gateway %q: %w", h.Name, ErrProxyNotFirst)
		}
	}
	return w.hops, nil
}

func (b Builder) maxDepth() int {
	if b.MaxDepth > 0 {
		return b.MaxDepth
	}
	return DefaultMaxDepth
}

type walker struct {
	limit   int
	resolve ResolveFunc
	// stack holds the alias and the gateways currently being expanded.
	stack []string
	hops  []Hop
}

func (w *walker) walk(ctx context.Context, gateways []string) error {
	for _, name := range gateways {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.visit(ctx, strings.TrimSpace(name)); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) visit(ctx context.Context, name string) error {
	switch {
	case name == "":
		return &config.UnresolvedReferenceError{Kind: "gateway", Name: name, From: w.stack[len(w.stack)-1]}
	case name == Direct || name == "none":
		return nil
	case IsProxy(name):
		hop, err := ProxyHop(name)
		if err != nil {
			return err
		}
		return w.push(hop)
	}

	head, via := SplitPath(name)
	if slices.Contains(w.stack, head) {
		return &CycleError{Chain: append(slices.Clone(w.stack), head)}
	}

	node, err := w.resolve(ctx, head)
	if err != nil {
		return err
	}
	gateways := node.Gateways
	if via != nil {
		gateways = via
	}

	w.stack = append(w.stack, head)
	err = w.walk(ctx, gateways)
	w.stack = w.stack[:len(w.stack)-1]
	if err != nil {
		return err
	}

	if node.Hop.Name == "" {
		node.Hop.Name = head
	}
	return w.push(node.Hop)
}

func (w *walker) push(h Hop) error {
	w.hops = append(w.hops, h)
	if len(w.hops) > w.limit {
		chain := make([]string, 0, len(w.hops)+1)
		for _, h := range w.hops {
			chain = append(chain, h.Name)
		}
		return &DepthExceededError{Limit: w.limit, Chain: append(chain, w.stack[0])}
	}
	return nil
}
