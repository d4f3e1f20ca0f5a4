// Package resolve turns an alias into a fully specified Connection.
//
// Resolution runs the same pipeline for the alias and for every gateway it
// needs: match the configured patterns, merge their options, expand markers
// and command substitutions, and build the gateway chain. A Resolver only
// reads its Config, so one Resolver may serve concurrent calls.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/die-net/hopssh/internal/config"
	"github.com/die-net/hopssh/internal/expand"
	"github.com/die-net/hopssh/internal/gateway"
	"github.com/die-net/hopssh/internal/merge"
	"github.com/die-net/hopssh/internal/options"
)

// DefaultPort is used when no port is configured.
const DefaultPort = "22"

// hopKeys are the options a gateway hop keeps from its own resolution.
var hopKeys = []string{
	options.Hostname,
	options.Port,
	options.User,
	options.Identity,
	options.ResolveCommand,
	options.ResolveNameservers,
	options.Gateways,
}

// Error wraps a resolution failure with the alias being resolved.
type Error struct {
	Alias string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Alias, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExpander sets the expander used for markers and command substitution.
func WithExpander(e *expand.Expander) Option {
	return func(r *Resolver) {
		r.expander = e
	}
}

// WithMaxDepth caps the number of gateway hops.
func WithMaxDepth(n int) Option {
	return func(r *Resolver) {
		r.builder.MaxDepth = n
	}
}

// WithLogger sets the logger for resolution diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// Resolver resolves aliases against a Config.
type Resolver struct {
	cfg      *config.Config
	expander *expand.Expander
	builder  gateway.Builder
	log      zerolog.Logger
}

// New returns a Resolver for cfg.
func New(cfg *config.Config, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:      cfg,
		expander: &expand.Expander{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves alias with a default Resolver.
func Resolve(ctx context.Context, cfg *config.Config, alias string) (Connection, error) {
	return New(cfg).Resolve(ctx, alias)
}

// Resolve returns the connection for alias. An alias of the form "a/b"
// reaches a through b, replacing a's configured gateways.
func (r *Resolver) Resolve(ctx context.Context, alias string) (Connection, error) {
	conn, err := r.resolve(ctx, alias)
	if err != nil {
		return Connection{}, &Error{Alias: alias, Err: err}
	}
	r.log.Debug().
		Str("alias", alias).
		Str("hostname", conn.Hostname).
		Strs("patterns", conn.Patterns).
		Int("hops", len(conn.Gateways)).
		Msg("resolved")
	return conn, nil
}

func (r *Resolver) resolve(ctx context.Context, alias string) (Connection, error) {
	head, via := gateway.SplitPath(alias)
	if head == "" {
		return Connection{}, errors.New("empty alias")
	}

	set, patterns, err := r.options(ctx, head, expand.Vars{Alias: head}, nil)
	if err != nil {
		return Connection{}, err
	}

	gateways := list(set, options.Gateways)
	if via != nil {
		gateways = via
	}
	hops, err := r.builder.Build(ctx, head, gateways, r.node)
	if err != nil {
		return Connection{}, err
	}

	return Connection{
		Alias:         head,
		Hostname:      hostnameOf(set, head),
		Port:          portOf(set),
		User:          set.Lookup(options.User),
		IdentityFiles: list(set, options.Identity),
		Flags:         list(set, options.Flags),
		Options:       set,
		Patterns:      patterns,
		Gateways:      hops,
	}, nil
}

// node resolves a gateway name into a hop.
func (r *Resolver) node(ctx context.Context, name string) (gateway.Node, error) {
	set, _, err := r.options(ctx, name, expand.Vars{Alias: name, Gateway: name}, hopKeys)
	if err != nil {
		return gateway.Node{}, fmt.Errorf("gateway %q: %w", name, err)
	}
	return gateway.Node{
		Hop: gateway.Hop{
			Name:          name,
			Kind:          gateway.HopSSH,
			Hostname:      hostnameOf(set, name),
			Port:          portOf(set),
			User:          set.Lookup(options.User),
			IdentityFiles: list(set, options.Identity),
		},
		Gateways: list(set, options.Gateways),
	}, nil
}

// options matches, merges and expands name. keep restricts the merged set
// before expansion. With no matching pattern the globals are expanded
// without their hostname: the name itself is the host.
func (r *Resolver) options(ctx context.Context, name string, vars expand.Vars, keep []string) (options.Set, []string, error) {
	var (
		merged   options.Set
		patterns []string
	)
	matches := r.cfg.Match(name)
	if len(matches) == 0 {
		merged = r.cfg.Global().Without(options.Hostname)
	} else {
		var err error
		merged, err = merge.Merge(matches, r.cfg.Global(), r.cfg.Lookup)
		if err != nil {
			return options.Set{}, nil, err
		}
		patterns = make([]string, 0, len(matches))
		for _, m := range matches {
			patterns = append(patterns, m.Name)
		}
		vars.Pattern = patterns[len(patterns)-1]
	}
	if keep != nil {
		merged = merged.Only(keep...)
	}
	vars.Port = DefaultPort

	set, err := r.expander.Expand(ctx, merged, vars)
	if err != nil {
		return options.Set{}, nil, err
	}
	return set, patterns, nil
}

func hostnameOf(set options.Set, name string) string {
	if h := set.Lookup(options.Hostname); h != "" {
		return h
	}
	return name
}

func portOf(set options.Set) string {
	if p := set.Lookup(options.Port); p != "" {
		return p
	}
	return DefaultPort
}

func list(set options.Set, key string) []string {
	v, ok := set.Get(key)
	if !ok {
		return nil
	}
	return v.List()
}
