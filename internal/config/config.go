// Package config loads hopssh configuration files into an immutable [Config].
//
// A configuration is a root YAML file plus everything it includes. Loading
// flattens the include graph into one ordered list of [HostPattern]s and one
// global option set. Files with a non-YAML extension are read as OpenSSH
// ssh_config files. Any structural problem (malformed source, missing include,
// include cycle) aborts the whole load.
package config

import (
	"fmt"
	"slices"

	"github.com/die-net/hopssh/internal/match"
	"github.com/die-net/hopssh/internal/options"
)

// Source locates a definition in a configuration file.
type Source struct {
	File   string
	Line   int
	Column int
}

func (s Source) String() string {
	switch {
	case s.File == "":
		return "<config>"
	case s.Line == 0:
		return s.File
	case s.Column == 0:
		return fmt.Sprintf("%s:%d", s.File, s.Line)
	default:
		return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Column)
	}
}

// HostPattern is one host section: a pattern, its aliases and the options it
// sets. Gateways live in Options under [options.Gateways].
type HostPattern struct {
	Name     string
	Aliases  []string
	Inherits []string
	Options  options.Set
	// Order is the declaration order across every loaded file.
	Order  int
	Source Source
	// Template patterns never match an alias; they exist to be inherited.
	Template bool

	rules []match.Rule
}

// NewHostPattern compiles name and aliases into a HostPattern.
func NewHostPattern(name string, aliases, inherits []string, opts options.Set, src Source) (HostPattern, error) {
	p := HostPattern{
		Name:     name,
		Aliases:  slices.Clone(aliases),
		Inherits: slices.Clone(inherits),
		Options:  opts,
		Source:   src,
	}
	for _, text := range append([]string{name}, aliases...) {
		r, err := match.Compile(text)
		if err != nil {
			return HostPattern{}, err
		}
		p.rules = append(p.rules, r)
	}
	return p, nil
}

// NewTemplate returns a HostPattern that can only be reached through
// inherits.
func NewTemplate(name string, inherits []string, opts options.Set, src Source) HostPattern {
	return HostPattern{
		Name:     name,
		Inherits: slices.Clone(inherits),
		Options:  opts,
		Source:   src,
		Template: true,
	}
}

// MatchRules implements match.Candidate.
func (p HostPattern) MatchRules() []match.Rule {
	return p.rules
}

// Kind returns the kind of the pattern's own name.
func (p HostPattern) Kind() match.Kind {
	if len(p.rules) == 0 {
		return match.Exact
	}
	return p.rules[0].Kind()
}

// Gateways returns the gateway names declared by the pattern.
func (p HostPattern) Gateways() []string {
	v, ok := p.Options.Get(options.Gateways)
	if !ok {
		return nil
	}
	return v.List()
}

// Config is a loaded configuration. It is never modified after Load returns
// and may be shared by concurrent resolutions.
type Config struct {
	global options.Set
	// all holds patterns and templates in declaration order; hosts only
	// the patterns.
	all   []HostPattern
	hosts []HostPattern
	files []string
	index map[string]int
}

// New builds a Config from already constructed patterns and templates,
// assigning declaration order from their position. Duplicate names keep the
// first.
func New(global options.Set, patterns ...HostPattern) *Config {
	c := &Config{global: global, index: make(map[string]int)}
	for _, p := range patterns {
		if _, dup := c.index[p.Name]; dup {
			continue
		}
		p.Order = len(c.all)
		c.index[p.Name] = len(c.all)
		c.all = append(c.all, p)
		if !p.Template {
			c.hosts = append(c.hosts, p)
		}
	}
	return c
}

// Global returns the global option set.
func (c *Config) Global() options.Set {
	return c.global
}

// Patterns returns the host patterns in declaration order, without
// templates.
func (c *Config) Patterns() []HostPattern {
	return slices.Clone(c.hosts)
}

// Templates returns the templates in declaration order.
func (c *Config) Templates() []HostPattern {
	var out []HostPattern
	for _, p := range c.all {
		if p.Template {
			out = append(out, p)
		}
	}
	return out
}

// Files returns the absolute paths of every loaded file in load order.
func (c *Config) Files() []string {
	return slices.Clone(c.files)
}

// Lookup returns the pattern or template declared with exactly this name.
func (c *Config) Lookup(name string) (HostPattern, bool) {
	i, ok := c.index[name]
	if !ok {
		return HostPattern{}, false
	}
	return c.all[i], true
}

// Match returns the patterns applying to alias, lowest precedence first.
// Templates never match.
func (c *Config) Match(alias string) []HostPattern {
	return match.Match(alias, c.hosts)
}
