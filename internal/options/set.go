package options

import (
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known option names. Names are stored lower-cased by the config loader.
const (
	Hostname           = "hostname"
	Port               = "port"
	User               = "user"
	Identity           = "identity"
	Flags              = "flags"
	SSHOptions         = "options"
	Gateways           = "gateways"
	ResolveCommand     = "resolve_command"
	ResolveNameservers = "resolve_nameservers"
	ProxyCommand       = "proxycommand"
)

// Set is an insertion-ordered mapping of option name to Value. The zero Set
// is empty and ready to use.
type Set struct {
	keys   []string
	values map[string]Value
}

// Len returns the number of options in s.
func (s Set) Len() int {
	return len(s.keys)
}

// Keys returns the option names in insertion order.
func (s Set) Keys() []string {
	return slices.Clone(s.keys)
}

// Get returns the value stored under key.
func (s Set) Get(key string) (Value, bool) {
	v, ok := s.values[key]
	if !ok {
		return Value{}, false
	}
	return v.clone(), true
}

// Lookup returns the scalar form of key, or "" when unset.
func (s Set) Lookup(key string) string {
	v, ok := s.values[key]
	if !ok {
		return ""
	}
	return v.Scalar()
}

// Has reports whether key is set.
func (s Set) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// With returns a copy of s with key set to v. An existing key keeps its
// position.
func (s Set) With(key string, v Value) Set {
	out := s.clone()
	out.set(key, v.clone())
	return out
}

// WithFold is like With, but a key already present under a different case
// is replaced in place and keeps its original spelling. ssh option names are
// case-insensitive.
func (s Set) WithFold(key string, v Value) Set {
	return s.With(s.foldKey(key), v)
}

// foldKey returns the key of s equal to key under case folding, or key.
func (s Set) foldKey(key string) string {
	if _, ok := s.values[key]; ok {
		return key
	}
	for _, k := range s.keys {
		if strings.EqualFold(k, key) {
			return k
		}
	}
	return key
}

// Without returns a copy of s without the given keys.
func (s Set) Without(keys ...string) Set {
	var out Set
	for _, k := range s.keys {
		if slices.Contains(keys, k) {
			continue
		}
		out.set(k, s.values[k].clone())
	}
	return out
}

// Only returns a copy of s restricted to the given keys, in s's order.
func (s Set) Only(keys ...string) Set {
	var out Set
	for _, k := range s.keys {
		if !slices.Contains(keys, k) {
			continue
		}
		out.set(k, s.values[k].clone())
	}
	return out
}

// Each calls fn for every option in order.
func (s Set) Each(fn func(key string, v Value)) {
	for _, k := range s.keys {
		fn(k, s.values[k].clone())
	}
}

// Equal reports whether s and o hold the same keys in the same order with
// equal values.
func (s Set) Equal(o Set) bool {
	if !slices.Equal(s.keys, o.keys) {
		return false
	}
	for _, k := range s.keys {
		if !s.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}

// MapStrings returns a copy of s with fn applied to every string value,
// including list items and nested maps. The first error aborts the walk and
// no partial Set is returned.
func (s Set) MapStrings(fn func(key, value string) (string, error)) (Set, error) {
	var out Set
	for _, k := range s.keys {
		v, err := s.values[k].mapStrings(fn, k)
		if err != nil {
			return Set{}, err
		}
		out.set(k, v)
	}
	return out, nil
}

// MarshalYAML renders s as an ordered YAML mapping.
func (s Set) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range s.keys {
		vn, err := s.values[k].node()
		if err != nil {
			return nil, err
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, vn)
	}
	return n, nil
}

func (v Value) node() (*yaml.Node, error) {
	switch v.kind {
	case Scalar:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: v.scalar}, nil
	case List:
		n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, item := range v.list {
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: item})
		}
		return n, nil
	case Map:
		m, err := v.nested.MarshalYAML()
		if err != nil {
			return nil, err
		}
		return m.(*yaml.Node), nil
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"}, nil
	}
}

func (s *Set) set(key string, v Value) {
	if s.values == nil {
		s.values = make(map[string]Value)
	}
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = v
}

func (s Set) clone() Set {
	var out Set
	for _, k := range s.keys {
		out.set(k, s.values[k].clone())
	}
	return out
}
