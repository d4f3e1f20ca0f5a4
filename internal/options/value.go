package options

import (
	"slices"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	// Scalar is a single string value.
	Scalar Kind = iota
	// List is an ordered list of strings.
	List
	// Map is a nested Set.
	Map
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case List:
		return "list"
	case Map:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a single option value.
type Value struct {
	kind   Kind
	scalar string
	list   []string
	nested Set
}

// String returns a scalar Value.
func String(s string) Value {
	return Value{kind: Scalar, scalar: s}
}

// Strings returns a list Value holding a copy of items.
func Strings(items ...string) Value {
	return Value{kind: List, list: slices.Clone(items)}
}

// Nested returns a map Value.
func Nested(s Set) Value {
	return Value{kind: Map, nested: s.clone()}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind {
	return v.kind
}

// Scalar returns the string form of v. Lists are joined with commas, the
// way ssh accepts multi-valued options. Maps have no scalar form.
func (v Value) Scalar() string {
	switch v.kind {
	case Scalar:
		return v.scalar
	case List:
		return strings.Join(v.list, ",")
	case Map:
		return ""
	default:
		return ""
	}
}

// List returns v as a list. A scalar becomes a one-element list and a map
// yields nil.
func (v Value) List() []string {
	switch v.kind {
	case Scalar:
		if v.scalar == "" {
			return nil
		}
		return []string{v.scalar}
	case List:
		return slices.Clone(v.list)
	case Map:
		return nil
	default:
		return nil
	}
}

// Map returns the nested Set of a map value, or an empty Set.
func (v Value) Map() Set {
	if v.kind != Map {
		return Set{}
	}
	return v.nested.clone()
}

// Equal reports whether v and o hold the same variant and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Scalar:
		return v.scalar == o.scalar
	case List:
		return slices.Equal(v.list, o.list)
	case Map:
		return v.nested.Equal(o.nested)
	default:
		return false
	}
}

func (v Value) clone() Value {
	switch v.kind {
	case Scalar:
		return v
	case List:
		return Strings(v.list...)
	case Map:
		return Nested(v.nested)
	default:
		return v
	}
}

// mapStrings applies fn to every string inside v, recursing into maps.
func (v Value) mapStrings(fn func(key, s string) (string, error), key string) (Value, error) {
	switch v.kind {
	case Scalar:
		s, err := fn(key, v.scalar)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case List:
		out := make([]string, len(v.list))
		for i, s := range v.list {
			r, err := fn(key, s)
			if err != nil {
				return Value{}, err
			}
			out[i] = r
		}
		return Value{kind: List, list: out}, nil
	case Map:
		m, err := v.nested.MapStrings(fn)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: Map, nested: m}, nil
	default:
		return v, nil
	}
}
