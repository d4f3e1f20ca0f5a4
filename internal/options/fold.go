package options

import "slices"

// replaceLists names top-level list options that a higher layer replaces
// instead of extending. A gateway list is a route, not an accumulation.
var replaceLists = []string{Gateways}

// Fold merges layers from lowest to highest precedence into a new Set.
//
// Scalars in a later layer overwrite earlier ones, lists are appended (except
// gateways, which are replaced), nested maps are merged key by key ignoring
// case, and a value whose kind differs from the accumulated one overwrites
// it. The inputs are never modified.
func Fold(layers ...Set) Set {
	var out Set
	for _, layer := range layers {
		out = merge(out, layer, true)
	}
	return out
}

func merge(dst, src Set, top bool) Set {
	out := dst.clone()
	for _, sk := range src.keys {
		sv := src.values[sk]
		k := sk
		if !top {
			k = out.foldKey(sk)
		}
		dv, ok := out.values[k]
		if !ok {
			out.set(k, sv.clone())
			continue
		}
		out.set(k, combine(k, dv, sv, top))
	}
	return out
}

func combine(key string, dst, src Value, top bool) Value {
	if dst.kind != src.kind {
		return src.clone()
	}
	switch src.kind {
	case Scalar:
		return src
	case List:
		if top && slices.Contains(replaceLists, key) {
			return src.clone()
		}
		return Strings(append(slices.Clone(dst.list), src.list...)...)
	case Map:
		return Value{kind: Map, nested: merge(dst.nested, src.nested, false)}
	default:
		return src.clone()
	}
}
