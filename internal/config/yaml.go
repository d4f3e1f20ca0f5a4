package config

import (
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/die-net/hopssh/internal/options"
)

// Reserved keys.
const (
	keyIncludes  = "includes"
	keyHosts     = "hosts"
	keyTemplates = "templates"
	keyDefaults  = "defaults"
	keyAliases   = "aliases"
	keyInherits  = "inherits"
	keyGateway   = "gateway"
)

// document is the content of one file before includes are followed.
type document struct {
	global   options.Set
	hosts    []hostDecl
	includes []includeDecl
}

type hostDecl struct {
	name     string
	aliases  []string
	inherits []string
	options  options.Set
	src      Source
	template bool
}

type includeDecl struct {
	path string
	src  Source
}

var yamlErrLine = regexp.MustCompile(`^yaml: line (\d+): (.*)$`)

func parseYAML(file string, data []byte) (document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		src := Source{File: file}
		msg := err.Error()
		if m := yamlErrLine.FindStringSubmatch(msg); m != nil {
			src.Line, _ = strconv.Atoi(m[1])
			msg = m[2]
		}
		return document{}, &ParseError{Source: src, Msg: msg}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return document{}, nil
	}

	top := root.Content[0]
	if top.Kind == yaml.ScalarNode && top.ShortTag() == "!!null" {
		return document{}, nil
	}
	if top.Kind != yaml.MappingNode {
		return document{}, nodeError(file, top, "top level must be a mapping")
	}

	var doc document
	for i := 0; i+1 < len(top.Content); i += 2 {
		k, v := top.Content[i], top.Content[i+1]
		switch key := strings.ToLower(k.Value); key {
		case keyIncludes:
			paths, err := parseStrings(file, v)
			if err != nil {
				return document{}, err
			}
			for _, p := range paths {
				doc.includes = append(doc.includes, includeDecl{path: p, src: position(file, v)})
			}
		case keyHosts:
			hosts, err := parseHosts(file, v)
			if err != nil {
				return document{}, err
			}
			doc.hosts = append(doc.hosts, hosts...)
		case keyTemplates:
			templates, err := parseHosts(file, v)
			if err != nil {
				return document{}, err
			}
			for _, h := range templates {
				if len(h.aliases) > 0 {
					return document{}, &ParseError{Source: h.src, Msg: "template " + strconv.Quote(h.name) + " cannot have aliases"}
				}
				h.template = true
				doc.hosts = append(doc.hosts, h)
			}
		case keyDefaults:
			defaults, err := parseOptions(file, v)
			if err != nil {
				return document{}, err
			}
			doc.global = options.Fold(doc.global, defaults)
		default:
			key, val, err := parseOption(file, key, v)
			if err != nil {
				return document{}, err
			}
			doc.global = options.Fold(doc.global, options.Set{}.With(key, val))
		}
	}
	return doc, nil
}

func parseHosts(file string, n *yaml.Node) ([]hostDecl, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, nodeError(file, n, "hosts must be a mapping")
	}

	var hosts []hostDecl
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Value == "" {
			return nil, nodeError(file, k, "empty host pattern")
		}
		h := hostDecl{name: k.Value, src: position(file, k)}
		v = resolveAlias(v)

		if !isNull(v) && v.Kind != yaml.MappingNode {
			return nil, nodeError(file, v, "host "+strconv.Quote(k.Value)+" must be a mapping")
		}
		for j := 0; j+1 < len(v.Content); j += 2 {
			hk, hv := v.Content[j], v.Content[j+1]
			switch key := strings.ToLower(hk.Value); key {
			case keyAliases:
				aliases, err := parseStrings(file, hv)
				if err != nil {
					return nil, err
				}
				h.aliases = append(h.aliases, aliases...)
			case keyInherits:
				inherits, err := parseStrings(file, hv)
				if err != nil {
					return nil, err
				}
				h.inherits = append(h.inherits, inherits...)
			default:
				key, val, err := parseOption(file, key, hv)
				if err != nil {
					return nil, err
				}
				h.options = h.options.With(key, val)
			}
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// parseOptions reads a mapping of options. Top-level keys are lower-cased.
func parseOptions(file string, n *yaml.Node) (options.Set, error) {
	var s options.Set
	if isNull(n) {
		return s, nil
	}
	if n.Kind != yaml.MappingNode {
		return s, nodeError(file, n, "expected a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val, err := parseOption(file, strings.ToLower(n.Content[i].Value), n.Content[i+1])
		if err != nil {
			return options.Set{}, err
		}
		s = s.With(key, val)
	}
	return s, nil
}

// parseOption reads one lower-cased option. "gateway" is an alias of
// "gateways", and gateways are always a list.
func parseOption(file, key string, n *yaml.Node) (string, options.Value, error) {
	switch key {
	case options.Gateways, keyGateway:
		gateways, err := parseStrings(file, n)
		if err != nil {
			return "", options.Value{}, err
		}
		return options.Gateways, options.Strings(gateways...), nil
	default:
		val, err := parseValue(file, n)
		if err != nil {
			return "", options.Value{}, err
		}
		return key, val, nil
	}
}

// parseValue converts a node to an option Value. Nested mappings keep their
// keys as written since they are passed to ssh verbatim; keys differing only
// in case collapse into the first spelling, the last value winning.
func parseValue(file string, n *yaml.Node) (options.Value, error) {
	n = resolveAlias(n)
	switch n.Kind {
	case yaml.ScalarNode:
		if isNull(n) {
			return options.String(""), nil
		}
		return options.String(n.Value), nil
	case yaml.SequenceNode:
		items, err := parseStrings(file, n)
		if err != nil {
			return options.Value{}, err
		}
		return options.Strings(items...), nil
	case yaml.MappingNode:
		var nested options.Set
		for i := 0; i+1 < len(n.Content); i += 2 {
			val, err := parseValue(file, n.Content[i+1])
			if err != nil {
				return options.Value{}, err
			}
			nested = nested.WithFold(n.Content[i].Value, val)
		}
		return options.Nested(nested), nil
	default:
		return options.Value{}, nodeError(file, n, "unsupported value")
	}
}

// parseStrings accepts a scalar or a sequence of scalars.
func parseStrings(file string, n *yaml.Node) ([]string, error) {
	n = resolveAlias(n)
	switch {
	case isNull(n):
		return nil, nil
	case n.Kind == yaml.ScalarNode:
		return []string{n.Value}, nil
	case n.Kind == yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			item = resolveAlias(item)
			if item.Kind != yaml.ScalarNode {
				return nil, nodeError(file, item, "expected a string")
			}
			out = append(out, item.Value)
		}
		return out, nil
	default:
		return nil, nodeError(file, n, "expected a string or a list of strings")
	}
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func position(file string, n *yaml.Node) Source {
	return Source{File: file, Line: n.Line, Column: n.Column}
}

func nodeError(file string, n *yaml.Node, msg string) error {
	return &ParseError{Source: position(file, n), Msg: msg}
}
