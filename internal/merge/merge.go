// Package merge folds the host patterns matching an alias into one option set.
package merge

import (
	"slices"
	"strings"

	"github.com/die-net/hopssh/internal/config"
	"github.com/die-net/hopssh/internal/options"
)

// LookupFunc finds a pattern by its exact name.
type LookupFunc func(name string) (config.HostPattern, bool)

// InheritanceCycleError reports a pattern that inherits from itself, directly
// or not. Chain starts and ends with the repeated pattern.
type InheritanceCycleError struct {
	Chain []string
}

func (e *InheritanceCycleError) Error() string {
	return "inheritance cycle: " + strings.Join(e.Chain, " -> ")
}

// Merge folds global and then every match, lowest precedence first. Each
// match's inherited patterns are folded immediately beneath it in the order
// they are listed. The inputs are not modified.
func Merge(matches []config.HostPattern, global options.Set, lookup LookupFunc) (options.Set, error) {
	layers := []options.Set{global}
	for _, m := range matches {
		var err error
		layers, err = appendLayers(layers, m, lookup, nil)
		if err != nil {
			return options.Set{}, err
		}
	}
	return options.Fold(layers...), nil
}

// appendLayers appends p's inherited layers followed by p itself. visited is
// the chain of patterns currently being expanded.
func appendLayers(layers []options.Set, p config.HostPattern, lookup LookupFunc, visited []string) ([]options.Set, error) {
	if slices.Contains(visited, p.Name) {
		i := slices.Index(visited, p.Name)
		return nil, &InheritanceCycleError{Chain: append(slices.Clone(visited[i:]), p.Name)}
	}
	visited = append(visited, p.Name)

	for _, name := range p.Inherits {
		parent, ok := lookup(name)
		if !ok {
			return nil, &config.UnresolvedReferenceError{Kind: "inherits", Name: name, From: p.Name, Source: p.Source}
		}
		var err error
		layers, err = appendLayers(layers, parent, lookup, visited)
		if err != nil {
			return nil, err
		}
	}
	return append(layers, p.Options), nil
}
