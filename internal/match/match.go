// Package match classifies host pattern strings and selects the patterns that
// apply to an alias.
//
// A pattern is one of three kinds, from least to most specific:
//
//   - Regex: text wrapped in slashes ("/db[0-9]+/"), matched against the whole
//     alias.
//   - Glob: text containing '*', '?' or '[', matched with path.Match.
//   - Exact: anything else, compared literally.
//
// Every matching pattern is kept. The result is ordered lowest precedence
// first: by kind (regex, glob, exact) and then by declaration order, which is
// the order the option merger folds them in.
package match

import (
	"cmp"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"
)

// Kind is the kind of a pattern. Higher values are more specific.
type Kind int

const (
	// Regex patterns are the least specific.
	Regex Kind = iota
	// Glob patterns use shell wildcards.
	Glob
	// Exact patterns equal the alias literally.
	Exact
)

func (k Kind) String() string {
	switch k {
	case Regex:
		return "regex"
	case Glob:
		return "glob"
	case Exact:
		return "exact"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Rule is a compiled pattern string.
type Rule struct {
	kind Kind
	text string
	re   *regexp.Regexp
}

// Compile classifies text and compiles it into a Rule.
func Compile(text string) (Rule, error) {
	switch {
	case text == "":
		return Rule{}, fmt.Errorf("empty pattern")
	case len(text) >= 2 && strings.HasPrefix(text, "/") && strings.HasSuffix(text, "/"):
		re, err := regexp.Compile("^(?:" + text[1:len(text)-1] + ")$")
		if err != nil {
			return Rule{}, fmt.Errorf("pattern %q: %w", text, err)
		}
		return Rule{kind: Regex, text: text, re: re}, nil
	case strings.ContainsAny(text, "*?["):
		if _, err := path.Match(text, ""); err != nil {
			return Rule{}, fmt.Errorf("pattern %q: %w", text, err)
		}
		return Rule{kind: Glob, text: text}, nil
	default:
		return Rule{kind: Exact, text: text}, nil
	}
}

// MustCompile is like Compile but panics on error.
func MustCompile(text string) Rule {
	r, err := Compile(text)
	if err != nil {
		panic(err)
	}
	return r
}

// Kind returns the rule's kind.
func (r Rule) Kind() Kind {
	return r.kind
}

// String returns the pattern text the rule was compiled from.
func (r Rule) String() string {
	return r.text
}

// Matches reports whether alias satisfies the rule.
func (r Rule) Matches(alias string) bool {
	switch r.kind {
	case Exact:
		return r.text == alias
	case Glob:
		ok, _ := path.Match(r.text, alias)
		return ok
	case Regex:
		return r.re.MatchString(alias)
	default:
		return false
	}
}

// Candidate is anything carrying compiled rules: a pattern name followed by
// its aliases.
type Candidate interface {
	MatchRules() []Rule
}

// Best returns the most specific kind among c's rules that match alias.
func Best(c Candidate, alias string) (Kind, bool) {
	best, found := Regex, false
	for _, r := range c.MatchRules() {
		if !r.Matches(alias) {
			continue
		}
		if !found || r.kind > best {
			best, found = r.kind, true
		}
	}
	return best, found
}

// Match returns the candidates matching alias ordered from lowest to highest
// precedence. candidates must be in declaration order.
func Match[C Candidate](alias string, candidates []C) []C {
	type hit struct {
		kind  Kind
		order int
	}
	var hits []hit
	for i, c := range candidates {
		if k, ok := Best(c, alias); ok {
			hits = append(hits, hit{kind: k, order: i})
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(a.kind, b.kind); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})

	out := make([]C, 0, len(hits))
	for _, h := range hits {
		out = append(out, candidates[h.order])
	}
	return out
}
