package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/die-net/hopssh/internal/options"
	"github.com/die-net/hopssh/internal/sshconfig"
)

// LoadOption configures Load.
type LoadOption func(*loader)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(log zerolog.Logger) LoadOption {
	return func(l *loader) {
		l.log = log
	}
}

// WithEnv sets the lookup used to expand $VARS and ~ in include paths.
func WithEnv(getenv func(string) string) LoadOption {
	return func(l *loader) {
		l.getenv = getenv
	}
}

type loader struct {
	log    zerolog.Logger
	getenv func(string) string

	// stack holds the files currently being loaded, outermost first.
	stack    []string
	loaded   map[string]bool
	files    []string
	globals  []options.Set
	patterns []HostPattern
	index    map[string]int
}

// Load reads the configuration rooted at path and every file it includes.
func Load(path string, opts ...LoadOption) (*Config, error) {
	l := &loader{
		log:    zerolog.Nop(),
		getenv: os.Getenv,
		loaded: make(map[string]bool),
		index:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}

	root, err := filepath.Abs(l.expand(path))
	if err != nil {
		return nil, err
	}
	if err := l.load(root); err != nil {
		return nil, err
	}

	// Files loaded first take precedence: fold the rest beneath them.
	globals := slices.Clone(l.globals)
	slices.Reverse(globals)

	l.log.Debug().Int("files", len(l.files)).Int("patterns", len(l.patterns)).Msg("config loaded")
	cfg := New(options.Fold(globals...), l.patterns...)
	cfg.files = l.files
	return cfg, nil
}

func (l *loader) load(path string) error {
	if i := slices.Index(l.stack, path); i >= 0 {
		chain := append(slices.Clone(l.stack[i:]), path)
		return &IncludeCycleError{Chain: chain}
	}
	if l.loaded[path] {
		l.log.Debug().Str("file", path).Msg("already loaded")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	l.loaded[path] = true
	l.files = append(l.files, path)
	l.stack = append(l.stack, path)
	defer func() {
		l.stack = l.stack[:len(l.stack)-1]
	}()

	doc, err := parseFile(path, data)
	if err != nil {
		return err
	}
	l.globals = append(l.globals, doc.global)

	for _, h := range doc.hosts {
		if _, dup := l.index[h.name]; dup {
			l.log.Debug().Str("pattern", h.name).Stringer("source", h.src).Msg("duplicate pattern ignored")
			continue
		}
		var (
			p   HostPattern
			err error
		)
		if h.template {
			p = NewTemplate(h.name, h.inherits, h.options, h.src)
		} else if p, err = NewHostPattern(h.name, h.aliases, h.inherits, h.options, h.src); err != nil {
			return &ParseError{Source: h.src, Msg: "invalid pattern", Err: err}
		}
		p.Order = len(l.patterns)
		l.index[h.name] = p.Order
		l.patterns = append(l.patterns, p)
	}

	dir := filepath.Dir(path)
	for _, inc := range doc.includes {
		if err := l.include(dir, inc); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) include(dir string, inc includeDecl) error {
	target := l.expand(inc.path)
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	target = filepath.Clean(target)

	if !hasMeta(target) {
		err := l.load(target)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: include %q: %w", inc.src, inc.path, err)
		}
		return err
	}

	matches, err := filepath.Glob(target)
	if err != nil {
		return &ParseError{Source: inc.src, Msg: "invalid include pattern " + strings.TrimSpace(inc.path), Err: err}
	}
	if len(matches) == 0 {
		l.log.Debug().Str("include", inc.path).Msg("include matched no files")
	}
	for _, m := range matches {
		if err := l.load(m); err != nil {
			return err
		}
	}
	return nil
}

// expand replaces a leading ~ with the home directory and $VARS from the
// environment.
func (l *loader) expand(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home := l.getenv("HOME")
		if home == "" {
			home, _ = os.UserHomeDir()
		}
		path = home + path[1:]
	}
	return os.Expand(path, l.getenv)
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, `*?[`)
}

func parseFile(path string, data []byte) (document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return parseYAML(path, data)
	default:
		return parseOpenSSH(path, data)
	}
}

func parseOpenSSH(path string, data []byte) (document, error) {
	imported, err := sshconfig.Import(bytes.NewReader(data))
	if err != nil {
		return document{}, &ParseError{Source: Source{File: path}, Msg: "invalid ssh config", Err: err}
	}

	doc := document{global: imported.Global}
	for _, h := range imported.Hosts {
		doc.hosts = append(doc.hosts, hostDecl{
			name:    h.Name,
			aliases: h.Aliases,
			options: h.Options,
			src:     Source{File: path, Line: h.Line},
		})
	}
	return doc, nil
}
