// Package sshconfig converts between OpenSSH ssh_config files and hopssh
// option sets.
//
// Import reads an OpenSSH config so it can be included from a hopssh
// configuration. Export writes the static part of a hopssh configuration back
// out for tools that only understand OpenSSH, routing anything that needs
// gateways or dynamic hostnames through "hopssh connect".
package sshconfig

import (
	"fmt"
	"io"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/die-net/hopssh/internal/match"
	"github.com/die-net/hopssh/internal/options"
)

// Host is one Host block.
type Host struct {
	Name    string
	Aliases []string
	Options options.Set
	// Line is the 1-based line of the block's first directive, or 0.
	Line int
}

// Document is a decoded config: directives outside any Host block (and under
// "Host *") are global.
type Document struct {
	Global options.Set
	Hosts  []Host
}

// Import decodes an OpenSSH config.
func Import(r io.Reader) (Document, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return Document{}, fmt.Errorf("ssh_config: %w", err)
	}

	var doc Document
	for _, h := range cfg.Hosts {
		var names []string
		for _, p := range h.Patterns {
			names = append(names, p.String())
		}
		opts, line := importNodes(h.Nodes)

		if len(names) == 1 && names[0] == "*" {
			doc.Global = options.Fold(opts, doc.Global)
			continue
		}
		if len(names) == 0 {
			continue
		}
		doc.Hosts = append(doc.Hosts, Host{
			Name:    names[0],
			Aliases: names[1:],
			Options: opts,
			Line:    line,
		})
	}
	return doc, nil
}

// importNodes converts a block's directives. As in ssh, the first value of a
// directive wins; IdentityFile accumulates.
func importNodes(nodes []ssh_config.Node) (options.Set, int) {
	var (
		opts        options.Set
		passthrough options.Set
		line        int
	)
	for _, n := range nodes {
		kv, ok := n.(*ssh_config.KV)
		if !ok {
			continue
		}
		if line == 0 {
			line = kv.Pos().Line
		}
		value := strings.TrimSpace(kv.Value)

		switch key := strings.ToLower(kv.Key); key {
		case "hostname", "port", "user", options.ProxyCommand:
			if !opts.Has(key) {
				opts = opts.With(key, options.String(value))
			}
		case "identityfile":
			var ids []string
			if v, ok := opts.Get(options.Identity); ok {
				ids = v.List()
			}
			opts = opts.With(options.Identity, options.Strings(append(ids, value)...))
		case "proxyjump":
			if opts.Has(options.Gateways) {
				continue
			}
			var hops []string
			for _, hop := range strings.Split(value, ",") {
				if hop = strings.TrimSpace(hop); hop != "" {
					hops = append(hops, hop)
				}
			}
			if len(hops) == 1 && strings.EqualFold(hops[0], "none") {
				hops = []string{"direct"}
			}
			opts = opts.With(options.Gateways, options.Strings(hops...))
		default:
			if !passthrough.Has(kv.Key) {
				passthrough = passthrough.With(kv.Key, options.String(value))
			}
		}
	}
	if passthrough.Len() > 0 {
		opts = opts.With(options.SSHOptions, options.Nested(passthrough))
	}
	return opts, line
}

// Export writes doc as an OpenSSH config. Hosts are written most specific
// first because ssh applies the first value it obtains; globals go last under
// "Host *". Regex patterns have no OpenSSH equivalent and are returned as
// skipped. A host with gateways or a dynamic hostname is routed through
// "<self> connect %n".
func Export(w io.Writer, doc Document, self string) (skipped []string, err error) {
	var exact, globs []*ssh_config.Host
	for _, h := range doc.Hosts {
		var patterns []*ssh_config.Pattern
		kind := match.Exact
		for _, name := range append([]string{h.Name}, h.Aliases...) {
			r, err := match.Compile(name)
			if err != nil || r.Kind() == match.Regex {
				continue
			}
			if r.Kind() == match.Glob {
				kind = match.Glob
			}
			p, err := ssh_config.NewPattern(name)
			if err != nil {
				continue
			}
			patterns = append(patterns, p)
		}
		if len(patterns) == 0 {
			skipped = append(skipped, h.Name)
			continue
		}

		block := &ssh_config.Host{Patterns: patterns, Nodes: exportNodes(h.Options, self)}
		if kind == match.Glob {
			globs = append([]*ssh_config.Host{block}, globs...)
		} else {
			exact = append([]*ssh_config.Host{block}, exact...)
		}
	}

	all, err := ssh_config.NewPattern("*")
	if err != nil {
		return nil, err
	}
	cfg := ssh_config.Config{Hosts: append(exact, globs...)}
	if doc.Global.Len() > 0 {
		cfg.Hosts = append(cfg.Hosts, &ssh_config.Host{
			Patterns: []*ssh_config.Pattern{all},
			Nodes:    exportNodes(doc.Global.Without(options.Hostname), self),
		})
	}

	if _, err := io.WriteString(w, "# generated by hopssh build\n\n"+cfg.String()); err != nil {
		return nil, err
	}
	return skipped, nil
}

func exportNodes(opts options.Set, self string) []ssh_config.Node {
	var nodes []ssh_config.Node
	kv := func(key, value string) {
		nodes = append(nodes, &ssh_config.KV{Key: "    " + key, Value: value})
	}

	if needsConnect(opts) {
		kv("ProxyCommand", self+" connect %n")
	} else {
		if v := opts.Lookup(options.Hostname); v != "" {
			kv("HostName", v)
		}
		if v := opts.Lookup(options.ProxyCommand); v != "" {
			kv("ProxyCommand", v)
		}
	}
	if v := opts.Lookup(options.Port); v != "" {
		kv("Port", v)
	}
	if v := opts.Lookup(options.User); v != "" {
		kv("User", v)
	}
	if v, ok := opts.Get(options.Identity); ok {
		for _, id := range v.List() {
			kv("IdentityFile", id)
		}
	}

	opts.Each(func(key string, v options.Value) {
		switch key {
		case options.Hostname, options.Port, options.User, options.Identity, options.ProxyCommand,
			options.Flags, options.Gateways, options.ResolveCommand, options.ResolveNameservers:
			return
		case options.SSHOptions:
			v.Map().Each(func(k string, sub options.Value) {
				kv(k, sub.Scalar())
			})
		default:
			if v.Kind() != options.Map {
				kv(key, v.Scalar())
			}
		}
	})

	nodes = append(nodes, &ssh_config.Empty{})
	return nodes
}

// needsConnect reports whether ssh alone cannot reach a host with opts.
func needsConnect(opts options.Set) bool {
	if opts.Has(options.ResolveCommand) || opts.Has(options.ResolveNameservers) || dynamicHostname(opts.Lookup(options.Hostname)) {
		return true
	}
	if v, ok := opts.Get(options.Gateways); ok {
		for _, g := range v.List() {
			if g != "direct" && g != "none" {
				return true
			}
		}
	}
	return false
}

// dynamicHostname reports whether s needs hopssh to expand it. ssh's own
// HostName only understands %h and %%.
func dynamicHostname(s string) bool {
	if strings.Contains(s, "$") {
		return true
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		if i+1 == len(s) || (s[i+1] != 'h' && s[i+1] != '%') {
			return true
		}
		i++
	}
	return false
}
