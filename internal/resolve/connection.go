package resolve

import (
	"net"

	"github.com/die-net/hopssh/internal/gateway"
	"github.com/die-net/hopssh/internal/options"
)

// Connection is a fully resolved alias. It is built fresh for every call.
type Connection struct {
	Alias         string
	Hostname      string
	Port          string
	User          string
	IdentityFiles []string
	// Flags are raw ssh arguments.
	Flags []string
	// Options holds every expanded option, including the well-known ones.
	Options options.Set
	// Patterns names the matched patterns in merge order.
	Patterns []string
	// Gateways lists the hops, nearest to the caller first.
	Gateways []gateway.Hop
}

// Address returns the target's host:port.
func (c Connection) Address() string {
	return net.JoinHostPort(c.Hostname, c.Port)
}

type hopYAML struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Address  string   `yaml:"address"`
	User     string   `yaml:"user,omitempty"`
	Identity []string `yaml:"identity,omitempty,flow"`
}

type connectionYAML struct {
	Alias    string       `yaml:"alias"`
	Hostname string       `yaml:"hostname"`
	Port     string       `yaml:"port"`
	User     string       `yaml:"user,omitempty"`
	Identity []string     `yaml:"identity,omitempty,flow"`
	Flags    []string     `yaml:"flags,omitempty,flow"`
	Patterns []string     `yaml:"patterns,omitempty,flow"`
	Gateways []hopYAML    `yaml:"gateways,omitempty"`
	Options  *options.Set `yaml:"ssh_options,omitempty"`
}

// MarshalYAML renders the connection for "hopssh resolve".
func (c Connection) MarshalYAML() (any, error) {
	out := connectionYAML{
		Alias:    c.Alias,
		Hostname: c.Hostname,
		Port:     c.Port,
		User:     c.User,
		Identity: c.IdentityFiles,
		Flags:    c.Flags,
		Patterns: c.Patterns,
	}
	for _, h := range c.Gateways {
		out.Gateways = append(out.Gateways, hopYAML{
			Name:     h.Name,
			Kind:     h.Kind.String(),
			Address:  h.Address(),
			User:     h.User,
			Identity: h.IdentityFiles,
		})
	}
	if extra := c.SSHOptions(); extra.Len() > 0 {
		out.Options = &extra
	}
	return out, nil
}

// connectionKeys are options that become Connection fields rather than
// ssh -o options.
var connectionKeys = []string{
	options.Hostname,
	options.Port,
	options.User,
	options.Identity,
	options.Flags,
	options.Gateways,
	options.ResolveCommand,
	options.ResolveNameservers,
	options.ProxyCommand,
}

// SSHOptions returns the options to pass to ssh with -o: every other
// top-level key plus the entries of the "options" map, which win on
// conflict regardless of case. Map values other than "options" have no ssh
// form and are dropped.
func (c Connection) SSHOptions() options.Set {
	var out options.Set
	c.Options.Without(connectionKeys...).Each(func(key string, v options.Value) {
		switch {
		case key == options.SSHOptions:
			v.Map().Each(func(k string, sub options.Value) {
				if sub.Kind() != options.Map {
					out = out.WithFold(k, sub)
				}
			})
		case v.Kind() != options.Map:
			out = out.With(key, v)
		}
	})
	return out
}

// ProxyCommand returns a configured ProxyCommand, if any.
func (c Connection) ProxyCommand() string {
	return c.Options.Lookup(options.ProxyCommand)
}
