// Package invoke turns a resolved Connection into an OpenSSH command line.
//
// Gateway chains become nested ProxyCommands: the hop nearest to the target
// is the outermost "ssh -W host:port hop" and every hop before it is reached
// through that command's own ProxyCommand. ssh expands % tokens in a
// ProxyCommand once per level, so literal % signs are doubled at every
// embedding.
package invoke

import (
	"net"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/die-net/hopssh/internal/gateway"
	"github.com/die-net/hopssh/internal/options"
	"github.com/die-net/hopssh/internal/resolve"
)

// Builder builds command lines. The zero Builder runs "ssh" and "nc" from
// PATH inside nested ProxyCommands.
type Builder struct {
	SSH string
	NC  string
}

// Args returns the ssh arguments for conn, without the program name.
func Args(conn resolve.Connection) []string {
	return Builder{}.Args(conn)
}

// ProxyCommand returns the shell command reaching host:port through hops.
func ProxyCommand(hops []gateway.Hop, host, port string) string {
	return Builder{}.ProxyCommand(hops, host, port)
}

// Args returns the ssh arguments for conn, without the program name.
func (b Builder) Args(conn resolve.Connection) []string {
	var args []string
	if conn.Port != "" {
		args = append(args, "-p", conn.Port)
	}
	if conn.User != "" {
		args = append(args, "-l", conn.User)
	}
	for _, id := range conn.IdentityFiles {
		args = append(args, "-i", id)
	}
	conn.SSHOptions().Each(func(key string, v options.Value) {
		args = append(args, "-o", key+"="+v.Scalar())
	})
	args = append(args, conn.Flags...)

	switch {
	case len(conn.Gateways) > 0:
		args = append(args, "-o", "ProxyCommand="+escape(b.ProxyCommand(conn.Gateways, conn.Hostname, conn.Port)))
	case conn.ProxyCommand() != "":
		args = append(args, "-o", "ProxyCommand="+conn.ProxyCommand())
	}

	return append(args, conn.Hostname)
}

// ProxyCommand returns the shell command reaching host:port through hops.
// hops must be non-empty.
func (b Builder) ProxyCommand(hops []gateway.Hop, host, port string) string {
	last := hops[len(hops)-1]
	before := hops[:len(hops)-1]

	switch last.Kind {
	case gateway.HopSOCKS5:
		return shellquote.Join(b.nc(), "-X", "5", "-x", last.Address(), host, port)
	case gateway.HopHTTP:
		argv := []string{b.nc(), "-X", "connect", "-x", last.Address()}
		if last.User != "" {
			argv = append(argv, "-P", last.User)
		}
		return shellquote.Join(append(argv, host, port)...)
	default:
		argv := []string{b.ssh(), "-p", last.Port}
		if last.User != "" {
			argv = append(argv, "-l", last.User)
		}
		for _, id := range last.IdentityFiles {
			argv = append(argv, "-i", id)
		}
		if len(before) > 0 {
			argv = append(argv, "-o", "ProxyCommand="+escape(b.ProxyCommand(before, last.Hostname, last.Port)))
		}
		argv = append(argv, "-W", net.JoinHostPort(host, port), last.Hostname)
		return shellquote.Join(argv...)
	}
}

func (b Builder) ssh() string {
	if b.SSH != "" {
		return b.SSH
	}
	return "ssh"
}

func (b Builder) nc() string {
	if b.NC != "" {
		return b.NC
	}
	return "nc"
}

// escape protects literal % signs from ssh token expansion.
func escape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}
