package dialer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/die-net/hopssh/internal/gateway"
	internalssh "github.com/die-net/hopssh/internal/ssh"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewProxy parses a proxy gateway URL and returns a dialer that tunnels
// through it, reaching the proxy through next.
//
// Supported schemes:
//   - http://[user:pass@]host[:port]
//   - https://[user:pass@]host[:port]
//   - socks5://[user:pass@]host[:port]
//
// A default port is applied if the URL host is missing a port.
func NewProxy(cfg Config, next Dialer, proxy string) (Dialer, error) {
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid url: path should be empty")
	}
	if u.Hostname() == "" {
		return nil, errors.New("invalid url: missing host")
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), defaultPortForScheme(u.Scheme))
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPProxyDialer(cfg, next, u, user, pass)
	case "socks5", "socks5h":
		return NewSOCKS5ProxyDialer(cfg, next, u.Host, user, pass), nil
	case "":
		return nil, errors.New("invalid url: missing scheme")
	default:
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	case "socks5", "socks5h":
		return "1080"
	default:
		return ""
	}
}

// Chain is a dialer reaching targets through a sequence of hops.
type Chain struct {
	Dialer
	closers []io.Closer
}

// NewChain builds the dialer for hops, nearest to the caller first. An empty
// chain dials directly. Nothing is dialed until DialContext is called.
func NewChain(cfg Config, hops []gateway.Hop) (*Chain, error) {
	c := &Chain{Dialer: NewDirectDialer(cfg)}

	var hostKeys ssh.HostKeyCallback
	for i, hop := range hops {
		switch hop.Kind {
		case gateway.HopSOCKS5, gateway.HopHTTP:
			if i > 0 {
				return nil, fmt.Errorf("gateway %q: %w", hop.Name, gateway.ErrProxyNotFirst)
			}
			d, err := NewProxy(cfg, c.Dialer, hop.Name)
			if err != nil {
				return nil, fmt.Errorf("gateway %q: %w", hop.Name, err)
			}
			c.Dialer = d
		case gateway.HopSSH:
			if hostKeys == nil {
				cb, err := internalssh.NewHostKeyCallback(cfg.KnownHostsPath, cfg.Log)
				if err != nil {
					return nil, err
				}
				hostKeys = cb
			}
			d, err := NewSSHProxyDialer(cfg, c.Dialer, hop, hostKeys)
			if err != nil {
				_ = c.Close()
				return nil, err
			}
			c.Dialer = d
			c.closers = append(c.closers, d)
		default:
			return nil, fmt.Errorf("gateway %q: unsupported hop kind %v", hop.Name, hop.Kind)
		}
		cfg.Log.Debug().Str("gateway", hop.Name).Stringer("kind", hop.Kind).Str("address", hop.Address()).Msg("chained hop")
	}
	return c, nil
}

// Close tears down the SSH transports of the chain, last hop first.
func (c *Chain) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}
