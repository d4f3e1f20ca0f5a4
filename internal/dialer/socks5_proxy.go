package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/die-net/hopssh/internal/socks5"
)

// SOCKS5ProxyDialer tunnels connections through a SOCKS5 proxy that is
// reached through next.
type SOCKS5ProxyDialer struct {
	cfg       Config
	next      Dialer
	proxyAddr string
	auth      socks5.Auth
}

// NewSOCKS5ProxyDialer constructs a SOCKS5 dialer for the proxy at proxyAddr.
func NewSOCKS5ProxyDialer(cfg Config, next Dialer, proxyAddr, username, password string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		next:      next,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
	}
}

// DialContext connects to the proxy and asks it to CONNECT to address.
// Canceling ctx during negotiation aborts it.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	c, err := f.next.DialContext(ctx, network, f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}
	if err := socks5.Handshake(c, f.auth, address); err != nil {
		stop()
		_ = c.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("socks5 proxy %s: %w", f.proxyAddr, err)
	}
	if !stop() {
		return nil, ctx.Err()
	}
	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}
	return c, nil
}
