package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"
)

// ContextDialer dials the TCP connection that carries an SSH transport.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ClientConfig holds configuration for establishing an SSH client connection.
type ClientConfig struct {
	// Username for SSH authentication.
	Username string
	// Signers for public key authentication.
	Signers []ssh.Signer
	// HostKeyCallback verifies the server's host key.
	HostKeyCallback ssh.HostKeyCallback
	// HandshakeTimeout is the deadline for the SSH handshake. Zero means no timeout.
	HandshakeTimeout time.Duration
}

// AuthMethods returns the ssh.AuthMethod slice for this configuration.
func (c *ClientConfig) AuthMethods() []ssh.AuthMethod {
	if len(c.Signers) == 0 {
		return nil
	}
	return []ssh.AuthMethod{ssh.PublicKeys(c.Signers...)}
}

// Client tunnels TCP connections through one SSH server.
type Client struct {
	addr   string
	config ClientConfig
	dialer ContextDialer

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

// NewClient returns a Client for the SSH server at addr. The transport is
// dialed with dialer on first use.
func NewClient(addr string, cfg ClientConfig, dialer ContextDialer) (*Client, error) {
	if addr == "" {
		return nil, errors.New("ssh client: missing ssh address")
	}
	if cfg.Username == "" {
		return nil, errors.New("ssh client: missing username")
	}
	if len(cfg.Signers) == 0 {
		return nil, errors.New("ssh client: missing key")
	}
	if cfg.HostKeyCallback == nil {
		return nil, errors.New("ssh client: missing host key callback")
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Client{addr: addr, config: cfg, dialer: dialer}, nil
}

// Addr returns the SSH server address.
func (c *Client) Addr() string {
	return c.addr
}

// DialContext opens a "direct-tcpip" channel to address.
//
// Canceling ctx closes the returned connection (channel) to promptly unblock
// callers waiting on reads/writes. It never closes the shared transport.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh dial %s %s: unsupported network", network, address)
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := client.DialContext(ctx, "tcp", address)
	if err != nil {
		// OpenChannelError means the transport is healthy but the
		// destination is unreachable.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) {
			return nil, fmt.Errorf("ssh dial %s via %s: %w", address, c.addr, err)
		}

		c.invalidate(client)
		client, err2 := c.getClient(ctx)
		if err2 != nil {
			return nil, err
		}
		conn, err = client.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("ssh dial %s via %s: %w", address, c.addr, err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return &channelConn{Conn: conn, stop: stop}, nil
}

// Close closes the shared transport, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// getClient returns the shared SSH client, creating it if needed. Callers
// can bail out early if their context is canceled, while the connection
// attempt continues for other waiters.
func (c *Client) getClient(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := c.sf.DoChan("connect", func() (any, error) {
		c.mu.Lock()
		if c.client != nil {
			client := c.client
			c.mu.Unlock()
			return client, nil
		}
		c.mu.Unlock()

		client, err := c.connect(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.client = client
		c.mu.Unlock()
		return client, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

// connect dials the transport and performs the SSH handshake.
func (c *Client) connect(ctx context.Context) (*ssh.Client, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport dial %s: %w", c.addr, err)
	}

	client, err := Handshake(conn, c.config, c.addr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport %s: %w", c.addr, err)
	}
	return client, nil
}

// invalidate discards client if it is still the shared one.
func (c *Client) invalidate(client *ssh.Client) {
	c.mu.Lock()
	if c.client == client {
		c.client = nil
	}
	c.mu.Unlock()
	_ = client.Close()
}

// Handshake establishes an SSH client connection over conn. The addr
// parameter is used for host key verification.
//
// If cfg.HandshakeTimeout is set, a deadline is applied during the SSH
// handshake and cleared before returning.
//
// On error, conn is closed.
func Handshake(conn net.Conn, cfg ClientConfig, addr string) (*ssh.Client, error) {
	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            cfg.AuthMethods(),
		HostKeyCallback: cfg.HostKeyCallback,
	}

	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	return ssh.NewClient(cc, chans, reqs), nil
}

// channelConn wraps a single "direct-tcpip" channel.
type channelConn struct {
	net.Conn
	stop func() bool
}

// CloseWrite sends EOF on the channel.
func (c *channelConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (c *channelConn) Close() error {
	if c.stop != nil {
		c.stop()
	}
	return c.Conn.Close()
}
