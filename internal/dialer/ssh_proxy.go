package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/user"

	"golang.org/x/crypto/ssh"

	"github.com/die-net/hopssh/internal/gateway"
	internalssh "github.com/die-net/hopssh/internal/ssh"
)

// SSHProxyDialer forwards connections through an SSH gateway hop.
//
// It keeps a single shared SSH transport, created lazily on the first
// DialContext call and dialed through next, and multiplexes one
// "direct-tcpip" channel per DialContext call over it. Canceling the context
// of a call closes only its channel.
type SSHProxyDialer struct {
	hop    gateway.Hop
	client *internalssh.Client
}

// NewSSHProxyDialer constructs a dialer for hop. Keys come from the hop's
// identity files, or from the SSH agent when it has none. The user defaults
// to the local user, as with ssh.
func NewSSHProxyDialer(cfg Config, next Dialer, hop gateway.Hop, hostKeys ssh.HostKeyCallback) (*SSHProxyDialer, error) {
	signers, err := internalssh.LoadSigners(hop.IdentityFiles)
	if err != nil {
		return nil, fmt.Errorf("ssh gateway %s: %w", hop.Name, err)
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("ssh gateway %s: %w", hop.Name, errNoKeys)
	}

	username := hop.User
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("ssh gateway %s: %w", hop.Name, err)
		}
		username = u.Username
	}

	client, err := internalssh.NewClient(hop.Address(), internalssh.ClientConfig{
		Username:         username,
		Signers:          signers,
		HostKeyCallback:  hostKeys,
		HandshakeTimeout: cfg.NegotiationTimeout,
	}, next)
	if err != nil {
		return nil, fmt.Errorf("ssh gateway %s: %w", hop.Name, err)
	}

	return &SSHProxyDialer{hop: hop, client: client}, nil
}

var errNoKeys = errors.New("no identity files and no SSH agent")

// DialContext opens a channel to address through the hop.
func (f *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := f.client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("ssh gateway %s: %w", f.hop.Name, err)
	}
	return conn, nil
}

// Close closes the shared transport.
func (f *SSHProxyDialer) Close() error {
	return f.client.Close()
}
