package dialer

import (
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the settings shared by every hop of a chain.
type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect of the first hop.
	DialTimeout time.Duration
	// NegotiationTimeout bounds proxy negotiation and SSH handshakes.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
	// KnownHostsPath is the known_hosts file for SSH hops. Empty disables
	// host key checking.
	KnownHostsPath string
	Log            zerolog.Logger
}
