// Package ssh provides the SSH client used to reach gateway hops natively.
//
// A [Client] keeps one SSH transport per hop and opens a "direct-tcpip"
// channel for every dial, which is what "ssh -W host:port" does. The
// transport of a hop is itself dialed through whatever reaches that hop, so
// clients stack into a gateway chain.
//
// Features:
//   - Lazy connection: the transport is established on first use
//   - Shared transport: concurrent dials wait for a single handshake
//   - Reconnection: a dead transport is replaced once and the dial retried
//   - Public key auth from identity files or the SSH agent
//   - Host key verification: known_hosts with trust-on-first-use (TOFU)
//
// Example usage:
//
//	signers, _ := ssh.LoadSigners([]string{"~/.ssh/id_ed25519"})
//	hostKeyCallback, _ := ssh.NewHostKeyCallback("~/.ssh/known_hosts", log)
//
//	client, err := ssh.NewClient("bastion.example.com:22", ssh.ClientConfig{
//	    Username:        "user",
//	    Signers:         signers,
//	    HostKeyCallback: hostKeyCallback,
//	}, &net.Dialer{})
//
//	conn, err := client.DialContext(ctx, "tcp", "10.0.0.7:22")
package ssh
