// Package dialer connects to a target through a resolved gateway chain
// without spawning ssh processes.
//
// Every hop wraps the dialer of the hop before it: the first hop is dialed
// directly, a SOCKS5 or HTTP CONNECT proxy tunnels through whatever precedes
// it, and an SSH hop opens "direct-tcpip" channels over a transport that was
// itself dialed through the previous hop.
package dialer
