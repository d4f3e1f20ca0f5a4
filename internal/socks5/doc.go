// Package socks5 is the SOCKS5 handshake used to reach a target through a
// "socks5://" gateway hop, plus the server half used by test proxies.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5; it
// is not a full SOCKS5 implementation. Only CONNECT is supported.
package socks5
