package testutil

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/die-net/hopssh/internal/pipe"
	"github.com/die-net/hopssh/internal/socks5"
)

// StartProxy serves every accepted connection with handler and returns the
// listener. Handlers are waited for on cleanup.
func StartProxy(t *testing.T, ctx context.Context, handler func(net.Conn)) net.Listener {
	t.Helper()

	ln := listen(t, ctx)
	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Go(func() {
				defer c.Close()
				handler(c)
			})
		}
	}()
	return ln
}

// StartSOCKS5Proxy starts a SOCKS5 proxy requiring auth when auth.Username
// is set.
func StartSOCKS5Proxy(t *testing.T, ctx context.Context, auth socks5.Auth) net.Listener {
	t.Helper()

	var d net.Dialer
	return StartProxy(t, ctx, func(c net.Conn) {
		dst, err := socks5.ServeConnect(ctx, c, auth, d.DialContext)
		if err != nil {
			return
		}
		_ = pipe.Copy(ctx, c, dst)
	})
}

// StartHTTPProxy starts an HTTP CONNECT proxy.
func StartHTTPProxy(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	return StartProxy(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		_ = req.Body.Close()
		if req.Method != http.MethodConnect {
			_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
			return
		}

		var d net.Dialer
		dst, err := d.DialContext(ctx, "tcp", req.Host)
		if err != nil {
			_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
			return
		}
		_, _ = io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n")

		_ = pipe.Copy(ctx, &bufferedConn{Conn: c, r: br}, dst)
	})
}

// bufferedConn reads through the bufio.Reader that consumed the request.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
