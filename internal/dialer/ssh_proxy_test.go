package dialer

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/hopssh/internal/gateway"
	"github.com/die-net/hopssh/internal/socks5"
	"github.com/die-net/hopssh/internal/testutil"
)

func sshHop(name string, srv *testutil.SSHServer) gateway.Hop {
	host, port, _ := net.SplitHostPort(srv.Addr().String())
	return gateway.Hop{
		Name:          name,
		Kind:          gateway.HopSSH,
		Hostname:      host,
		Port:          port,
		User:          "hop",
		IdentityFiles: []string{srv.KeyFile},
	}
}

func TestChainThroughSSHHops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	bastion1 := testutil.StartSSHServer(t, ctx, nil)
	bastion2 := testutil.StartSSHServer(t, ctx, nil)

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	chain, err := NewChain(Config{
		DialTimeout:        2 * time.Second,
		NegotiationTimeout: 2 * time.Second,
		KnownHostsPath:     knownHosts,
		Log:                zerolog.Nop(),
	}, []gateway.Hop{sshHop("b1", bastion1), sshHop("b2", bastion2)})
	if err != nil {
		t.Fatal(err)
	}
	defer chain.Close()

	for _, msg := range []string{"hello", "hello2"} {
		conn, err := chain.DialContext(ctx, "tcp", echoLn.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEcho(t, conn, conn, []byte(msg))
		_ = conn.Close()
	}

	data, err := os.ReadFile(knownHosts) //nolint:gosec // Test path from t.TempDir().
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Fatalf("expected both bastions in known_hosts, got %d lines:\n%s", n, data)
	}
}

func TestChainSOCKS5ThenSSH(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	proxyLn := testutil.StartSOCKS5Proxy(t, ctx, socks5.Auth{})
	bastion := testutil.StartSSHServer(t, ctx, nil)

	proxy, err := gateway.ProxyHop("socks5://" + proxyLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	chain, err := NewChain(Config{NegotiationTimeout: 2 * time.Second}, []gateway.Hop{proxy, sshHop("b", bastion)})
	if err != nil {
		t.Fatal(err)
	}
	defer chain.Close()

	conn, err := chain.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	testutil.AssertEcho(t, conn, conn, []byte("through socks5 and ssh"))
}

func TestChainRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bastion := testutil.StartSSHServer(t, ctx, nil)
	hop := sshHop("b", bastion)
	_, otherKey := testutil.WriteClientKey(t)
	hop.IdentityFiles = []string{otherKey}

	chain, err := NewChain(Config{NegotiationTimeout: 2 * time.Second}, []gateway.Hop{hop})
	if err != nil {
		t.Fatal(err)
	}
	defer chain.Close()

	_, err = chain.DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "ssh gateway b") {
		t.Fatalf("expected ssh gateway error, got: %v", err)
	}
}
