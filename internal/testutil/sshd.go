package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	gossh "golang.org/x/crypto/ssh"

	"github.com/die-net/hopssh/internal/ssh"
)

// SSHServer is an in-process bastion accepting one client key.
type SSHServer struct {
	*ssh.Server
	// HostKey is the server's host key.
	HostKey gossh.Signer
	// ClientKey is the only key the server accepts.
	ClientKey gossh.Signer
	// KeyFile holds ClientKey in OpenSSH format.
	KeyFile string
}

// StartSSHServer starts a bastion with fresh keys. A nil dialer makes it
// dial targets directly.
func StartSSHServer(t *testing.T, ctx context.Context, dialer ssh.ContextDialer) *SSHServer {
	t.Helper()

	hostKey, err := ssh.GenerateHostKey()
	if err != nil {
		t.Fatal(err)
	}
	clientKey, keyFile := WriteClientKey(t)

	srv, err := ssh.NewServer("127.0.0.1:0", ssh.ServerConfig{
		HostKeys:          []gossh.Signer{hostKey},
		PublicKeyCallback: ssh.AuthorizedKeys(clientKey.PublicKey()),
		Dialer:            dialer,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	go func() {
		_ = srv.Serve(ctx)
	}()

	return &SSHServer{Server: srv, HostKey: hostKey, ClientKey: clientKey, KeyFile: keyFile}
}

// WriteClientKey generates a client key and writes it to a temp file.
func WriteClientKey(t *testing.T) (gossh.Signer, string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return signer, path
}
