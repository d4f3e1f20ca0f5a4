package ssh

import (
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	hostKey := mustGenerateKey(t)

	tests := []struct {
		name    string
		config  ServerConfig
		wantErr string
	}{
		{
			name:    "missing auth callback",
			config:  ServerConfig{HostKeys: []ssh.Signer{hostKey}},
			wantErr: "public key callback required",
		},
		{
			name:    "missing host key",
			config:  ServerConfig{PublicKeyCallback: AuthorizedKeys(hostKey.PublicKey())},
			wantErr: "at least one host key required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewServer("127.0.0.1:0", tt.config)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadSigners(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	signers, err := LoadSigners(nil)
	if err != nil || signers != nil {
		t.Fatalf("expected no signers without identities or agent, got %v, %v", signers, err)
	}

	_, err = LoadSigners([]string{t.TempDir() + "/missing"})
	if err == nil || !strings.Contains(err.Error(), "reading key file") {
		t.Fatalf("expected read error, got: %v", err)
	}
}
