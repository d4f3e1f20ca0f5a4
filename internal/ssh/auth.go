package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentAvailable returns true if the SSH agent socket is available.
func AgentAvailable() bool {
	return os.Getenv("SSH_AUTH_SOCK") != ""
}

// AgentSigners connects to the SSH agent and returns all available signers.
// Returns an error if the agent is not available or connection fails.
func AgentSigners() ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	var d net.Dialer
	conn, err := d.DialContext(context.Background(), "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to SSH agent: %w", err)
	}
	// The signers use conn for as long as they live; it is closed when the
	// process exits.

	agentClient := agent.NewClient(conn)
	signers, err := agentClient.Signers()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("getting signers from SSH agent: %w", err)
	}

	if len(signers) == 0 {
		_ = conn.Close()
		return nil, errors.New("no keys available in SSH agent")
	}

	return signers, nil
}

// LoadPrivateKey reads and parses an OpenSSH private key file. A leading
// "~/" is expanded to the home directory.
func LoadPrivateKey(path string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(expandHome(path)) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing key file %s: %w", path, err)
	}

	return signer, nil
}

// LoadSigners loads the signers for a hop:
//   - identity files, when any are configured
//   - otherwise every key in the SSH agent, when one is running
//   - otherwise nil
func LoadSigners(identityFiles []string) ([]ssh.Signer, error) {
	if len(identityFiles) == 0 {
		if !AgentAvailable() {
			return nil, nil
		}
		return AgentSigners()
	}

	signers := make([]ssh.Signer, 0, len(identityFiles))
	for _, path := range identityFiles {
		signer, err := LoadPrivateKey(path)
		if err != nil {
			return nil, err
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
