package invoke

import (
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/hopssh/internal/gateway"
	"github.com/die-net/hopssh/internal/options"
	"github.com/die-net/hopssh/internal/resolve"
)

var (
	bastion1 = gateway.Hop{Name: "b1", Kind: gateway.HopSSH, Hostname: "bastion1", Port: "22", User: "u1"}
	bastion2 = gateway.Hop{Name: "b2", Kind: gateway.HopSSH, Hostname: "bastion2", Port: "2222"}
)

func TestArgs(t *testing.T) {
	t.Parallel()

	conn := resolve.Connection{
		Alias:         "web",
		Hostname:      "10.0.0.1",
		Port:          "8022",
		User:          "deploy",
		IdentityFiles: []string{"a.key", "b.key"},
		Flags:         []string{"-A"},
		Options: options.Set{}.
			With(options.Hostname, options.String("10.0.0.1")).
			With("forwardagent", options.String("no")).
			With("ciphers", options.Strings("aes128-ctr", "aes256-ctr")).
			With(options.SSHOptions, options.Nested(options.Set{}.With("Compression", options.String("yes")))).
			With(options.Flags, options.Strings("-A")),
	}

	assert.Equal(t, []string{
		"-p", "8022",
		"-l", "deploy",
		"-i", "a.key",
		"-i", "b.key",
		"-o", "forwardagent=no",
		"-o", "ciphers=aes128-ctr,aes256-ctr",
		"-o", "Compression=yes",
		"-A",
		"10.0.0.1",
	}, Args(conn))
}

func TestArgsConfiguredProxyCommand(t *testing.T) {
	t.Parallel()

	conn := resolve.Connection{
		Hostname: "h",
		Port:     "22",
		Options:  options.Set{}.With(options.ProxyCommand, options.String("nc %h %p")),
	}
	assert.Equal(t, []string{"-p", "22", "-o", "ProxyCommand=nc %h %p", "h"}, Args(conn))

	conn.Gateways = []gateway.Hop{bastion2}
	args := Args(conn)
	assert.Equal(t, "ProxyCommand=ssh -p 2222 -W h:22 bastion2", args[len(args)-2])
}

func TestProxyCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hops []gateway.Hop
		want string
	}{
		{
			name: "one hop",
			hops: []gateway.Hop{bastion1},
			want: "ssh -p 22 -l u1 -W 10.0.0.5:22 bastion1",
		},
		{
			name: "two hops",
			hops: []gateway.Hop{bastion1, bastion2},
			want: "ssh -p 2222 -o 'ProxyCommand=ssh -p 22 -l u1 -W bastion2:2222 bastion1' -W 10.0.0.5:22 bastion2",
		},
		{
			name: "socks5 first",
			hops: []gateway.Hop{{Kind: gateway.HopSOCKS5, Hostname: "proxy", Port: "1080"}, bastion2},
			want: "ssh -p 2222 -o 'ProxyCommand=nc -X 5 -x proxy:1080 bastion2 2222' -W 10.0.0.5:22 bastion2",
		},
		{
			name: "http only",
			hops: []gateway.Hop{{Kind: gateway.HopHTTP, Hostname: "proxy", Port: "3128", User: "me"}},
			want: "nc -X connect -x proxy:3128 -P me 10.0.0.5 22",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, ProxyCommand(tt.hops, "10.0.0.5", "22"))
		})
	}
}

func TestProxyCommandQuoting(t *testing.T) {
	t.Parallel()

	first := bastion1
	first.IdentityFiles = []string{"/keys/100%.key", "/keys/my key"}
	hops := []gateway.Hop{first, bastion2}

	cmd := ProxyCommand(hops, "10.0.0.5", "22")
	words, err := shellquote.Split(cmd)
	require.NoError(t, err)
	require.Len(t, words, 8)
	assert.Equal(t, "ProxyCommand=ssh -p 22 -l u1 -i /keys/100%%.key -i '/keys/my key' -W bastion2:2222 bastion1", words[4])

	inner, err := shellquote.Split(words[4][len("ProxyCommand="):])
	require.NoError(t, err)
	assert.Contains(t, inner, "/keys/my key")

	conn := resolve.Connection{Hostname: "10.0.0.5", Port: "22", Gateways: hops}
	args := Args(conn)
	assert.Contains(t, args[len(args)-2], "/keys/100%%%%.key")
}

func TestBuilderBinaries(t *testing.T) {
	t.Parallel()

	b := Builder{SSH: "/opt/ssh", NC: "ncat"}
	assert.Equal(t, "/opt/ssh -p 2222 -o 'ProxyCommand=ncat -X 5 -x p:1 bastion2 2222' -W h:22 bastion2",
		b.ProxyCommand([]gateway.Hop{{Kind: gateway.HopSOCKS5, Hostname: "p", Port: "1"}, bastion2}, "h", "22"))
}

func TestExecMissingBinary(t *testing.T) {
	t.Parallel()

	err := Exec("hopssh-no-such-binary-xyz", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hopssh-no-such-binary-xyz")
}
