package sshconfig

import (
	"strings"
	"testing"

	"github.com/kevinburke/ssh_config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/hopssh/internal/options"
)

const legacy = `User deploy

Host web-prod www
    HostName 10.0.0.5
    Port 8022
    IdentityFile ~/.ssh/a.key
    IdentityFile ~/.ssh/b.key
    ServerAliveInterval 30
    Port 9999

Host *.internal
    ProxyJump bastion,jump2

Host direct-box
    ProxyJump none

Host *
    Compression yes
`

func TestImport(t *testing.T) {
	t.Parallel()

	doc, err := Import(strings.NewReader(legacy))
	require.NoError(t, err)

	assert.Equal(t, "deploy", doc.Global.Lookup("user"))
	opts, ok := doc.Global.Get(options.SSHOptions)
	require.True(t, ok)
	assert.Equal(t, "yes", opts.Map().Lookup("Compression"))

	require.Len(t, doc.Hosts, 3)

	web := doc.Hosts[0]
	assert.Equal(t, "web-prod", web.Name)
	assert.Equal(t, []string{"www"}, web.Aliases)
	assert.Equal(t, "10.0.0.5", web.Options.Lookup(options.Hostname))
	assert.Equal(t, "8022", web.Options.Lookup(options.Port), "first value wins")
	ids, _ := web.Options.Get(options.Identity)
	assert.Equal(t, []string{"~/.ssh/a.key", "~/.ssh/b.key"}, ids.List())
	pass, _ := web.Options.Get(options.SSHOptions)
	assert.Equal(t, "30", pass.Map().Lookup("ServerAliveInterval"))
	assert.Equal(t, 4, web.Line)

	gw, _ := doc.Hosts[1].Options.Get(options.Gateways)
	assert.Equal(t, []string{"bastion", "jump2"}, gw.List())

	none, _ := doc.Hosts[2].Options.Get(options.Gateways)
	assert.Equal(t, []string{"direct"}, none.List())
}

func TestImportMalformed(t *testing.T) {
	t.Parallel()

	_, err := Import(strings.NewReader("Match host foo\n    User x\n"))
	require.Error(t, err)
}

func TestExport(t *testing.T) {
	t.Parallel()

	var global options.Set
	global = global.With("user", options.String("deploy"))

	web := options.Set{}.
		With(options.Port, options.String("8022")).
		With(options.Identity, options.Strings("prod.key")).
		With(options.Flags, options.Strings("-A")).
		With(options.SSHOptions, options.Nested(options.Set{}.With("ServerAliveInterval", options.String("30"))))
	internal := options.Set{}.
		With(options.Hostname, options.String("%n.corp")).
		With(options.Gateways, options.Strings("bastion"))

	doc := Document{
		Global: global,
		Hosts: []Host{
			{Name: "web-*", Options: options.Set{}.With(options.User, options.String("www"))},
			{Name: "web-prod", Aliases: []string{"www"}, Options: web},
			{Name: "/db[0-9]+/", Options: options.Set{}.With(options.Port, options.String("5432"))},
			{Name: "*.internal", Options: internal},
		},
	}

	var out strings.Builder
	skipped, err := Export(&out, doc, "/usr/bin/hopssh")
	require.NoError(t, err)
	assert.Equal(t, []string{"/db[0-9]+/"}, skipped)
	assert.NotContains(t, out.String(), "-A")

	cfg, err := ssh_config.Decode(strings.NewReader(out.String()))
	require.NoError(t, err)

	get := func(alias, key string) string {
		t.Helper()
		v, err := cfg.Get(alias, key)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "8022", get("web-prod", "Port"))
	assert.Equal(t, "8022", get("www", "Port"))
	assert.Equal(t, "prod.key", get("web-prod", "IdentityFile"))
	assert.Equal(t, "30", get("web-prod", "ServerAliveInterval"))
	assert.Equal(t, "www", get("web-prod", "User"), "glob block precedes Host *")
	assert.Equal(t, "deploy", get("db1", "User"))
	assert.Equal(t, "/usr/bin/hopssh connect %n", get("a.internal", "ProxyCommand"))
	assert.Empty(t, get("a.internal", "HostName"))
}

func TestExportHostnameTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hostname string
		connect  bool
	}{
		{"10.0.0.5", false},
		{"%h.db.internal", false},
		{"db-100%%.internal", false},
		{"%n.db.internal", true},
		{"%name.db.internal", true},
		{"%g-%p", true},
		{"%P", true},
		{"%r.users", true},
		{"db.$ZONE", true},
		{"trailing%", true},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			t.Parallel()

			doc := Document{Hosts: []Host{{
				Name:    "db-*",
				Options: options.Set{}.With(options.Hostname, options.String(tt.hostname)),
			}}}

			var out strings.Builder
			_, err := Export(&out, doc, "hopssh")
			require.NoError(t, err)

			cfg, err := ssh_config.Decode(strings.NewReader(out.String()))
			require.NoError(t, err)
			hostname, err := cfg.Get("db-1", "HostName")
			require.NoError(t, err)
			proxy, err := cfg.Get("db-1", "ProxyCommand")
			require.NoError(t, err)

			if tt.connect {
				assert.Empty(t, hostname)
				assert.Equal(t, "hopssh connect %n", proxy)
			} else {
				assert.Equal(t, tt.hostname, hostname)
				assert.Empty(t, proxy)
			}
		})
	}
}
