package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/die-net/hopssh/internal/config"
	"github.com/die-net/hopssh/internal/dialer"
	"github.com/die-net/hopssh/internal/expand"
	"github.com/die-net/hopssh/internal/invoke"
	"github.com/die-net/hopssh/internal/match"
	"github.com/die-net/hopssh/internal/merge"
	"github.com/die-net/hopssh/internal/options"
	"github.com/die-net/hopssh/internal/pipe"
	"github.com/die-net/hopssh/internal/resolve"
	"github.com/die-net/hopssh/internal/sshconfig"
)

const usage = `usage: hopssh <command> [flags] [args]

commands:
  resolve <alias>           print the resolved connection as YAML
  args <alias>              print the ssh command line
  ssh <alias> [ssh args]    run ssh for alias
  connect <alias>           tunnel stdin/stdout to alias (ProxyCommand mode)
  list                      resolve every literal host
  build                     write an OpenSSH config
`

// settings are read from HOPSSH_* environment variables and become flag
// defaults.
type settings struct {
	Config             string        `envconfig:"CONFIG"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"warn"`
	CommandTimeout     time.Duration `envconfig:"COMMAND_TIMEOUT" default:"5s"`
	MaxGatewayDepth    int           `envconfig:"MAX_GATEWAY_DEPTH" default:"8"`
	SSHBinary          string        `envconfig:"SSH_BINARY" default:"ssh"`
	KnownHosts         string        `envconfig:"KNOWN_HOSTS"`
	DialTimeout        time.Duration `envconfig:"DIAL_TIMEOUT" default:"10s"`
	NegotiationTimeout time.Duration `envconfig:"NEGOTIATION_TIMEOUT" default:"10s"`
	TCPKeepAlive       string        `envconfig:"TCP_KEEPALIVE" default:"45:45:3"`
}

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()

	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "hopssh:", err)
		os.Exit(1)
	}
}

// app is what every command needs once flags are parsed.
type app struct {
	env      settings
	log      zerolog.Logger
	cfg      *config.Config
	resolver *resolve.Resolver
	stdin    io.Reader
	stdout   io.Writer
}

// common holds the flags shared by all commands.
type common struct {
	config         string
	logLevel       string
	commandTimeout time.Duration
	maxDepth       int
}

func (c *common) register(fs *pflag.FlagSet, env settings) {
	fs.StringVar(&c.config, "config", env.Config, "Config file (default ~/.ssh/hopssh.yml)")
	fs.StringVar(&c.logLevel, "log-level", env.LogLevel, "Log level: trace|debug|info|warn|error")
	fs.DurationVar(&c.commandTimeout, "command-timeout", env.CommandTimeout, "Timeout for $(...) and resolve_command")
	fs.IntVar(&c.maxDepth, "max-gateway-depth", env.MaxGatewayDepth, "Maximum number of gateway hops")
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var env settings
	if err := envconfig.Process("hopssh", &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	if len(args) == 0 {
		return errUsage
	}
	name, args := args[0], args[1:]

	var cmd func(context.Context, *app, *pflag.FlagSet) error
	fs := pflag.NewFlagSet("hopssh "+name, pflag.ContinueOnError)
	fs.SortFlags = false

	switch name {
	case "resolve":
		cmd = resolveCmd
	case "args":
		cmd = argsCmd
	case "ssh":
		// Everything after the alias belongs to ssh.
		fs.SetInterspersed(false)
		cmd = sshCmd
	case "connect":
		cmd = connectCmd(fs, env)
	case "list":
		cmd = listCmd(fs)
	case "build":
		cmd = buildCmd(fs)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", name, errUsage)
	}

	var c common
	c.register(fs, env)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := c.open(env)
	if err != nil {
		return err
	}
	a.stdin, a.stdout = stdin, stdout
	return cmd(ctx, a, fs)
}

func (c *common) open(env settings) (*app, error) {
	level, err := zerolog.ParseLevel(c.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	path := c.config
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path, config.WithLogger(log))
	if err != nil {
		return nil, err
	}
	log.Debug().Strs("files", cfg.Files()).Int("patterns", len(cfg.Patterns())).Msg("loaded config")

	return &app{
		env: env,
		log: log,
		cfg: cfg,
		resolver: resolve.New(cfg,
			resolve.WithExpander(&expand.Expander{Timeout: c.commandTimeout, Log: log}),
			resolve.WithMaxDepth(c.maxDepth),
			resolve.WithLogger(log),
		),
	}, nil
}

// alias returns the single alias argument.
func alias(fs *pflag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s takes exactly one alias: %w", fs.Name(), errUsage)
	}
	return fs.Arg(0), nil
}

func resolveCmd(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	name, err := alias(fs)
	if err != nil {
		return err
	}
	conn, err := a.resolver.Resolve(ctx, name)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(a.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(conn); err != nil {
		return err
	}
	return enc.Close()
}

func argsCmd(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	name, err := alias(fs)
	if err != nil {
		return err
	}
	conn, err := a.resolver.Resolve(ctx, name)
	if err != nil {
		return err
	}

	args := invoke.Builder{SSH: a.env.SSHBinary}.Args(conn)
	_, err = fmt.Fprintln(a.stdout, shellquote.Join(append([]string{a.env.SSHBinary}, args...)...))
	return err
}

func sshCmd(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	if fs.NArg() == 0 {
		return fmt.Errorf("ssh needs an alias: %w", errUsage)
	}
	conn, err := a.resolver.Resolve(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	args := invoke.Builder{SSH: a.env.SSHBinary}.Args(conn)
	args = append(args, fs.Args()[1:]...)
	a.log.Debug().Str("binary", a.env.SSHBinary).Strs("args", args).Msg("exec")
	return invoke.Exec(a.env.SSHBinary, args)
}

func connectCmd(fs *pflag.FlagSet, env settings) func(context.Context, *app, *pflag.FlagSet) error {
	var (
		dialTimeout        = fs.Duration("dial-timeout", env.DialTimeout, "Timeout for DNS lookup and TCP connect of the first hop")
		negotiationTimeout = fs.Duration("negotiation-timeout", env.NegotiationTimeout, "Timeout for proxy negotiation and SSH handshakes")
		knownHosts         = fs.String("known-hosts", defaultKnownHosts(env), "known_hosts file for gateway host keys, or empty to disable checking")
		tcpKeepAlive       = fs.String("tcp-keepalive", env.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	)

	return func(ctx context.Context, a *app, fs *pflag.FlagSet) error {
		name, err := alias(fs)
		if err != nil {
			return err
		}

		ka, err := parseTCPKeepAlive(*tcpKeepAlive)
		if err != nil {
			return fmt.Errorf("invalid --tcp-keepalive: %w", err)
		}

		conn, err := a.resolver.Resolve(ctx, name)
		if err != nil {
			return err
		}
		if conn.ProxyCommand() != "" && len(conn.Gateways) == 0 {
			a.log.Warn().Str("alias", name).Msg("ProxyCommand is ignored by connect")
		}

		chain, err := dialer.NewChain(dialer.Config{
			DialTimeout:        *dialTimeout,
			NegotiationTimeout: *negotiationTimeout,
			KeepAlive:          ka,
			KnownHostsPath:     *knownHosts,
			Log:                a.log,
		}, conn.Gateways)
		if err != nil {
			return err
		}
		defer chain.Close()

		target, err := chain.DialContext(ctx, "tcp", conn.Address())
		if err != nil {
			return err
		}
		a.log.Debug().Str("alias", name).Str("address", conn.Address()).Int("hops", len(conn.Gateways)).Msg("connected")

		return pipe.Copy(ctx, pipe.Stdio{Reader: a.stdin, Writer: a.stdout}, target)
	}
}

func listCmd(fs *pflag.FlagSet) func(context.Context, *app, *pflag.FlagSet) error {
	jobs := fs.IntP("jobs", "j", 8, "Number of aliases resolved concurrently")

	return func(ctx context.Context, a *app, fs *pflag.FlagSet) error {
		if fs.NArg() != 0 {
			return fmt.Errorf("list takes no arguments: %w", errUsage)
		}

		var aliases []string
		for _, p := range a.cfg.Patterns() {
			for _, name := range append([]string{p.Name}, p.Aliases...) {
				if r, err := match.Compile(name); err == nil && r.Kind() == match.Exact {
					aliases = append(aliases, name)
				}
			}
		}

		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		failed := 0
		for _, res := range a.resolver.ResolveAll(ctx, aliases, *jobs) {
			if res.Err != nil {
				failed++
				fmt.Fprintf(tw, "%s\terror\t%v\n", res.Alias, res.Err)
				continue
			}
			via := make([]string, 0, len(res.Connection.Gateways))
			for _, h := range res.Connection.Gateways {
				via = append(via, h.Name)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Alias, res.Connection.Address(), strings.Join(via, " -> "))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d aliases failed to resolve", failed, len(aliases))
		}
		return nil
	}
}

func buildCmd(fs *pflag.FlagSet) func(context.Context, *app, *pflag.FlagSet) error {
	output := fs.StringP("output", "o", "", "Write the OpenSSH config to this file instead of stdout")

	return func(ctx context.Context, a *app, fs *pflag.FlagSet) error {
		if fs.NArg() != 0 {
			return fmt.Errorf("build takes no arguments: %w", errUsage)
		}

		self, err := os.Executable()
		if err != nil {
			return err
		}

		doc := sshconfig.Document{Global: a.cfg.Global()}
		for _, p := range a.cfg.Patterns() {
			// Inherited options are folded in; globals stay in "Host *".
			opts, err := merge.Merge([]config.HostPattern{p}, options.Set{}, a.cfg.Lookup)
			if err != nil {
				a.log.Warn().Err(err).Str("pattern", p.Name).Msg("skipping host")
				continue
			}
			doc.Hosts = append(doc.Hosts, sshconfig.Host{Name: p.Name, Aliases: p.Aliases, Options: opts, Line: p.Source.Line})
		}

		if *output == "" {
			return a.export(a.stdout, doc, self)
		}
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		if err := a.export(f, doc, self); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}
}

func (a *app) export(w io.Writer, doc sshconfig.Document, self string) error {
	skipped, err := sshconfig.Export(w, doc, shellquote.Join(self))
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	for _, name := range skipped {
		a.log.Warn().Str("pattern", name).Msg("regex pattern has no OpenSSH equivalent")
	}
	return nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hopssh.yml"
	}
	return filepath.Join(home, ".ssh", "hopssh.yml")
}

func defaultKnownHosts(env settings) string {
	if env.KnownHosts != "" {
		return env.KnownHosts
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}
