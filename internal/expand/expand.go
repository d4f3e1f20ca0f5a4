// Package expand substitutes markers, environment variables and command
// output into option values.
//
// Recognized markers:
//
//	%n, %name  the alias being resolved
//	%h         the hostname (inside hostname itself: the alias)
//	%p         the port
//	%r         the user
//	%g         the gateway name when resolving a gateway hop
//	%P         the most specific matched pattern
//	%%         a literal %
//	$VAR       environment variable, also ${VAR}; missing variables are empty
//	$$         a literal $
//	$(cmd)     the trimmed standard output of cmd
//
// Any other %x is left as is so ssh's own tokens survive. Values are scanned
// once from left to right and substituted text is never scanned again.
package expand

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cli/safeexec"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"

	"github.com/die-net/hopssh/internal/options"
)

// DefaultTimeout bounds each command substitution.
const DefaultTimeout = 5 * time.Second

// Vars are the values markers expand to.
type Vars struct {
	Alias    string
	Hostname string
	Port     string
	User     string
	Gateway  string
	Pattern  string
}

// Expander expands option values. The zero Expander is ready to use.
type Expander struct {
	// Timeout bounds each command; DefaultTimeout when zero.
	Timeout time.Duration
	// Getenv looks up variables; os.Getenv when nil.
	Getenv func(string) string
	// LookupHost resolves host against nameservers for resolve_nameservers;
	// nil queries the nameservers directly.
	LookupHost func(ctx context.Context, nameservers []string, host string) ([]string, error)
	Log        zerolog.Logger
}

// ExpansionError reports a failed command substitution.
type ExpansionError struct {
	Key      string
	Command  string
	ExitCode int
	TimedOut bool
	Stderr   string
	Err      error
}

func (e *ExpansionError) Error() string {
	var reason string
	switch {
	case e.TimedOut:
		reason = "timed out"
	case e.ExitCode != 0:
		reason = fmt.Sprintf("exit status %d", e.ExitCode)
	case e.Err != nil:
		reason = e.Err.Error()
	default:
		reason = "failed"
	}
	msg := fmt.Sprintf("expand %s: command %q: %s", e.Key, e.Command, reason)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExpansionError) Unwrap() error {
	return e.Err
}

// ErrEmptyOutput is wrapped by an ExpansionError when a command printed
// nothing.
var ErrEmptyOutput = errors.New("empty output")

// ErrUnterminated is wrapped by an ExpansionError when a $( or ${ marker
// is never closed.
var ErrUnterminated = errors.New("unterminated marker")

// Expand returns a copy of set with every value expanded. The hostname is
// expanded first and looked up against resolve_nameservers when set, then
// resolve_command runs (its output replaces the hostname; both keys are
// removed from the result), then port and user, and finally
// everything else with %h, %p and %r bound to the expanded values. Gateway
// names are not expanded. On error no partial result is returned.
func (e *Expander) Expand(ctx context.Context, set options.Set, vars Vars) (options.Set, error) {
	hv := vars
	hv.Hostname = vars.Alias
	host, err := e.String(ctx, options.Hostname, set.Lookup(options.Hostname), hv)
	if err != nil {
		return options.Set{}, err
	}
	if host == "" {
		host = vars.Alias
	}
	vars.Hostname = host

	if v, ok := set.Get(options.ResolveNameservers); ok && len(v.List()) > 0 {
		host, err = e.lookup(ctx, v.List(), host)
		if err != nil {
			return options.Set{}, err
		}
		vars.Hostname = host
	}

	if set.Has(options.ResolveCommand) {
		out, err := e.Command(ctx, options.ResolveCommand, set.Lookup(options.ResolveCommand), vars)
		if err != nil {
			return options.Set{}, err
		}
		host = out
		vars.Hostname = host
	}

	port, err := e.String(ctx, options.Port, set.Lookup(options.Port), vars)
	if err != nil {
		return options.Set{}, err
	}
	if port != "" {
		vars.Port = port
	}
	user, err := e.String(ctx, options.User, set.Lookup(options.User), vars)
	if err != nil {
		return options.Set{}, err
	}
	if user != "" {
		vars.User = user
	}

	rest, err := set.Without(options.Hostname, options.ResolveCommand, options.ResolveNameservers, options.Port, options.User, options.Gateways).
		MapStrings(func(key, s string) (string, error) {
			return e.String(ctx, key, s, vars)
		})
	if err != nil {
		return options.Set{}, err
	}

	out := set.Without(options.ResolveCommand, options.ResolveNameservers).With(options.Hostname, options.String(host))
	if set.Has(options.Port) {
		out = out.With(options.Port, options.String(port))
	}
	if set.Has(options.User) {
		out = out.With(options.User, options.String(user))
	}
	rest.Each(func(key string, v options.Value) {
		out = out.With(key, v)
	})
	return out, nil
}

// String expands a single value. key names the option in errors.
func (e *Expander) String(ctx context.Context, key, s string, vars Vars) (string, error) {
	if !strings.ContainsAny(s, "%$") {
		return s, nil
	}

	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if i+1 >= len(s) || (c != '%' && c != '$') {
			b.WriteByte(c)
			i++
			continue
		}

		next := s[i+1]
		if c == '%' {
			if strings.HasPrefix(s[i:], "%name") {
				b.WriteString(vars.Alias)
				i += len("%name")
				continue
			}
			switch next {
			case 'n':
				b.WriteString(vars.Alias)
			case 'h':
				b.WriteString(vars.Hostname)
			case 'p':
				b.WriteString(vars.Port)
			case 'r':
				b.WriteString(vars.User)
			case 'g':
				b.WriteString(vars.Gateway)
			case 'P':
				b.WriteString(vars.Pattern)
			case '%':
				b.WriteByte('%')
			default:
				b.WriteString(s[i : i+2])
			}
			i += 2
			continue
		}

		switch {
		case next == '$':
			b.WriteByte('$')
			i += 2
		case next == '(':
			end := closingParen(s, i+1)
			if end < 0 {
				return "", &ExpansionError{Key: key, Command: s[i:], Err: ErrUnterminated}
			}
			out, err := e.Command(ctx, key, s[i+2:end], vars)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			i = end + 1
		case next == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return "", &ExpansionError{Key: key, Command: s[i:], Err: ErrUnterminated}
			}
			b.WriteString(e.getenv(s[i+2 : i+end]))
			i += end + 1
		case isNameByte(next, true):
			j := i + 1
			for j < len(s) && isNameByte(s[j], false) {
				j++
			}
			b.WriteString(e.getenv(s[i+1 : j]))
			i = j
		default:
			b.WriteByte('$')
			i++
		}
	}
	return b.String(), nil
}

// Command splits line into words without a shell, expands each word and runs
// the result, returning its trimmed standard output.
func (e *Expander) Command(ctx context.Context, key, line string, vars Vars) (string, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return "", &ExpansionError{Key: key, Command: line, Err: err}
	}
	if len(words) == 0 {
		return "", &ExpansionError{Key: key, Command: line, Err: errors.New("empty command")}
	}
	for i, w := range words {
		if words[i], err = e.String(ctx, key, w, vars); err != nil {
			return "", err
		}
	}
	return e.run(ctx, key, words)
}

func (e *Expander) run(ctx context.Context, key string, argv []string) (string, error) {
	xerr := &ExpansionError{Key: key, Command: shellquote.Join(argv...)}

	bin, err := safeexec.LookPath(argv[0])
	if err != nil {
		xerr.Err = err
		return "", xerr
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	e.Log.Debug().Str("key", key).Str("command", xerr.Command).Dur("elapsed", time.Since(start)).Err(err).Msg("command substitution")

	xerr.Stderr = strings.TrimSpace(stderr.String())
	if ctxErr := ctx.Err(); ctxErr != nil {
		xerr.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		xerr.Err = ctxErr
		return "", xerr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			xerr.ExitCode = exitErr.ExitCode()
		}
		xerr.Err = err
		return "", xerr
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		xerr.Err = ErrEmptyOutput
		return "", xerr
	}
	return out, nil
}

// lookup resolves host to its first address through nameservers.
func (e *Expander) lookup(ctx context.Context, nameservers []string, host string) (string, error) {
	xerr := &ExpansionError{Key: options.ResolveNameservers, Command: "lookup " + host}

	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	lookupHost := e.LookupHost
	if lookupHost == nil {
		lookupHost = LookupHost
	}
	addrs, err := lookupHost(ctx, nameservers, host)
	e.Log.Debug().Str("host", host).Strs("nameservers", nameservers).Strs("addrs", addrs).Err(err).Msg("nameserver lookup")
	if err != nil {
		xerr.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		xerr.Err = err
		return "", xerr
	}
	if len(addrs) == 0 {
		xerr.Err = ErrEmptyOutput
		return "", xerr
	}
	return addrs[0], nil
}

// LookupHost resolves host by querying nameservers in order. A nameserver
// without a port uses 53.
func LookupHost(ctx context.Context, nameservers []string, host string) ([]string, error) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			var lastErr error
			for _, ns := range nameservers {
				if _, _, err := net.SplitHostPort(ns); err != nil {
					ns = net.JoinHostPort(ns, "53")
				}
				conn, err := d.DialContext(ctx, network, ns)
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, lastErr
		},
	}
	return r.LookupHost(ctx, host)
}

func (e *Expander) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultTimeout
}

func (e *Expander) getenv(name string) string {
	if e.Getenv != nil {
		return e.Getenv(name)
	}
	return os.Getenv(name)
}

// closingParen returns the index of the ')' matching the '(' at open,
// skipping quoted text, or -1.
func closingParen(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else if c == '\\' && quote == '"' && i+1 < len(s) {
				i++
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '\\' && i+1 < len(s):
			i++
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isNameByte(c byte, first bool) bool {
	switch {
	case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		return true
	case '0' <= c && c <= '9':
		return !first
	default:
		return false
	}
}
