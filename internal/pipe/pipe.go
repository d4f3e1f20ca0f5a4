// Package pipe splices two byte streams together.
package pipe

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
)

type closeWriter interface {
	CloseWrite() error
}

// Copy copies local to remote and remote to local until remote reaches EOF,
// either side fails, or ctx is canceled. Both sides are closed on return.
//
// When local reaches EOF first, remote is half-closed if it supports
// CloseWrite so replies still flow back; otherwise the session ends.
func Copy(ctx context.Context, local, remote io.ReadWriteCloser) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = local.Close()
			_ = remote.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	up := make(chan error, 1)
	go func() {
		_, err := io.Copy(remote, local)
		if err == nil {
			if cw, ok := remote.(closeWriter); ok {
				err = cw.CloseWrite()
			} else {
				closeBoth()
			}
		}
		up <- ignoreClosed(err)
	}()

	_, err := io.Copy(local, remote)
	closeBoth()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err = ignoreClosed(err); err != nil {
		return err
	}
	// The upstream copy only has a result yet if it finished first.
	select {
	case err = <-up:
		return err
	default:
		return nil
	}
}

// Stdio joins a reader and a writer, usually a process's stdin and stdout.
type Stdio struct {
	io.Reader
	io.Writer
}

// Close closes both halves when they are closers.
func (s Stdio) Close() error {
	var errs []error
	if c, ok := s.Reader.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.Writer.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
