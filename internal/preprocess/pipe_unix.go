//go:build unix

package preprocess

import (
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/leapstack-labs/leapbatch/pkg/core"
)

const (
	unblockInterval = 10 * time.Millisecond
	unblockTimeout  = 5 * time.Second
)

type openResult struct {
	f   *os.File
	err error
}

func (inv *Invoker) pipe(cfg Config) (*Stream, error) {
	path := inv.PipePath()
	_ = os.Remove(path)
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return nil, core.Classify(core.ExitFileIO, errors.Wrapf(err, "failed to create pipe %s", path))
	}
	cleanup := func() { _ = os.Remove(path) }

	cmdline := cfg.CommandLine(path)
	inv.logger.Debug("running preprocessor", slog.String("command", cmdline), slog.String("pipe", path))

	cmd, wait, err := inv.start(cfg, path, []string{PipeEnv + "=" + path})
	if err != nil {
		cleanup()
		return nil, newError(cmdline, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- wait() }()

	// Opening the read end blocks until the child opens the write end.
	opened := make(chan openResult, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		opened <- openResult{f: f, err: err}
	}()

	select {
	case r := <-opened:
		if r.err != nil {
			_ = cmd.Process.Kill()
			<-exited
			cleanup()
			return nil, newError(cmdline, errors.Wrapf(r.err, "failed to connect to pipe %s", path))
		}
		return &Stream{file: r.f, cmdline: cmdline, proc: cmd.Process, exited: exited, cleanup: cleanup}, nil

	case werr := <-exited:
		// A fast child may have written everything and exited already; the
		// pipe keeps its output for the reader.
		f := connectAfterExit(path, opened)
		if werr == nil && f == nil {
			werr = errors.Errorf("failed to connect to pipe %s", path)
		}
		if werr != nil {
			if f != nil {
				_ = f.Close()
			}
			cleanup()
			return nil, newError(cmdline, werr)
		}
		done := make(chan error, 1)
		done <- nil
		return &Stream{file: f, cmdline: cmdline, exited: done, cleanup: cleanup}, nil
	}
}

// connectAfterExit completes the pending open of the read end once no writer
// can arrive any more, by briefly connecting a writer of its own. A
// non-blocking writer open fails with ENXIO until the reader has entered
// open, so it is retried. It returns nil when the read end never opened.
func connectAfterExit(path string, opened <-chan openResult) *os.File {
	deadline := time.Now().Add(unblockTimeout)
	for time.Now().Before(deadline) {
		select {
		case r := <-opened:
			return r.f
		default:
		}
		w, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			r := <-opened
			_ = w.Close()
			return r.f
		}
		time.Sleep(unblockInterval)
	}
	return nil
}
