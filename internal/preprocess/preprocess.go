// Package preprocess runs the external macro preprocessor and exposes its
// output as a stream for the scanner.
//
// Two transports are supported. The pipe transport creates a named pipe,
// hands its path to the child as the output destination and streams the
// child's output while it runs. The temp-file transport waits for the child
// to exit and then opens the file it wrote.
package preprocess

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapbatch/internal/trace"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Default flag spellings, compatible with cpp-style preprocessors.
const (
	DefaultDefineFlag  = "-D"
	DefaultIncludeFlag = "-I"
	DefaultOutputFlag  = "-o"
)

// PipeEnv names the environment variable that carries the pipe path to the
// child, for preprocessors that prefer it over the output flag.
const PipeEnv = "LEAPBATCH_PIPE"

const pipePrefix = "leapbatch"

// Config describes one preprocessor invocation.
type Config struct {
	Executable string
	// Args are passed before every generated flag.
	Args []string
	// Defines are macro definitions in name or name=value form.
	Defines     []string
	IncludeDirs []string

	DefineFlag  string
	IncludeFlag string
	OutputFlag  string

	Input string

	// TempFile selects the temp-file transport when set.
	TempFile     string
	KeepTempFile bool

	WorkDir string
	// Env is appended to the current environment.
	Env []string
}

// UsePipe reports whether the pipe transport is selected.
func (c Config) UsePipe() bool {
	return c.TempFile == ""
}

// Validate checks the invocation before anything is started.
func (c Config) Validate() error {
	if c.Executable == "" {
		return core.ConfigErrorf("preprocessor executable is required")
	}
	if c.Input == "" {
		return core.ConfigErrorf("script path is required")
	}
	for _, d := range c.Defines {
		name, _, _ := strings.Cut(d, "=")
		if strings.TrimSpace(name) == "" {
			return core.ConfigErrorf("invalid macro definition %q: name is empty", d)
		}
	}
	return nil
}

// CommandArgs returns the child arguments for the given output destination:
// extra arguments, definitions, include directories, output and input, in
// that order.
func (c Config) CommandArgs(output string) []string {
	args := make([]string, 0, len(c.Args)+2*(len(c.Defines)+len(c.IncludeDirs))+3)
	args = append(args, c.Args...)
	for _, d := range c.Defines {
		args = appendFlag(args, flagOr(c.DefineFlag, DefaultDefineFlag), d)
	}
	for _, dir := range c.IncludeDirs {
		args = appendFlag(args, flagOr(c.IncludeFlag, DefaultIncludeFlag), dir)
	}
	args = appendFlag(args, flagOr(c.OutputFlag, DefaultOutputFlag), output)
	return append(args, c.Input)
}

// CommandLine renders the full invocation for reports.
func (c Config) CommandLine(output string) string {
	parts := append([]string{c.Executable}, c.CommandArgs(output)...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			parts[i] = strconv.Quote(p)
		}
	}
	return strings.Join(parts, " ")
}

func flagOr(flag, def string) string {
	if flag == "" {
		return def
	}
	return flag
}

// appendFlag adds a flag and its value. Flags ending in '=' or ':' take the
// value in the same argument.
func appendFlag(args []string, flag, value string) []string {
	if strings.HasSuffix(flag, "=") || strings.HasSuffix(flag, ":") {
		return append(args, flag+value)
	}
	return append(args, flag, value)
}

// Error reports a preprocessor that could not start or exited non-zero.
type Error struct {
	CommandLine string
	// ExitCode is -1 when the child never produced an exit status.
	ExitCode int
	Err      error
}

func newError(cmdline string, err error) *Error {
	code := -1
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code = ee.ExitCode()
	}
	return &Error{CommandLine: cmdline, ExitCode: code, Err: err}
}

func (e *Error) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("preprocessor exited with code %d: %s", e.ExitCode, e.CommandLine)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.CommandLine)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitClass implements core.Classified.
func (e *Error) ExitClass() core.ExitClass {
	return core.ExitPreprocess
}

// Stream is the preprocessor output. Close releases the pipe or temp file and,
// in pipe mode, waits for the child and reports its failure.
type Stream struct {
	file    *os.File
	cmdline string
	proc    *os.Process
	exited  <-chan error
	cleanup func()

	once sync.Once
	err  error
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

// CommandLine returns the invocation that produced the stream.
func (s *Stream) CommandLine() string {
	return s.cmdline
}

// Close closes the stream. In pipe mode it returns an *Error when the child
// exited non-zero.
func (s *Stream) Close() error {
	return s.close(false)
}

// Abort kills a still running child and closes the stream. The child's exit
// status is not reported.
func (s *Stream) Abort() error {
	return s.close(true)
}

func (s *Stream) close(kill bool) error {
	s.once.Do(func() {
		if kill && s.proc != nil {
			_ = s.proc.Kill()
		}
		s.err = s.file.Close()
		if s.exited != nil {
			if werr := <-s.exited; werr != nil && !kill {
				s.err = newError(s.cmdline, werr)
			}
		}
		if s.cleanup != nil {
			s.cleanup()
		}
	})
	return s.err
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithPipeDir sets the directory the named pipe is created in.
func WithPipeDir(dir string) Option {
	return func(inv *Invoker) { inv.pipeDir = dir }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

// Invoker starts preprocessor children and forwards their console output to
// a trace sink.
type Invoker struct {
	sink    trace.Sink
	logger  *slog.Logger
	pipeDir string
}

// New creates an Invoker. A nil sink discards child output.
func New(sink trace.Sink, opts ...Option) *Invoker {
	if sink == nil {
		sink = trace.Discard
	}
	inv := &Invoker{
		sink:    sink,
		logger:  slog.New(slog.DiscardHandler),
		pipeDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// PipePath returns the process scoped pipe path.
func (inv *Invoker) PipePath() string {
	return filepath.Join(inv.pipeDir, fmt.Sprintf("%s-%d.pipe", pipePrefix, os.Getpid()))
}

// Preprocess runs the preprocessor and returns its output. It is not
// cancellable: an invocation runs until the child connects, fails or exits.
func (inv *Invoker) Preprocess(cfg Config) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UsePipe() {
		return inv.pipe(cfg)
	}
	return inv.tempFile(cfg)
}

func (inv *Invoker) tempFile(cfg Config) (*Stream, error) {
	cmdline := cfg.CommandLine(cfg.TempFile)
	inv.logger.Debug("running preprocessor", slog.String("command", cmdline))

	_, wait, err := inv.start(cfg, cfg.TempFile, nil)
	if err != nil {
		return nil, newError(cmdline, err)
	}
	if err := wait(); err != nil {
		return nil, newError(cmdline, err)
	}

	f, err := os.Open(cfg.TempFile)
	if err != nil {
		return nil, core.Classify(core.ExitFileIO,
			errors.Wrapf(err, "failed to open preprocessor output %s", cfg.TempFile))
	}
	s := &Stream{file: f, cmdline: cmdline}
	if !cfg.KeepTempFile {
		path := cfg.TempFile
		s.cleanup = func() { _ = os.Remove(path) }
	}
	return s, nil
}

// start launches the child and its output drains. The returned wait function
// must be called exactly once; it waits for the drains and then the child.
func (inv *Invoker) start(cfg Config, output string, env []string) (*exec.Cmd, func() error, error) {
	cmd := exec.Command(cfg.Executable, cfg.CommandArgs(output)...) //nolint:gosec // the executable is configured by the user
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 || len(env) > 0 {
		cmd.Env = append(append(os.Environ(), cfg.Env...), env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to capture preprocessor output")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to capture preprocessor errors")
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to start preprocessor")
	}
	inv.logger.Debug("preprocessor started", slog.Int("pid", cmd.Process.Pid))

	var g errgroup.Group
	g.Go(func() error {
		return inv.drain(stdout, func(line string) trace.Entry {
			return trace.Info(trace.SourcePreprocessor, trace.Verbose, line)
		})
	})
	g.Go(func() error {
		return inv.drain(stderr, func(line string) trace.Entry {
			return trace.Entry{
				Source:   trace.SourcePreprocessor,
				Severity: core.SeverityWarning,
				Level:    trace.Normal,
				Text:     line,
			}
		})
	})

	wait := func() error {
		drainErr := g.Wait()
		if err := cmd.Wait(); err != nil {
			return err
		}
		return drainErr
	}
	return cmd, wait, nil
}

func (inv *Invoker) drain(r io.Reader, entry func(string) trace.Entry) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		inv.sink.Trace(entry(sc.Text()))
	}
	return errors.Wrap(sc.Err(), "failed reading preprocessor console")
}
