// Package runner drives one run: it preprocesses the script, splits it into
// batches and hands each batch to the selected processor, then reduces
// everything that went wrong to a single exit classification.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/leapstack-labs/leapbatch/internal/batch"
	"github.com/leapstack-labs/leapbatch/internal/journal"
	"github.com/leapstack-labs/leapbatch/internal/preprocess"
	"github.com/leapstack-labs/leapbatch/internal/processor"
	"github.com/leapstack-labs/leapbatch/internal/render"
	"github.com/leapstack-labs/leapbatch/internal/scanner"
	"github.com/leapstack-labs/leapbatch/internal/trace"
	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Run modes recorded in the journal.
const (
	ModeExecute    = "execute"
	ModeDistribute = "distribute"
)

// Options is the resolved configuration of one run. It is not modified by
// the run.
type Options struct {
	Script     string
	Provider   core.ProviderID
	Connection core.ConnectionParams
	// Output selects distribution mode when set.
	Output string
	// Preprocessor runs when its Executable is set; otherwise the script is
	// read as is. Its Input defaults to Script.
	Preprocessor preprocess.Config
	Terminator   string
	BreakOnError bool
	Verbosity    int
	Render       render.Options
}

// Mode returns the journal mode of the run.
func (o Options) Mode() string {
	if o.Output != "" {
		return ModeDistribute
	}
	return ModeExecute
}

// Outcome summarises a finished run.
type Outcome struct {
	RunID string
	// Class is the classification of the first failure, or success.
	Class core.ExitClass
	Err   error
	// Batches counts batches handed to the processor, Failed those rejected.
	Batches   int
	Failed    int
	Cancelled bool
	Elapsed   time.Duration
}

func (o *Outcome) fail(err error) {
	if err == nil || o.Err != nil {
		return
	}
	o.Err = err
	o.Class = core.ClassOf(err)
}

// Runner executes runs. It is safe to reuse for successive runs.
type Runner struct {
	registry  *adapter.Registry
	sink      trace.Sink
	logger    *slog.Logger
	journal   *journal.Journal
	pipeDir   string
	processor processor.Processor
}

// Option configures a Runner.
type Option func(*Runner)

// WithSink sets the trace sink.
func WithSink(s trace.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithJournal records runs in j.
func WithJournal(j *journal.Journal) Option {
	return func(r *Runner) { r.journal = j }
}

// WithPipeDir sets where the preprocessor pipe is created.
func WithPipeDir(dir string) Option {
	return func(r *Runner) { r.pipeDir = dir }
}

// WithProcessor replaces the processor selected from Options.
func WithProcessor(p processor.Processor) Option {
	return func(r *Runner) { r.processor = p }
}

// New creates a Runner opening connections through registry.
func New(registry *adapter.Registry, opts ...Option) *Runner {
	r := &Runner{registry: registry}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = trace.Discard
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

func (r *Runner) invoker() *preprocess.Invoker {
	opts := []preprocess.Option{preprocess.WithLogger(r.logger)}
	if r.pipeDir != "" {
		opts = append(opts, preprocess.WithPipeDir(r.pipeDir))
	}
	return preprocess.New(r.sink, opts...)
}

func (r *Runner) newProcessor(opts Options, invocation string) processor.Processor {
	if r.processor != nil {
		return r.processor
	}
	if opts.Output != "" {
		return processor.NewDistribution(processor.DistributionConfig{
			Source:     opts.Script,
			Output:     opts.Output,
			Invocation: invocation,
			Terminator: opts.Terminator,
		}, r.logger)
	}
	return processor.NewExecution(r.registry, processor.ExecutionConfig{
		Provider:     opts.Provider,
		Params:       opts.Connection,
		BreakOnError: opts.BreakOnError,
		Render:       opts.Render,
	}, r.sink, r.logger)
}

// source is the text the scanner reads.
type source interface {
	io.Reader
	Close() error
	// Abort releases the source without reporting how it ended.
	Abort() error
}

type fileSource struct {
	*os.File
}

func (f fileSource) Abort() error { return f.Close() }

// Run performs one run. It never panics on run failures and always releases
// the processor, the connection and the preprocessor. Cancelling ctx stops
// the run at the next batch boundary; a running preprocessor is left to
// finish.
func (r *Runner) Run(ctx context.Context, opts Options) (out Outcome) {
	start := time.Now()
	defer func() { out.Elapsed = time.Since(start) }()

	if opts.Script == "" {
		r.report(&out, core.ConfigErrorf("script path is required"))
		return out
	}

	pcfg := opts.Preprocessor
	if pcfg.Input == "" {
		pcfg.Input = opts.Script
	}
	inv := r.invoker()
	invocation := ""
	if pcfg.Executable != "" {
		output := pcfg.TempFile
		if pcfg.UsePipe() {
			output = inv.PipePath()
		}
		invocation = pcfg.CommandLine(output)
	}

	proc := r.newProcessor(opts, invocation)
	if v, ok := proc.(processor.Validator); ok {
		if err := v.Validate(); err != nil {
			r.report(&out, err)
			return out
		}
	}

	// journal writes outlive cancellation of the run
	jctx := context.WithoutCancel(ctx)
	r.startJournal(jctx, opts, &out)
	defer r.finishJournal(jctx, &out)

	var src source
	if pcfg.Executable != "" {
		stream, err := inv.Preprocess(pcfg)
		if err != nil {
			r.report(&out, err)
			return out
		}
		src = stream
	} else {
		f, err := os.Open(opts.Script)
		if err != nil {
			r.report(&out, core.Classify(core.ExitFileIO, fmt.Errorf("failed to open script: %w", err)))
			return out
		}
		src = fileSource{f}
	}

	finished := false
	defer func() {
		switch {
		case finished:
			r.report(&out, src.Close())
		case out.Cancelled:
			// cancellation does not interrupt the preprocessor
			_, _ = io.Copy(io.Discard, src)
			r.report(&out, src.Close())
		default:
			_ = src.Abort()
		}
	}()

	err := proc.SignIn(ctx)
	defer func() { r.report(&out, proc.SignOut()) }()
	if err != nil {
		r.report(&out, err)
		return out
	}

	finished = r.process(ctx, jctx, opts, proc, src, &out)
	return out
}

// process feeds batches to proc until the source is exhausted, a fatal error
// occurs or the run is cancelled. It reports whether the source was read to
// the end.
func (r *Runner) process(ctx, jctx context.Context, opts Options, proc processor.Processor, src io.Reader, out *Outcome) bool {
	split := scanner.New(src, opts.Script,
		scanner.WithTerminator(opts.Terminator),
		scanner.WithLogger(r.logger))

	for {
		if ctx.Err() != nil {
			proc.Cancel()
		}
		if proc.Cancelled() {
			out.Cancelled = true
			r.sink.Trace(trace.Info(trace.SourceRunner, trace.Normal, "run cancelled"))
			return false
		}

		b, err := split.Next()
		if errors.Is(err, io.EOF) {
			r.summarize(out)
			return true
		}
		if err != nil {
			r.report(out, core.Classify(core.ExitFileIO, fmt.Errorf("failed reading %s: %w", opts.Script, err)))
			return false
		}

		if opts.Verbosity >= trace.Verbose {
			if err := proc.ProcessProgress(ctx, b, fmt.Sprintf("Executing batch %d", b.Number)); err != nil {
				r.report(out, err)
				return false
			}
		}

		started := time.Now()
		err = proc.ProcessBatch(ctx, b)
		out.Batches++
		r.recordBatch(jctx, out, b, err, time.Since(started))
		if err == nil {
			continue
		}
		out.Failed++
		var be *processor.BatchError
		if errors.As(err, &be) {
			// already traced with its source position
			out.fail(err)
		} else {
			r.report(out, err)
		}
		if processor.Fatal(err) {
			return false
		}
	}
}

// report records err as a run failure and traces it.
func (r *Runner) report(out *Outcome, err error) {
	if err == nil {
		return
	}
	out.fail(err)
	r.sink.Trace(trace.Error(trace.SourceRunner, err.Error()))
	r.logger.Debug("run failure", slog.String("class", core.ClassOf(err).String()), slog.Any("error", err))
}

func (r *Runner) summarize(out *Outcome) {
	text := fmt.Sprintf("%d batches processed", out.Batches)
	if out.Failed > 0 {
		text += fmt.Sprintf(", %d failed", out.Failed)
	}
	r.sink.Trace(trace.Info(trace.SourceRunner, trace.Verbose, text))
}

func (r *Runner) startJournal(ctx context.Context, opts Options, out *Outcome) {
	if r.journal == nil {
		return
	}
	run, err := r.journal.StartRun(ctx, string(opts.Provider), opts.Script, opts.Mode())
	if err != nil {
		r.logger.Warn("failed to record run", slog.Any("error", err))
		return
	}
	out.RunID = run.ID
}

func (r *Runner) recordBatch(ctx context.Context, out *Outcome, b *batch.Batch, err error, elapsed time.Duration) {
	if r.journal == nil || out.RunID == "" {
		return
	}
	start := b.Start()
	rec := journal.Batch{
		RunID:    out.RunID,
		Number:   b.Number,
		File:     start.File,
		Line:     start.Line,
		Status:   journal.BatchStatusSuccess,
		Duration: elapsed,
	}
	if err != nil {
		rec.Status = journal.BatchStatusFailed
		rec.Error = err.Error()
	}
	if err := r.journal.RecordBatch(ctx, rec); err != nil {
		r.logger.Warn("failed to record batch", slog.Int("batch", b.Number), slog.Any("error", err))
	}
}

func (r *Runner) finishJournal(ctx context.Context, out *Outcome) {
	if r.journal == nil || out.RunID == "" {
		return
	}
	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	if err := r.journal.FinishRun(ctx, out.RunID, out.Class, out.Cancelled, errText); err != nil {
		r.logger.Warn("failed to finish run", slog.Any("error", err))
	}
}
