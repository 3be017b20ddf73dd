package processor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/leapstack-labs/leapbatch/internal/batch"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Banner lines bound the header and footer comment blocks.
const (
	banner    = "/*****************************************************************************"
	bannerEnd = "*****************************************************************************/"
)

// DistributionConfig configures the Distribution strategy.
type DistributionConfig struct {
	// Source is the script the batches came from.
	Source string
	Output string
	// Invocation is the preprocessor command line, if any.
	Invocation string
	Terminator string
	// Now is the clock for the header timestamp.
	Now func() time.Time
}

// Distribution writes every batch to a UTF-16 script that can be run later
// by any batch-aware client. Nothing is executed.
type Distribution struct {
	cfg    DistributionConfig
	logger *slog.Logger

	file    *os.File
	enc     io.WriteCloser
	w       *bufio.Writer
	pending bool // a batch was written and still needs its terminator
	batches int

	cancelled atomic.Bool
}

// NewDistribution creates a Distribution strategy.
func NewDistribution(cfg DistributionConfig, logger *slog.Logger) *Distribution {
	if cfg.Terminator == "" {
		cfg.Terminator = "go"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Distribution{cfg: cfg, logger: logger}
}

// Validate rejects an output path that resolves to the source script.
func (d *Distribution) Validate() error {
	if d.cfg.Output == "" {
		return core.ConfigErrorf("distribution output path is required")
	}
	same, err := SamePath(d.cfg.Source, d.cfg.Output)
	if err != nil {
		return core.ConfigErrorf("failed to resolve output path: %w", err)
	}
	if same {
		return core.ConfigErrorf("output %s would overwrite the source script", d.cfg.Output)
	}
	return nil
}

// SamePath reports whether a and b name the same file, following symlinks
// when both exist.
func SamePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	if absA == absB {
		return true, nil
	}
	infoA, errA := os.Stat(absA)
	infoB, errB := os.Stat(absB)
	if errA != nil || errB != nil {
		return false, nil
	}
	return os.SameFile(infoA, infoB), nil
}

// SignIn creates the output file and writes the header block.
func (d *Distribution) SignIn(context.Context) error {
	f, err := os.Create(d.cfg.Output)
	if err != nil {
		return core.Classify(core.ExitFileIO, fmt.Errorf("failed to create %s: %w", d.cfg.Output, err))
	}
	d.file = f
	d.enc = transform.NewWriter(f, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder())
	d.w = bufio.NewWriter(d.enc)

	d.printf("%s\n", banner)
	d.printf("** Source:       %s\n", d.cfg.Source)
	d.printf("** Destination:  %s\n", d.cfg.Output)
	d.printf("** Generated:    %s\n", d.cfg.Now().UTC().Format(time.RFC3339))
	if d.cfg.Invocation != "" {
		d.printf("** Preprocessor: %s\n", d.cfg.Invocation)
	}
	d.printf("%s\n", bannerEnd)

	d.logger.Debug("distribution started", slog.String("output", d.cfg.Output))
	return d.flushErr()
}

// ProcessBatch writes the batch without trailing whitespace or blank lines.
func (d *Distribution) ProcessBatch(_ context.Context, b *batch.Batch) error {
	var lines []string
	for _, line := range strings.Split(b.Text, "\n") {
		line = strings.TrimRight(line, " \t\r\f\v")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	d.writeBatch(strings.Join(lines, "\n"))
	return d.flushErr()
}

// ProcessProgress writes text as a PRINT statement in a batch of its own.
func (d *Distribution) ProcessProgress(_ context.Context, _ *batch.Batch, text string) error {
	d.writeBatch(PrintStatement(text))
	return d.flushErr()
}

// PrintStatement returns a PRINT statement for text.
func PrintStatement(text string) string {
	return "PRINT '" + strings.ReplaceAll(text, "'", "''") + "'"
}

// writeBatch writes text and leaves its terminator pending, so that the
// footer ends up inside the last batch.
func (d *Distribution) writeBatch(text string) {
	d.terminate()
	d.printf("%s\n", text)
	d.pending = true
	d.batches++
}

func (d *Distribution) terminate() {
	if d.pending {
		d.printf("%s\n", d.cfg.Terminator)
		d.pending = false
	}
}

// SignOut writes the footer and closes the file.
func (d *Distribution) SignOut() error {
	if d.file == nil {
		return nil
	}
	d.printf("%s\n", banner)
	d.printf("** End of %s: %d batches\n", d.cfg.Output, d.batches)
	d.printf("%s\n", bannerEnd)
	d.terminate()

	err := d.w.Flush()
	if cerr := d.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	d.file = nil
	if err != nil {
		return core.Classify(core.ExitFileIO, fmt.Errorf("failed to write %s: %w", d.cfg.Output, err))
	}
	d.logger.Debug("distribution written", slog.String("output", d.cfg.Output), slog.Int("batches", d.batches))
	return nil
}

func (d *Distribution) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(d.w, format, args...)
}

// flushErr reports a write failure recorded by the buffered writer.
func (d *Distribution) flushErr() error {
	if err := d.w.Flush(); err != nil {
		return core.Classify(core.ExitFileIO, fmt.Errorf("failed to write %s: %w", d.cfg.Output, err))
	}
	return nil
}

// Cancel implements Processor.
func (d *Distribution) Cancel() {
	d.cancelled.Store(true)
}

// Cancelled implements Processor.
func (d *Distribution) Cancelled() bool {
	return d.cancelled.Load()
}
