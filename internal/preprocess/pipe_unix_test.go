//go:build unix

package preprocess

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbatch/internal/trace"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

type preprocessResult struct {
	s   *Stream
	err error
}

// preprocessWithin fails the test instead of hanging when Preprocess does not
// return in time.
func preprocessWithin(t *testing.T, inv *Invoker, cfg Config) (*Stream, error) {
	t.Helper()
	done := make(chan preprocessResult, 1)
	go func() {
		s, err := inv.Preprocess(cfg)
		done <- preprocessResult{s: s, err: err}
	}()
	select {
	case r := <-done:
		return r.s, r.err
	case <-time.After(30 * time.Second):
		t.Fatal("preprocess did not return")
		return nil, nil
	}
}

func TestInvoker_Pipe(t *testing.T) {
	input := writeScript(t, "select 1\ngo\nselect 2\n")

	t.Run("streams child output", func(t *testing.T) {
		var rec trace.Recorder
		inv := New(&rec, WithPipeDir(t.TempDir()))

		s, err := preprocessWithin(t, inv, helperConfig(t, "copy", input))
		require.NoError(t, err)
		assert.Contains(t, s.CommandLine(), inv.PipePath())

		assert.Equal(t, fmt.Sprintf("#line 1 %q\nselect 1\ngo\nselect 2\n", input), readAll(t, s))
		require.NoError(t, s.Close())
		assert.NoFileExists(t, inv.PipePath())
		assert.Contains(t, rec.Texts(trace.SourcePreprocessor), "preprocessing "+input)
	})

	t.Run("child exiting before connecting does not hang", func(t *testing.T) {
		var rec trace.Recorder
		inv := New(&rec, WithPipeDir(t.TempDir()))

		s, err := preprocessWithin(t, inv, helperConfig(t, "fail-early", input))
		require.Error(t, err)
		assert.Nil(t, s)

		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, 3, perr.ExitCode)
		assert.Equal(t, core.ExitPreprocess, core.ClassOf(err))
		assert.NoFileExists(t, inv.PipePath())
		assert.Contains(t, rec.Texts(trace.SourcePreprocessor), "fatal: undefined macro")
	})

	t.Run("child failing after writing", func(t *testing.T) {
		inv := New(nil, WithPipeDir(t.TempDir()))

		s, err := preprocessWithin(t, inv, helperConfig(t, "fail-late", input))
		if err == nil {
			// The failure surfaces when the stream is closed.
			_ = readAll(t, s)
			err = s.Close()
		}
		require.Error(t, err)

		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, 2, perr.ExitCode)
		assert.NoFileExists(t, inv.PipePath())
	})

	t.Run("abort ignores the exit status", func(t *testing.T) {
		inv := New(nil, WithPipeDir(t.TempDir()))

		s, err := preprocessWithin(t, inv, helperConfig(t, "copy", input))
		require.NoError(t, err)
		assert.NoError(t, s.Abort())
		assert.NoError(t, s.Close())
		assert.NoFileExists(t, inv.PipePath())
	})

	t.Run("missing executable removes the pipe", func(t *testing.T) {
		inv := New(nil, WithPipeDir(t.TempDir()))
		cfg := Config{Executable: "/no/such/preprocessor", Input: input}

		_, err := preprocessWithin(t, inv, cfg)
		require.Error(t, err)
		assert.Equal(t, core.ExitPreprocess, core.ClassOf(err))
		assert.NoFileExists(t, inv.PipePath())
	})
}
