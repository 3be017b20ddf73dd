//go:build unix

package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbatch/internal/preprocess"
	"github.com/leapstack-labs/leapbatch/internal/trace"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// copyPreprocessor prefixes the input with a #line directive naming the
// input and a synthetic two line banner, so that remapping is observable.
const copyPreprocessor = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    -D|-I) shift 2 ;;
    *) in="$1"; shift ;;
  esac
done
{
  echo "-- generated"
  echo "-- do not edit"
  printf '#line 1 "%s"\n' "$in"
  cat "$in"
} > "$out"
echo "expanded $in"
`

// slowPreprocessor connects to its output late and leaves a marker once it
// has written everything.
const slowPreprocessor = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    *) in="$1"; shift ;;
  esac
done
sleep 1
cat "$in" > "$out"
echo finished > "$in.done"
`

const failingPreprocessor = `#!/bin/sh
echo "macro FOO is not defined" >&2
exit 3
`

func writeExecutable(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o755))
	return path
}

func TestRun_Preprocessed(t *testing.T) {
	pp := writeExecutable(t, "pp.sh", copyPreprocessor)
	script := writeScript(t, "select 1\ngo\nselect 2\nselect 3\n")

	tests := []struct {
		name string
		cfg  func(t *testing.T) preprocess.Config
	}{
		{
			name: "pipe transport",
			cfg:  func(*testing.T) preprocess.Config { return preprocess.Config{Executable: pp} },
		},
		{
			name: "temp file transport",
			cfg: func(t *testing.T) preprocess.Config {
				return preprocess.Config{Executable: pp, TempFile: filepath.Join(t.TempDir(), "pp.out")}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{}
			rec := &trace.Recorder{}
			r := newRunner(t, p, rec, WithPipeDir(t.TempDir()))

			out := r.Run(t.Context(), Options{Script: script, Preprocessor: tt.cfg(t), Verbosity: trace.Verbose})

			require.NoError(t, out.Err)
			require.Len(t, p.batches, 2)
			assert.Equal(t, "-- generated\n-- do not edit\nselect 1\n", p.batches[0].Text)
			assert.Equal(t, core.Location{File: script, Line: 1}, p.batches[0].Translate(3))
			assert.Equal(t, core.Location{File: script, Line: 4}, p.batches[1].Translate(2))
			assert.Contains(t, rec.Texts(trace.SourcePreprocessor), "expanded "+script)
		})
	}
}

func TestRun_PreprocessorFailure(t *testing.T) {
	pp := writeExecutable(t, "pp.sh", failingPreprocessor)
	script := writeScript(t, "select 1\n")

	for _, tempFile := range []bool{false, true} {
		cfg := preprocess.Config{Executable: pp}
		if tempFile {
			cfg.TempFile = filepath.Join(t.TempDir(), "pp.out")
		}

		p := &fakeProcessor{}
		rec := &trace.Recorder{}
		out := newRunner(t, p, rec, WithPipeDir(t.TempDir())).Run(t.Context(), Options{Script: script, Preprocessor: cfg})

		assert.Equal(t, core.ExitPreprocess, out.Class)
		assert.Equal(t, []string{"Validate"}, p.calls, "nothing is signed in when preprocessing fails")
		assert.Contains(t, rec.Texts(trace.SourcePreprocessor), "macro FOO is not defined")
		require.Len(t, rec.Errors(), 1)
		assert.Contains(t, rec.Errors()[0], "exited with code 3")
	}
}

func TestRun_CancelledWhilePreprocessing(t *testing.T) {
	pp := writeExecutable(t, "pp.sh", slowPreprocessor)
	script := writeScript(t, "select 1\ngo\nselect 2\n")

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	p := &fakeProcessor{}
	rec := &trace.Recorder{}
	out := newRunner(t, p, rec, WithPipeDir(t.TempDir())).Run(ctx, Options{
		Script:       script,
		Preprocessor: preprocess.Config{Executable: pp},
	})

	assert.True(t, out.Cancelled)
	assert.NoError(t, out.Err)
	assert.Equal(t, core.ExitSuccess, out.Class)
	assert.Empty(t, p.batches, "no batch starts after cancellation")
	assert.FileExists(t, script+".done", "the preprocessor runs to completion")
}
