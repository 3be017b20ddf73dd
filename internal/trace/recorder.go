package trace

import "sync"

// Recorder keeps every entry it receives, regardless of verbosity.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Trace implements Sink.
func (r *Recorder) Trace(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Texts returns the text of entries from src, or of all entries when src is
// empty.
func (r *Recorder) Texts(src Source) []string {
	var out []string
	for _, e := range r.Entries() {
		if src == "" || e.Source == src {
			out = append(out, e.Text)
		}
	}
	return out
}

// Errors returns the text of error entries.
func (r *Recorder) Errors() []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Severity.IsError() {
			out = append(out, e.Text)
		}
	}
	return out
}

// Tee forwards every entry to all sinks.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(e Entry) {
		for _, s := range sinks {
			s.Trace(e)
		}
	})
}
