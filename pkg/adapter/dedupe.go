package adapter

import "github.com/leapstack-labs/leapbatch/pkg/core"

// Deduper drops informational messages already seen during the current batch.
// Some drivers report the same server message through both the error and the
// message channel.
type Deduper struct {
	seen map[core.Message]struct{}
}

// Seen records msg and reports whether it was already recorded.
func (d *Deduper) Seen(msg core.Message) bool {
	if d.seen == nil {
		d.seen = make(map[core.Message]struct{})
	}
	if _, ok := d.seen[msg]; ok {
		return true
	}
	d.seen[msg] = struct{}{}
	return false
}

// Reset forgets everything; call it at each batch boundary.
func (d *Deduper) Reset() {
	clear(d.seen)
}
