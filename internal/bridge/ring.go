package bridge

// ring is a bounded FIFO of log lines. Appending past capacity drops the
// oldest entry, never the newest. Not goroutine-safe; callers hold the
// owning record or registry lock.
type ring struct {
	capacity int
	lines    []string
}

func newRing(capacity int) *ring {
	return &ring{capacity: capacity}
}

func (r *ring) append(line string) {
	if len(r.lines) >= r.capacity {
		drop := len(r.lines) - r.capacity + 1
		r.lines = r.lines[drop:]
	}
	r.lines = append(r.lines, line)
}

// snapshot returns a copy of the buffered lines, oldest first.
func (r *ring) snapshot() []string {
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func (r *ring) clear() {
	r.lines = nil
}

func (r *ring) len() int {
	return len(r.lines)
}
