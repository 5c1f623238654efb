package algorithm

import (
	"context"

	"github.com/zjrosen/sortpool/internal/protocol"
)

// DefaultProgressDivisor yields at most one progress report per ⌈n/10⌉ units of work.
const DefaultProgressDivisor = 10

// maxIntermediateProgress is the ceiling for reports made while sorting.
// Only the worker runtime reports 100, right before the terminal message.
const maxIntermediateProgress = 99

// Tracker counts the work an algorithm performs and turns it into
// rate-limited, monotonically non-decreasing progress reports. It also
// carries the task context so long sorts notice cancellation.
type Tracker struct {
	ctx    context.Context
	report func(int)

	total int64 // expected units of work
	step  int64 // report at most once per step units
	done  int64
	next  int64
	last  int

	comparisons int64
	swaps       int64
}

// NewTracker creates a tracker for an n-element input expecting total units
// of work. divisor <= 0 selects DefaultProgressDivisor. report may be nil.
func NewTracker(ctx context.Context, n int, total int64, divisor int, report func(int)) *Tracker {
	if divisor <= 0 {
		divisor = DefaultProgressDivisor
	}
	step := int64((n + divisor - 1) / divisor)
	if step < 1 {
		step = 1
	}
	if report == nil {
		report = func(int) {}
	}
	return &Tracker{
		ctx:    ctx,
		report: report,
		total:  total,
		step:   step,
		next:   step,
	}
}

// Less compares two elements by key and counts the comparison.
func (t *Tracker) Less(a, b protocol.Element) bool {
	t.comparisons++
	return protocol.Less(a, b)
}

// Swap counts one exchange or element write.
func (t *Tracker) Swap() {
	t.swaps++
}

// Advance records units of completed work. At each reporting checkpoint it
// checks for cancellation and reports progress if the percentage grew.
func (t *Tracker) Advance(units int64) error {
	t.done += units
	if t.done < t.next {
		return nil
	}
	t.next = t.done + t.step

	if err := t.ctx.Err(); err != nil {
		return err
	}

	if pct := t.Percent(); pct > t.last {
		t.last = pct
		t.report(pct)
	}
	return nil
}

// Percent returns min(99, floor(done/total*100)).
func (t *Tracker) Percent() int {
	if t.total <= 0 {
		return 0
	}
	pct := int(t.done * 100 / t.total)
	if pct > maxIntermediateProgress {
		pct = maxIntermediateProgress
	}
	return pct
}

// Last returns the most recently reported percentage.
func (t *Tracker) Last() int { return t.last }

// Done returns the units of work recorded so far.
func (t *Tracker) Done() int64 { return t.done }

// Comparisons returns the number of key comparisons made.
func (t *Tracker) Comparisons() int64 { return t.comparisons }

// Swaps returns the number of exchanges or element writes made.
func (t *Tracker) Swaps() int64 { return t.swaps }

// Err reports the task context's error, if any.
func (t *Tracker) Err() error { return t.ctx.Err() }
