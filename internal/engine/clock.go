package engine

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

// deadlineTick is the polling granularity of the deadline clock.
const deadlineTick = 100 * time.Millisecond

// expiryFunc receives the question index whose deadline passed and whether
// the deadline was locally synthesized (unsynced) rather than server-issued.
type expiryFunc func(index int, unsynced bool)

// deadlineClock watches the server-issued {started_at, deadline_at} pair for
// the current question and fires an expiry callback exactly once when the
// deadline passes. At most one watch is armed at a time; arming a new one
// cancels the previous watch synchronously.
//
// The server pair is trusted verbatim. Only when the server failed to supply
// a deadline does the clock synthesize one locally, flagging the watch as
// unsynced so the resulting timeout submission is treated as best-effort.
type deadlineClock struct {
	clock clockwork.Clock
	log   zerolog.Logger

	mu      sync.Mutex
	current *deadlineWatch
}

type deadlineWatch struct {
	index    int
	deadline time.Time
	unsynced bool

	mu       sync.Mutex
	resolved bool
	stop     chan struct{}
}

// claim marks the watch as resolved. Exactly one caller (expiry or cancel)
// wins; the loser becomes a no-op.
func (w *deadlineWatch) claim() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved {
		return false
	}
	w.resolved = true
	return true
}

func (w *deadlineWatch) cancel() {
	if w.claim() {
		close(w.stop)
	}
}

func newDeadlineClock(clock clockwork.Clock, log zerolog.Logger) *deadlineClock {
	return &deadlineClock{clock: clock, log: log}
}

// Arm starts watching the deadline for the given question index. A zero
// deadlineAtMs means the server failed to issue one; the clock falls back to
// now + the fixed question duration and reports the watch as unsynced. The
// deadline actually in effect is returned.
func (c *deadlineClock) Arm(index int, deadlineAtMs int64, onExpired expiryFunc) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.cancel()
	}

	unsynced := deadlineAtMs == 0
	var deadline time.Time
	if unsynced {
		deadline = c.clock.Now().Add(domain.QuestionDuration)
		c.log.Warn().Int("question_index", index).Msg("no server deadline; using local fallback")
	} else {
		deadline = time.UnixMilli(deadlineAtMs)
	}

	watch := &deadlineWatch{
		index:    index,
		deadline: deadline,
		unsynced: unsynced,
		stop:     make(chan struct{}),
	}
	c.current = watch

	go c.watch(watch, onExpired)
	return deadline, unsynced
}

func (c *deadlineClock) watch(w *deadlineWatch, onExpired expiryFunc) {
	ticker := c.clock.NewTicker(deadlineTick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.Chan():
			if c.clock.Now().Before(w.deadline) {
				continue
			}
			if w.claim() {
				onExpired(w.index, w.unsynced)
			}
			return
		}
	}
}

// Cancel stops the current watch. A cancelled watch never invokes its expiry
// callback; if the expiry already claimed the watch, Cancel is a no-op and
// the callback is (or was) delivered.
func (c *deadlineClock) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.cancel()
		c.current = nil
	}
}

// Remaining reports the time left on the armed watch, floored at zero.
func (c *deadlineClock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	remaining := c.current.deadline.Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
