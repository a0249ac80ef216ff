package engine

import (
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

// advanceController arms the post-answer grace timer and races it against a
// manual continue. Both triggers go through a single claim per question: the
// winner cancels the loser and runs the advance callback, the loser is a
// no-op even if its firing was already scheduled.
type advanceController struct {
	clock clockwork.Clock
	log   zerolog.Logger

	mu      sync.Mutex
	current *advanceToken
}

type advanceToken struct {
	index int
	timer clockwork.Timer
	stop  chan struct{}

	mu      sync.Mutex
	claimed bool
}

func (t *advanceToken) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.claimed {
		return false
	}
	t.claimed = true
	return true
}

// release claims the token on behalf of a non-timer trigger and unblocks the
// waiting goroutine. Returns false if the timer already won.
func (t *advanceToken) release() bool {
	if !t.claim() {
		return false
	}
	stopAndDrainTimer(t.timer)
	close(t.stop)
	return true
}

func newAdvanceController(clock clockwork.Clock, log zerolog.Logger) *advanceController {
	return &advanceController{clock: clock, log: log}
}

// Arm starts the grace timer for the given question index. Any previously
// armed token is cancelled first; timers never outlive the state that armed
// them.
func (a *advanceController) Arm(index int, onAdvance func(index int)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil {
		a.current.release()
	}

	token := &advanceToken{
		index: index,
		timer: a.clock.NewTimer(domain.GracePeriod),
		stop:  make(chan struct{}),
	}
	a.current = token

	go func() {
		select {
		case <-token.stop:
			return
		case <-token.timer.Chan():
		}
		if !token.claim() {
			return
		}
		a.log.Debug().Int("question_index", token.index).Msg("grace timer elapsed")
		onAdvance(token.index)
	}()
}

// Claim attempts to take the pending advance for the given index on behalf
// of a manual continue. It returns false when no token is armed for that
// index or the grace timer already won the race.
func (a *advanceController) Claim(index int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || a.current.index != index {
		return false
	}
	if !a.current.release() {
		return false
	}
	a.current = nil
	return true
}

// Cancel drops the armed token, if any, without advancing. Called as the
// exit action whenever the session leaves the locked state.
func (a *advanceController) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		a.current.release()
		a.current = nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel so a fired-but-
// unconsumed tick cannot wake anyone later, per the time.Timer.Stop contract.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
