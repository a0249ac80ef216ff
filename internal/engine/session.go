package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/FTacke/hispanistica-games-sub000/internal/backend"
	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

// Phase is the run session's state machine phase.
type Phase int

const (
	// PhaseIdle: question visible, answerable, joker usable.
	PhaseIdle Phase = iota
	// PhaseLocked: an outcome exists, input disabled, grace timer running.
	PhaseLocked
	// PhaseTransitioning: advancing to the next question or the finish
	// screen; all input disabled, no timers armed.
	PhaseTransitioning
	// PhaseFinished is terminal; every later event is logged and dropped.
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLocked:
		return "answered_locked"
	case PhaseTransitioning:
		return "transitioning"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Session drives one player through a fixed-length run of timed questions.
// It owns the deadline clock, the joker bookkeeping, the submission pipeline
// and the auto-advance controller, and is the only entry point the
// surrounding transport may call.
//
// All mutation happens under one mutex; the only suspending operations are
// the two timers and the backend round-trips, and those re-enter through
// guarded methods so stale events are discarded instead of applied.
type Session struct {
	backend backend.Backend
	view    ViewPort
	clock   clockwork.Clock
	log     zerolog.Logger

	// ctx covers backend calls made by internal triggers (deadline expiry,
	// grace-timer advance); set by Start.
	ctx context.Context

	mu        sync.Mutex
	phase     Phase
	started   bool
	state     domain.RunState
	questions []backend.RunQuestion
	configs   map[int]domain.QuestionConfig
	outcomes  map[int]domain.AnswerOutcome
	resolved  map[int]bool
	inFlight  map[int]bool
	// unsynced marks the current question's deadline as locally synthesized,
	// which demotes its timeout submission to best-effort.
	unsynced bool
	// epoch increments on every (re)start so responses from a previous run
	// that complete after a restart are discarded, not applied.
	epoch        int
	finishCalled bool
	summary      *domain.RunSummary

	shuffler *Shuffler
	jokers   *jokerManager
	deadline *deadlineClock
	advance  *advanceController
}

func NewSession(b backend.Backend, view ViewPort, topicID string, log zerolog.Logger) *Session {
	return NewSessionWithClock(b, view, topicID, log, clockwork.NewRealClock())
}

// NewSessionWithClock allows a fake clock in tests.
func NewSessionWithClock(b backend.Backend, view ViewPort, topicID string, log zerolog.Logger, clock clockwork.Clock) *Session {
	s := &Session{
		backend:  b,
		view:     view,
		clock:    clock,
		log:      log,
		ctx:      context.Background(),
		configs:  make(map[int]domain.QuestionConfig),
		outcomes: make(map[int]domain.AnswerOutcome),
		resolved: make(map[int]bool),
		inFlight: make(map[int]bool),
		shuffler: NewShuffler(),
		jokers:   newJokerManager(domain.JokersPerRun, nil),
	}
	s.state.TopicID = topicID
	s.deadline = newDeadlineClock(clock, log)
	s.advance = newAdvanceController(clock, log)
	return s
}

// Start begins (or resumes) the run and renders the current question.
func (s *Session) Start(ctx context.Context, forceNew bool) error {
	resp, err := s.backend.StartRun(ctx, backend.StartRunRequest{ForceNew: forceNew})
	if err != nil {
		return fmt.Errorf("run.start: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.started = true
	s.applyStartLocked(resp)
	return nil
}

func (s *Session) applyStartLocked(resp backend.StartRunResponse) {
	s.epoch++
	s.state.RunID = resp.RunID
	s.state.Finished = false
	s.questions = resp.RunQuestions
	s.jokers = newJokerManager(resp.JokerRemaining, resp.JokerUsedOn)
	s.syncJokerStateLocked()

	for index, cfg := range resp.QuestionConfigs {
		s.configs[index] = cfg
		s.shuffler.Restore(index, cfg.AnswersOrder)
	}
	for _, outcome := range resp.Answers {
		s.outcomes[outcome.QuestionIndex] = outcome
		s.resolved[outcome.QuestionIndex] = true
	}

	if resp.CurrentIndex >= domain.TotalQuestions {
		s.phase = PhaseTransitioning
		s.finishLocked()
		return
	}
	s.enterQuestionLocked(resp.CurrentIndex, resp.QuestionStartedAtMs, resp.DeadlineAtMs)
}

// enterQuestionLocked transitions into IDLE for the given index, creating the
// question's config on first visit and arming the deadline clock.
func (s *Session) enterQuestionLocked(index int, startedAtMs, deadlineAtMs int64) {
	if index < 0 || index >= len(s.questions) {
		s.log.Error().Int("question_index", index).Int("questions", len(s.questions)).
			Msg("question index outside run; finishing")
		s.phase = PhaseTransitioning
		s.finishLocked()
		return
	}

	question := s.questions[index]
	cfg, ok := s.configs[index]
	if !ok {
		ids := make([]string, len(question.Options))
		for i, opt := range question.Options {
			ids[i] = opt.ID
		}
		cfg = domain.QuestionConfig{
			QuestionID:   question.ID,
			Difficulty:   question.Difficulty,
			AnswersOrder: s.shuffler.Order(index, ids),
		}
		s.configs[index] = cfg
	}

	deadline, unsynced := s.deadline.Arm(index, deadlineAtMs, s.onDeadlineExpired)
	s.unsynced = unsynced
	if startedAtMs == 0 {
		startedAtMs = s.clock.Now().UnixMilli()
	}
	s.phase = PhaseIdle
	s.state.CurrentIndex = index
	s.state.QuestionStartedAtMs = startedAtMs
	s.state.DeadlineAtMs = deadline.UnixMilli()

	s.log.Debug().Int("question_index", index).Str("question_id", question.ID).
		Int64("deadline_at_ms", s.state.DeadlineAtMs).Msg("question entered")
	s.view.RenderQuestion(index, question, s.visibleOrderLocked(cfg), startedAtMs, s.state.DeadlineAtMs)
}

// visibleOrderLocked is the memoized display order with joker-hidden options
// removed entirely from the answerable set.
func (s *Session) visibleOrderLocked(cfg domain.QuestionConfig) []string {
	if len(cfg.JokerDisabled) == 0 {
		return cfg.AnswersOrder
	}
	hidden := make(map[string]bool, len(cfg.JokerDisabled))
	for _, id := range cfg.JokerDisabled {
		hidden[id] = true
	}
	visible := make([]string, 0, len(cfg.AnswersOrder))
	for _, id := range cfg.AnswersOrder {
		if !hidden[id] {
			visible = append(visible, id)
		}
	}
	return visible
}

// SelectOption submits the player's chosen option for the current question.
// Duplicate selections for an already-resolved question are no-ops.
func (s *Session) SelectOption(ctx context.Context, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseFinished {
		s.logAnomalyLocked("select after finish")
		return nil
	}
	if s.phase != PhaseIdle {
		return domain.ErrNotAnswerable
	}
	index := s.state.CurrentIndex
	if s.resolved[index] {
		// Idempotency guard keyed on the answered flag, not on whatever the
		// UI managed to disable in time.
		return nil
	}
	if s.inFlight[index] {
		return domain.ErrSubmitInFlight
	}

	cfg := s.configs[index]
	valid := false
	for _, id := range s.visibleOrderLocked(cfg) {
		if id == optionID {
			valid = true
			break
		}
	}
	if !valid {
		return domain.ErrOptionNotFound
	}

	selected := optionID
	return s.submitLocked(ctx, index, &selected)
}

// submitLocked runs the answer submission pipeline. The caller holds the
// session lock; the lock is released around the backend round-trip and held
// again on return. selected == nil denotes a timeout submission.
func (s *Session) submitLocked(ctx context.Context, index int, selected *string) error {
	s.resolved[index] = true
	s.inFlight[index] = true
	s.deadline.Cancel()

	req := backend.SubmitAnswerRequest{
		QuestionIndex:    index,
		SelectedAnswerID: selected,
		AnsweredAtMs:     s.clock.Now().UnixMilli(),
		UsedJoker:        s.jokers.spentOn(index),
	}
	timeout := selected == nil
	bestEffort := timeout && s.unsynced
	epoch := s.epoch

	s.mu.Unlock()
	resp, err := s.backend.SubmitAnswer(ctx, req)
	s.mu.Lock()

	if s.epoch != epoch {
		s.log.Warn().Int("question_index", index).Msg("discarding submit response from a restarted run")
		return nil
	}
	delete(s.inFlight, index)
	if err != nil {
		// Transport failure: back to IDLE with the answered guard cleared so
		// the player can retry. Timeout submissions are not re-armed; a late
		// manual selection still reaches the backend, which grades by
		// answered_at anyway.
		delete(s.resolved, index)
		event := s.log.Error().Err(err).Int("question_index", index)
		if bestEffort {
			event.Msg("best-effort timeout submission failed on unsynced deadline")
		} else {
			event.Msg("answer submission failed")
		}
		if !timeout && s.phase == PhaseIdle && s.state.CurrentIndex == index {
			s.rearmDeadlineLocked(index)
		}
		s.view.ShowError(true, "answer could not be submitted")
		return fmt.Errorf("answer.submit: %w", err)
	}

	if s.phase != PhaseIdle || s.state.CurrentIndex != index {
		// A restart raced the round-trip; the response is stale.
		s.log.Warn().Int("question_index", index).Stringer("phase", s.phase).
			Msg("discarding submit response for stale question")
		return nil
	}

	if !resp.Finished && resp.NextQuestionIndex != index+1 {
		s.log.Warn().Int("question_index", index).Int("next_question_index", resp.NextQuestionIndex).
			Msg("server next index disagrees with local state; deferring to server")
	}

	// Server is authoritative over the optimistic local joker count.
	s.jokers.reconcile(resp.JokerRemaining)
	s.syncJokerStateLocked()

	outcome := domain.AnswerOutcome{
		QuestionIndex:   index,
		Result:          resp.Result,
		CorrectOptionID: resp.CorrectOptionID,
		Explanation:     resp.Explanation,
		NextIndex:       resp.NextQuestionIndex,
		Finished:        resp.Finished,
	}
	s.outcomes[index] = outcome
	s.phase = PhaseLocked
	s.view.ShowOutcome(outcome)
	s.advance.Arm(index, s.onGraceAdvance)

	s.log.Info().Int("question_index", index).Str("result", string(resp.Result)).
		Bool("finished", resp.Finished).Msg("answer resolved")
	return nil
}

// rearmDeadlineLocked restores the deadline watch after a rolled-back
// submission, keeping the original server pair; it is never extended.
func (s *Session) rearmDeadlineLocked(index int) {
	deadlineAtMs := s.state.DeadlineAtMs
	wasUnsynced := s.unsynced
	s.deadline.Arm(index, deadlineAtMs, s.onDeadlineExpired)
	s.unsynced = wasUnsynced
}

// onDeadlineExpired is the deadline clock's callback. A stale expiry for a
// question that was already resolved is discarded.
func (s *Session) onDeadlineExpired(index int, unsynced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseIdle || s.state.CurrentIndex != index || s.resolved[index] || s.inFlight[index] {
		s.log.Debug().Int("question_index", index).Stringer("phase", s.phase).
			Msg("discarding stale deadline expiry")
		return
	}

	s.log.Info().Int("question_index", index).Bool("unsynced", unsynced).
		Msg("deadline expired; submitting timeout")
	_ = s.submitLocked(s.ctx, index, nil)
}

// UseJoker spends one 50/50 joker on the current question. Precondition
// failures are rejected locally without a network call; a backend rejection
// rolls the optimistic decrement back.
func (s *Session) UseJoker(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseFinished {
		s.logAnomalyLocked("joker after finish")
		return nil
	}
	if s.phase != PhaseIdle {
		return domain.ErrNotAnswerable
	}
	index := s.state.CurrentIndex
	if s.resolved[index] || s.inFlight[index] {
		return domain.ErrNotAnswerable
	}
	if err := s.jokers.canUse(index); err != nil {
		return err
	}

	s.jokers.spend(index)
	s.syncJokerStateLocked()
	epoch := s.epoch

	s.mu.Unlock()
	resp, err := s.backend.UseJoker(ctx, backend.UseJokerRequest{QuestionIndex: index})
	s.mu.Lock()

	if s.epoch != epoch {
		s.log.Warn().Int("question_index", index).Msg("discarding joker response from a restarted run")
		return nil
	}
	if err != nil {
		s.jokers.rollback(index)
		s.syncJokerStateLocked()
		if errors.Is(err, domain.ErrJokerLimit) {
			// Concurrent session desync; handled silently.
			s.log.Warn().Int("question_index", index).Msg("backend rejected joker; rolled back")
			return err
		}
		s.view.ShowError(true, "joker could not be used")
		return fmt.Errorf("joker.use: %w", err)
	}

	s.jokers.reconcile(resp.JokerRemaining)
	s.syncJokerStateLocked()

	// The disabled set is server-chosen and immutable once recorded.
	cfg := s.configs[index]
	if len(cfg.JokerDisabled) == 0 {
		cfg.JokerDisabled = resp.DisabledAnswerIDs
		s.configs[index] = cfg
	}
	s.view.HideOptions(index, cfg.JokerDisabled)

	s.log.Info().Int("question_index", index).Strs("disabled", cfg.JokerDisabled).
		Int("joker_remaining", s.state.JokerRemaining).Msg("joker applied")
	return nil
}

// Continue is the manual trigger out of the locked state. It races the grace
// timer through the advance claim; whichever trigger loses is a no-op.
func (s *Session) Continue(ctx context.Context) error {
	s.mu.Lock()
	if s.phase == PhaseFinished {
		s.logAnomalyLocked("continue after finish")
		s.mu.Unlock()
		return nil
	}
	if s.phase != PhaseLocked {
		s.mu.Unlock()
		return domain.ErrNotAnswerable
	}
	index := s.state.CurrentIndex
	s.mu.Unlock()

	if !s.advance.Claim(index) {
		// The grace timer won the race; its transition is running.
		return nil
	}
	s.advanceFrom(index)
	return nil
}

// onGraceAdvance is invoked by the advance controller when the grace timer
// wins the race.
func (s *Session) onGraceAdvance(index int) {
	s.advanceFrom(index)
}

// advanceFrom runs the transition body. It is reached exactly once per
// question: both triggers funnel through the advance claim, and the phase
// guard drops anything stale.
func (s *Session) advanceFrom(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseLocked || s.state.CurrentIndex != index {
		s.log.Debug().Int("question_index", index).Stringer("phase", s.phase).
			Msg("discarding stale advance")
		return
	}
	outcome, ok := s.outcomes[index]
	if !ok {
		s.logAnomalyLocked("advance without outcome")
		return
	}

	s.phase = PhaseTransitioning
	s.advance.Cancel()

	if outcome.Finished || outcome.NextIndex >= domain.TotalQuestions {
		s.finishLocked()
		return
	}

	next := outcome.NextIndex
	startedAtMs := s.clock.Now().UnixMilli()
	epoch := s.epoch

	s.mu.Unlock()
	resp, err := s.backend.StartQuestion(s.ctx, backend.StartQuestionRequest{
		QuestionIndex: next,
		StartedAtMs:   startedAtMs,
	})
	s.mu.Lock()

	if s.epoch != epoch || s.phase != PhaseTransitioning {
		s.log.Warn().Int("question_index", next).Msg("discarding stale question.start response")
		return
	}
	if err != nil {
		// Keep the run alive on an unsynced local deadline.
		s.log.Error().Err(err).Int("question_index", next).Msg("question.start failed; falling back to local deadline")
		s.enterQuestionLocked(next, startedAtMs, 0)
		return
	}
	s.enterQuestionLocked(next, resp.QuestionStartedAtMs, resp.DeadlineAtMs)
}

// finishLocked enters the terminal state and calls run.finish exactly once.
// The caller holds the lock; it is released around the backend round-trip.
func (s *Session) finishLocked() {
	s.deadline.Cancel()
	s.advance.Cancel()
	s.state.Finished = true
	s.state.CurrentIndex = domain.TotalQuestions

	if s.finishCalled {
		s.phase = PhaseFinished
		return
	}
	s.finishCalled = true
	epoch := s.epoch

	s.mu.Unlock()
	summary, err := s.backend.FinishRun(s.ctx)
	s.mu.Lock()

	if s.epoch != epoch {
		s.log.Warn().Msg("discarding finish response from a restarted run")
		return
	}
	s.phase = PhaseFinished
	if err != nil {
		s.log.Error().Err(err).Msg("run.finish failed")
		s.view.ShowError(false, "run summary unavailable")
		return
	}
	s.summary = &summary
	s.view.ShowFinished(summary)
	s.log.Info().Str("run_id", s.state.RunID).Int("total_score", summary.TotalScore).Msg("run finished")
}

// Restart abandons the current run and starts a fresh one.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	s.phase = PhaseTransitioning
	s.deadline.Cancel()
	s.advance.Cancel()
	s.resetRunLocked()
	s.mu.Unlock()

	if err := s.backend.RestartRun(ctx); err != nil {
		return fmt.Errorf("run.restart: %w", err)
	}
	return s.Start(ctx, true)
}

func (s *Session) resetRunLocked() {
	s.epoch++
	s.configs = make(map[int]domain.QuestionConfig)
	s.outcomes = make(map[int]domain.AnswerOutcome)
	s.resolved = make(map[int]bool)
	s.inFlight = make(map[int]bool)
	s.shuffler = NewShuffler()
	s.jokers = newJokerManager(domain.JokersPerRun, nil)
	s.syncJokerStateLocked()
	s.unsynced = false
	s.finishCalled = false
	s.summary = nil
	s.state.Finished = false
}

// Close cancels all armed timers. Called when the owning connection goes
// away.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline.Cancel()
	s.advance.Cancel()
}

func (s *Session) syncJokerStateLocked() {
	s.state.JokerRemaining, s.state.JokerUsedOn = s.jokers.snapshot()
}

func (s *Session) logAnomalyLocked(event string) {
	s.log.Warn().Str("event", event).Str("run_id", s.state.RunID).Msg("event after terminal state; ignoring")
}

// Phase reports the current state machine phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// State returns a copy of the run state.
func (s *Session) State() domain.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	state.JokerUsedOn = append([]int(nil), s.state.JokerUsedOn...)
	return state
}

// Config returns the per-question presentation config, if created.
func (s *Session) Config(index int) (domain.QuestionConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[index]
	return cfg, ok
}

// Outcome returns the recorded outcome for a question index, if any.
func (s *Session) Outcome(index int) (domain.AnswerOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.outcomes[index]
	return outcome, ok
}

// Summary returns the end-of-run summary once finished.
func (s *Session) Summary() (domain.RunSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return domain.RunSummary{}, false
	}
	return *s.summary, true
}

// Remaining reports the time left for the current question.
func (s *Session) Remaining() time.Duration {
	return s.deadline.Remaining()
}
