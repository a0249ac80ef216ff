// Package local implements the quiz backend in-process: it draws runs from a
// question bank, issues deadlines, grades submissions, adjudicates jokers and
// persists run snapshots through a pluggable store.
package local

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/FTacke/hispanistica-games-sub000/internal/backend"
	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

// submitSlack is the network-latency allowance when checking a submission
// against its deadline. Anything later is graded as a timeout regardless of
// the selected option.
const submitSlack = 2 * time.Second

// QuestionRepository loads question banks (from cache/backing store).
type QuestionRepository interface {
	GetBank(ctx context.Context, topicID string) (domain.QuestionBank, error)
}

// RunStore persists run snapshots keyed by player and topic.
type RunStore interface {
	Load(ctx context.Context, key string) (RunSnapshot, bool, error)
	Save(ctx context.Context, key string, snap RunSnapshot) error
	Delete(ctx context.Context, key string) error
}

// RunSnapshot is the full server-side state of one run. It carries the
// unsanitized questions (including correctness), the memoized per-question
// configs and every recorded outcome, so a resumed client sees the same
// shuffle orders and hidden options it saw before.
type RunSnapshot struct {
	State     domain.RunState               `json:"state"`
	Questions []domain.Question             `json:"questions"`
	Configs   map[int]domain.QuestionConfig `json:"configs"`
	Outcomes  map[int]domain.AnswerOutcome  `json:"outcomes"`
	Points    map[int]int                   `json:"points"`
}

// Service is the authoritative backend for all players of this instance.
type Service struct {
	questions QuestionRepository
	runs      RunStore
	clock     clockwork.Clock
	log       zerolog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewService(questions QuestionRepository, runs RunStore, log zerolog.Logger) *Service {
	return NewServiceWithClock(questions, runs, log, clockwork.NewRealClock())
}

// NewServiceWithClock allows a fake clock in tests.
func NewServiceWithClock(questions QuestionRepository, runs RunStore, log zerolog.Logger, clock clockwork.Clock) *Service {
	return &Service{
		questions: questions,
		runs:      runs,
		clock:     clock,
		log:       log,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ForPlayer binds the service to one player and topic, yielding the Backend
// the run engine talks to.
func (s *Service) ForPlayer(userID, topicID string) backend.Backend {
	return &playerBackend{svc: s, key: userID + ":" + topicID, topicID: topicID}
}

type playerBackend struct {
	svc     *Service
	key     string
	topicID string
}

func (p *playerBackend) StartRun(ctx context.Context, req backend.StartRunRequest) (backend.StartRunResponse, error) {
	return p.svc.startRun(ctx, p.key, p.topicID, req.ForceNew)
}

func (p *playerBackend) StartQuestion(ctx context.Context, req backend.StartQuestionRequest) (backend.StartQuestionResponse, error) {
	return p.svc.startQuestion(ctx, p.key, req)
}

func (p *playerBackend) SubmitAnswer(ctx context.Context, req backend.SubmitAnswerRequest) (backend.SubmitAnswerResponse, error) {
	return p.svc.submitAnswer(ctx, p.key, req)
}

func (p *playerBackend) UseJoker(ctx context.Context, req backend.UseJokerRequest) (backend.UseJokerResponse, error) {
	return p.svc.useJoker(ctx, p.key, req)
}

func (p *playerBackend) FinishRun(ctx context.Context) (domain.RunSummary, error) {
	return p.svc.finishRun(ctx, p.key)
}

func (p *playerBackend) RestartRun(ctx context.Context) error {
	return p.svc.restartRun(ctx, p.key)
}

func (s *Service) startRun(ctx context.Context, key, topicID string, forceNew bool) (backend.StartRunResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !forceNew {
		snap, ok, err := s.runs.Load(ctx, key)
		if err != nil {
			return backend.StartRunResponse{}, fmt.Errorf("load run: %w", err)
		}
		if ok && !snap.State.Finished {
			return snapshotResponse(snap), nil
		}
	}

	bank, err := s.questions.GetBank(ctx, topicID)
	if err != nil {
		return backend.StartRunResponse{}, err
	}
	if len(bank.Questions) < domain.TotalQuestions {
		return backend.StartRunResponse{}, fmt.Errorf("topic %s has %d questions, need %d: %w",
			topicID, len(bank.Questions), domain.TotalQuestions, domain.ErrTopicNotFound)
	}

	questions := s.drawLocked(bank.Questions, domain.TotalQuestions)
	now := s.clock.Now()
	snap := RunSnapshot{
		State: domain.RunState{
			RunID:               uuid.NewString(),
			TopicID:             topicID,
			CurrentIndex:        0,
			JokerRemaining:      domain.JokersPerRun,
			JokerUsedOn:         []int{},
			QuestionStartedAtMs: now.UnixMilli(),
			DeadlineAtMs:        now.Add(domain.QuestionDuration).UnixMilli(),
		},
		Questions: questions,
		Configs:   make(map[int]domain.QuestionConfig, domain.TotalQuestions),
		Outcomes:  make(map[int]domain.AnswerOutcome),
		Points:    make(map[int]int),
	}
	for index, q := range questions {
		snap.Configs[index] = domain.QuestionConfig{
			QuestionID:   q.ID,
			Difficulty:   difficultyOf(q),
			AnswersOrder: s.shuffleOptionIDsLocked(q),
		}
	}

	if err := s.runs.Save(ctx, key, snap); err != nil {
		return backend.StartRunResponse{}, fmt.Errorf("save run: %w", err)
	}
	s.log.Info().Str("run_id", snap.State.RunID).Str("topic_id", topicID).Msg("run started")
	return snapshotResponse(snap), nil
}

func (s *Service) startQuestion(ctx context.Context, key string, req backend.StartQuestionRequest) (backend.StartQuestionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.loadRunLocked(ctx, key)
	if err != nil {
		return backend.StartQuestionResponse{}, err
	}
	if snap.State.Finished {
		return backend.StartQuestionResponse{}, domain.ErrRunFinished
	}
	if req.QuestionIndex != snap.State.CurrentIndex {
		return backend.StartQuestionResponse{}, domain.ErrQuestionNotFound
	}

	startedAt := time.UnixMilli(req.StartedAtMs)
	now := s.clock.Now()
	// The client's claimed start time is accepted only within a small skew;
	// the deadline is always issued server-side.
	if req.StartedAtMs == 0 || startedAt.After(now.Add(submitSlack)) || now.Sub(startedAt) > submitSlack {
		startedAt = now
	}
	snap.State.QuestionStartedAtMs = startedAt.UnixMilli()
	snap.State.DeadlineAtMs = startedAt.Add(domain.QuestionDuration).UnixMilli()

	if err := s.runs.Save(ctx, key, snap); err != nil {
		return backend.StartQuestionResponse{}, fmt.Errorf("save run: %w", err)
	}
	return backend.StartQuestionResponse{
		QuestionStartedAtMs: snap.State.QuestionStartedAtMs,
		DeadlineAtMs:        snap.State.DeadlineAtMs,
	}, nil
}

func (s *Service) submitAnswer(ctx context.Context, key string, req backend.SubmitAnswerRequest) (backend.SubmitAnswerResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.loadRunLocked(ctx, key)
	if err != nil {
		return backend.SubmitAnswerResponse{}, err
	}

	index := req.QuestionIndex
	if index < 0 || index >= len(snap.Questions) {
		return backend.SubmitAnswerResponse{}, domain.ErrQuestionNotFound
	}

	// Idempotent by question index: a duplicate submit (client retry after a
	// transport failure whose first attempt actually landed) returns the
	// recorded outcome instead of grading twice.
	if outcome, ok := snap.Outcomes[index]; ok {
		return outcomeResponse(outcome, snap.State.JokerRemaining), nil
	}
	if index != snap.State.CurrentIndex {
		return backend.SubmitAnswerResponse{}, domain.ErrQuestionNotFound
	}

	question := snap.Questions[index]
	result := domain.ResultTimeout
	if req.SelectedAnswerID != nil && req.AnsweredAtMs <= snap.State.DeadlineAtMs+submitSlack.Milliseconds() {
		selected, ok := findOption(question, *req.SelectedAnswerID)
		if !ok {
			return backend.SubmitAnswerResponse{}, domain.ErrOptionNotFound
		}
		if selected.Correct {
			result = domain.ResultCorrect
		} else {
			result = domain.ResultWrong
		}
	}

	points := 0
	if result == domain.ResultCorrect {
		points = difficultyOf(question)
	}

	next := index + 1
	finished := next >= domain.TotalQuestions
	outcome := domain.AnswerOutcome{
		QuestionIndex:   index,
		Result:          result,
		CorrectOptionID: correctOptionID(question),
		Explanation:     question.Explanation,
		NextIndex:       next,
		Finished:        finished,
	}

	snap.Outcomes[index] = outcome
	snap.Points[index] = points
	snap.State.CurrentIndex = next
	snap.State.Finished = finished
	if !finished {
		// Issue the next pair eagerly; question.start may overwrite it.
		now := s.clock.Now()
		snap.State.QuestionStartedAtMs = now.UnixMilli()
		snap.State.DeadlineAtMs = now.Add(domain.QuestionDuration).UnixMilli()
	}

	if err := s.runs.Save(ctx, key, snap); err != nil {
		return backend.SubmitAnswerResponse{}, fmt.Errorf("save run: %w", err)
	}
	s.log.Info().Str("run_id", snap.State.RunID).Int("question_index", index).
		Str("result", string(result)).Int("points", points).Msg("answer graded")
	return outcomeResponse(outcome, snap.State.JokerRemaining), nil
}

func (s *Service) useJoker(ctx context.Context, key string, req backend.UseJokerRequest) (backend.UseJokerResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.loadRunLocked(ctx, key)
	if err != nil {
		return backend.UseJokerResponse{}, err
	}

	index := req.QuestionIndex
	if index != snap.State.CurrentIndex || snap.State.Finished {
		return backend.UseJokerResponse{}, domain.ErrQuestionNotFound
	}
	if _, answered := snap.Outcomes[index]; answered {
		return backend.UseJokerResponse{}, domain.ErrJokerLimit
	}
	if snap.State.JokerRemaining <= 0 || snap.State.JokerSpentOn(index) {
		return backend.UseJokerResponse{}, domain.ErrJokerLimit
	}

	question := snap.Questions[index]
	var wrong []string
	for _, opt := range question.Options {
		if !opt.Correct {
			wrong = append(wrong, opt.ID)
		}
	}
	if len(wrong) < 2 {
		return backend.UseJokerResponse{}, domain.ErrJokerLimit
	}
	// The surviving wrong option is server-chosen so the client cannot infer
	// the answer from local data.
	survivor := s.rnd.Intn(len(wrong))
	disabled := make([]string, 0, len(wrong)-1)
	for i, id := range wrong {
		if i != survivor {
			disabled = append(disabled, id)
		}
	}

	snap.State.JokerRemaining--
	snap.State.JokerUsedOn = append(snap.State.JokerUsedOn, index)
	cfg := snap.Configs[index]
	cfg.JokerDisabled = disabled
	snap.Configs[index] = cfg

	if err := s.runs.Save(ctx, key, snap); err != nil {
		return backend.UseJokerResponse{}, fmt.Errorf("save run: %w", err)
	}
	s.log.Info().Str("run_id", snap.State.RunID).Int("question_index", index).
		Strs("disabled", disabled).Msg("joker adjudicated")
	return backend.UseJokerResponse{
		JokerRemaining:    snap.State.JokerRemaining,
		DisabledAnswerIDs: disabled,
	}, nil
}

func (s *Service) finishRun(ctx context.Context, key string) (domain.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.loadRunLocked(ctx, key)
	if err != nil {
		return domain.RunSummary{}, err
	}

	summary := domain.RunSummary{
		RunID:     snap.State.RunID,
		Breakdown: make([]domain.BreakdownEntry, 0, len(snap.Outcomes)),
	}
	for index := 0; index < domain.TotalQuestions; index++ {
		outcome, ok := snap.Outcomes[index]
		if !ok {
			continue
		}
		points := snap.Points[index]
		summary.TotalScore += points
		if outcome.Result == domain.ResultCorrect {
			summary.TokensCount++
		}
		summary.Breakdown = append(summary.Breakdown, domain.BreakdownEntry{
			QuestionIndex: index,
			QuestionID:    snap.Questions[index].ID,
			Result:        outcome.Result,
			Points:        points,
			UsedJoker:     snap.State.JokerSpentOn(index),
		})
	}

	if !snap.State.Finished {
		snap.State.Finished = true
		if err := s.runs.Save(ctx, key, snap); err != nil {
			return domain.RunSummary{}, fmt.Errorf("save run: %w", err)
		}
	}
	return summary, nil
}

func (s *Service) restartRun(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.runs.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

func (s *Service) loadRunLocked(ctx context.Context, key string) (RunSnapshot, error) {
	snap, ok, err := s.runs.Load(ctx, key)
	if err != nil {
		return RunSnapshot{}, fmt.Errorf("load run: %w", err)
	}
	if !ok {
		return RunSnapshot{}, domain.ErrRunNotFound
	}
	return snap, nil
}

func (s *Service) drawLocked(pool []domain.Question, n int) []domain.Question {
	shuffled := make([]domain.Question, len(pool))
	copy(shuffled, pool)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := s.rnd.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

func (s *Service) shuffleOptionIDsLocked(q domain.Question) []string {
	ids := make([]string, len(q.Options))
	for i, opt := range q.Options {
		ids[i] = opt.ID
	}
	for i := len(ids) - 1; i > 0; i-- {
		j := s.rnd.Intn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

func snapshotResponse(snap RunSnapshot) backend.StartRunResponse {
	resp := backend.StartRunResponse{
		RunID:               snap.State.RunID,
		CurrentIndex:        snap.State.CurrentIndex,
		RunQuestions:        sanitizeQuestions(snap.Questions),
		JokerRemaining:      snap.State.JokerRemaining,
		JokerUsedOn:         append([]int{}, snap.State.JokerUsedOn...),
		QuestionStartedAtMs: snap.State.QuestionStartedAtMs,
		DeadlineAtMs:        snap.State.DeadlineAtMs,
		Answers:             make([]domain.AnswerOutcome, 0, len(snap.Outcomes)),
		QuestionConfigs:     make(map[int]domain.QuestionConfig, len(snap.Configs)),
	}
	for index := 0; index < domain.TotalQuestions; index++ {
		if outcome, ok := snap.Outcomes[index]; ok {
			resp.Answers = append(resp.Answers, outcome)
		}
	}
	for index, cfg := range snap.Configs {
		resp.QuestionConfigs[index] = cfg
	}
	return resp
}

func sanitizeQuestions(questions []domain.Question) []backend.RunQuestion {
	out := make([]backend.RunQuestion, len(questions))
	for i, q := range questions {
		options := make([]backend.RunOption, len(q.Options))
		for j, opt := range q.Options {
			options[j] = backend.RunOption{ID: opt.ID, Text: opt.Text}
		}
		out[i] = backend.RunQuestion{
			ID:         q.ID,
			Prompt:     q.Prompt,
			Options:    options,
			Difficulty: difficultyOf(q),
		}
	}
	return out
}

func outcomeResponse(outcome domain.AnswerOutcome, jokerRemaining int) backend.SubmitAnswerResponse {
	return backend.SubmitAnswerResponse{
		Result:            outcome.Result,
		CorrectOptionID:   outcome.CorrectOptionID,
		Explanation:       outcome.Explanation,
		JokerRemaining:    jokerRemaining,
		Finished:          outcome.Finished,
		NextQuestionIndex: outcome.NextIndex,
	}
}

func findOption(q domain.Question, optionID string) (domain.Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return opt, true
		}
	}
	return domain.Option{}, false
}

func correctOptionID(q domain.Question) string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	if len(q.Options) > 0 {
		return q.Options[0].ID
	}
	return ""
}

func difficultyOf(q domain.Question) int {
	if q.Difficulty <= 0 {
		return 1
	}
	return q.Difficulty
}
