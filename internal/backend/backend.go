package backend

import (
	"context"

	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

// Backend is the collaborator contract the run engine talks to. One Backend
// value is bound to one player; implementations are the remote HTTP client
// and the in-process backend under backend/local.
//
// All timestamps on the wire are epoch milliseconds. deadline_at_ms is
// authoritative: the engine must never extend it locally.
type Backend interface {
	StartRun(ctx context.Context, req StartRunRequest) (StartRunResponse, error)
	StartQuestion(ctx context.Context, req StartQuestionRequest) (StartQuestionResponse, error)
	SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (SubmitAnswerResponse, error)
	UseJoker(ctx context.Context, req UseJokerRequest) (UseJokerResponse, error)
	FinishRun(ctx context.Context) (domain.RunSummary, error)
	RestartRun(ctx context.Context) error
}

// RunOption is the sanitized option shape sent to clients. The correctness
// flag never crosses this boundary; grading is server-side only.
type RunOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// RunQuestion is the sanitized question shape sent to clients.
type RunQuestion struct {
	ID         string      `json:"id"`
	Prompt     string      `json:"prompt"`
	Options    []RunOption `json:"options"`
	Difficulty int         `json:"difficulty"`
}

type StartRunRequest struct {
	ForceNew bool `json:"force_new,omitempty"`
}

type StartRunResponse struct {
	RunID               string                  `json:"run_id"`
	CurrentIndex        int                     `json:"current_index"`
	RunQuestions        []RunQuestion           `json:"run_questions"`
	JokerRemaining      int                     `json:"joker_remaining"`
	JokerUsedOn         []int                   `json:"joker_used_on"`
	QuestionStartedAtMs int64                   `json:"question_started_at_ms"`
	DeadlineAtMs        int64                   `json:"deadline_at_ms"`
	// Answers holds the outcomes already recorded for this run, so a
	// resumed client can render past questions as resolved.
	Answers []domain.AnswerOutcome `json:"answers"`
	// QuestionConfigs restores the memoized shuffle orders and joker-hidden
	// sets for a resumed run, keyed by question index.
	QuestionConfigs map[int]domain.QuestionConfig `json:"question_configs,omitempty"`
}

type StartQuestionRequest struct {
	QuestionIndex int   `json:"question_index"`
	StartedAtMs   int64 `json:"started_at_ms"`
}

type StartQuestionResponse struct {
	QuestionStartedAtMs int64 `json:"question_started_at_ms"`
	DeadlineAtMs        int64 `json:"deadline_at_ms"`
}

type SubmitAnswerRequest struct {
	QuestionIndex int `json:"question_index"`
	// SelectedAnswerID is nil for a timeout submission.
	SelectedAnswerID *string `json:"selected_answer_id"`
	AnsweredAtMs     int64   `json:"answered_at_ms"`
	UsedJoker        bool    `json:"used_joker"`
}

type SubmitAnswerResponse struct {
	Result          domain.AnswerResult `json:"result"`
	CorrectOptionID string              `json:"correct_option_id"`
	Explanation     string              `json:"explanation,omitempty"`
	JokerRemaining  int                 `json:"joker_remaining"`
	Finished        bool                `json:"finished"`
	// NextQuestionIndex is meaningful only when Finished is false.
	NextQuestionIndex int `json:"next_question_index,omitempty"`
}

type UseJokerRequest struct {
	QuestionIndex int `json:"question_index"`
}

type UseJokerResponse struct {
	JokerRemaining    int      `json:"joker_remaining"`
	DisabledAnswerIDs []string `json:"disabled_answer_ids"`
}
