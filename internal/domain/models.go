package domain

import "time"

// Run-wide constants. A run is always ten questions with two jokers; the
// backend issues a 30s deadline per question and the client side gets a 15s
// grace window before auto-advancing.
const (
	TotalQuestions = 10
	JokersPerRun   = 2

	QuestionDuration = 30 * time.Second
	GracePeriod      = 15 * time.Second
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []Option `json:"options"`
	Difficulty  int      `json:"difficulty"` // 1..3, defaults to 1 if zero
	Explanation string   `json:"explanation,omitempty"`
}

// QuestionBank is the pool of questions for one topic.
type QuestionBank struct {
	TopicID   string     `json:"topicId"`
	Questions []Question `json:"questions"`
}

// RunState is the authoritative state of one player's run. It is mutated only
// by its owner (the run session on the engine side, the run store on the
// backend side) and snapshotted wholesale for persistence.
type RunState struct {
	RunID          string `json:"runId"`
	TopicID        string `json:"topicId"`
	CurrentIndex   int    `json:"currentIndex"`
	JokerRemaining int    `json:"jokerRemaining"`
	// JokerUsedOn holds the question indices a joker was spent on.
	// len(JokerUsedOn) + JokerRemaining == JokersPerRun at all times.
	JokerUsedOn []int `json:"jokerUsedOn"`

	// Timestamps for the current question only, epoch milliseconds.
	// Replaced wholesale on every advance.
	QuestionStartedAtMs int64 `json:"questionStartedAtMs"`
	DeadlineAtMs        int64 `json:"deadlineAtMs"`

	Finished bool `json:"finished"`
}

// JokerSpentOn reports whether a joker was already spent on the given index.
func (r *RunState) JokerSpentOn(index int) bool {
	for _, used := range r.JokerUsedOn {
		if used == index {
			return true
		}
	}
	return false
}

// QuestionConfig is the per-slot presentation state of a question within a
// run. It is created on first visit and immutable afterwards: the shuffle
// order never changes and the joker-disabled set is fixed once spent.
type QuestionConfig struct {
	QuestionID   string   `json:"questionId"`
	Difficulty   int      `json:"difficulty"`
	AnswersOrder []string `json:"answersOrder"`
	// JokerDisabled holds the option ids hidden by a joker. Empty until a
	// joker is spent on this question, then fixed for the rest of the run.
	JokerDisabled []string `json:"jokerDisabled,omitempty"`
}

// AnswerResult enumerates the terminal verdicts for one question.
type AnswerResult string

const (
	ResultCorrect AnswerResult = "correct"
	ResultWrong   AnswerResult = "wrong"
	ResultTimeout AnswerResult = "timeout"
)

// AnswerOutcome is produced exactly once per question index from the
// backend's response and never recomputed.
type AnswerOutcome struct {
	QuestionIndex   int          `json:"questionIndex"`
	Result          AnswerResult `json:"result"`
	CorrectOptionID string       `json:"correctOptionId"`
	Explanation     string       `json:"explanation,omitempty"`
	NextIndex       int          `json:"nextIndex"`
	Finished        bool         `json:"finished"`
}

// BreakdownEntry is one line of the end-of-run summary.
type BreakdownEntry struct {
	QuestionIndex int          `json:"questionIndex"`
	QuestionID    string       `json:"questionId"`
	Result        AnswerResult `json:"result"`
	Points        int          `json:"points"`
	UsedJoker     bool         `json:"usedJoker"`
}

// RunSummary is returned by run.finish.
type RunSummary struct {
	RunID       string           `json:"runId"`
	TotalScore  int              `json:"totalScore"`
	TokensCount int              `json:"tokensCount"`
	Breakdown   []BreakdownEntry `json:"breakdown"`
}
