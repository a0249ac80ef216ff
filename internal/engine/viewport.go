package engine

import (
	"github.com/FTacke/hispanistica-games-sub000/internal/backend"
	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

// ViewPort is the rendering capability the session drives. The engine calls
// out through this interface and never reaches into presentation concerns.
//
// Methods are invoked while the session holds its internal lock, so
// implementations must not call back into the session synchronously; the
// websocket transport satisfies this by enqueueing outbound messages.
type ViewPort interface {
	// RenderQuestion shows a question. Order is the memoized display order
	// with joker-hidden options already removed; deadlineAtMs is the
	// authoritative deadline the client may count down from.
	RenderQuestion(index int, question backend.RunQuestion, order []string, startedAtMs, deadlineAtMs int64)
	// ShowOutcome presents the verdict for a resolved question.
	ShowOutcome(outcome domain.AnswerOutcome)
	// HideOptions removes the joker-disabled options from the rendered set.
	HideOptions(index int, optionIDs []string)
	// ShowFinished presents the end-of-run summary.
	ShowFinished(summary domain.RunSummary)
	// ShowError surfaces a failure; retryable reports whether the player
	// may retry the action that caused it.
	ShowError(retryable bool, message string)
}
