package domain

import "errors"

var (
	// ErrRunNotFound is returned when no run exists for the player.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinished is returned for operations on a completed run.
	ErrRunFinished = errors.New("run already finished")
	// ErrTopicNotFound indicates the question bank could not be loaded.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrQuestionNotFound indicates a question index outside the run.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrJokerLimit is returned when a joker is requested but none remain
	// or one was already spent on the question. Rejected locally, no retry.
	ErrJokerLimit = errors.New("joker limit reached")
	// ErrAlreadyAnswered indicates a duplicate submit for a resolved question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrSubmitInFlight indicates a submit is already pending for the question.
	ErrSubmitInFlight = errors.New("submission already in flight")
	// ErrNotAnswerable is returned for inputs that arrive outside the
	// answerable phase (locked, transitioning, or finished).
	ErrNotAnswerable = errors.New("question not answerable")
)
