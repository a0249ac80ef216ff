package engine

import (
	"math/rand"
	"time"
)

// Shuffler hands out a uniform Fisher-Yates permutation of a question's
// option ids and memoizes it per question index. Re-rendering a question must
// reuse the stored order: a fresh shuffle would let the player infer option
// identity from position changes.
//
// Shuffler is not safe for concurrent use on its own; the owning session
// serializes access.
type Shuffler struct {
	rnd    *rand.Rand
	orders map[int][]string
}

func NewShuffler() *Shuffler {
	return NewShufflerWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewShufflerWithSource allows deterministic permutations in tests.
func NewShufflerWithSource(src rand.Source) *Shuffler {
	return &Shuffler{
		rnd:    rand.New(src),
		orders: make(map[int][]string),
	}
}

// Order returns the memoized permutation for the question index, generating
// it on first visit.
func (s *Shuffler) Order(index int, optionIDs []string) []string {
	if order, ok := s.orders[index]; ok {
		return order
	}

	shuffled := make([]string, len(optionIDs))
	copy(shuffled, optionIDs)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := s.rnd.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	s.orders[index] = shuffled
	return shuffled
}

// Restore seeds a previously persisted order, so a resumed run keeps the
// permutations the player already saw.
func (s *Shuffler) Restore(index int, order []string) {
	if len(order) == 0 {
		return
	}
	s.orders[index] = order
}
