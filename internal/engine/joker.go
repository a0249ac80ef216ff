package engine

import (
	"sort"

	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

// jokerManager tracks the bounded 50/50 resource for one run: two uses per
// run, at most one per question. It only does local bookkeeping; which
// options get hidden is decided by the backend. The manager is owned by the
// session and accessed under its lock.
type jokerManager struct {
	remaining int
	usedOn    map[int]bool
}

func newJokerManager(remaining int, usedOn []int) *jokerManager {
	j := &jokerManager{
		remaining: remaining,
		usedOn:    make(map[int]bool, len(usedOn)),
	}
	for _, index := range usedOn {
		j.usedOn[index] = true
	}
	return j
}

// canUse checks the local preconditions. Failures are rejected without a
// network call.
func (j *jokerManager) canUse(index int) error {
	if j.remaining <= 0 || j.usedOn[index] {
		return domain.ErrJokerLimit
	}
	return nil
}

// spend optimistically books a use for the question. The caller must have
// checked canUse and must roll back if the backend rejects the use.
func (j *jokerManager) spend(index int) {
	j.remaining--
	j.usedOn[index] = true
}

// rollback undoes an optimistic spend after a backend rejection.
func (j *jokerManager) rollback(index int) {
	if !j.usedOn[index] {
		return
	}
	delete(j.usedOn, index)
	j.remaining++
}

// reconcile adopts the backend's authoritative remaining count. The local
// value is optimistic; the server wins on disagreement.
func (j *jokerManager) reconcile(serverRemaining int) {
	if serverRemaining >= 0 && serverRemaining <= domain.JokersPerRun {
		j.remaining = serverRemaining
	}
}

func (j *jokerManager) spentOn(index int) bool {
	return j.usedOn[index]
}

func (j *jokerManager) snapshot() (int, []int) {
	indices := make([]int, 0, len(j.usedOn))
	for index := range j.usedOn {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return j.remaining, indices
}
