package forum

import (
	"fmt"

	"campuswire/pkg/types"
)

// Transition names a thread state change
type Transition string

const (
	TransitionClose   Transition = "close"
	TransitionReopen  Transition = "reopen"
	TransitionPin     Transition = "pin"
	TransitionUnpin   Transition = "unpin"
	TransitionSolve   Transition = "solve"
	TransitionUnsolve Transition = "unsolve"
)

type transitionRule struct {
	field   string
	value   bool
	message string
	// authorMay lets the thread author apply the transition
	authorMay bool
}

var transitionRules = map[Transition]transitionRule{
	TransitionClose:   {field: "closed", value: true, message: "Thread closed"},
	TransitionReopen:  {field: "closed", value: false, message: "Thread reopened"},
	TransitionPin:     {field: "pinned", value: true, message: "Thread pinned"},
	TransitionUnpin:   {field: "pinned", value: false, message: "Thread unpinned"},
	TransitionSolve:   {field: "solved", value: true, message: "Thread marked as solved", authorMay: true},
	TransitionUnsolve: {field: "solved", value: false, message: "Thread marked as unsolved", authorMay: true},
}

// ParseTransition validates a transition name
func ParseTransition(s string) (Transition, error) {
	t := Transition(s)
	if _, ok := transitionRules[t]; !ok {
		return "", fmt.Errorf("%w: unknown transition %q", ErrInvalidInput, s)
	}
	return t, nil
}

// canManage is true for roles that run a course's forum
func canManage(actor types.Identity) bool {
	return actor.Role == types.RoleTeacher || actor.Role == types.RoleSupervisor
}

func (r transitionRule) permits(actor types.Identity, thread *types.Document) bool {
	if canManage(actor) {
		return true
	}
	return r.authorMay && thread.String("author_id") == actor.ID
}
