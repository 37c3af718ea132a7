// Package lifecycle defines the posting lifecycle state machine.
//
// Status graph:
//
//	NEW ──inserted──► ACTIVE ──refreshed──► ACTIVE
//	                    │  ▲
//	         deactivated│  │reactivated
//	                    ▼  │
//	                  INACTIVE
//
// Postings are never deleted, so there is no terminal state. NEW only
// exists before the first insert and has no incoming transitions.
package lifecycle

// Status of a posting.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Transition names an edge of the graph.
type Transition string

const (
	TransitionInserted    Transition = "inserted"
	TransitionRefreshed   Transition = "refreshed"
	TransitionReactivated Transition = "reactivated"
	TransitionDeactivated Transition = "deactivated"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status]map[Status]Transition{
	StatusNew:      {StatusActive: TransitionInserted},
	StatusActive:   {StatusActive: TransitionRefreshed, StatusInactive: TransitionDeactivated},
	StatusInactive: {StatusActive: TransitionReactivated},
}

// StatusOf maps the is_active column to a Status.
func StatusOf(isActive bool) Status {
	if isActive {
		return StatusActive
	}
	return StatusInactive
}

// IsTransitionAllowed returns true when moving from → to is permitted.
func IsTransitionAllowed(from, to Status) bool {
	_, ok := validTransitions[from][to]
	return ok
}

// classify names the edge taken from → to. ok is false for edges the graph
// does not have.
func classify(from, to Status) (t Transition, ok bool) {
	t, ok = validTransitions[from][to]
	return t, ok
}

// ForUpsert classifies what an upsert did to a row. Every upsert ends ACTIVE.
func ForUpsert(inserted, wasActive bool) Transition {
	from := StatusNew
	if !inserted {
		from = StatusOf(wasActive)
	}
	t, _ := classify(from, StatusActive)
	return t
}
