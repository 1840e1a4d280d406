package model

import "time"

type EventKind string

const (
	EventRequestCreated   EventKind = "created"
	EventRequestUpdated   EventKind = "updated"
	EventRequestCompleted EventKind = "completed"
)

// LegacyName is the socket event name older clients subscribe to.
func (k EventKind) LegacyName() string {
	switch k {
	case EventRequestCreated:
		return "newRequest"
	case EventRequestCompleted:
		return "requestCompleted"
	default:
		return "request_status_updated"
	}
}

// KindFor picks the event kind describing a committed request state.
func KindFor(req Request, created bool) EventKind {
	switch {
	case created:
		return EventRequestCreated
	case req.Status == RequestStatusCompleted:
		return EventRequestCompleted
	default:
		return EventRequestUpdated
	}
}

// Event is one committed change, carrying the full request snapshot.
type Event struct {
	Seq     uint64    `json:"seq"`
	Kind    EventKind `json:"kind"`
	Name    string    `json:"event"`
	Request Request   `json:"request"`
}

func NewEvent(seq uint64, kind EventKind, req Request) Event {
	return Event{
		Seq:     seq,
		Kind:    kind,
		Name:    kind.LegacyName(),
		Request: req.Clone(),
	}
}

// SessionInfo describes a connected viewer session.
type SessionInfo struct {
	SessionID   string    `json:"sessionId"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeenSeq uint64    `json:"lastSeenSeq"`
}

// Snapshot is a point-in-time view consistent with the hub sequence Seq.
type Snapshot struct {
	Seq       uint64    `json:"seq"`
	Active    []Request `json:"active"`
	Completed []Request `json:"completed"`
}
