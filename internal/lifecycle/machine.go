// Package lifecycle validates and applies request status transitions.
//
// Everything here is pure: given the current request and a transition it
// returns the next value or a typed error, and never touches storage.
//
//	pending ──assign──▶ assigned ──complete──▶ completed
//	   └──────────────complete───────────────────▲
package lifecycle

import (
	"fmt"
	"time"

	"github.com/jwalitptl/nurse-call-api/internal/model"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
)

type Action string

const (
	ActionAssign   Action = "assign"
	ActionComplete Action = "complete"
)

// Transition is a requested change of status.
type Transition struct {
	Action  Action
	NurseID string
}

func Assign(nurseID string) Transition {
	return Transition{Action: ActionAssign, NurseID: nurseID}
}

func Complete() Transition {
	return Transition{Action: ActionComplete}
}

// ForStatus maps a requested target status to a transition. actorID is the
// caller's identity and becomes the assignee for "assigned".
func ForStatus(target model.RequestStatus, actorID string) (Transition, error) {
	switch target {
	case model.RequestStatusAssigned:
		return Assign(actorID), nil
	case model.RequestStatusCompleted:
		return Complete(), nil
	default:
		return Transition{}, apperrors.NewInvalidTransition("any", string(target))
	}
}

// Apply returns the request after t, or one of ValidationError,
// AlreadyAssigned, AlreadyCompleted or InvalidTransition.
func Apply(cur model.Request, t Transition, now time.Time) (model.Request, error) {
	switch t.Action {
	case ActionAssign:
		return assign(cur, t.NurseID)
	case ActionComplete:
		return complete(cur, now)
	default:
		return model.Request{}, apperrors.NewInvalidTransition(string(cur.Status), string(t.Action))
	}
}

func assign(cur model.Request, nurseID string) (model.Request, error) {
	if nurseID == "" {
		return model.Request{}, apperrors.NewValidation("nurseId")
	}

	switch cur.Status {
	case model.RequestStatusCompleted:
		return model.Request{}, apperrors.NewInvalidTransition(string(cur.Status), string(model.RequestStatusAssigned))
	case model.RequestStatusAssigned:
		return model.Request{}, apperrors.NewAlreadyAssigned(cur.ID, cur.NurseID())
	}
	if cur.AssignedNurseID != nil {
		return model.Request{}, apperrors.NewAlreadyAssigned(cur.ID, cur.NurseID())
	}

	next := cur.Clone()
	next.Status = model.RequestStatusAssigned
	next.AssignedNurseID = &nurseID
	return next, nil
}

func complete(cur model.Request, now time.Time) (model.Request, error) {
	if cur.Status == model.RequestStatusCompleted {
		return model.Request{}, apperrors.NewAlreadyCompleted(cur.ID)
	}
	if !cur.Status.Active() {
		return model.Request{}, apperrors.NewInvalidTransition(string(cur.Status), string(model.RequestStatusCompleted))
	}

	next := cur.Clone()
	at := now.UTC()
	next.Status = model.RequestStatusCompleted
	next.CompletedAt = &at
	return next, nil
}

// Check reports the first broken data-model invariant of req, if any.
func Check(req model.Request) error {
	switch req.Status {
	case model.RequestStatusPending:
		if req.AssignedNurseID != nil {
			return fmt.Errorf("request %s: pending with assignee", req.ID)
		}
		if req.CompletedAt != nil {
			return fmt.Errorf("request %s: pending with completedAt", req.ID)
		}
	case model.RequestStatusAssigned:
		if req.AssignedNurseID == nil {
			return fmt.Errorf("request %s: assigned without assignee", req.ID)
		}
		if req.CompletedAt != nil {
			return fmt.Errorf("request %s: assigned with completedAt", req.ID)
		}
	case model.RequestStatusCompleted:
		if req.CompletedAt == nil {
			return fmt.Errorf("request %s: completed without completedAt", req.ID)
		}
	default:
		return fmt.Errorf("request %s: unknown status %q", req.ID, req.Status)
	}
	return nil
}
