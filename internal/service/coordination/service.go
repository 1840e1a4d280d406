// Package coordination composes the request store, priority index, lifecycle
// rules and event hub into the operations nurses and patients call.
//
// A mutation runs under the per-request lock, and its store commit, index
// update and hub publish happen together inside one short commit section.
// Readers take the same section shared, so a snapshot never observes a
// request in the store that the index or the event stream disagrees with.
package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/jwalitptl/nurse-call-api/internal/hub"
	"github.com/jwalitptl/nurse-call-api/internal/lifecycle"
	"github.com/jwalitptl/nurse-call-api/internal/model"
	"github.com/jwalitptl/nurse-call-api/internal/queue"
	"github.com/jwalitptl/nurse-call-api/internal/repository"
	"github.com/jwalitptl/nurse-call-api/internal/triage"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
	"github.com/jwalitptl/nurse-call-api/pkg/metrics"
)

const (
	DefaultIdempotencyTTL = 10 * time.Minute

	emergencyDisease     = "Emergency"
	emergencyDescription = "Emergency alert triggered"
)

type Servicer interface {
	SubmitRequest(ctx context.Context, in model.RequestFields, idempotencyKey string) (model.Request, error)
	SubmitEmergency(ctx context.Context, in model.EmergencyRequest, idempotencyKey string) (model.Request, error)
	ClaimRequest(ctx context.Context, id, nurseID string) (model.Request, error)
	CompleteRequest(ctx context.Context, id string) (model.Request, error)
	UpdateStatus(ctx context.Context, id string, status model.RequestStatus, actorID string) (model.Request, error)
	GetRequest(ctx context.Context, id string) (model.Request, error)
	ListActive(ctx context.Context) ([]model.Request, error)
	ListCompleted(ctx context.Context) ([]model.Request, error)
	ListAssigned(ctx context.Context, nurseID string) ([]model.Request, error)
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

type Config struct {
	IdempotencyTTL time.Duration
}

type Option func(*Service)

// WithClock overrides the time source used for completedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTriage replaces the default disease to priority rule.
func WithTriage(rule *triage.Rule) Option {
	return func(s *Service) { s.triage = rule }
}

type Service struct {
	store repository.RequestStore
	index *queue.Index
	hub   *hub.Hub

	commitMu sync.RWMutex
	locks    *keyLock

	idempotent *gocache.Cache
	inflight   singleflight.Group

	triage  *triage.Rule
	now     func() time.Time
	log     *logger.Logger
	metrics *metrics.Metrics
}

var _ Servicer = (*Service)(nil)

// NewService takes ownership of store and builds the priority index from its
// current active requests.
func NewService(ctx context.Context, store repository.RequestStore, h *hub.Hub, cfg Config, log *logger.Logger, m *metrics.Metrics, opts ...Option) (*Service, error) {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.New("coordination")
	}

	s := &Service{
		store:      store,
		index:      queue.NewIndex(),
		hub:        h,
		locks:      newKeyLock(),
		idempotent: gocache.New(cfg.IdempotencyTTL, 2*cfg.IdempotencyTTL),
		triage:     triage.DefaultRule(),
		now:        time.Now,
		log:        log.With("coordination"),
		metrics:    m,
	}
	for _, opt := range opts {
		opt(s)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active requests: %w", err)
	}
	s.index.Rebuild(active)
	s.metrics.ActiveRequests.Set(float64(s.index.Len()))
	return s, nil
}

// SubmitRequest creates a pending request. Without an explicit priority the
// triage rule assigns one from the disease and description. A repeated
// idempotency key returns the request created by the first call.
func (s *Service) SubmitRequest(ctx context.Context, in model.RequestFields, idempotencyKey string) (model.Request, error) {
	in = in.Normalize()
	if in.Priority == "" {
		in.Priority = s.triage.Assess(in.Disease, in.Description)
	}

	if idempotencyKey == "" {
		return s.create(ctx, in)
	}
	return s.createOnce(ctx, in, idempotencyKey)
}

// SubmitEmergency is the one-tap alert: critical unless told otherwise.
func (s *Service) SubmitEmergency(ctx context.Context, in model.EmergencyRequest, idempotencyKey string) (model.Request, error) {
	priority := model.PriorityCritical
	if in.Priority != "" {
		p, err := model.ParsePriority(in.Priority)
		if err != nil {
			return model.Request{}, apperrors.NewValidation("priority")
		}
		priority = p
	}
	description := in.Description
	if description == "" {
		description = emergencyDescription
	}

	return s.SubmitRequest(ctx, model.RequestFields{
		PatientName:   in.PatientName,
		ContactNumber: in.ContactNumber,
		RoomNumber:    in.RoomNumber,
		BedNumber:     in.BedNumber,
		Disease:       emergencyDisease,
		Description:   description,
		Priority:      priority,
	}, idempotencyKey)
}

// createOnce shares one creation between callers with the same key. The
// flight runs detached from the caller that started it, so that caller
// giving up does not fail the others waiting on it.
func (s *Service) createOnce(ctx context.Context, in model.RequestFields, key string) (model.Request, error) {
	if err := ctx.Err(); err != nil {
		return model.Request{}, err
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		if id, ok := s.idempotent.Get(key); ok {
			s.metrics.IdempotentReplays.Inc()
			return s.store.Get(flightCtx, id.(string))
		}
		req, err := s.create(flightCtx, in)
		if err != nil {
			return nil, err
		}
		s.idempotent.SetDefault(key, req.ID)
		return req, nil
	})

	select {
	case <-ctx.Done():
		return model.Request{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.Request{}, res.Err
		}
		return res.Val.(model.Request), nil
	}
}

func (s *Service) create(ctx context.Context, in model.RequestFields) (model.Request, error) {
	if err := ctx.Err(); err != nil {
		return model.Request{}, err
	}

	s.commitMu.Lock()
	req, err := s.store.Create(ctx, in)
	if err != nil {
		s.commitMu.Unlock()
		return model.Request{}, err
	}
	s.index.OnChange(req)
	ev := s.hub.Publish(model.EventRequestCreated, req)
	active := s.index.Len()
	s.commitMu.Unlock()

	s.metrics.RequestsSubmitted.WithLabelValues(string(req.Priority)).Inc()
	s.metrics.ActiveRequests.Set(float64(active))
	s.log.ZL.Info().
		Str("request_id", req.ID).
		Str("priority", string(req.Priority)).
		Str("room", req.RoomNumber).
		Uint64("seq", ev.Seq).
		Msg("request submitted")
	return req, nil
}

// ClaimRequest makes nurseID the exclusive assignee of a pending request.
// Of several concurrent claims exactly one succeeds; the rest get
// AlreadyAssigned.
func (s *Service) ClaimRequest(ctx context.Context, id, nurseID string) (model.Request, error) {
	return s.transition(ctx, id, lifecycle.Assign(nurseID))
}

// CompleteRequest moves a pending or assigned request to completed.
func (s *Service) CompleteRequest(ctx context.Context, id string) (model.Request, error) {
	return s.transition(ctx, id, lifecycle.Complete())
}

// UpdateStatus applies a target status on behalf of actorID. Moving to
// assigned claims the request for the actor.
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.RequestStatus, actorID string) (model.Request, error) {
	t, err := lifecycle.ForStatus(status, actorID)
	if err != nil {
		return model.Request{}, err
	}
	return s.transition(ctx, id, t)
}

func (s *Service) transition(ctx context.Context, id string, t lifecycle.Transition) (model.Request, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return model.Request{}, err
	}
	defer unlock()

	// Past this point the transition either commits and publishes, or
	// nothing changes.
	if err := ctx.Err(); err != nil {
		return model.Request{}, err
	}

	s.commitMu.Lock()
	next, err := s.store.Update(ctx, id, func(cur model.Request) (model.Request, error) {
		return lifecycle.Apply(cur, t, s.now())
	})
	if err != nil {
		s.commitMu.Unlock()
		s.metrics.Transitions.WithLabelValues(string(t.Action), resultLabel(err)).Inc()
		return model.Request{}, err
	}
	s.index.OnChange(next)
	ev := s.hub.Publish(model.KindFor(next, false), next)
	active := s.index.Len()
	s.commitMu.Unlock()

	s.metrics.Transitions.WithLabelValues(string(t.Action), "ok").Inc()
	s.metrics.ActiveRequests.Set(float64(active))
	s.log.ZL.Info().
		Str("request_id", id).
		Str("action", string(t.Action)).
		Str("status", string(next.Status)).
		Str("nurse_id", next.NurseID()).
		Uint64("seq", ev.Seq).
		Msg("request transitioned")
	return next, nil
}

func resultLabel(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrAlreadyAssigned:
		return "already_assigned"
	case apperrors.ErrAlreadyCompleted:
		return "already_completed"
	case apperrors.ErrInvalidTransition:
		return "invalid_transition"
	case apperrors.ErrNotFound:
		return "not_found"
	case apperrors.ErrValidation:
		return "invalid"
	default:
		return "error"
	}
}

func (s *Service) GetRequest(ctx context.Context, id string) (model.Request, error) {
	return s.store.Get(ctx, id)
}

// ListActive returns pending and assigned requests, most urgent first.
func (s *Service) ListActive(ctx context.Context) ([]model.Request, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	return s.index.Snapshot(), nil
}

// ListCompleted returns completed requests, most recently completed first.
func (s *Service) ListCompleted(ctx context.Context) ([]model.Request, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	return s.store.ListCompleted(ctx)
}

// ListAssigned returns the active requests nurseID has claimed.
func (s *Service) ListAssigned(ctx context.Context, nurseID string) ([]model.Request, error) {
	if nurseID == "" {
		return nil, apperrors.NewValidation("nurseId")
	}
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	return s.index.AssignedTo(nurseID), nil
}

// Snapshot returns active and completed requests together with the hub
// sequence they reflect. A viewer that loads it can resync from Seq.
func (s *Service) Snapshot(ctx context.Context) (model.Snapshot, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()

	completed, err := s.store.ListCompleted(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("failed to list completed requests: %w", err)
	}
	return model.Snapshot{
		Seq:       s.hub.LastSeq(),
		Active:    s.index.Snapshot(),
		Completed: completed,
	}, nil
}
