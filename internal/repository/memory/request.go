package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/nurse-call-api/internal/model"
	"github.com/jwalitptl/nurse-call-api/internal/repository"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
	"github.com/jwalitptl/nurse-call-api/pkg/validator"
)

type RequestStore struct {
	mu        sync.RWMutex
	requests  map[string]model.Request
	completed []string // ids in completion order

	validator   validator.Validator
	now         func() time.Time
	lastCreated time.Time
}

// Option configures the store.
type Option func(*RequestStore)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *RequestStore) { s.now = now }
}

// NewRequestStore returns an empty in-memory store.
func NewRequestStore(opts ...Option) *RequestStore {
	s := &RequestStore{
		requests:  make(map[string]model.Request),
		validator: validator.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.RequestStore = (*RequestStore)(nil)

func (s *RequestStore) Create(ctx context.Context, fields model.RequestFields) (model.Request, error) {
	fields = fields.Normalize()
	if err := s.validator.Validate(fields); err != nil {
		return model.Request{}, err
	}
	if !fields.Priority.Valid() {
		return model.Request{}, apperrors.NewValidation("priority")
	}

	req := model.Request{
		ID:            uuid.New().String(),
		PatientName:   fields.PatientName,
		ContactNumber: fields.ContactNumber,
		RoomNumber:    fields.RoomNumber,
		Disease:       fields.Disease,
		Description:   fields.Description,
		Priority:      fields.Priority,
		Status:        model.RequestStatusPending,
	}
	if fields.BedNumber != "" {
		bed := fields.BedNumber
		req.BedNumber = &bed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req.CreatedAt = s.nextCreatedAt()
	s.requests[req.ID] = req
	return req.Clone(), nil
}

// nextCreatedAt keeps creation timestamps strictly increasing so arrival
// order is recoverable from createdAt alone. Caller holds s.mu.
func (s *RequestStore) nextCreatedAt() time.Time {
	ts := s.now().UTC()
	if !ts.After(s.lastCreated) {
		ts = s.lastCreated.Add(time.Nanosecond)
	}
	s.lastCreated = ts
	return ts
}

func (s *RequestStore) Get(ctx context.Context, id string) (model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return model.Request{}, apperrors.NewNotFound("request "+id, nil)
	}
	return req.Clone(), nil
}

// Update applies mutate atomically. Identity and submitted fields are
// immutable and are restored from the stored value whatever mutate returns.
func (s *RequestStore) Update(ctx context.Context, id string, mutate repository.Mutation) (model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.requests[id]
	if !ok {
		return model.Request{}, apperrors.NewNotFound("request "+id, nil)
	}

	next, err := mutate(cur.Clone())
	if err != nil {
		return model.Request{}, err
	}

	next.ID = cur.ID
	next.PatientName = cur.PatientName
	next.ContactNumber = cur.ContactNumber
	next.RoomNumber = cur.RoomNumber
	next.BedNumber = cur.BedNumber
	next.Disease = cur.Disease
	next.Description = cur.Description
	next.Priority = cur.Priority
	next.CreatedAt = cur.CreatedAt
	next = next.Clone()

	if cur.Status.Active() && next.Status == model.RequestStatusCompleted {
		s.completed = append(s.completed, id)
	}
	s.requests[id] = next
	return next.Clone(), nil
}

// ListActive returns pending and assigned requests in arrival order.
func (s *RequestStore) ListActive(ctx context.Context) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Request, 0, len(s.requests)-len(s.completed))
	for _, req := range s.requests {
		if req.Status.Active() {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListCompleted returns completed requests, most recently completed first.
func (s *RequestStore) ListCompleted(ctx context.Context) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Request, 0, len(s.completed))
	for i := len(s.completed) - 1; i >= 0; i-- {
		out = append(out, s.requests[s.completed[i]].Clone())
	}
	return out, nil
}

// Load seeds the store with previously archived requests. It must run before
// the store is shared.
func (s *RequestStore) Load(reqs []model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var done []model.Request
	for _, req := range reqs {
		if _, exists := s.requests[req.ID]; exists {
			return fmt.Errorf("duplicate request id %s", req.ID)
		}
		if (req.Status == model.RequestStatusCompleted) != (req.CompletedAt != nil) {
			return fmt.Errorf("request %s: completedAt inconsistent with status %s", req.ID, req.Status)
		}
		s.requests[req.ID] = req.Clone()
		if req.CreatedAt.After(s.lastCreated) {
			s.lastCreated = req.CreatedAt
		}
		if req.Status == model.RequestStatusCompleted {
			done = append(done, req)
		}
	}

	sort.Slice(done, func(i, j int) bool { return done[i].CompletedAt.Before(*done[j].CompletedAt) })
	for _, req := range done {
		s.completed = append(s.completed, req.ID)
	}
	return nil
}

// Len reports the number of stored requests.
func (s *RequestStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}
