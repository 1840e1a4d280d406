// Package hub fans committed request changes out to connected viewer
// sessions and lets a reconnecting session replay what it missed.
//
// Every published event gets the next global sequence number and is kept in
// a bounded log. A session receives live events with seq above its floor
// (the sequence current when it connected); Resync returns the retained
// events between the caller's cursor and that floor, so replay followed by
// live delivery has no gaps and no duplicates.
package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/nurse-call-api/internal/model"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
	"github.com/jwalitptl/nurse-call-api/pkg/metrics"
)

const (
	DefaultSessionBuffer = 256
	DefaultRetention     = 1024
)

var (
	// ErrSessionClosed is returned by Next after a normal disconnect.
	ErrSessionClosed = errors.New("hub: session closed")

	errBufferFull = errors.New("session buffer full")
)

type Config struct {
	SessionBuffer int
	Retention     int
	// StartSeq is the sequence number the first event follows. A process
	// that restarts with a larger base makes cursors from the previous
	// process fall outside the window, so they get ResyncRequired.
	StartSeq uint64
}

// BootSeq derives a sequence base from the boot time. It leaves 1024
// events per millisecond of uptime before the next boot's base and stays
// below 2^53 so JavaScript clients read it exactly.
func BootSeq(t time.Time) uint64 {
	return uint64(t.UnixMilli()) << 10
}

// Hub owns the set of viewer sessions and the retained event log.
type Hub struct {
	mu       sync.Mutex
	seq      uint64
	ring     []model.Event
	start    int
	count    int
	sessions map[string]*Session

	bufSize int
	now     func() time.Time
	log     *logger.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, log *logger.Logger, m *metrics.Metrics) *Hub {
	if cfg.SessionBuffer <= 0 {
		cfg.SessionBuffer = DefaultSessionBuffer
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.New("hub")
	}
	return &Hub{
		seq:      cfg.StartSeq,
		ring:     make([]model.Event, cfg.Retention),
		sessions: make(map[string]*Session),
		bufSize:  cfg.SessionBuffer,
		now:      time.Now,
		log:      log.With("hub"),
		metrics:  m,
	}
}

// Connect registers a new session. Its live stream starts after the
// current sequence number.
func (h *Hub) Connect() *Session {
	s := &Session{
		id:          uuid.New().String(),
		connectedAt: h.now().UTC(),
		send:        make(chan model.Event, h.bufSize),
	}

	h.mu.Lock()
	s.floor = h.seq
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.ConnectedSessions.Set(float64(n))
	h.log.ZL.Debug().Str("session_id", s.id).Uint64("floor", s.floor).Msg("session connected")
	return s
}

// Disconnect removes the session and closes its stream. Unknown or already
// removed sessions are ignored.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		h.remove(s)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	if ok {
		h.metrics.ConnectedSessions.Set(float64(n))
		h.log.ZL.Debug().Str("session_id", sessionID).Msg("session disconnected")
	}
}

// WithSession connects, runs fn and disconnects on every exit path.
func (h *Hub) WithSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	s := h.Connect()
	defer h.Disconnect(s.ID())
	return fn(ctx, s)
}

// Publish assigns the next sequence number to a committed change, records
// it and offers it to every session without blocking. A session whose
// buffer is full is dropped and must resync.
func (h *Hub) Publish(kind model.EventKind, req model.Request) model.Event {
	h.mu.Lock()
	h.seq++
	ev := model.NewEvent(h.seq, kind, req)
	h.append(ev)

	var dropped []*Session
	for _, s := range h.sessions {
		select {
		case s.send <- ev:
		default:
			s.err.Store(apperrors.NewDeliveryFailure(s.id, errBufferFull))
			h.remove(s)
			dropped = append(dropped, s)
		}
	}
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.EventsPublished.WithLabelValues(string(kind)).Inc()
	if len(dropped) > 0 {
		h.metrics.ConnectedSessions.Set(float64(n))
	}
	for _, s := range dropped {
		h.metrics.DeliveryFailures.Inc()
		h.log.ZL.Warn().
			Str("session_id", s.id).
			Uint64("seq", ev.Seq).
			Str("reason", errBufferFull.Error()).
			Msg("dropping slow session")
	}
	return ev
}

// Resync returns, in order, every event with seq > since that the session
// will not receive live. It fails with ResyncRequired when part of that range
// is no longer retained, or when since is ahead of the hub (the cursor came
// from an earlier process); the caller then reloads full state.
func (h *Hub) Resync(sessionID string, since uint64) ([]model.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return nil, apperrors.NewNotFound("session "+sessionID, nil)
	}

	oldest := h.seq - uint64(h.count) + 1
	if since > h.seq || (since < s.floor && since+1 < oldest) {
		h.metrics.Resyncs.WithLabelValues("window_exceeded").Inc()
		return nil, apperrors.NewResyncRequired(since, oldest)
	}

	// Live delivery already covers seq > floor; a cursor past the floor
	// means the caller has seen some of those.
	if since > s.floor {
		s.skipThrough(since)
	}

	out := h.between(since, s.floor)
	s.Ack(since)
	h.metrics.Resyncs.WithLabelValues("ok").Inc()
	return out, nil
}

// LastSeq is the sequence number of the most recent event.
func (h *Hub) LastSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Sessions lists the connected sessions.
func (h *Hub) Sessions() []model.SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]model.SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.Info())
	}
	return out
}

// remove is called with h.mu held.
func (h *Hub) remove(s *Session) {
	delete(h.sessions, s.id)
	close(s.send)
}

func (h *Hub) append(ev model.Event) {
	if h.count < len(h.ring) {
		h.ring[(h.start+h.count)%len(h.ring)] = ev
		h.count++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % len(h.ring)
}

// between returns retained events with from < seq <= to.
func (h *Hub) between(from, to uint64) []model.Event {
	if to <= from || h.count == 0 {
		return nil
	}
	oldest := h.seq - uint64(h.count) + 1
	if from+1 < oldest {
		from = oldest - 1
	}

	out := make([]model.Event, 0, to-from)
	for seq := from + 1; seq <= to; seq++ {
		ev := h.ring[(h.start+int(seq-oldest))%len(h.ring)]
		ev.Request = ev.Request.Clone()
		out = append(out, ev)
	}
	return out
}

// Session is a viewer's handle on the hub.
type Session struct {
	id          string
	connectedAt time.Time
	send        chan model.Event
	lastSeen    atomic.Uint64
	skip        atomic.Uint64
	err         atomic.Pointer[apperrors.AppError]

	floor uint64 // set once under Hub.mu
}

func (s *Session) ID() string { return s.id }

// Next blocks for the next live event. After the stream closes it returns
// Err() for a dropped session or ErrSessionClosed.
func (s *Session) Next(ctx context.Context) (model.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return model.Event{}, ctx.Err()
		case ev, ok := <-s.send:
			if !ok {
				if err := s.Err(); err != nil {
					return model.Event{}, err
				}
				return model.Event{}, ErrSessionClosed
			}
			if ev.Seq <= s.skip.Load() {
				continue
			}
			return ev, nil
		}
	}
}

// Err reports why the stream closed: a DeliveryFailure if the hub dropped
// the session, nil after a normal disconnect.
func (s *Session) Err() error {
	if e := s.err.Load(); e != nil {
		return e
	}
	return nil
}

// Ack records that the viewer has observed everything up to seq.
func (s *Session) Ack(seq uint64) {
	for {
		cur := s.lastSeen.Load()
		if seq <= cur || s.lastSeen.CompareAndSwap(cur, seq) {
			return
		}
	}
}

func (s *Session) LastSeenSeq() uint64 { return s.lastSeen.Load() }

func (s *Session) Info() model.SessionInfo {
	return model.SessionInfo{
		SessionID:   s.id,
		ConnectedAt: s.connectedAt,
		LastSeenSeq: s.lastSeen.Load(),
	}
}

func (s *Session) skipThrough(seq uint64) {
	for {
		cur := s.skip.Load()
		if seq <= cur || s.skip.CompareAndSwap(cur, seq) {
			return
		}
	}
}
