package coordination

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/nurse-call-api/internal/hub"
	"github.com/jwalitptl/nurse-call-api/internal/model"
	"github.com/jwalitptl/nurse-call-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
	"github.com/jwalitptl/nurse-call-api/pkg/metrics"
)

type fixture struct {
	svc   *Service
	store *memory.RequestStore
	hub   *hub.Hub
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	store := memory.NewRequestStore()
	h := hub.New(hub.Config{SessionBuffer: 64, Retention: 64}, logger.Nop(), metrics.New("test"))
	svc, err := NewService(context.Background(), store, h, Config{}, logger.Nop(), metrics.New("test"), opts...)
	require.NoError(t, err)
	return fixture{svc: svc, store: store, hub: h}
}

func fields(disease string) model.RequestFields {
	return model.RequestFields{
		PatientName:   "Ravi Menon",
		ContactNumber: "555-0199",
		RoomNumber:    "12",
		Disease:       disease,
	}
}

func nextEvent(t *testing.T, s *hub.Session) model.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestSubmitRequest_TriagesAndPublishes(t *testing.T) {
	f := newFixture(t)
	viewer := f.hub.Connect()
	defer f.hub.Disconnect(viewer.ID())

	req, err := f.svc.SubmitRequest(context.Background(), fields("Chest pain"), "")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityCritical, req.Priority)
	assert.Equal(t, model.RequestStatusPending, req.Status)

	ev := nextEvent(t, viewer)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, model.EventRequestCreated, ev.Kind)
	assert.Equal(t, req, ev.Request)

	active, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, req.ID, active[0].ID)
}

func TestSubmitRequest_ExplicitPriorityWins(t *testing.T) {
	f := newFixture(t)
	in := fields("chest pain")
	in.Priority = model.PriorityLow

	req, err := f.svc.SubmitRequest(context.Background(), in, "")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityLow, req.Priority)
}

func TestSubmitRequest_ValidationPublishesNothing(t *testing.T) {
	f := newFixture(t)
	in := fields("fever")
	in.RoomNumber = ""

	_, err := f.svc.SubmitRequest(context.Background(), in, "")
	assert.True(t, errors.Is(err, apperrors.ValidationErr))
	assert.Equal(t, uint64(0), f.hub.LastSeq())
	assert.Equal(t, 0, f.store.Len())
}

func TestSubmitRequest_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := f.svc.SubmitRequest(ctx, fields("fall"), "tap-1")
			if assert.NoError(t, err) {
				ids[i] = req.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.store.Len())

	again, err := f.svc.SubmitRequest(ctx, fields("fall"), "tap-1")
	require.NoError(t, err)
	assert.Equal(t, ids[0], again.ID)

	other, err := f.svc.SubmitRequest(ctx, fields("fall"), "tap-2")
	require.NoError(t, err)
	assert.NotEqual(t, ids[0], other.ID)
	assert.Equal(t, uint64(2), f.hub.LastSeq())
}

type gatedStore struct {
	*memory.RequestStore
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedStore) Create(ctx context.Context, in model.RequestFields) (model.Request, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	if err := ctx.Err(); err != nil {
		return model.Request{}, err
	}
	return g.RequestStore.Create(ctx, in)
}

func TestSubmitRequest_IdempotencyKeySurvivesFirstCallerLeaving(t *testing.T) {
	store := &gatedStore{
		RequestStore: memory.NewRequestStore(),
		entered:      make(chan struct{}, 1),
		gate:         make(chan struct{}),
	}
	h := hub.New(hub.Config{}, logger.Nop(), metrics.New("test"))
	svc, err := NewService(context.Background(), store, h, Config{}, logger.Nop(), metrics.New("test"))
	require.NoError(t, err)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.SubmitRequest(firstCtx, fields("fall"), "tap-9")
		firstDone <- err
	}()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first submission never reached the store")
	}

	type result struct {
		req model.Request
		err error
	}
	secondDone := make(chan result, 1)
	go func() {
		req, err := svc.SubmitRequest(context.Background(), fields("fall"), "tap-9")
		secondDone <- result{req, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstDone, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(store.gate)

	second := <-secondDone
	require.NoError(t, second.err)
	assert.NotEmpty(t, second.req.ID)
	assert.Equal(t, 1, store.Len())
}

func TestSubmitEmergency_Defaults(t *testing.T) {
	f := newFixture(t)

	req, err := f.svc.SubmitEmergency(context.Background(), model.EmergencyRequest{
		PatientName:   "Ravi Menon",
		ContactNumber: "555-0199",
		RoomNumber:    "12",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityCritical, req.Priority)
	assert.Equal(t, "Emergency", req.Disease)
	assert.Equal(t, "Emergency alert triggered", req.Description)

	req, err = f.svc.SubmitEmergency(context.Background(), model.EmergencyRequest{
		PatientName:   "Ravi Menon",
		ContactNumber: "555-0199",
		RoomNumber:    "12",
		Priority:      "high",
		Description:   "pressed twice",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, req.Priority)
	assert.Equal(t, "pressed twice", req.Description)

	_, err = f.svc.SubmitEmergency(context.Background(), model.EmergencyRequest{Priority: "urgent"}, "")
	assert.True(t, errors.Is(err, apperrors.ValidationErr))
}

func TestListActive_PriorityThenArrival(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(11))
	prios := []model.Priority{model.PriorityCritical, model.PriorityHigh, model.PriorityMedium, model.PriorityLow}

	for i := 0; i < 60; i++ {
		in := fields(fmt.Sprintf("case %d", i))
		in.Priority = prios[rng.Intn(len(prios))]
		_, err := f.svc.SubmitRequest(ctx, in, "")
		require.NoError(t, err)
	}

	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 60)
	for i := 1; i < len(active); i++ {
		prev, cur := active[i-1], active[i]
		require.LessOrEqual(t, prev.Priority.Rank(), cur.Priority.Rank())
		if prev.Priority == cur.Priority {
			require.True(t, prev.CreatedAt.Before(cur.CreatedAt))
		}
	}
}

func TestClaimRequest_ConcurrentClaimsOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.SubmitRequest(ctx, fields("fever"), "")
	require.NoError(t, err)

	const nurses = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for i := 0; i < nurses; i++ {
		wg.Add(1)
		go func(nurse string) {
			defer wg.Done()
			_, err := f.svc.ClaimRequest(ctx, req.ID, nurse)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, nurse)
			case errors.Is(err, apperrors.AlreadyAssigned):
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("nurse-%d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, nurses-1, losers)

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.NurseID())
	assert.Equal(t, uint64(2), f.hub.LastSeq())

	mine, err := f.svc.ListAssigned(ctx, winners[0])
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, req.ID, mine[0].ID)
	assert.Equal(t, 0, f.svc.locks.size())
}

func TestCompleteRequest(t *testing.T) {
	clock := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	req, err := f.svc.SubmitRequest(ctx, fields("cough"), "")
	require.NoError(t, err)

	done, err := f.svc.CompleteRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(clock))

	clock = clock.Add(time.Hour)
	_, err = f.svc.CompleteRequest(ctx, req.ID)
	assert.True(t, errors.Is(err, apperrors.AlreadyCompleted))

	_, err = f.svc.ClaimRequest(ctx, req.ID, "nurse-a")
	assert.True(t, errors.Is(err, apperrors.InvalidTransition))

	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	completed, err := f.svc.ListCompleted(ctx)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, req.ID, completed[0].ID)
	assert.True(t, completed[0].CompletedAt.Equal(done.CompletedAt.UTC()))
	assert.Equal(t, uint64(2), f.hub.LastSeq())
}

func TestTransition_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CompleteRequest(context.Background(), "nope")
	assert.True(t, errors.Is(err, apperrors.NotFoundErr))
	assert.Equal(t, uint64(0), f.hub.LastSeq())
}

func TestTransition_CancelledBeforeCommitHasNoEffect(t *testing.T) {
	f := newFixture(t)
	req, err := f.svc.SubmitRequest(context.Background(), fields("fever"), "")
	require.NoError(t, err)

	release, err := f.svc.locks.Lock(context.Background(), req.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.svc.ClaimRequest(ctx, req.ID, "nurse-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	release()

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = f.svc.CompleteRequest(cancelled, req.ID)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := f.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)
	assert.Equal(t, uint64(1), f.hub.LastSeq())
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.SubmitRequest(ctx, fields("nausea"), "")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, req.ID, model.RequestStatusPending, "nurse-a")
	assert.True(t, errors.Is(err, apperrors.InvalidTransition))

	got, err := f.svc.UpdateStatus(ctx, req.ID, model.RequestStatusAssigned, "nurse-a")
	require.NoError(t, err)
	assert.Equal(t, "nurse-a", got.NurseID())

	got, err = f.svc.UpdateStatus(ctx, req.ID, model.RequestStatusCompleted, "nurse-a")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCompleted, got.Status)
}

func TestSnapshot_MatchesSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.SubmitRequest(ctx, fields("fever"), "")
	require.NoError(t, err)
	_, err = f.svc.SubmitRequest(ctx, fields("stroke"), "")
	require.NoError(t, err)
	_, err = f.svc.CompleteRequest(ctx, a.ID)
	require.NoError(t, err)

	snap, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Seq)
	require.Len(t, snap.Active, 1)
	assert.Equal(t, model.PriorityCritical, snap.Active[0].Priority)
	require.Len(t, snap.Completed, 1)
	assert.Equal(t, a.ID, snap.Completed[0].ID)
}

func TestSnapshot_ConsistentDuringConcurrentCompletes(t *testing.T) {
	const n = 200
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]string, n)
	for i := range ids {
		req, err := f.svc.SubmitRequest(ctx, fields("fever"), "")
		require.NoError(t, err)
		ids[i] = req.ID
	}

	stop := make(chan struct{})
	var bad []string
	var reads int
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap, err := f.svc.Snapshot(ctx)
			if err != nil {
				bad = append(bad, err.Error())
				return
			}
			reads++

			seen := make(map[string]bool, n)
			for _, r := range snap.Active {
				seen[r.ID] = true
			}
			for _, r := range snap.Completed {
				if seen[r.ID] {
					bad = append(bad, fmt.Sprintf("%s both active and completed at seq %d", r.ID, snap.Seq))
				}
			}
			if len(snap.Active)+len(snap.Completed) != n {
				bad = append(bad, fmt.Sprintf("seq %d: %d active + %d completed", snap.Seq, len(snap.Active), len(snap.Completed)))
			}
			if snap.Seq != uint64(n+len(snap.Completed)) {
				bad = append(bad, fmt.Sprintf("seq %d with %d completed", snap.Seq, len(snap.Completed)))
			}
		}
	}()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.CompleteRequest(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	close(stop)
	<-readerDone

	assert.Empty(t, bad)
	assert.Positive(t, reads)

	snap, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Active)
	assert.Len(t, snap.Completed, n)
	assert.Equal(t, uint64(2*n), snap.Seq)
}

func TestNewService_IndexesExistingRequests(t *testing.T) {
	store := memory.NewRequestStore()
	t0 := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Load([]model.Request{
		{ID: "low", Status: model.RequestStatusPending, Priority: model.PriorityLow, CreatedAt: t0},
		{ID: "crit", Status: model.RequestStatusPending, Priority: model.PriorityCritical, CreatedAt: t0.Add(time.Minute)},
	}))

	svc, err := NewService(context.Background(), store, hub.New(hub.Config{}, nil, nil), Config{}, nil, nil)
	require.NoError(t, err)

	active, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "crit", active[0].ID)
	assert.Equal(t, "low", active[1].ID)
}

func TestListAssigned_RequiresNurse(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListAssigned(context.Background(), "")
	assert.True(t, errors.Is(err, apperrors.ValidationErr))
}

// A patient reports chest pain, two nurses race for it, the winner finishes
// it, and a viewer that dropped off in between catches up by resync.
func TestChestPainRaceCompleteAndResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	viewer := f.hub.Connect()
	req, err := f.svc.SubmitRequest(ctx, fields("chest pain"), "")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityCritical, req.Priority)

	seen := nextEvent(t, viewer)
	viewer.Ack(seen.Seq)
	cursor := viewer.LastSeenSeq()
	f.hub.Disconnect(viewer.ID())

	results := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, nurse := range []string{"nurse-a", "nurse-b"} {
		wg.Add(1)
		go func(nurse string) {
			defer wg.Done()
			_, err := f.svc.ClaimRequest(ctx, req.ID, nurse)
			mu.Lock()
			results[nurse] = err
			mu.Unlock()
		}(nurse)
	}
	wg.Wait()

	var winner, loser string
	for nurse, err := range results {
		if err == nil {
			winner = nurse
		} else {
			loser = nurse
		}
	}
	require.NotEmpty(t, winner)
	require.NotEmpty(t, loser)
	assert.True(t, errors.Is(results[loser], apperrors.AlreadyAssigned))

	done, err := f.svc.CompleteRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, winner, done.NurseID())

	completed, err := f.svc.ListCompleted(ctx)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	back := f.hub.Connect()
	defer f.hub.Disconnect(back.ID())
	missed, err := f.hub.Resync(back.ID(), cursor)
	require.NoError(t, err)
	require.Len(t, missed, 2)
	assert.Equal(t, []uint64{cursor + 1, cursor + 2}, []uint64{missed[0].Seq, missed[1].Seq})
	assert.Equal(t, model.EventRequestUpdated, missed[0].Kind)
	assert.Equal(t, winner, missed[0].Request.NurseID())
	assert.Equal(t, model.EventRequestCompleted, missed[1].Kind)
}
