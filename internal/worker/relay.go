package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/nurse-call-api/internal/hub"
	"github.com/jwalitptl/nurse-call-api/internal/model"
	"github.com/jwalitptl/nurse-call-api/internal/repository"
	"github.com/jwalitptl/nurse-call-api/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
	"github.com/jwalitptl/nurse-call-api/pkg/messaging"
	"github.com/jwalitptl/nurse-call-api/pkg/metrics"
)

// Snapshotter returns the full request state with the hub sequence it
// reflects.
type Snapshotter interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

type RelayConfig struct {
	Channel       string
	RetryAttempts int
	RetryDelay    time.Duration
	// ReconnectDelay is the first wait after a dropped session; it grows
	// up to ReconnectMaxDelay while sessions keep failing before any event
	// is relayed.
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	BreakerFailures   int
	BreakerTimeout    time.Duration
}

// Relay follows the hub like any viewer and forwards every committed change
// to the archive and the broker. Either sink may be nil. Sink failures are
// counted and logged; they never reach the committing caller.
type Relay struct {
	hub     *hub.Hub
	source  Snapshotter
	archive repository.RequestArchive
	broker  messaging.Broker
	breaker *circuitbreaker.CircuitBreaker
	config  RelayConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	cursor    uint64
	processed uint64
}

func NewRelay(
	h *hub.Hub,
	source Snapshotter,
	archive repository.RequestArchive,
	broker messaging.Broker,
	config RelayConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Relay {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 200 * time.Millisecond
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = time.Second
	}
	if config.ReconnectMaxDelay < config.ReconnectDelay {
		config.ReconnectMaxDelay = 30 * config.ReconnectDelay
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.New("relay")
	}

	r := &Relay{
		hub:     h,
		source:  source,
		archive: archive,
		broker:  broker,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "archive",
			MaxFailures: config.BreakerFailures,
			Timeout:     config.BreakerTimeout,
		}),
		config:  config,
		logger:  log.With("relay"),
		metrics: m,
	}
	// State committed before the relay exists came from hydration.
	r.cursor = h.LastSeq()
	return r
}

// Run follows the hub until ctx is done, reconnecting with exponential
// backoff whenever its session is dropped.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Starting event relay")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.ReconnectDelay
	b.MaxInterval = r.config.ReconnectMaxDelay
	b.Reset()

	for {
		before := r.processed
		err := r.hub.WithSession(ctx, func(ctx context.Context, s *hub.Session) error {
			return safeRun(r.logger, "relay", func() error { return r.follow(ctx, s) })
		})
		if ctx.Err() != nil {
			r.logger.Info("Shutting down event relay")
			return nil
		}
		if r.processed > before {
			b.Reset()
		}

		delay := b.NextBackOff()
		r.logger.ZL.Warn().Err(err).
			Uint64("cursor", r.cursor).
			Dur("delay", delay).
			Msg("relay session ended, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (r *Relay) follow(ctx context.Context, s *hub.Session) error {
	missed, err := r.hub.Resync(s.ID(), r.cursor)
	if errors.Is(err, apperrors.ResyncRequired) {
		missed, err = r.resyncFromSnapshot(ctx, s)
	}
	if err != nil {
		return err
	}

	for _, ev := range missed {
		r.handle(ctx, s, ev)
	}
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return err
		}
		r.handle(ctx, s, ev)
	}
}

// resyncFromSnapshot archives the full current state when the events since
// the cursor are gone, then continues from the snapshot's sequence.
func (r *Relay) resyncFromSnapshot(ctx context.Context, s *hub.Session) ([]model.Event, error) {
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	r.logger.ZL.Info().
		Uint64("cursor", r.cursor).
		Uint64("snapshot_seq", snap.Seq).
		Int("requests", len(snap.Active)+len(snap.Completed)).
		Msg("relay resyncing from snapshot")

	for _, req := range snap.Active {
		r.save(ctx, req)
	}
	for _, req := range snap.Completed {
		r.save(ctx, req)
	}
	r.cursor = snap.Seq
	return r.hub.Resync(s.ID(), snap.Seq)
}

func (r *Relay) handle(ctx context.Context, s *hub.Session, ev model.Event) {
	timer := prometheus.NewTimer(r.metrics.RelayLatency)
	defer timer.ObserveDuration()

	r.save(ctx, ev.Request)
	r.publish(ctx, ev)

	r.cursor = ev.Seq
	r.processed++
	s.Ack(ev.Seq)
	r.metrics.RelayEventsProcessed.Inc()
}

func (r *Relay) save(ctx context.Context, req model.Request) {
	if r.archive == nil {
		return
	}
	err := retry(ctx, r.config.RetryAttempts, r.config.RetryDelay, func() error {
		return r.breaker.Execute(func() error { return r.archive.Save(ctx, req) })
	})
	if err != nil {
		r.metrics.RelayFailures.WithLabelValues("archive").Inc()
		r.logger.Error(err, "Failed to archive request", "request_id", req.ID)
	}
}

func (r *Relay) publish(ctx context.Context, ev model.Event) {
	if r.broker == nil {
		return
	}
	err := retry(ctx, r.config.RetryAttempts, r.config.RetryDelay, func() error {
		return r.broker.Publish(ctx, r.config.Channel, ev)
	})
	if err != nil {
		r.metrics.RelayFailures.WithLabelValues("broker").Inc()
		r.logger.Error(err, "Failed to publish event", "seq", ev.Seq, "request_id", ev.Request.ID)
	}
}
