package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/nurse-call-api/internal/email"
	"github.com/jwalitptl/nurse-call-api/internal/model"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
	"github.com/jwalitptl/nurse-call-api/pkg/messaging"
	"github.com/jwalitptl/nurse-call-api/pkg/metrics"
)

type AlertConfig struct {
	Channel     string
	Recipients  []string
	MinPriority model.Priority
}

// AlertDispatcher emails the nurse station when a sufficiently urgent
// request is created.
type AlertDispatcher struct {
	broker  messaging.Broker
	mailer  email.Service
	config  AlertConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewAlertDispatcher(broker messaging.Broker, mailer email.Service, config AlertConfig, log *logger.Logger, m *metrics.Metrics) *AlertDispatcher {
	if !config.MinPriority.Valid() {
		config.MinPriority = model.PriorityHigh
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.New("alert")
	}
	return &AlertDispatcher{
		broker:  broker,
		mailer:  mailer,
		config:  config,
		logger:  log.With("alert"),
		metrics: m,
	}
}

// Run consumes the event channel until ctx is done.
func (a *AlertDispatcher) Run(ctx context.Context) error {
	a.logger.Info("Starting alert dispatcher", "channel", a.config.Channel, "min_priority", string(a.config.MinPriority))

	return messaging.Consume(ctx, a.broker, a.config.Channel, a.Handle, func(err error) {
		a.logger.Error(err, "Failed to handle event")
	})
}

// Handle sends one alert for a created event at or above the configured
// priority and ignores everything else.
func (a *AlertDispatcher) Handle(ctx context.Context, payload []byte) error {
	return safeRun(a.logger, "alert", func() error {
		var ev model.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if ev.Kind != model.EventRequestCreated || ev.Request.Priority.Rank() > a.config.MinPriority.Rank() {
			return nil
		}
		if len(a.config.Recipients) == 0 {
			return nil
		}

		if err := a.mailer.SendRequestAlert(ctx, a.config.Recipients, ev.Request); err != nil {
			a.metrics.AlertsFailed.Inc()
			return fmt.Errorf("failed to alert for request %s: %w", ev.Request.ID, err)
		}
		a.metrics.AlertsSent.Inc()
		a.logger.Info("Alert sent",
			"request_id", ev.Request.ID,
			"priority", string(ev.Request.Priority),
			"room", ev.Request.RoomNumber)
		return nil
	})
}
