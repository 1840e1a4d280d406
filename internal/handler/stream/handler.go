// Package stream serves the live request feed over WebSocket.
//
// A client connects to /stream, optionally passing the last sequence number
// it saw as ?since=N. The server replays what the client missed, then
// forwards live events. Each frame is either an event:
//
//	{"type":"event","seq":7,"kind":"updated","event":"request_status_updated","request":{...}}
//
// or a control frame such as {"type":"resync_required","seq":42}, where seq is
// the latest sequence when the replay was refused. The client then reloads
// /requests/snapshot and reconnects with since set to the snapshot's own seq,
// which may be newer than the frame's.
package stream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jwalitptl/nurse-call-api/internal/hub"
	"github.com/jwalitptl/nurse-call-api/internal/middleware"
	"github.com/jwalitptl/nurse-call-api/internal/model"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
	"github.com/jwalitptl/nurse-call-api/pkg/httputil"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
)

const (
	DefaultWriteWait  = 10 * time.Second
	DefaultPongWait   = 60 * time.Second
	DefaultPingPeriod = 30 * time.Second

	maxMessageSize = 512

	frameEvent          = "event"
	frameResyncRequired = "resync_required"
)

type Config struct {
	AllowedOrigins []string
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
}

type eventFrame struct {
	Type string `json:"type"`
	model.Event
}

type controlFrame struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
}

type Handler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	cfg      Config
	log      *logger.Logger
}

func NewHandler(h *hub.Hub, cfg Config, log *logger.Logger) *Handler {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = DefaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = DefaultPingPeriod
	}
	if cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait / 2
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Handler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		cfg: cfg,
		log: log.With("stream"),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stream", h.Stream)
}

// Stream upgrades the connection and runs the session until the client
// leaves, the session is dropped or the replay window is exceeded.
func (h *Handler) Stream(c *gin.Context) {
	since, resume, err := parseSince(c.Query("since"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The session exists before the handshake completes, so nothing
	// committed after the client sees the upgrade is missed.
	err = h.hub.WithSession(ctx, func(ctx context.Context, s *hub.Session) error {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		h.log.ZL.Info().
			Str("session_id", s.ID()).
			Str("user_id", middleware.UserID(c)).
			Bool("resume", resume).
			Uint64("since", since).
			Msg("stream connected")

		go h.readPump(conn, s.ID(), cancel)
		return h.writePump(ctx, conn, s, since, resume)
	})

	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, hub.ErrSessionClosed):
	case errors.Is(err, apperrors.ResyncRequired), errors.Is(err, apperrors.DeliveryFailure):
		h.log.ZL.Info().Err(err).Msg("stream closed")
	default:
		h.log.ZL.Warn().Err(err).Msg("stream ended with error")
	}
}

// readPump only services control frames; anything a client sends is
// ignored. It cancels the stream when the connection goes away.
func (h *Handler) readPump(conn *websocket.Conn, sessionID string, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.ZL.Debug().Err(err).Str("session_id", sessionID).Msg("stream read failed")
			}
			return
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, s *hub.Session, since uint64, resume bool) error {
	if resume {
		missed, err := h.hub.Resync(s.ID(), since)
		if errors.Is(err, apperrors.ResyncRequired) {
			_ = h.write(conn, controlFrame{Type: frameResyncRequired, Seq: h.hub.LastSeq()})
			h.close(conn, websocket.CloseNormalClosure, frameResyncRequired)
			return err
		}
		if err != nil {
			return err
		}
		for _, ev := range missed {
			if err := h.write(conn, eventFrame{Type: frameEvent, Event: ev}); err != nil {
				return err
			}
			s.Ack(ev.Seq)
		}
	}

	events := make(chan model.Event)
	failed := make(chan error, 1)
	go func() {
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				failed <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				failed <- ctx.Err()
				return
			}
		}
	}()

	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if err := h.write(conn, eventFrame{Type: frameEvent, Event: ev}); err != nil {
				return err
			}
			s.Ack(ev.Seq)

		case err := <-failed:
			switch {
			case errors.Is(err, apperrors.DeliveryFailure):
				h.close(conn, websocket.ClosePolicyViolation, "delivery failed, resync required")
			case errors.Is(err, hub.ErrSessionClosed):
				h.close(conn, websocket.CloseNormalClosure, "")
			}
			return err

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	return conn.WriteJSON(v)
}

func (h *Handler) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
}

func parseSince(raw string) (uint64, bool, error) {
	if raw == "" {
		return 0, false, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, apperrors.NewValidation("since")
	}
	return since, true, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
