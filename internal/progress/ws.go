package progress

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"inzikt/internal/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Clients only send control frames.
	maxMessageSize = 512
)

// EventProgress is the only event name on the push channel.
const EventProgress = "progress"

// Event is one push message.
type Event struct {
	Event string   `json:"event"`
	Data  Snapshot `json:"data"`
}

// Streamer upgrades requests to WebSocket and streams snapshots from a
// Source.
type Streamer struct {
	source     *Source
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	pongWait   time.Duration
	logger     *slog.Logger
}

// NewStreamer builds a Streamer. allowedOrigins empty or containing "*"
// accepts any origin.
func NewStreamer(source *Source, pingPeriod time.Duration, allowedOrigins []string, logger *slog.Logger) *Streamer {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		pingPeriod: pingPeriod,
		pongWait:   pingPeriod * 10 / 9,
		logger:     logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(allowed, u.Scheme+"://"+u.Host)
	}
}

// Serve upgrades the connection and streams until the job is final or the
// client goes away. Authorization happens before Serve is called.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, f Filter) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readPump(conn, cancel)
	go s.pingLoop(ctx, conn)

	err = s.source.Watch(ctx, f, func(snap Snapshot) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteJSON(Event{Event: EventProgress, Data: snap})
	})

	code, reason := websocket.CloseNormalClosure, "done"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		// Client left or server is shutting down.
		return
	case types.IsCode(err, types.ErrCodeNotFoundJob):
		code, reason = websocket.ClosePolicyViolation, "job not found"
	default:
		s.logger.WarnContext(ctx, "progress stream ended with error", "error", err)
		code, reason = websocket.CloseInternalServerErr, "stream error"
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// readPump consumes control frames so pongs and close frames are processed.
func (s *Streamer) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Streamer) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
