package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"EpiCast/internal/domain/models"
	"EpiCast/internal/usecase"
	xlogger "EpiCast/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsBuffer     = 64
)

// RunEvent is one frame on the run progress stream.
type RunEvent struct {
	Type    string             `json:"type"`
	Result  *models.TaskResult `json:"result,omitempty"`
	Summary *models.RunSummary `json:"summary,omitempty"`
	SentAt  time.Time          `json:"sent_at"`
}

// RunHub streams task results of every run to websocket subscribers.
// Slow subscribers are dropped rather than blocking the pipeline.
type RunHub struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[chan RunEvent]struct{}
}

func NewRunHub(logger *xlogger.Logger) *RunHub {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &RunHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[chan RunEvent]struct{}),
	}
}

func (h *RunHub) OnResult(r models.TaskResult) {
	h.broadcast(RunEvent{Type: "result", Result: &r, SentAt: time.Now().UTC()})
}

func (h *RunHub) OnSummary(s *models.RunSummary) {
	h.broadcast(RunEvent{Type: "summary", Summary: s, SentAt: time.Now().UTC()})
}

// Clients returns the number of connected subscribers.
func (h *RunHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *RunHub) broadcast(ev RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			delete(h.clients, ch)
			close(ch)
			h.logger.Warn("run stream subscriber dropped")
		}
	}
}

func (h *RunHub) subscribe() chan RunEvent {
	ch := make(chan RunEvent, wsBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *RunHub) unsubscribe(ch chan RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Serve upgrades the request and streams events until either side closes.
func (h *RunHub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the error response
		return nil
	}
	ch := h.subscribe()
	done := make(chan struct{})

	// reader: only control frames are expected
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		h.unsubscribe(ch)
		_ = conn.Close()
	}()
	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"))
				return nil
			}
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

var _ usecase.RunObserver = (*RunHub)(nil)
