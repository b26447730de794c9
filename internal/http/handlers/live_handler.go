// README: Websocket live streams of the rider dashboard and customer tracking views.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dispatch/internal/http/middleware"
	"dispatch/internal/logger"
	"dispatch/internal/modules/dashboard"
	"dispatch/internal/modules/ledger"
	"dispatch/internal/modules/tracking"
	"dispatch/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type LiveHandler struct {
	dashboard dashboard.Deps
	tracking  tracking.Deps
	ledger    *ledger.Service
	log       *logger.Logger
	upgrader  websocket.Upgrader
}

// NewLiveHandler accepts websocket upgrades from allowedOrigins; "*" or an empty list
// allows any origin.
func NewLiveHandler(dash dashboard.Deps, track tracking.Deps, ledgerSvc *ledger.Service, allowedOrigins []string, log *logger.Logger) *LiveHandler {
	if log == nil {
		log = logger.Nop()
	}
	h := &LiveHandler{dashboard: dash, tracking: track, ledger: ledgerSvc, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
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
		return origin == "" || len(set) == 0 || set[origin]
	}
}

// RiderDashboard streams the caller's four views and wallet until the socket closes.
func (h *LiveHandler) RiderDashboard(c *gin.Context) {
	rider := types.ID(middleware.CallerUID(c))
	name := ""
	if h.ledger != nil {
		if r, err := h.ledger.Get(c.Request.Context(), rider); err == nil {
			name = r.Name
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn(c.Request.Context(), "websocket upgrade", err)
		return
	}
	ctx, cancel := context.WithCancel(h.log.WithRiderID(c.Request.Context(), rider.String()))
	defer cancel()

	sock := newSocket(h.log)
	ctrl := dashboard.NewController(h.dashboard, rider, name, dashboard.RenderFunc(func(_ context.Context, u dashboard.Update) {
		sock.push(string(u.View), toDashboardFrame(u))
	}))
	ctrl.Start(ctx)
	sock.serve(ctx, conn)
	cancel()
	ctrl.Close()
}

// TrackOrder streams one order's progress to its customer.
func (h *LiveHandler) TrackOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	customer := types.ID(middleware.CallerUID(c))

	sock := newSocket(h.log)
	ctrl := tracking.NewController(h.tracking, customer, types.ID(id), tracking.RenderFunc(func(_ context.Context, v tracking.View) {
		sock.push("tracking", toTrackingFrame(v))
	}))

	ctx, cancel := context.WithCancel(h.log.WithOrderID(c.Request.Context(), id))
	defer cancel()
	// Ownership is checked before the upgrade so the client gets a plain HTTP error.
	if err := ctrl.Start(ctx); err != nil {
		writeOrderError(c, err)
		return
	}
	defer ctrl.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn(ctx, "websocket upgrade", err)
		return
	}
	sock.serve(ctx, conn)
	cancel()
}

// socket coalesces frames per key so a slow client only ever receives the latest state
// of each view. push never blocks.
type socket struct {
	log *logger.Logger

	mu     sync.Mutex
	frames map[string]any
	keys   []string
	wake   chan struct{}
}

func newSocket(log *logger.Logger) *socket {
	return &socket{log: log, frames: make(map[string]any), wake: make(chan struct{}, 1)}
}

func (s *socket) push(key string, frame any) {
	s.mu.Lock()
	if _, queued := s.frames[key]; !queued {
		s.keys = append(s.keys, key)
	}
	s.frames[key] = frame
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *socket) drain() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.frames[k])
	}
	s.keys = s.keys[:0]
	clear(s.frames)
	return out
}

// serve writes frames until the client goes away or ctx ends, then closes the socket.
func (s *socket) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	closed := make(chan struct{})
	go readLoop(conn, s.log, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.wake:
			for _, f := range s.drain() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(f); err != nil {
					s.log.Warn(ctx, "websocket write", err)
					return
				}
			}
		}
	}
}

// readLoop discards client messages and reports when the connection ends.
func readLoop(conn *websocket.Conn, log *logger.Logger, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				log.Debug(context.Background(), "websocket read ended: "+err.Error())
			}
			return
		}
	}
}
