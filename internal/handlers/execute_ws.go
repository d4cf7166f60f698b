package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cloudrun-ide/internal/engine"
	"cloudrun-ide/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed for the client to send the execution request
	requestWait = 30 * time.Second

	// Ping period while an execution is streaming
	pingPeriod = 30 * time.Second

	// Maximum request frame size: 1 MiB of code plus attachments
	maxRequestSize = 4 << 20
)

// controlFrame is a post-request client message; only "stop" is understood.
type controlFrame struct {
	Type string `json:"type"`
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(h.origins) == 0 {
				return true
			}
			for _, allowed := range h.origins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
}

// ExecuteWS handles GET /ws/execute: one execution request per connection,
// events streamed back until the engine finishes, then a normal close.
func (h *Handler) ExecuteWS(c *gin.Context) {
	up := h.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	m := metrics.Get()
	m.WebSocketConnections.Inc()
	defer m.WebSocketConnections.Dec()

	conn.SetReadLimit(maxRequestSize)
	conn.SetReadDeadline(time.Now().Add(requestWait))

	var sub engine.Submission
	if err := conn.ReadJSON(&sub); err != nil {
		reason := "Invalid execution request"
		if netTimeout(err) {
			reason = "Timeout waiting for execution request"
		}
		h.writeEvent(conn, errorEvent(reason))
		h.closeConn(conn)
		return
	}

	if sub.Language == "" || strings.TrimSpace(sub.Code) == "" {
		h.writeEvent(conn, errorEvent("Missing required fields: language and code"))
		h.closeConn(conn)
		return
	}

	h.log.Info("execution request",
		zap.String("language", string(sub.Language)),
		zap.Int("code_len", len(sub.Code)),
		zap.Bool("has_stdin", sub.Stdin != ""),
		zap.Int("files", len(sub.Files)),
		zap.Int("install_packages", len(sub.InstallPackages)))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	id, events := h.engine.Execute(ctx, sub)

	// Reader goroutine: detects peer loss and honors stop control frames.
	go func() {
		conn.SetReadDeadline(time.Time{})
		for {
			var ctrl controlFrame
			if err := conn.ReadJSON(&ctrl); err != nil {
				h.engine.Cancel(id)
				cancel()
				return
			}
			if ctrl.Type == "stop" {
				h.engine.Cancel(id)
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.closeConn(conn)
				return
			}
			if !h.writeEvent(conn, ev) {
				// Peer gone: cancel and drain so the engine can finish
				// its cleanup without blocking on the channel.
				h.engine.Cancel(id)
				cancel()
				for range events {
				}
				return
			}
			m.WebSocketEventsTotal.WithLabelValues(string(ev.Type)).Inc()

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.engine.Cancel(id)
				cancel()
				for range events {
				}
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, ev engine.Event) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		h.log.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) closeConn(conn *websocket.Conn) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func errorEvent(content string) engine.Event {
	return engine.Event{
		Type:      engine.EventError,
		Content:   content,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000000Z"),
	}
}

func netTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
