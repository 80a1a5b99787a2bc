package ws

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shell"
)

// MaxLine bounds one command line.
const MaxLine = 4096

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is a client request.
type Message struct {
	Type    string `json:"type"`
	Line    string `json:"line,omitempty"`
	Module  string `json:"module,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// Handler serves msh sessions over WebSocket.
type Handler struct {
	mgr    *dlmodule.Manager
	logger *zap.Logger
	wait   time.Duration
}

// NewHandler creates a handler; wait caps how long a wait request blocks.
func NewHandler(mgr *dlmodule.Manager, logger *zap.Logger, wait time.Duration) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if wait <= 0 {
		wait = time.Minute
	}
	return &Handler{mgr: mgr, logger: logger, wait: wait}
}

// HandleConnection upgrades the request and runs the session until the
// peer goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxLine + 512)

	ctx := c.Request.Context()
	h.send(conn, gin.H{
		"type":    "system",
		"message": "Connected to dlkernel",
		"prompt":  shell.Prompt,
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "exec":
			h.handleExec(ctx, conn, msg)
		case "wait":
			h.handleWait(ctx, conn, msg)
		case "ping":
			h.send(conn, gin.H{"type": "pong"})
		default:
			h.sendError(conn, "unknown message type")
		}
	}
}

func (h *Handler) handleExec(ctx context.Context, conn *websocket.Conn, msg Message) {
	if len(msg.Line) > MaxLine {
		h.sendError(conn, "command line too long")
		return
	}
	var out bytes.Buffer
	code := shell.New(h.mgr, &out).WithLogger(h.logger).Exec(ctx, msg.Line)
	h.send(conn, gin.H{
		"type":      "output",
		"content":   out.String(),
		"code":      code,
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) handleWait(ctx context.Context, conn *websocket.Conn, msg Message) {
	mod, ok := h.mgr.Find(msg.Module)
	if !ok {
		h.sendError(conn, "module not found")
		return
	}

	limit := h.wait
	if msg.Timeout != "" {
		d, err := time.ParseDuration(msg.Timeout)
		if err != nil || d <= 0 {
			h.sendError(conn, "invalid timeout")
			return
		}
		limit = min(d, h.wait)
	}
	wctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	code, err := mod.Wait(wctx)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}
	h.send(conn, gin.H{
		"type":      "exited",
		"module":    msg.Module,
		"code":      code,
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) send(conn *websocket.Conn, data any) error {
	return conn.WriteJSON(data)
}

func (h *Handler) sendError(conn *websocket.Conn, msg string) error {
	return h.send(conn, gin.H{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}
