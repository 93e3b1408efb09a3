package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pustakam-api/internal/application/book"
	"pustakam-api/internal/application/book/orchestrator"
	"pustakam-api/internal/interfaces/http/dto"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
)

const (
	sseHeartbeat   = 15 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = (wsPongWait * 9) / 10
)

// StreamHandler 进度事件推送（SSE 与 WebSocket）
type StreamHandler struct {
	books    *book.Service
	hub      *orchestrator.Hub
	upgrader websocket.Upgrader
}

// NewStreamHandler 创建推送处理器，allowedOrigins 含 "*" 时不校验来源
func NewStreamHandler(books *book.Service, hub *orchestrator.Hub, allowedOrigins []string) *StreamHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &StreamHandler{
		books: books,
		hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

// Events SSE 进度流；连接建立后先推送当前快照
// @Produce text/event-stream
// @Router /v1/books/{id}/events [get]
func (h *StreamHandler) Events(c *gin.Context) {
	bookID := dto.BindBookID(c)
	if _, err := h.books.Get(c.Request.Context(), bookID); err != nil {
		dto.FromError(c, err)
		return
	}

	events, unsubscribe := h.hub.Subscribe(bookID)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// wsCommand 客户端通过 WebSocket 下发的控制命令
type wsCommand struct {
	Type     string `json:"type"`
	Decision string `json:"decision,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// wsReply 命令处理结果
type wsReply struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// WebSocket 双向进度通道：服务端推送事件，客户端可发送 pause/resume/cancel/retry_decision
// @Router /v1/books/{id}/ws [get]
func (h *StreamHandler) WebSocket(c *gin.Context) {
	bookID := dto.BindBookID(c)
	if _, err := h.books.Get(c.Request.Context(), bookID); err != nil {
		dto.FromError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(logger.WithBook(c.Request.Context(), bookID))
	defer cancel()

	events, unsubscribe := h.hub.Subscribe(bookID)
	defer unsubscribe()

	replies := make(chan wsReply, 8)
	go h.readCommands(ctx, cancel, conn, bookID, replies)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var (
			payload any
			msgType = websocket.TextMessage
		)
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload = ev
		case r := <-replies:
			payload = r
		case <-ping.C:
			msgType = websocket.PingMessage
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if msgType == websocket.PingMessage {
			err = conn.WriteMessage(websocket.PingMessage, nil)
		} else {
			err = conn.WriteJSON(payload)
		}
		if err != nil {
			logger.Debug(ctx, "websocket write failed", "error", err)
			return
		}
	}
}

// readCommands 读取客户端命令，连接断开时取消 ctx
func (h *StreamHandler) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, bookID string, replies chan<- wsReply) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug(ctx, "websocket closed unexpectedly", "error", err)
			}
			return
		}

		var cmd wsCommand
		reply := wsReply{Type: "command_result"}
		if err := json.Unmarshal(data, &cmd); err != nil {
			reply.Code = string(apperrors.CodeInvalidParam)
			reply.Message = "command must be a json object"
		} else {
			reply.Command = cmd.Type
			if err := h.dispatch(ctx, bookID, cmd); err != nil {
				appErr := apperrors.AsAppError(err)
				reply.Code = string(appErr.Code)
				reply.Message = appErr.Message
			} else {
				reply.OK = true
			}
		}

		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (h *StreamHandler) dispatch(ctx context.Context, bookID string, cmd wsCommand) error {
	switch cmd.Type {
	case "pause":
		return h.books.Pause(ctx, bookID)
	case "resume":
		return h.books.Resume(ctx, bookID, orchestrator.StartOptions{Provider: cmd.Provider, Model: cmd.Model})
	case "cancel":
		return h.books.Cancel(ctx, bookID)
	case "retry_decision":
		d, ok := orchestrator.ParseDecision(cmd.Decision)
		if !ok {
			return apperrors.ErrInvalidParam.WithDetail("decision must be retry, switch or skip")
		}
		return h.books.SubmitRetryDecision(ctx, bookID, orchestrator.RetryDecision{Decision: d, Provider: cmd.Provider, Model: cmd.Model})
	default:
		return apperrors.ErrInvalidParam.WithDetail("unknown command " + cmd.Type)
	}
}
