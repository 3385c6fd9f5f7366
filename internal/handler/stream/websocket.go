package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/mdchat/backend/internal/service/chat"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 54 * time.Second
)

// WebSocketHandler streams replies over a websocket instead of SSE.
type WebSocketHandler struct {
	chatSvc  *chatService.Service
	renderer Renderer
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器。allowedOrigins为空或包含"*"时接受任意来源。
func NewWebSocketHandler(chatSvc *chatService.Service, renderer Renderer, allowedOrigins []string, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc:  chatSvc,
		renderer: renderer,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set[origin]
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	log := h.logger.With().Str("session_id", sessionID).Logger()
	log.Debug().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go h.pingLoop(ctx, conn)

	_ = conn.writeJSON(StreamResponse{Event: "connected", SessionID: sessionID})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch msg.Type {
		case "submit":
			wg.Add(1)
			go func(content string) {
				defer wg.Done()
				h.submit(ctx, conn, sessionID, content)
			}(msg.Content)
		default:
			_ = conn.writeJSON(StreamResponse{
				Event:     string(chatService.EventError),
				SessionID: sessionID,
				Error:     "unsupported message type: " + msg.Type,
			})
		}
	}
}

func (h *WebSocketHandler) submit(ctx context.Context, conn *wsConn, sessionID, content string) {
	started := false
	err := h.chatSvc.Submit(ctx, sessionID, content, func(ev chatService.Event) {
		started = true
		if werr := conn.writeJSON(eventResponse(h.renderer, ev)); werr != nil {
			h.logger.Debug().Err(werr).Str("session_id", sessionID).Msg("websocket write failed")
		}
	})
	if err != nil && !started {
		// rejected before a request was opened
		_ = conn.writeJSON(StreamResponse{
			Event:     string(chatService.EventError),
			SessionID: sessionID,
			Error:     chat.DisplayError(err),
		})
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
