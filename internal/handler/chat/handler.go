package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/mdchat/backend/internal/service/chat"
	"github.com/zhouzirui/mdchat/backend/pkg/utils"
)

// Renderer turns assistant markdown into display HTML.
type Renderer interface {
	RenderOrEscape(markdown string) string
}

// Handler 聊天会话的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	renderer Renderer
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, renderer Renderer) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		renderer: renderer,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
}

// SessionResponse is the display view of a session.
type SessionResponse struct {
	Session   chat.Session           `json:"session"`
	State     chat.State             `json:"state"`
	Error     string                 `json:"error,omitempty"`
	Available bool                   `json:"available"`
	Messages  []chat.RenderedMessage `json:"messages"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, SessionResponse{
		Session:   session,
		State:     chat.StateIdle,
		Available: h.chatSvc.Available(),
		Messages:  []chat.RenderedMessage{},
	})
}

// handleGetSession 返回会话快照，助手消息附带渲染后的HTML
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.chatSvc.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, SessionResponse{
		Session:   snap.Session,
		State:     snap.State,
		Error:     snap.Error,
		Available: h.chatSvc.Available(),
		Messages:  chat.RenderAll(snap.Messages, h.renderer.RenderOrEscape),
	})
}

// handleDeleteSession 关闭会话并取消进行中的请求
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, chat.ErrSessionNotFound) {
		utils.RespondServiceError(w, err)
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
