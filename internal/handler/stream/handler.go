package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/mdchat/backend/internal/service/chat"
	"github.com/zhouzirui/mdchat/backend/pkg/utils"
)

// Renderer turns assistant markdown into display HTML.
type Renderer interface {
	RenderOrEscape(markdown string) string
}

// Relayer streams a completion for a caller-supplied history.
type Relayer interface {
	Relay(ctx context.Context, messages []chat.Message) (*schema.StreamReader[*schema.Message], error)
}

// Handler manages streamed replies via Server-Sent Events
type Handler struct {
	chatSvc     *chatService.Service
	renderer    Renderer
	relay       Relayer
	maxDuration time.Duration
	logger      zerolog.Logger
}

// New creates a new stream handler. relay may be nil when no model is
// configured; the relay route then answers 503.
func New(chatSvc *chatService.Service, renderer Renderer, relay Relayer, maxDuration time.Duration, logger zerolog.Logger) *Handler {
	if maxDuration <= 0 {
		maxDuration = chatService.DefaultMaxDuration
	}
	return &Handler{
		chatSvc:     chatSvc,
		renderer:    renderer,
		relay:       relay,
		maxDuration: maxDuration,
		logger:      logger,
	}
}

// RegisterRoutes registers the streaming routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{sessionID}/messages", h.handleSubmit)
	r.Post("/chat", h.handleRelay)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string        `json:"event"`
	SessionID string        `json:"sessionId,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	Content   string        `json:"content,omitempty"`
	HTML      string        `json:"html,omitempty"`
	Finished  bool          `json:"finished,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type submitRequest struct {
	Content string `json:"content"`
}

type relayRequest struct {
	Messages []struct {
		Role    chat.Role `json:"role"`
		Content string    `json:"content"`
	} `json:"messages"`
}

// handleSubmit appends the user message to the session and streams the reply.
// Errors raised before the stream opens are answered with a JSON status.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload submitRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	started := false
	emit := func(ev chatService.Event) {
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := utils.SendSSEEvent(w, flusher, string(ev.Type), eventResponse(h.renderer, ev)); err != nil {
			h.logger.Debug().Err(err).Str("session_id", sessionID).Msg("sse write failed")
		}
	}

	err := h.chatSvc.Submit(r.Context(), sessionID, payload.Content, emit)
	if err != nil && !started {
		utils.RespondServiceError(w, err)
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("stream ended with error")
	}
}

// eventResponse converts a chat event to its wire form, rendering the
// assistant message as it stands.
func eventResponse(renderer Renderer, ev chatService.Event) StreamResponse {
	msg := ev.Message
	resp := StreamResponse{
		Event:     string(ev.Type),
		SessionID: ev.SessionID,
		Message:   &msg,
	}

	switch ev.Type {
	case chatService.EventDelta:
		resp.Content = ev.Chunk
		resp.HTML = renderer.RenderOrEscape(msg.Content)
	case chatService.EventEnd:
		resp.HTML = renderer.RenderOrEscape(msg.Content)
		resp.Finished = true
	case chatService.EventError:
		resp.Error = chat.DisplayError(ev.Err)
		if msg.Role == chat.RoleAssistant {
			resp.HTML = renderer.RenderOrEscape(msg.Content)
		}
		resp.Finished = true
	}
	return resp
}

// handleRelay is the stateless route: the client sends the whole history and
// receives the reply tokens.
func (h *Handler) handleRelay(w http.ResponseWriter, r *http.Request) {
	if h.relay == nil {
		utils.RespondServiceError(w, chat.ErrUnavailable)
		return
	}

	var payload relayRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Messages) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "messages are required")
		return
	}

	messages := make([]chat.Message, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		if !m.Role.Valid() {
			utils.RespondError(w, http.StatusBadRequest, "invalid role: "+string(m.Role))
			return
		}
		messages = append(messages, chat.Message{Role: m.Role, Content: m.Content})
	}
	if strings.TrimSpace(messages[len(messages)-1].Content) == "" {
		utils.RespondServiceError(w, chat.ErrEmptyInput)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.maxDuration)
	defer cancel()

	stream, err := h.relay.Relay(ctx, messages)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &chat.TimeoutError{Limit: h.maxDuration}
		}
		utils.RespondServiceError(w, err)
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			h.send(w, flusher, StreamResponse{Event: string(chatService.EventEnd), Finished: true})
			return
		}
		if recvErr != nil {
			if ctx.Err() == context.DeadlineExceeded {
				recvErr = &chat.TimeoutError{Limit: h.maxDuration}
			} else {
				recvErr = &chat.StreamError{Err: recvErr}
			}
			h.send(w, flusher, StreamResponse{
				Event:    string(chatService.EventError),
				Error:    chat.DisplayError(recvErr),
				Finished: true,
			})
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		h.send(w, flusher, StreamResponse{Event: string(chatService.EventDelta), Content: chunk.Content})
	}
}

func (h *Handler) send(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	if err := utils.SendSSEEvent(w, flusher, response.Event, response); err != nil {
		h.logger.Debug().Err(err).Msg("sse write failed")
	}
}
