package render

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mdchat/backend/internal/markdown"
	"github.com/zhouzirui/mdchat/backend/pkg/utils"
)

// Handler exposes the markdown renderer over HTTP.
type Handler struct {
	renderer *markdown.Renderer
}

// New creates a render handler.
func New(renderer *markdown.Renderer) *Handler {
	return &Handler{renderer: renderer}
}

// RegisterRoutes 注册渲染路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/render", h.handleRender)
}

type renderRequest struct {
	Markdown string `json:"markdown"`
}

type renderResponse struct {
	HTML     string `json:"html"`
	Degraded bool   `json:"degraded,omitempty"`
}

// handleRender renders markdown; a failing stage degrades to escaped text.
func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	var payload renderRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.renderer.Render(payload.Markdown)
	if err != nil {
		utils.RespondJSON(w, http.StatusOK, renderResponse{
			HTML:     h.renderer.RenderOrEscape(payload.Markdown),
			Degraded: true,
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, renderResponse{HTML: out})
}
