package page

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mdchat/backend/internal/markdown"
	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/mdchat/backend/internal/service/chat"
)

//go:embed templates/index.html
var templateFS embed.FS

// Handler serves the chat page and the highlight stylesheet.
type Handler struct {
	chatSvc  *chatService.Service
	renderer *markdown.Renderer
	tmpl     *template.Template
	css      []byte
	logger   zerolog.Logger
}

type pageData struct {
	SessionID string
	Messages  []chat.RenderedMessage
	Error     string
}

// New parses the page template and pre-renders the stylesheet.
func New(chatSvc *chatService.Service, renderer *markdown.Renderer, logger zerolog.Logger) (*Handler, error) {
	tmpl, err := template.New("index.html").Funcs(template.FuncMap{
		// assistant HTML has already been sanitized by the renderer
		"safe": func(s string) template.HTML { return template.HTML(s) },
	}).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, err
	}

	var css bytes.Buffer
	if err := renderer.WriteCSS(&css); err != nil {
		return nil, err
	}

	return &Handler{
		chatSvc:  chatSvc,
		renderer: renderer,
		tmpl:     tmpl,
		css:      css.Bytes(),
		logger:   logger,
	}, nil
}

// RegisterRoutes mounts the page routes on the root router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/static/highlight.css", h.handleCSS)
}

// handleIndex renders the page. With ?session=<id> the existing transcript is
// rendered server-side; an unknown id starts a fresh page.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := pageData{Messages: []chat.RenderedMessage{}}

	if id := r.URL.Query().Get("session"); id != "" {
		snap, err := h.chatSvc.Snapshot(r.Context(), id)
		if err == nil {
			data.SessionID = id
			data.Messages = chat.RenderAll(snap.Messages, h.renderer.RenderOrEscape)
			data.Error = snap.Error
		}
	}

	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, data); err != nil {
		h.logger.Error().Err(err).Msg("render page failed")
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(h.css)
}
