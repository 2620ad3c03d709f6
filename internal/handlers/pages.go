package handlers

import (
	"log"
	"net/http"
	"strings"

	"kairos-backend/internal/web"
)

type imageOptions interface {
	Model() string
	Sizes() []string
	Formats() []string
	MaxCount() int
}

type PageHandler struct {
	personas personaNames
	images   imageOptions
}

func NewPageHandler(personas personaNames, images imageOptions) *PageHandler {
	return &PageHandler{personas: personas, images: images}
}

func (h *PageHandler) Chat(w http.ResponseWriter, r *http.Request) {
	names := h.personas.Names()
	h.render(w, "chat.html", web.ChatPage{
		Title:    strings.Join(names, " & "),
		Personas: names,
	})
}

func (h *PageHandler) Image(w http.ResponseWriter, r *http.Request) {
	h.render(w, "image.html", web.ImagePage{
		Model:    h.images.Model(),
		Sizes:    h.images.Sizes(),
		Formats:  h.images.Formats(),
		MaxCount: h.images.MaxCount(),
	})
}

func (h *PageHandler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := web.Render(w, name, data); err != nil {
		log.Printf("failed to render %s: %v", name, err)
	}
}
