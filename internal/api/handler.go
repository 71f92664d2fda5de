// Package api exposes personas and conversation sessions to the browser UI.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/comigor/shapeschat/internal/config"
	"github.com/comigor/shapeschat/internal/credential"
	"github.com/comigor/shapeschat/internal/llm"
	"github.com/comigor/shapeschat/internal/media"
	"github.com/comigor/shapeschat/internal/persona"
	"github.com/comigor/shapeschat/internal/session"
)

// AvatarSource fetches a persona avatar, "" when none is found.
type AvatarSource interface {
	Fetch(ctx context.Context, id string) string
}

// Handler holds the dependencies of every route.
type Handler struct {
	personas    *persona.Registry
	credentials *credential.Store
	sessions    *session.Hub
	avatars     AvatarSource
	scanner     *media.Scanner
	routes      config.RoutesConfig
}

// NewHandler creates a new handler instance
func NewHandler(personas *persona.Registry, credentials *credential.Store, sessions *session.Hub, avatars AvatarSource, routes config.RoutesConfig) *Handler {
	return &Handler{
		personas:    personas,
		credentials: credentials,
		sessions:    sessions,
		avatars:     avatars,
		scanner:     media.NewScanner(media.DefaultHost),
		routes:      routes,
	}
}

type personaView struct {
	persona.Persona
	Glyph string `json:"glyph"`
	Model string `json:"model"`
}

type messageView struct {
	session.Message
	Attachments []media.Attachment `json:"attachments,omitempty"`
	// Segments is set only when the content carries attachments.
	Segments []media.Segment `json:"segments,omitempty"`
}

type sessionView struct {
	session.Snapshot
	Persona  personaView   `json:"persona"`
	Messages []messageView `json:"messages"`
	// HasCredential drives the "set up your API key" hint.
	HasCredential bool `json:"hasCredential"`
}

func (h *Handler) personaView(p persona.Persona) personaView {
	return personaView{Persona: p, Glyph: p.Glyph(), Model: h.personas.ModelID(p.ID)}
}

func (h *Handler) messageView(m session.Message) messageView {
	v := messageView{Message: m, Attachments: h.scanner.Scan(m.Content)}
	if len(v.Attachments) > 0 {
		v.Segments = h.scanner.Segments(m.Content)
	}
	return v
}

func (h *Handler) sessionView(s *session.Session) sessionView {
	snap := s.Snapshot()
	p, _ := h.personas.Resolve(snap.PersonaID)
	view := sessionView{
		Snapshot:      snap,
		Persona:       h.personaView(p),
		Messages:      make([]messageView, len(snap.Messages)),
		HasCredential: h.credentials.Has(),
	}
	for i, m := range snap.Messages {
		view.Messages[i] = h.messageView(m)
	}
	return view
}

func (h *Handler) session(c *gin.Context) *session.Session {
	return h.sessions.Session(c.Param("persona"), c.Param("channel"))
}

// Landing redirects to the default persona and channel.
func (h *Handler) Landing(c *gin.Context) {
	c.Redirect(http.StatusFound, "/server/"+h.routes.DefaultPersona+"/"+h.routes.DefaultChannel)
}

func (h *Handler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessionView(h.session(c)))
}

type contentRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.session(c)
	reply, err := s.Send(c.Request.Context(), req.Content)
	h.replyResult(c, s, reply, err)
}

func (h *Handler) Regenerate(c *gin.Context) {
	s := h.session(c)
	reply, err := s.Regenerate(c.Request.Context(), c.Param("id"))
	h.replyResult(c, s, reply, err)
}

func (h *Handler) replyResult(c *gin.Context, s *session.Session, reply session.Message, err error) {
	if err != nil {
		h.sessionError(c, s, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": h.messageView(reply), "session": h.sessionView(s)})
}

func (h *Handler) EditMessage(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.session(c)
	m, err := s.Edit(c.Param("id"), req.Content)
	if err != nil {
		h.sessionError(c, s, err)
		return
	}
	c.JSON(http.StatusOK, h.messageView(m))
}

func (h *Handler) ToggleEdit(c *gin.Context) {
	s := h.session(c)
	m, err := s.ToggleEdit(c.Param("id"))
	if err != nil {
		h.sessionError(c, s, err)
		return
	}
	c.JSON(http.StatusOK, h.messageView(m))
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	s := h.session(c)
	removed := s.Delete(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"removed": removed, "session": h.sessionView(s)})
}

// Clear resets the conversation. With ?confirm=false it only raises the
// confirmation prompt.
func (h *Handler) Clear(c *gin.Context) {
	s := h.session(c)
	if c.DefaultQuery("confirm", "true") == "false" {
		s.RequestClear()
	} else {
		s.Clear()
	}
	c.JSON(http.StatusOK, h.sessionView(s))
}

func (h *Handler) CancelClear(c *gin.Context) {
	s := h.session(c)
	s.CancelClear()
	c.JSON(http.StatusOK, h.sessionView(s))
}

func (h *Handler) DismissError(c *gin.Context) {
	s := h.session(c)
	s.DismissError()
	c.JSON(http.StatusOK, h.sessionView(s))
}

func (h *Handler) sessionError(c *gin.Context, s *session.Session, err error) {
	status := http.StatusInternalServerError
	kind := ""
	var ce *llm.CompletionError
	switch {
	case errors.As(err, &ce):
		status, kind = http.StatusBadGateway, string(ce.Kind)
		err = errors.New(ce.UserMessage())
	case errors.Is(err, session.ErrCredentialMissing):
		status, kind = http.StatusPreconditionFailed, session.KindCredentialMissing
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrNotAssistant):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrNoPrecedingUserMessage):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind, "session": h.sessionView(s)})
}

func (h *Handler) ListPersonas(c *gin.Context) {
	list := h.personas.List()
	out := make([]personaView, len(list))
	for i, p := range list {
		out[i] = h.personaView(p)
	}
	c.JSON(http.StatusOK, out)
}

type registerRequest struct {
	URL       string `json:"url" binding:"required"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

func (h *Handler) RegisterPersona(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.personas.Register(c.Request.Context(), req.URL, req.Name, req.AvatarURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": registerErrorKind(err)})
		return
	}
	c.JSON(http.StatusCreated, h.personaView(p))
}

func registerErrorKind(err error) string {
	switch {
	case errors.Is(err, persona.ErrInvalidReference):
		return "InvalidReference"
	case errors.Is(err, persona.ErrUntrustedSource):
		return "UntrustedSource"
	case errors.Is(err, persona.ErrMissingIdentifier):
		return "MissingIdentifier"
	}
	return ""
}

// GetPersona never fails: unknown ids get a derived persona.
func (h *Handler) GetPersona(c *gin.Context) {
	p, known := h.personas.Resolve(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"persona": h.personaView(p), "registered": known})
}

// RefreshAvatar looks the avatar up remotely and caches it when found.
func (h *Handler) RefreshAvatar(c *gin.Context) {
	id := c.Param("id")
	avatar := h.avatars.Fetch(c.Request.Context(), id)
	p, known := h.personas.Resolve(id)
	if avatar != "" && known {
		p, _ = h.personas.CacheAvatar(c.Request.Context(), id, avatar)
	}
	c.JSON(http.StatusOK, gin.H{"persona": h.personaView(p), "avatarUrl": avatar, "cached": avatar != "" && known})
}

func (h *Handler) GetCredential(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"configured": h.credentials.Has(), "masked": h.credentials.Masked()})
}

type credentialRequest struct {
	Key string `json:"key"`
}

func (h *Handler) SetCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.credentials.Set(c.Request.Context(), req.Key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": true, "masked": h.credentials.Masked()})
}

func (h *Handler) ClearCredential(c *gin.Context) {
	h.credentials.Clear(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"configured": false})
}
