package httpadapter

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/niallgpt/niallgpt/internal/app/chat"
	"github.com/niallgpt/niallgpt/internal/app/directive"
	"github.com/niallgpt/niallgpt/internal/app/media"
	"github.com/niallgpt/niallgpt/internal/app/profile"
	"github.com/niallgpt/niallgpt/internal/app/sessions"
	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

// Deps are the application services the API exposes.
type Deps struct {
	Sessions *sessions.Store
	Chat     *chat.Orchestrator
	Profile  *profile.Profile
	Media    *media.Service
	Events   *Broker

	// Limiter throttles all requests; nil disables throttling.
	Limiter *rate.Limiter
}

type Server struct {
	sessions *sessions.Store
	chat     *chat.Orchestrator
	profile  *profile.Profile
	media    *media.Service
	events   *Broker
}

func NewServer(deps Deps) http.Handler {
	s := &Server{
		sessions: deps.Sessions,
		chat:     deps.Chat,
		profile:  deps.Profile,
		media:    deps.Media,
		events:   deps.Events,
	}
	if s.events == nil {
		s.events = NewBroker(0)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)

	// /sessions → list (GET), create (POST)
	mux.HandleFunc("/sessions", s.handleSessions)

	// /sessions/{id}          → GET, PATCH, DELETE
	// /sessions/{id}/activate → POST
	mux.HandleFunc("/sessions/", s.handleSessionWithID)

	// /chat/{send,edit,regenerate,stop,enhance} → POST
	mux.HandleFunc("/chat/", s.handleChat)

	// /events → server-sent message updates
	mux.HandleFunc("/events", s.handleEvents)

	// /memory → GET, POST; /memory/{index} → PUT, DELETE
	mux.HandleFunc("/memory", s.handleMemory)
	mux.HandleFunc("/memory/", s.handleMemoryWithIndex)

	mux.HandleFunc("/settings", s.handleSettings)

	// /media/image, /media/video, /media/json → POST
	mux.HandleFunc("/media/", s.handleMedia)

	return chainMiddlewares(mux,
		withRateLimit(deps.Limiter),
		withCORS,
		withRequestLogging,
	)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type sessionResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Timestamp         time.Time `json:"timestamp"`
	MessageCount      int       `json:"message_count"`
	SessionUserName   string    `json:"session_user_name,omitempty"`
	SessionAIBehavior string    `json:"session_ai_behavior,omitempty"`
}

type listSessionsResponse struct {
	ActiveSessionID string            `json:"active_session_id"`
	Sessions        []sessionResponse `json:"sessions"`
}

type getSessionResponse struct {
	Session  sessionResponse   `json:"session"`
	Messages []messageResponse `json:"messages"`
	Error    string            `json:"error,omitempty"`
}

type attachmentResponse struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PreviewURL string `json:"preview_url,omitempty"`
}

type messageResponse struct {
	ID           string              `json:"id"`
	Sender       string              `json:"sender"`
	Text         string              `json:"text"`
	Timestamp    time.Time           `json:"timestamp"`
	Attachment   *attachmentResponse `json:"attachment,omitempty"`
	IsEdited     bool                `json:"is_edited,omitempty"`
	OriginalText string              `json:"original_text,omitempty"`
	IsLoading    bool                `json:"is_loading,omitempty"`
	Citations    []domain.Citation   `json:"citations,omitempty"`
	Suggestions  []string            `json:"suggestions,omitempty"`
	ImageURL     string              `json:"image_url,omitempty"`
	DownloadType string              `json:"download_type,omitempty"`
}

type createSessionRequest struct {
	Name string `json:"name,omitempty"`
}

type patchSessionRequest struct {
	Name              *string `json:"name,omitempty"`
	SessionUserName   *string `json:"session_user_name,omitempty"`
	SessionAIBehavior *string `json:"session_ai_behavior,omitempty"`
}

type attachmentRequest struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type sendRequest struct {
	Text       string             `json:"text"`
	Attachment *attachmentRequest `json:"attachment,omitempty"`
	// Search toggles web-search grounding for this and later turns.
	Search *bool `json:"search,omitempty"`
}

type editRequest struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type regenerateRequest struct {
	MessageID string `json:"message_id"`
}

type textRequest struct {
	Text string `json:"text"`
}

type mediaRequest struct {
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"` // data URL
}

type jsonCompletionRequest struct {
	Prompt string         `json:"prompt"`
	Schema map[string]any `json:"schema"`
}

type videoResponse struct {
	URI      string `json:"uri,omitempty"`
	DataURL  string `json:"data_url,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// ─────────────────────────────────────────────
// Basic routing
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSessions(w, r)
	case http.MethodPost:
		s.handleCreateSession(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /sessions/{id} or /sessions/{id}/activate
func (s *Server) handleSessionWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(path, "/")
	id := domain.SessionID(parts[0])

	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetSession(w, r, id)
		case http.MethodPatch:
			s.handlePatchSession(w, r, id)
		case http.MethodDelete:
			s.handleDeleteSession(w, r, id)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "activate" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleActivateSession(w, r, id)
		return
	}

	http.NotFound(w, r)
}

// /chat/{op}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/chat/") {
	case "send":
		s.handleSend(w, r)
	case "edit":
		s.handleEdit(w, r)
	case "regenerate":
		s.handleRegenerate(w, r)
	case "stop":
		writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.chat.Stop()})
	case "enhance":
		s.handleEnhance(w, r)
	default:
		http.NotFound(w, r)
	}
}

// /memory
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string][]string{"memory": s.profile.Memory()})
	case http.MethodPost:
		s.handleAddMemory(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /memory/{index}
func (s *Server) handleMemoryWithIndex(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/memory/"))
	if err != nil {
		badRequest(w, "memory index must be a number")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req textRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.profile.EditMemory(r.Context(), index, req.Text); err != nil {
			writeError(w, r, err)
			return
		}
	case http.MethodDelete:
		if err := s.profile.DeleteMemory(r.Context(), index); err != nil {
			writeError(w, r, err)
			return
		}
	default:
		methodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{"memory": s.profile.Memory()})
}

// /settings
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.profile.Settings())
	case http.MethodPut:
		var req profile.Settings
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.profile.UpdateSettings(r.Context(), req); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.profile.Settings())
	default:
		methodNotAllowed(w)
	}
}

// /media/{kind}
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/media/") {
	case "image":
		s.handleImage(w, r)
	case "video":
		s.handleVideo(w, r)
	case "json":
		s.handleJSONCompletion(w, r)
	default:
		http.NotFound(w, r)
	}
}

// ─────────────────────────────────────────────
// Session handlers
// ─────────────────────────────────────────────

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	resp := listSessionsResponse{
		ActiveSessionID: string(s.sessions.ActiveID()),
		Sessions:        make([]sessionResponse, 0, len(list)),
	}
	for _, sess := range list {
		resp.Sessions = append(resp.Sessions, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	sess := s.sessions.CreateSession(r.Context(), strings.TrimSpace(req.Name))
	writeJSON(w, http.StatusCreated, s.sessionDetail(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionDetail(sess))
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	var req patchSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	if req.Name != nil {
		if err := s.sessions.Rename(ctx, id, strings.TrimSpace(*req.Name)); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if req.SessionUserName != nil || req.SessionAIBehavior != nil {
		sess, err := s.sessions.Get(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		userName, behavior := sess.SessionUserName, sess.SessionAIBehavior
		if req.SessionUserName != nil {
			userName = *req.SessionUserName
		}
		if req.SessionAIBehavior != nil {
			behavior = *req.SessionAIBehavior
		}
		if err := s.sessions.UpdatePersona(ctx, id, userName, behavior); err != nil {
			writeError(w, r, err)
			return
		}
	}

	s.handleGetSession(w, r, id)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	if s.chat.Busy() && s.sessions.ActiveID() == id {
		writeError(w, r, chat.ErrBusy)
		return
	}
	if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.handleListSessions(w, r)
}

func (s *Server) handleActivateSession(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	if s.chat.Busy() {
		writeError(w, r, chat.ErrBusy)
		return
	}
	if err := s.sessions.SetActive(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.handleGetSession(w, r, id)
}

// ─────────────────────────────────────────────
// Chat handlers
// ─────────────────────────────────────────────

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var att *domain.Attachment
	if req.Attachment != nil {
		data, err := base64.StdEncoding.DecodeString(req.Attachment.Data)
		if err != nil {
			badRequest(w, "attachment data must be base64")
			return
		}
		att, err = chat.NewAttachment(req.Attachment.Name, req.Attachment.MIMEType, data)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	if req.Search != nil {
		s.chat.SetSearchEnabled(*req.Search)
	}

	id := s.sessions.ActiveID()
	s.respondTurn(w, r, id, s.chat.Send(r.Context(), req.Text, att))
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		badRequest(w, "message_id is required")
		return
	}

	id := s.sessions.ActiveID()
	s.respondTurn(w, r, id, s.chat.EditAndRegenerate(r.Context(), domain.MessageID(req.MessageID), req.Text))
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		badRequest(w, "message_id is required")
		return
	}

	id := s.sessions.ActiveID()
	s.respondTurn(w, r, id, s.chat.Regenerate(r.Context(), domain.MessageID(req.MessageID)))
}

// respondTurn writes the session a finished turn ran on. Another request
// may have switched the active session while the turn streamed.
func (s *Server) respondTurn(w http.ResponseWriter, r *http.Request, id domain.SessionID, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionDetail(sess))
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s.chat.SetInput(req.Text)
	out, err := s.chat.EnhanceInput(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": out})
}

// ─────────────────────────────────────────────
// Memory and media handlers
// ─────────────────────────────────────────────

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(w, "text is required")
		return
	}

	added, err := s.profile.AddMemory(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"added": added, "memory": s.profile.Memory()})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	url, err := s.media.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image_url": url})
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var ref *domain.Image
	if req.Image != "" {
		mimeType, data, err := domain.ParseDataURL(req.Image)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ref = &domain.Image{Data: data, MIMEType: mimeType}
	}

	res, err := s.media.GenerateVideo(r.Context(), req.Prompt, ref)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := videoResponse{URI: res.URI, MIMEType: res.MIMEType}
	if len(res.Data) > 0 {
		resp.DataURL = domain.DataURL(res.MIMEType, res.Data)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJSONCompletion(w http.ResponseWriter, r *http.Request) {
	var req jsonCompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Schema) == 0 {
		badRequest(w, "schema is required")
		return
	}

	out, err := s.media.CompleteJSON(r.Context(), req.Prompt, req.Schema)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !json.Valid([]byte(out)) {
		internalError(w, r, fmt.Errorf("model returned invalid JSON"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"result": json.RawMessage(out)})
}

// ─────────────────────────────────────────────
// Rendering helpers
// ─────────────────────────────────────────────

func (s *Server) sessionDetail(sess *domain.Session) getSessionResponse {
	return getSessionResponse{
		Session:  toSessionResponse(sess),
		Messages: toMessagesResponse(sess.Messages),
		Error:    s.chat.LastError(sess.ID),
	}
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:                string(s.ID),
		Name:              s.Name,
		Timestamp:         s.Timestamp,
		MessageCount:      len(s.Messages),
		SessionUserName:   s.SessionUserName,
		SessionAIBehavior: s.SessionAIBehavior,
	}
}

// toMessageResponse renders a message. A finished AI message ending in a
// file marker gets the marker stripped and a download_type instead.
func toMessageResponse(m *domain.Message) messageResponse {
	resp := messageResponse{
		ID:           string(m.ID),
		Sender:       string(m.Sender),
		Text:         m.Text,
		Timestamp:    m.Timestamp,
		IsEdited:     m.IsEdited,
		OriginalText: m.OriginalText,
		IsLoading:    m.IsLoading,
		Citations:    m.GroundingChunks,
		Suggestions:  m.Suggestions,
		ImageURL:     m.ImageURL,
	}
	if m.Attachment != nil {
		resp.Attachment = &attachmentResponse{
			Name:       m.Attachment.Name,
			Type:       m.Attachment.Type,
			PreviewURL: m.Attachment.PreviewURL,
		}
	}
	if m.Sender == domain.SenderAI && !m.IsLoading {
		kind, text := directive.DetectFile(m.Text)
		if kind != directive.FileNone {
			resp.Text = text
			resp.DownloadType = string(kind)
		}
	}
	return resp
}

func toMessagesResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// writeError maps application errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, profile.ErrMemoryIndex):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, chat.ErrBusy),
		errors.Is(err, chat.ErrNoActiveSession):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, chat.ErrEmptyInput),
		errors.Is(err, chat.ErrUnchanged),
		errors.Is(err, chat.ErrImageAttachment),
		errors.Is(err, chat.ErrAttachmentTooLarge),
		errors.Is(err, chat.ErrAttachmentEncoding),
		errors.Is(err, media.ErrEmptyPrompt),
		errors.Is(err, domain.ErrInvalidDataURL):
		badRequest(w, err.Error())
	case errors.Is(err, media.ErrVideoTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
	default:
		internalError(w, r, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	observability.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}
