// ABOUTME: HTTP API handlers for personas, conversations, messages, and responder admin
// ABOUTME: Maps service sentinel errors to status codes and JSON error bodies

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/2389/solipcord/internal/conversation"
	"github.com/2389/solipcord/internal/metrics"
	"github.com/2389/solipcord/internal/store"
	"github.com/2389/solipcord/internal/stream"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// CreateDirectMessageRequest is the JSON request body for POST /api/direct-messages.
type CreateDirectMessageRequest struct {
	PersonaID string `json:"personaId"`
}

// UpdateMessageRequest is the JSON request body for PATCH /api/messages/{id}.
type UpdateMessageRequest struct {
	Content string `json:"content"`
}

// ListMessagesResponse is the JSON response for GET /api/messages.
type ListMessagesResponse struct {
	Channel  string                     `json:"channel"`
	Messages []conversation.MessageView `json:"messages"`
}

// routes builds the gateway's HTTP mux.
func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, metrics.Handler())
	}

	mux.Handle("GET /api/sse", stream.NewHandler(g.hub.Channels, stream.Options{
		HeartbeatInterval: g.config.Stream.HeartbeatInterval,
		SubscriberBuffer:  g.config.Stream.SubscriberBuffer,
	}, g.logger))

	mux.HandleFunc("GET /api/personas", g.handleListPersonas)
	mux.HandleFunc("POST /api/personas", g.handleCreatePersona)
	mux.HandleFunc("POST /api/personas/batch", g.handleGetPersonas)
	mux.HandleFunc("GET /api/personas/{id}", g.handleGetPersona)
	mux.HandleFunc("DELETE /api/personas/{id}", g.handleDeletePersona)

	mux.HandleFunc("GET /api/direct-messages", g.handleListDirectMessages)
	mux.HandleFunc("POST /api/direct-messages", g.handleCreateDirectMessage)
	mux.HandleFunc("GET /api/direct-messages/{id}", g.handleGetDirectMessage)
	mux.HandleFunc("DELETE /api/direct-messages/{id}", g.handleDeleteDirectMessage)

	mux.HandleFunc("GET /api/group-chats", g.handleListGroups)
	mux.HandleFunc("POST /api/group-chats", g.handleCreateGroup)
	mux.HandleFunc("GET /api/group-chats/{id}", g.handleGetGroup)
	mux.HandleFunc("DELETE /api/group-chats/{id}", g.handleDeleteGroup)

	mux.HandleFunc("POST /api/messages", g.handleCreateMessage)
	mux.HandleFunc("GET /api/messages", g.handleListMessages)
	mux.HandleFunc("GET /api/messages/{id}", g.handleGetMessage)
	mux.HandleFunc("PATCH /api/messages/{id}", g.handleUpdateMessage)
	mux.HandleFunc("DELETE /api/messages/{id}", g.handleDeleteMessage)

	mux.HandleFunc("GET /api/responders", g.handleResponderStatus)
	mux.HandleFunc("POST /api/responders/initialize", g.handleInitializeResponders)
	mux.HandleFunc("POST /api/responders/shutdown", g.handleShutdownResponders)

	mux.HandleFunc("GET /api/broadcast/stats", g.handleBroadcastStats)

	mux.HandleFunc("GET /api/generation-logs", g.handleListGenerationLogs)
	mux.HandleFunc("GET /api/generation-logs/stats", g.handleGenerationStats)

	return mux
}

// Personas

func (g *Gateway) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := g.conversation.ListPersonas(r.Context())
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, lo.Ternary(personas == nil, []*store.Persona{}, personas))
}

func (g *Gateway) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var req conversation.CreatePersonaRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := g.conversation.CreatePersona(r.Context(), req)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, p)
}

func (g *Gateway) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := g.conversation.GetPersona(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, p)
}

func (g *Gateway) handleGetPersonas(w http.ResponseWriter, r *http.Request) {
	var req conversation.PersonaBatchRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	personas, err := g.conversation.GetPersonas(r.Context(), req)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, personas)
}

func (g *Gateway) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	if err := g.conversation.DeletePersona(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Direct messages

func (g *Gateway) handleListDirectMessages(w http.ResponseWriter, r *http.Request) {
	dms, err := g.conversation.ListDirectConversations(r.Context())
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, lo.Ternary(dms == nil, []*store.DirectConversation{}, dms))
}

func (g *Gateway) handleCreateDirectMessage(w http.ResponseWriter, r *http.Request) {
	var req CreateDirectMessageRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	dm, err := g.conversation.CreateDirectConversation(r.Context(), req.PersonaID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, dm)
}

func (g *Gateway) handleGetDirectMessage(w http.ResponseWriter, r *http.Request) {
	dm, err := g.conversation.GetDirectConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, dm)
}

func (g *Gateway) handleDeleteDirectMessage(w http.ResponseWriter, r *http.Request) {
	if err := g.conversation.DeleteDirectConversation(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Group chats

func (g *Gateway) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := g.conversation.ListGroups(r.Context())
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, lo.Ternary(groups == nil, []*store.GroupConversation{}, groups))
}

func (g *Gateway) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req conversation.CreateGroupRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	group, err := g.conversation.CreateGroup(r.Context(), req)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, group)
}

func (g *Gateway) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := g.conversation.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, group)
}

func (g *Gateway) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := g.conversation.DeleteGroup(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages

func (g *Gateway) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req conversation.CreateMessageRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AuthorKind == "" {
		req.AuthorKind = store.AuthorUser
	}
	msg, err := g.conversation.CreateMessage(r.Context(), req)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, conversation.NewMessageView(msg))
}

// handleListMessages handles GET /api/messages?channel=<type>:<id>&limit=N.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		g.sendJSONError(w, http.StatusBadRequest, "channel parameter is required")
		return
	}
	ref, err := store.ParseChannel(channel)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	msgs, err := g.conversation.ListMessages(r.Context(), ref, limit)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, ListMessagesResponse{
		Channel:  ref.Channel(),
		Messages: lo.Map(msgs, func(m *store.Message, _ int) conversation.MessageView { return conversation.NewMessageView(m) }),
	})
}

func (g *Gateway) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := g.conversation.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conversation.NewMessageView(msg))
}

func (g *Gateway) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req UpdateMessageRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := g.conversation.UpdateMessage(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conversation.NewMessageView(msg))
}

func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := g.conversation.DeleteMessage(r.Context(), r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Responder admin

func (g *Gateway) handleResponderStatus(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.responders.Status())
}

func (g *Gateway) handleInitializeResponders(w http.ResponseWriter, r *http.Request) {
	if err := g.Initialize(r.Context()); err != nil {
		g.logger.Error("responder initialization failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to initialize responders")
		return
	}
	g.writeJSON(w, http.StatusOK, g.responders.Status())
}

func (g *Gateway) handleShutdownResponders(w http.ResponseWriter, r *http.Request) {
	g.responders.Shutdown()
	g.writeJSON(w, http.StatusOK, g.responders.Status())
}

func (g *Gateway) handleBroadcastStats(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.hub.Channels.Stats())
}

// Generation log

// generationLogFilter reads ?personaId=&since=<RFC3339>&limit=N.
func generationLogFilter(r *http.Request) (store.GenerationLogFilter, error) {
	q := r.URL.Query()
	filter := store.GenerationLogFilter{PersonaID: q.Get("personaId")}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("since must be an RFC3339 timestamp")
		}
		filter.Since = &since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (g *Gateway) handleListGenerationLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := generationLogFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := g.logs.ListGenerationLogs(r.Context(), filter)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, entries)
}

func (g *Gateway) handleGenerationStats(w http.ResponseWriter, r *http.Request) {
	filter, err := generationLogFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := g.logs.GetGenerationStats(r.Context(), filter)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, stats)
}

// decodeBody parses a bounded JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// sendServiceError maps service and store errors to HTTP responses.
func (g *Gateway) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrValidation), errors.Is(err, store.ErrInvalidChannel):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
