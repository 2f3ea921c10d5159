// ABOUTME: HTTP JSON API exposing the desk to operator UIs and transports.
// ABOUTME: Bearer-JWT protected except for login, health, inbound messages, and the websocket.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-desk/internal/auth"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/msglog"
	"github.com/2389/coven-desk/internal/registry"
	"github.com/2389/coven-desk/internal/routing"
)

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	AgentID  string `json:"agent_id"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for POST /api/login.
type LoginResponse struct {
	Token string        `json:"token"`
	Agent AgentResponse `json:"agent"`
}

// InboundMessageRequest is the JSON request body for POST /api/messages.
type InboundMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	CustomerID     string `json:"customer_id"`
	CustomerName   string `json:"customer_name,omitempty"`
	Body           string `json:"body"`
}

// TransferRequest is the JSON request body for POST /api/conversations/{id}/transfer.
type TransferRequest struct {
	AgentID  string `json:"agent_id"`
	Priority string `json:"priority,omitempty"`
	Note     string `json:"note,omitempty"`
}

// ReplyRequest is the JSON request body for POST /api/conversations/{id}/reply.
type ReplyRequest struct {
	Body string `json:"body"`
}

// AvailabilityRequest is the JSON request body for PUT /api/agents/{id}/availability.
type AvailabilityRequest struct {
	Availability string `json:"availability"`
}

// ConversationResponse is the JSON shape of a conversation snapshot.
type ConversationResponse struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customer_id"`
	CustomerName   string    `json:"customer_name"`
	Status         string    `json:"status"`
	Handler        string    `json:"handler"`
	HandlerAgentID string    `json:"handler_agent_id,omitempty"`
	UnreadCount    int       `json:"unread_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// MessageResponse is the JSON shape of a message.
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderKind     string    `json:"sender_kind"`
	SenderAgentID  string    `json:"sender_agent_id,omitempty"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// AgentResponse is the JSON shape of an agent record.
type AgentResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role,omitempty"`
	Availability string `json:"availability"`
	ActiveChats  int    `json:"active_chats"`
}

// TransferResponse is the JSON shape of a transfer record.
type TransferResponse struct {
	ConversationID string    `json:"conversation_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Priority       string    `json:"priority"`
	Note           string    `json:"note,omitempty"`
	AuditMessageID string    `json:"audit_message_id"`
	At             time.Time `json:"at"`
}

// Gateway serves the desk HTTP API and the operator websocket.
type Gateway struct {
	desk     *desk.Service
	verifier *auth.JWTVerifier
	hub      *Hub
	tokenTTL time.Duration
	logger   *slog.Logger
}

// New creates a Gateway. The hub may be nil when the websocket surface is
// not wanted (tests). Pass nil logger for default.
func New(service *desk.Service, verifier *auth.JWTVerifier, hub *Hub, tokenTTL time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		desk:     service,
		verifier: verifier,
		hub:      hub,
		tokenTTL: tokenTTL,
		logger:   logger.With("component", "gateway"),
	}
}

// Routes returns the API mux. Operator endpoints are wrapped with the
// bearer-token middleware; login, health, inbound messages, and the
// websocket upgrade authenticate differently (or not at all).
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", g.handleHealth)
	mux.HandleFunc("/api/login", g.handleLogin)
	mux.HandleFunc("/api/messages", g.handleInboundMessage)

	mux.HandleFunc("/api/conversations", g.requireAuth(g.handleListConversations))
	mux.HandleFunc("/api/conversations/", g.requireAuth(g.handleConversationRoutes))
	mux.HandleFunc("/api/agents", g.requireAuth(g.handleListAgents))
	mux.HandleFunc("/api/agents/load", g.requireAuth(g.handleAgentLoad))
	mux.HandleFunc("/api/agents/", g.requireAuth(g.handleAgentRoutes))

	if g.hub != nil {
		mux.HandleFunc("/ws", g.handleWebsocket)
	}

	return mux
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin handles POST /api/login: bcrypt credential check against
// the directory, JWT minted on success.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" || req.Password == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id and password are required")
		return
	}

	if err := g.desk.Authenticate(req.AgentID, req.Password); err != nil {
		g.logger.Warn("login failed", "agent_id", req.AgentID)
		g.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	agent, err := g.desk.GetAgent(req.AgentID)
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := g.verifier.Generate(agent.ID, agent.Role, g.tokenTTL)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "token generation failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Agent: agentResponse(agent)})
}

// handleInboundMessage handles POST /api/messages: the transport-facing
// entry point for customer traffic.
func (g *Gateway) handleInboundMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseInboundRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := g.desk.OnCustomerMessage(r.Context(), req.ConversationID, req.CustomerID, req.CustomerName, req.Body)
	if err != nil {
		g.writeDeskError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleListConversations handles GET /api/conversations with optional
// ?status=, ?handler=, and ?agent= filters.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var filter registry.ListFilter
	if v := r.URL.Query().Get("status"); v != "" {
		status := registry.Status(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("handler"); v != "" {
		kind := registry.HandlerKind(v)
		filter.HandlerKind = &kind
	}
	filter.AgentID = r.URL.Query().Get("agent")

	conversations := g.desk.ListConversations(filter)
	response := make([]ConversationResponse, 0, len(conversations))
	for _, conv := range conversations {
		response = append(response, conversationResponse(conv))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleConversationRoutes dispatches /api/conversations/{id}/<action>.
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	conversationID := parts[0]

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		g.handleGetConversation(w, r, conversationID)
	case "messages":
		g.handleConversationMessages(w, r, conversationID)
	case "transfer":
		g.handleTransfer(w, r, conversationID)
	case "reply":
		g.handleReply(w, r, conversationID)
	case "resolve":
		g.handlePost(w, r, conversationID, g.desk.Resolve)
	case "reopen":
		g.handlePost(w, r, conversationID, g.desk.Reopen)
	case "read":
		g.handlePost(w, r, conversationID, g.desk.MarkRead)
	case "suggest":
		g.handleSuggest(w, r, conversationID)
	default:
		http.NotFound(w, r)
	}
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	conv, err := g.desk.GetConversation(conversationID)
	if err != nil {
		g.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse(conv))
}

func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	messages, err := g.desk.Messages(conversationID, limit)
	if err != nil {
		g.writeDeskError(w, err)
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		response = append(response, messageResponse(msg))
	}
	writeJSON(w, http.StatusOK, response)
}

func (g *Gateway) handleTransfer(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	record, err := g.desk.Transfer(r.Context(), conversationID, req.AgentID, routing.Priority(req.Priority), req.Note)
	if err != nil {
		g.writeDeskError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TransferResponse{
		ConversationID: record.ConversationID,
		From:           record.From.String(),
		To:             record.To,
		Priority:       string(record.Priority),
		Note:           record.Note,
		AuditMessageID: record.AuditMessageID,
		At:             record.At,
	})
}

func (g *Gateway) handleReply(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	identity, ok := identityFrom(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msgID, err := g.desk.OnAgentReply(r.Context(), conversationID, identity.AgentID, req.Body)
	if err != nil {
		g.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": msgID})
}

func (g *Gateway) handleSuggest(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	agent, err := g.desk.AutoSuggest(conversationID)
	if err != nil {
		g.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentResponse(agent))
}

// handlePost runs a no-body POST action against a conversation.
func (g *Gateway) handlePost(w http.ResponseWriter, r *http.Request, conversationID string, action func(ctx context.Context, id string) error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := action(r.Context(), conversationID); err != nil {
		g.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListAgents handles GET /api/agents with optional ?availability=.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var filter *directory.Availability
	if v := r.URL.Query().Get("availability"); v != "" {
		availability := directory.Availability(v)
		if !availability.Valid() {
			g.sendJSONError(w, http.StatusBadRequest, "unknown availability")
			return
		}
		filter = &availability
	}

	agents := g.desk.ListAgents(filter)
	response := make([]AgentResponse, 0, len(agents))
	for _, agent := range agents {
		response = append(response, agentResponse(agent))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleAgentLoad handles GET /api/agents/load.
func (g *Gateway) handleAgentLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, g.desk.AgentLoad())
}

// handleAgentRoutes dispatches /api/agents/{id}/<action>.
func (g *Gateway) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" || len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	agentID := parts[0]

	switch parts[1] {
	case "availability":
		g.handleSetAvailability(w, r, agentID)
	default:
		http.NotFound(w, r)
	}
}

func (g *Gateway) handleSetAvailability(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	availability := directory.Availability(req.Availability)
	if !availability.Valid() {
		g.sendJSONError(w, http.StatusBadRequest, "unknown availability")
		return
	}

	if err := g.desk.SetAgentAvailability(r.Context(), agentID, availability); err != nil {
		g.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDeskError maps desk sentinel errors to HTTP status codes.
func (g *Gateway) writeDeskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrConversationNotFound),
		errors.Is(err, routing.ErrConversationNotFound),
		errors.Is(err, directory.ErrAgentNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrAlreadyResolved),
		errors.Is(err, registry.ErrNotResolved),
		errors.Is(err, routing.ErrConversationNotTransferable):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, directory.ErrAgentOffline),
		errors.Is(err, directory.ErrAgentAtCapacity):
		g.sendJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, routing.ErrNoAgentsFree):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, desk.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, routing.ErrCapacityRollback):
		g.logger.Error("capacity rollback failure surfaced to API", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// parseInboundRequest parses and validates an InboundMessageRequest.
func parseInboundRequest(r io.Reader) (*InboundMessageRequest, error) {
	var req InboundMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.CustomerID == "" {
		return nil, errors.New("customer_id is required")
	}
	if req.Body == "" {
		return nil, errors.New("body is required")
	}
	return &req, nil
}

func conversationResponse(conv registry.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             conv.ID,
		CustomerID:     conv.Customer.ID,
		CustomerName:   conv.Customer.Name,
		Status:         string(conv.Status),
		Handler:        string(conv.Handler.Kind),
		HandlerAgentID: conv.Handler.AgentID,
		UnreadCount:    conv.UnreadCount,
		CreatedAt:      conv.CreatedAt,
		LastActivityAt: conv.LastActivityAt,
	}
}

func messageResponse(msg msglog.Message) MessageResponse {
	return MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderKind:     string(msg.Sender.Kind),
		SenderAgentID:  msg.Sender.AgentID,
		Body:           msg.Body,
		SentAt:         msg.SentAt,
	}
}

func agentResponse(agent directory.Agent) AgentResponse {
	return AgentResponse{
		ID:           agent.ID,
		Name:         agent.Name,
		Role:         agent.Role,
		Availability: string(agent.Availability),
		ActiveChats:  agent.ActiveChats,
	}
}
