package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/helpdesk/internal/channel"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/events"
	"github.com/soyeahso/helpdesk/internal/store"
)

// APIChannelID tags messages submitted through the gateway.
const APIChannelID = "api"

const maxListLimit = 500

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/v1/messages", s.handleProcessMessage)
	mux.HandleFunc("GET /api/v1/interactions", s.handleListInteractions)
	mux.HandleFunc("GET /api/v1/interactions/{id}", s.handleGetInteraction)
	mux.HandleFunc("GET /api/v1/escalations", s.handleListEscalations)
	mux.HandleFunc("PATCH /api/v1/escalations/{id}", s.handleUpdateEscalation)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up the WebSocket RPC methods.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("support.process", s.rpcProcess)
	s.Handle("escalations.list", s.rpcEscalationsList)
	s.Handle("escalations.update", s.rpcEscalationsUpdate)
}

// MessageRequest is the body of a process-message call.
type MessageRequest struct {
	ID       string `json:"id,omitempty"`
	From     string `json:"from"`
	FromName string `json:"fromName,omitempty"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// EscalationListParams filters the review queue.
type EscalationListParams struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// EscalationUpdateParams changes one escalation.
type EscalationUpdateParams struct {
	ID string `json:"id"`
	domain.EscalationUpdate
}

// StatsResponse is returned by the stats endpoint.
type StatsResponse struct {
	Interactions *store.Stats                    `json:"interactions"`
	Escalations  map[domain.EscalationStatus]int `json:"escalations"`
}

func (s *Server) processMessage(ctx context.Context, req MessageRequest) (*domain.Response, error) {
	if s.processor == nil {
		return nil, &apiError{code: CodeUnavailable, message: "message processing is not configured"}
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Body) == "" {
		return nil, invalidParams("subject or body is required")
	}
	msg, err := channel.ParseInbound(channel.Inbound{
		ID:         req.ID,
		ChannelID:  APIChannelID,
		From:       req.From,
		FromName:   req.FromName,
		Subject:    req.Subject,
		Body:       req.Body,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return s.processor.Process(ctx, msg)
}

func (s *Server) listEscalations(ctx context.Context, p EscalationListParams) ([]domain.EscalationRecord, error) {
	var status domain.EscalationStatus
	if p.Status != "" {
		st, ok := domain.ParseEscalationStatus(p.Status)
		if !ok {
			return nil, invalidParams("unknown status: " + p.Status)
		}
		status = st
	}
	recs, err := s.escalations.List(ctx, status, clampLimit(p.Limit))
	if recs == nil && err == nil {
		recs = []domain.EscalationRecord{}
	}
	return recs, err
}

func (s *Server) updateEscalation(ctx context.Context, id string, upd domain.EscalationUpdate) (*domain.EscalationRecord, error) {
	if id == "" {
		return nil, invalidParams("id is required")
	}
	if upd.Status == nil && upd.AssignedTo == nil && upd.ResolutionNotes == nil {
		return nil, invalidParams("nothing to update")
	}
	if upd.Status != nil {
		if _, ok := domain.ParseEscalationStatus(string(*upd.Status)); !ok {
			return nil, invalidParams("unknown status: " + string(*upd.Status))
		}
	}
	rec, err := s.escalations.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, events.Payload{Event: events.EventEscalationUpdated, Escalation: rec})
	return rec, nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return 50
	}
	return min(n, maxListLimit)
}

// HTTP handlers

func (s *Server) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayload)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidParams, "invalid JSON body: "+err.Error())
		return
	}
	resp, err := s.processMessage(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.InteractionFilter{Sender: q.Get("sender")}
	if v := q.Get("intent"); v != "" {
		intent, ok := domain.ParseIntent(v)
		if !ok {
			writeError(w, http.StatusBadRequest, CodeInvalidParams, "unknown intent: "+v)
			return
		}
		f.Intent = intent
	}
	if v := q.Get("outcome"); v != "" {
		outcome, ok := domain.ParseOutcome(v)
		if !ok {
			writeError(w, http.StatusBadRequest, CodeInvalidParams, "unknown outcome: "+v)
			return
		}
		f.Outcome = outcome
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidParams, "invalid limit")
		return
	}
	f.Limit = clampLimit(limit)
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidParams, "invalid offset")
		return
	}

	recs, err := s.interactions.List(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.InteractionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	rec, err := s.interactions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidParams, "invalid limit")
		return
	}
	recs, err := s.listEscalations(r.Context(), EscalationListParams{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleUpdateEscalation(w http.ResponseWriter, r *http.Request) {
	var upd domain.EscalationUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayload)).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidParams, "invalid JSON body: "+err.Error())
		return
	}
	rec, err := s.updateEscalation(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.interactions.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	byStatus, err := s.escalations.CountByStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Interactions: st, Escalations: byStatus})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalidParams("invalid number: " + v)
	}
	return n, nil
}

// RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	h := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	}
	if s.channels != nil {
		h.Channels = s.channels.Status()
	}
	rc.Respond(h)
}

func (s *Server) rpcProcess(rc *RequestContext) {
	var req MessageRequest
	if err := rc.Params(&req); err != nil {
		rc.Fail(err)
		return
	}
	resp, err := s.processMessage(rc.Ctx, req)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(resp)
}

func (s *Server) rpcEscalationsList(rc *RequestContext) {
	var p EscalationListParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	recs, err := s.listEscalations(rc.Ctx, p)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(recs)
}

func (s *Server) rpcEscalationsUpdate(rc *RequestContext) {
	var p EscalationUpdateParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	rec, err := s.updateEscalation(rc.Ctx, p.ID, p.EscalationUpdate)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(rec)
}
