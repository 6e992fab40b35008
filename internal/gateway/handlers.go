package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/helpdesk/internal/channel"
	"github.com/soyeahso/helpdesk/internal/domain"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler fills the rest.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version,omitempty"`
	Clients  int                    `json:"clients,omitempty"`
	Channels []domain.ChannelStatus `json:"channels,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, CodeNotFound, "not found: "+r.URL.Path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]ErrorShape{"error": {Code: code, Message: message}})
}

// apiError is a failure with a transport-independent code. HTTP handlers map
// it to a status; RPC handlers send the code in the error frame.
type apiError struct {
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

func invalidParams(msg string) error { return &apiError{code: CodeInvalidParams, message: msg} }

// classify maps a service error to an error code and HTTP status.
func classify(err error) (string, int) {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		switch ae.code {
		case CodeInvalidParams:
			return ae.code, http.StatusBadRequest
		case CodeUnavailable:
			return ae.code, http.StatusServiceUnavailable
		}
		return ae.code, http.StatusInternalServerError
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, channel.ErrInvalidAddress):
		return CodeInvalidParams, http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeUnavailable, http.StatusServiceUnavailable
	}
	return CodeInternal, http.StatusInternalServerError
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	if status >= 500 {
		s.log.Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code, err.Error())
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything an RPC handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	if err := rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message}); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send error response")
	}
}

// Fail sends err as an error response with its classified code.
func (rc *RequestContext) Fail(err error) {
	code, _ := classify(err)
	rc.RespondError(code, err.Error())
}

// Params unmarshals the request params into target.
func (rc *RequestContext) Params(target any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(rc.Frame.Params, target); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}
