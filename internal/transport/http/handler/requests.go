package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-broker-agent/internal/application/request"
	"github.com/go-broker-agent/internal/domain"
	"github.com/go-broker-agent/internal/transport/http/middleware"
)

// RequestHandler handles the typed request dispatch endpoint.
type RequestHandler struct {
	svc request.Service
}

func NewRequestHandler(svc request.Service) *RequestHandler {
	return &RequestHandler{svc: svc}
}

// Dispatch accepts a tagged request body and routes it by type. Dispatch
// outcomes travel in the response envelope with status 200; an unknown or
// missing type keeps the envelope shape but is a client error, like other
// transport-level problems.
func (h *RequestHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Type.Valid() {
		writeJSON(w, http.StatusBadRequest, request.InvalidType(req.Type))
		return
	}
	resp := h.svc.Handle(r.Context(), claims.UserID, &req)
	writeJSON(w, http.StatusOK, resp)
}
