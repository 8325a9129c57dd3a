package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/minmaxflow/mini-kode/internal/permission"
)

// ResolveResponse is returned after a decision is delivered.
type ResolveResponse struct {
	RequestID string              `json:"requestId"`
	Decision  permission.Decision `json:"decision"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": len(s.broker.Pending()),
	})
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Pending())
}

// resolveApproval answers a pending request. The body is a decision such as
// {"approved":true,"option":"bash:prefix"} or {"approved":false}.
func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	info, ok := s.pending(requestID)
	if !ok {
		writeError(w, notFound("no pending approval %q", requestID))
		return
	}

	var d permission.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, invalidRequest("Invalid decision: %v", err))
		return
	}
	if err := d.Validate(); err != nil {
		writeError(w, invalidRequest("%v", err))
		return
	}
	if d.Approved && !offered(info.Options, d.Option) {
		writeError(w, invalidRequest("option %s does not apply to a %s request", d.Option, info.Hint.Kind).
			withDetails(map[string]any{"options": info.Options}))
		return
	}

	if !s.broker.Resolve(requestID, d) {
		writeError(w, notFound("approval %q was already resolved", requestID))
		return
	}
	s.log.Info().Str("requestId", requestID).Bool("approved", d.Approved).Msg("approval resolved over http")
	writeJSON(w, http.StatusOK, ResolveResponse{RequestID: requestID, Decision: d})
}

func (s *Server) pending(requestID string) (permission.PendingInfo, bool) {
	for _, p := range s.broker.Pending() {
		if p.RequestID == requestID {
			return p, true
		}
	}
	return permission.PendingInfo{}, false
}

func offered(options []string, opt permission.Option) bool {
	for _, o := range options {
		if o == opt.String() {
			return true
		}
	}
	return false
}
