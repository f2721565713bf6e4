package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/KilimcininKorOglu/kurul/internal/kvstore"
	"github.com/KilimcininKorOglu/kurul/internal/raft"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Leader  string `json:"leader,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// leaderHint resolves the leader's client-facing address. Membership
// tracks consensus transport addresses; the configured client address
// map translates them so redirects land on an API endpoint.
func (h *Handlers) leaderHint() string {
	addr := h.node.LeaderAddr()
	if addr == "" {
		return ""
	}
	if api, ok := h.clientAddrs[addr]; ok {
		return api
	}
	return addr
}

// writeRaftError maps consensus and state machine errors onto HTTP
// responses. Requests rejected with not_leader carry the current leader
// address so clients can redirect.
func (h *Handlers) writeRaftError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, raft.ErrNotLeader):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "not_leader",
			Message: "this node is not the leader",
			Leader:  h.leaderHint(),
		})
	case errors.Is(err, raft.ErrProposalDropped):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "proposal_dropped",
			Message: "leadership changed before the write resolved; it may or may not have been applied",
			Leader:  h.leaderHint(),
		})
	case errors.Is(err, raft.ErrConfigChangeInFlight):
		writeError(w, http.StatusConflict, "config_change_in_flight", "another membership change is in progress")
	case errors.Is(err, raft.ErrAlreadyMember):
		writeError(w, http.StatusConflict, "already_member", "server is already a cluster member")
	case errors.Is(err, raft.ErrNotMember):
		writeError(w, http.StatusNotFound, "not_member", "server is not a cluster member")
	case errors.Is(err, raft.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
	case errors.Is(err, raft.ErrNodeStopped):
		writeError(w, http.StatusServiceUnavailable, "node_stopped", "node is shut down")
	case errors.Is(err, kvstore.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, "key_not_found", "key does not exist")
	case errors.Is(err, kvstore.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, "invalid_command", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out waiting for commit")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
