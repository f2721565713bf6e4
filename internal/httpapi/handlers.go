package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/KilimcininKorOglu/kurul/internal/kvstore"
	"github.com/KilimcininKorOglu/kurul/internal/logging"
	"github.com/KilimcininKorOglu/kurul/internal/raft"
)

// maxValueSize bounds PUT request bodies.
const maxValueSize = 16 << 20

// Handlers contains the HTTP handlers for the key-value and cluster API.
type Handlers struct {
	node        *raft.Node
	store       *kvstore.Store
	logger      logging.Logger
	timeout     time.Duration
	clientAddrs map[string]string
}

// NewHandlers creates handlers backed by the given node and store.
// timeout bounds how long a write waits for commit and apply.
// clientAddrs maps consensus transport addresses to API addresses for
// leader redirects; it may be nil.
func NewHandlers(node *raft.Node, store *kvstore.Store, logger logging.Logger, timeout time.Duration, clientAddrs map[string]string) *Handlers {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handlers{
		node:        node,
		store:       store,
		logger:      logger,
		timeout:     timeout,
		clientAddrs: clientAddrs,
	}
}

func (h *Handlers) proposeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

// GetKey handles GET /v1/kv/{key}. Reads are served from the local
// state machine and may trail the leader on followers.
func (h *Handlers) GetKey(w http.ResponseWriter, r *http.Request) {
	key := Param(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_key", "key must not be empty")
		return
	}

	value, ok := h.store.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "key_not_found", "key does not exist")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

// PutKey handles PUT /v1/kv/{key}. The request body is the raw value.
func (h *Handlers) PutKey(w http.ResponseWriter, r *http.Request) {
	key := Param(r, "key")

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "value_too_large", "value exceeds maximum size")
		return
	}

	cmd, err := kvstore.EncodePut(key, value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_key", err.Error())
		return
	}

	ctx, cancel := h.proposeContext(r)
	defer cancel()

	prev, err := h.node.Propose(ctx, cmd)
	if err != nil {
		h.writeRaftError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PutResponse{Key: key, Replaced: prev != nil})
}

// DeleteKey handles DELETE /v1/kv/{key}.
func (h *Handlers) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := Param(r, "key")

	cmd, err := kvstore.EncodeDelete(key)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_key", err.Error())
		return
	}

	ctx, cancel := h.proposeContext(r)
	defer cancel()

	if _, err := h.node.Propose(ctx, cmd); err != nil {
		h.writeRaftError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteResponse{Key: key, Deleted: true})
}

// GetStatus handles GET /v1/status.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.node.Status()
	if err != nil {
		h.writeRaftError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// AddMember handles POST /v1/members.
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	ctx, cancel := h.proposeContext(r)
	defer cancel()

	if err := h.node.AddServer(ctx, req.ID, req.Address); err != nil {
		h.writeRaftError(w, err)
		return
	}

	h.logger.Info("member added", "id", req.ID, "address", req.Address)
	writeJSON(w, http.StatusOK, MemberResponse{ID: req.ID, Address: req.Address, Status: "added"})
}

// RemoveMember handles DELETE /v1/members/{id}.
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(Param(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid member id")
		return
	}

	ctx, cancel := h.proposeContext(r)
	defer cancel()

	if err := h.node.RemoveServer(ctx, id); err != nil {
		h.writeRaftError(w, err)
		return
	}

	h.logger.Info("member removed", "id", id)
	writeJSON(w, http.StatusOK, MemberResponse{ID: id, Status: "removed"})
}

// TakeSnapshot handles POST /v1/snapshot.
func (h *Handlers) TakeSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.proposeContext(r)
	defer cancel()

	index, err := h.node.TakeSnapshot(ctx)
	if err != nil {
		h.writeRaftError(w, err)
		return
	}

	h.logger.Info("snapshot taken", "index", index)
	writeJSON(w, http.StatusOK, SnapshotResponse{Index: index})
}

// Health handles GET /v1/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	st, err := h.node.Status()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "node_stopped", "node is shut down")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		NodeID: st.ID,
		State:  st.State,
	})
}
