package httpapi

// PutResponse is returned after a successful key write.
type PutResponse struct {
	Key      string `json:"key"`
	Replaced bool   `json:"replaced"`
}

// DeleteResponse is returned after a successful key removal.
type DeleteResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

// AddMemberRequest is the body for adding a cluster member.
type AddMemberRequest struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
}

// MemberResponse is returned after a membership change.
type MemberResponse struct {
	ID      uint64 `json:"id"`
	Address string `json:"address,omitempty"`
	Status  string `json:"status"`
}

// SnapshotResponse is returned after a manual snapshot.
type SnapshotResponse struct {
	Index uint64 `json:"index"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	NodeID uint64 `json:"nodeId"`
	State  string `json:"state"`
}
