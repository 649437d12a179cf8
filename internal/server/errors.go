package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
	"github.com/pavandhadge/vectron/clustermeta/internal/planner"
	"github.com/pavandhadge/vectron/clustermeta/internal/raft"
)

const leaderHeader = "X-Raft-Leader"

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	RequestID   string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, desc string) {
	writeJSON(w, status, errorBody{Error: code, Description: desc, RequestID: RequestIDFromContext(r.Context())})
}

// errorStatus maps an error to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case operations.IsValidationError(err), errors.Is(err, operations.ErrAliasActionShape), errors.Is(err, operations.ErrUnknownKind):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, fsm.ErrCollectionNotFound),
		errors.Is(err, fsm.ErrAliasNotFound),
		errors.Is(err, fsm.ErrShardNotFound),
		errors.Is(err, fsm.ErrReplicaNotFound),
		errors.Is(err, fsm.ErrTransferNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, fsm.ErrCollectionExists),
		errors.Is(err, fsm.ErrAliasExists),
		errors.Is(err, fsm.ErrAliasCollision),
		errors.Is(err, fsm.ErrReplicaExists),
		errors.Is(err, fsm.ErrTransferInFlight),
		errors.Is(err, fsm.ErrLastReplica),
		errors.Is(err, operations.ErrDistributionAlreadySet),
		errors.Is(err, operations.ErrReplicaChangesAlreadySet):
		return http.StatusConflict, "conflict"
	case errors.Is(err, fsm.ErrDistributionMissing), errors.Is(err, fsm.ErrDistributionShape):
		return http.StatusUnprocessableEntity, "unplannable"
	case errors.Is(err, planner.ErrNoPeers), errors.Is(err, planner.ErrNotEnoughPeers):
		return http.StatusServiceUnavailable, "insufficient_peers"
	case errors.Is(err, raft.ErrNotLeader):
		return http.StatusServiceUnavailable, "not_leader"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

// fail writes err. Followers add the leader address so clients can retry
// against it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if code == "not_leader" {
		if _, addr := s.proposer.Leader(); addr != "" {
			w.Header().Set(leaderHeader, addr)
		}
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.From(r.Context(), s.logger).Error("Request failed", zap.Error(err))
	}
	writeError(w, r, status, code, err.Error())
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &operations.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}
