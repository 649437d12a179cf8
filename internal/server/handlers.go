package server

import (
	"encoding/binary"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

// operationResult reports how the log disposed of a proposed operation.
type operationResult struct {
	Kind    operations.Kind `json:"kind"`
	Index   uint64          `json:"index"`
	Outcome string          `json:"outcome"`
}

func (s *Server) proposeAndRespond(w http.ResponseWriter, r *http.Request, op operations.Operation, status int) {
	resp, err := s.propose(r.Context(), op)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logger.From(r.Context(), s.logger).Info("Operation applied",
		logger.Kind(string(op.Kind())),
		logger.Index(resp.Index),
		zap.Stringer("outcome", resp.Outcome),
		zap.String("subject", SubjectFromContext(r.Context())))
	writeJSON(w, status, operationResult{Kind: op.Kind(), Index: resp.Index, Outcome: resp.Outcome.String()})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"leader":        s.proposer.IsLeader(),
		"applied_index": s.state.AppliedIndex(),
	})
}

func (s *Server) listCollections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": s.state.Collections()})
}

// getCollection resolves aliases so readers can address a collection either way.
func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if c, ok := s.state.Collection(name); ok {
		writeJSON(w, http.StatusOK, c)
		return
	}
	if target, ok := s.state.ResolveAlias(name); ok {
		if c, ok := s.state.Collection(target); ok {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, "not_found", fsm.ErrCollectionNotFound.Error())
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var params operations.CreateCollection
	if err := decodeBody(r, &params); err != nil {
		s.fail(w, r, err)
		return
	}
	op := operations.NewCreateCollectionOperation(chi.URLParam(r, "name"), params)
	if err := op.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.planner.PlanCreate(op, s.registry.Alive()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.proposeAndRespond(w, r, op, http.StatusCreated)
}

func (s *Server) updateCollection(w http.ResponseWriter, r *http.Request) {
	var params operations.UpdateCollection
	if err := decodeBody(r, &params); err != nil {
		s.fail(w, r, err)
		return
	}
	op := operations.NewUpdateCollectionOperation(chi.URLParam(r, "name"), params)
	if err := op.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.planner.PlanUpdate(op); err != nil {
		s.fail(w, r, err)
		return
	}
	s.proposeAndRespond(w, r, op, http.StatusOK)
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	s.proposeAndRespond(w, r, operations.DeleteCollectionOperation{CollectionName: chi.URLParam(r, "name")}, http.StatusOK)
}

type replicaStateRequest struct {
	State     operations.ReplicaState  `json:"state"`
	FromState *operations.ReplicaState `json:"from_state,omitempty"`
}

// setReplicaState reports a dismissed compare-and-set as a normal response
// with outcome "dismissed"; it is not an error.
func (s *Server) setReplicaState(w http.ResponseWriter, r *http.Request) {
	shard, err := strconv.ParseUint(chi.URLParam(r, "shard"), 10, 32)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "shard must be an unsigned 32-bit integer")
		return
	}
	peer, err := strconv.ParseUint(chi.URLParam(r, "peer"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "peer must be an unsigned 64-bit integer")
		return
	}
	var req replicaStateRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.proposeAndRespond(w, r, operations.SetShardReplicaState{
		CollectionName: chi.URLParam(r, "name"),
		ShardID:        operations.ShardID(shard),
		PeerID:         operations.PeerID(peer),
		State:          req.State,
		FromState:      req.FromState,
	}, http.StatusOK)
}

func (s *Server) listAliases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"aliases": s.state.Aliases()})
}

func (s *Server) changeAliases(w http.ResponseWriter, r *http.Request) {
	var op operations.ChangeAliasesOperation
	if err := decodeBody(r, &op); err != nil {
		s.fail(w, r, err)
		return
	}
	s.proposeAndRespond(w, r, op, http.StatusOK)
}

func (s *Server) listTransfers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": s.state.Transfers()})
}

func (s *Server) startTransfer(w http.ResponseWriter, r *http.Request) {
	var t operations.ShardTransfer
	if err := decodeBody(r, &t); err != nil {
		s.fail(w, r, err)
		return
	}
	s.proposeAndRespond(w, r, operations.StartTransfer(t), http.StatusOK)
}

func (s *Server) finishTransfer(w http.ResponseWriter, r *http.Request) {
	var t operations.ShardTransfer
	if err := decodeBody(r, &t); err != nil {
		s.fail(w, r, err)
		return
	}
	s.proposeAndRespond(w, r, operations.FinishTransfer(t), http.StatusOK)
}

type abortRequest struct {
	operations.ShardTransferKey
	Reason string `json:"reason"`
}

func (s *Server) abortTransfer(w http.ResponseWriter, r *http.Request) {
	var req abortRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.proposeAndRespond(w, r, operations.AbortTransfer(req.ShardTransferKey, req.Reason), http.StatusOK)
}

func (s *Server) listPeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     s.registry.Alive(),
		"unhealthy": s.registry.Unhealthy(),
	})
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	peer, err := strconv.ParseUint(chi.URLParam(r, "peer"), 10, 64)
	if err != nil || peer == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "peer must be a non-zero unsigned 64-bit integer")
		return
	}
	s.registry.Heartbeat(operations.PeerID(peer))
	w.WriteHeader(http.StatusNoContent)
}

type nopRequest struct {
	Token *uint64 `json:"token,omitempty"`
}

// nop appends a Nop. Clients retrying a Nop must resend the same token;
// without one a fresh token is drawn.
func (s *Server) nop(w http.ResponseWriter, r *http.Request) {
	var req nopRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	var token uint64
	if req.Token != nil {
		token = *req.Token
	} else {
		id := uuid.New()
		token = binary.BigEndian.Uint64(id[:8])
	}
	s.proposeAndRespond(w, r, operations.Nop{Token: token}, http.StatusOK)
}

func (s *Server) leader(w http.ResponseWriter, _ *http.Request) {
	id, addr := s.proposer.Leader()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leader_id":   id,
		"leader_addr": addr,
		"is_leader":   s.proposer.IsLeader(),
	})
}

type joinRequest struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

func (s *Server) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ID == "" || req.Addr == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "id and addr are required")
		return
	}
	if err := s.proposer.Join(r.Context(), req.ID, req.Addr); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
