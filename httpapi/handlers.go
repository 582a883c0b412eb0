package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/coinjecture/node/chainstore"
	"github.com/coinjecture/node/ingestqueue"
	"github.com/coinjecture/node/log"
)

const defaultBlocksAllLimit = 50

type successResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func requestID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "unknown"
	}
	return id
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rid := requestID()
	logger := log.NewRequestLogger(log.HTTPAPI, rid)

	var evt ingestqueue.BlockEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		logger.Debug("ingest: malformed json", "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "malformed"})
		return
	}
	// Origin is never trusted from the request body: every event the
	// public endpoint accepts is a direct, signed submission, regardless
	// of what the caller's JSON claimed.
	evt.Origin = ingestqueue.OriginSubmitted

	outcome := s.validator.Validate(evt)
	if !outcome.IsOk() {
		logger.Debug("ingest: rejected by validator", "kind", outcome.Kind.String())
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: outcome.Kind.String()})
		return
	}

	result, err := s.queue.Enqueue(r.Context(), evt)
	if err != nil {
		logger.Warn("ingest: enqueue failed", "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "malformed"})
		return
	}

	switch result {
	case ingestqueue.Accepted:
		writeJSON(w, http.StatusAccepted, struct {
			Status  string `json:"status"`
			EventID string `json:"event_id"`
		}{Status: "accepted", EventID: evt.EventID})
	case ingestqueue.Duplicate:
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "duplicate"})
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "malformed"})
	}
}

func (s *Server) handleLatestBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tip, err := s.chain.Tip()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Status: "success", Data: tip})
}

func (s *Server) handleBlockByIndex(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	idx, err := strconv.ParseUint(ps.ByName("index"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "bad_index"})
		return
	}

	block, err := s.chain.GetByIndex(idx)
	if err == chainstore.ErrNotFound {
		writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Error: "not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Status: "success", Data: block})
}

func (s *Server) handleBlocksAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := defaultBlocksAllLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	blocks, err := s.chain.Newest(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Status: "success", Data: blocks})
}

// handleBlocksRange is the peer-catch-up endpoint gossip's listen loop
// calls; it is not part of the public read/write surface peers and
// clients otherwise use.
func (s *Server) handleBlocksRange(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	from, errFrom := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	to, errTo := strconv.ParseUint(r.URL.Query().Get("to"), 10, 64)
	if errFrom != nil || errTo != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "bad_range"})
		return
	}

	blocks, err := s.chain.Range(from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Status: "success", Data: blocks})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	peers := s.gossip.Peers()
	writeJSON(w, http.StatusOK, successResponse{Status: "success", Data: struct {
		Peers      interface{} `json:"peers"`
		TotalPeers int         `json:"total_peers"`
	}{Peers: peers, TotalPeers: len(peers)}})
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	address := ps.ByName("address")
	summary, err := s.rewards.SummaryFor(address)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Status: "success", Data: summary})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tip, err := s.chain.Tip()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Status: "error", Error: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status            string `json:"status"`
		LatestBlockHeight uint64 `json:"latest_block_height"`
	}{Status: "healthy", LatestBlockHeight: tip.Index})
}

// handleGossipAnnounce accepts a peer's tip announcement. It is
// write-only from the wire's point of view: this node does not act on
// the announced tip here, the listen loop's own poll does that; this
// endpoint exists purely so peers can push instead of only being polled.
func (s *Server) handleGossipAnnounce(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		TipIndex  uint64  `json:"tip_index"`
		TipHash   string  `json:"tip_hash"`
		Timestamp float64 `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}
