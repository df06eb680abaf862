package api

import (
	"encoding/json"
	"net/http"
)

type cursorView struct {
	ChainPair   string `json:"chain_pair"`
	ChainID     string `json:"chain_id"`
	EventType   string `json:"event_type"`
	BlockHeight uint64 `json:"block_height"`
	LogIndex    uint   `json:"log_index"`
}

type roundView struct {
	ChainPair   string `json:"chain_pair"`
	RoundID     uint64 `json:"round_id"`
	MerkleRoot  string `json:"merkle_root"`
	MetadataCid string `json:"metadata_cid"`
	CipherCount uint64 `json:"cipher_count"`
	Status      string `json:"status"`
}

type failedEventView struct {
	ChainPair     string `json:"chain_pair"`
	SourceEventID string `json:"source_event_id"`
	EventType     string `json:"event_type"`
	Reason        string `json:"reason"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCursors(w http.ResponseWriter, _ *http.Request) {
	out := []cursorView{}
	for pair, rs := range s.stores {
		cursors, err := rs.Cursors()
		if err != nil {
			s.writeError(w, err)
			return
		}
		for _, c := range cursors {
			out = append(out, cursorView{
				ChainPair:   pair,
				ChainID:     c.ChainID,
				EventType:   c.EventType,
				BlockHeight: c.LastBlockHeight,
				LogIndex:    c.LastLogIndex,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRounds(w http.ResponseWriter, _ *http.Request) {
	out := []roundView{}
	for pair, rs := range s.stores {
		rounds, err := rs.Rounds()
		if err != nil {
			s.writeError(w, err)
			return
		}
		for _, r := range rounds {
			out = append(out, roundView{
				ChainPair:   pair,
				RoundID:     r.RoundID,
				MerkleRoot:  r.MerkleRoot,
				MetadataCid: r.MetadataCid,
				CipherCount: r.CipherCount,
				Status:      r.Status,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFailedEvents(w http.ResponseWriter, _ *http.Request) {
	out := []failedEventView{}
	for pair, rs := range s.stores {
		events, err := rs.FailedEvents()
		if err != nil {
			s.writeError(w, err)
			return
		}
		for _, fe := range events {
			out = append(out, failedEventView{
				ChainPair:     pair,
				SourceEventID: fe.SourceEventID,
				EventType:     fe.EventType,
				Reason:        fe.Reason,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("query failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
