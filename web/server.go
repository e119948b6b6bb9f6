package web

import (
	"encoding/json"
	"net/http"

	"github.com/example/tmsim/gcm"
)

// Server exposes the live GCM state over HTTP: a JSON snapshot of the
// cache-line table and transaction-state vector (the TM analog of the
// teacher's web_api_topology.go/web_api_data.go node/queue snapshots), plus
// the abort-dependency log and a websocket event stream via Hub.
type Server struct {
	g    *gcm.GCM
	deps *gcm.DependencyLog
	hub  *Hub

	mux *http.ServeMux
}

// NewServer builds a Server over g. deps may be nil if no DependencyLog was
// registered on g's Broker.
func NewServer(g *gcm.GCM, deps *gcm.DependencyLog, hub *Hub) *Server {
	s := &Server{g: g, deps: deps, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/deps", s.handleDeps)
	if hub != nil {
		mux.HandleFunc("/ws", hub.ServeWS)
	}
	s.mux = mux
	return s
}

// ServeHTTP lets Server itself be passed to http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type snapshotResponse struct {
	Lines []lineSnapshot  `json:"lines"`
	Trans []gcm.TransState `json:"trans"`
}

type lineSnapshot struct {
	Addr    uint64 `json:"addr"`
	State   string `json:"state"`
	Readers []int  `json:"readers"`
	Writers []int  `json:"writers"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lines, trans := s.g.Snapshot()
	resp := snapshotResponse{Trans: trans}
	for addr, line := range lines {
		ls := lineSnapshot{Addr: addr, State: lineStateName(line.State)}
		for pid := range line.Readers {
			ls.Readers = append(ls.Readers, pid)
		}
		for pid := range line.Writers {
			ls.Writers = append(ls.Writers, pid)
		}
		resp.Lines = append(resp.Lines, ls)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode snapshot", http.StatusInternalServerError)
	}
}

func (s *Server) handleDeps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var edges []gcm.DependencyEdge
	if s.deps != nil {
		edges = s.deps.Edges()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(edges); err != nil {
		http.Error(w, "failed to encode dependency log", http.StatusInternalServerError)
	}
}

func lineStateName(state gcm.LineState) string {
	switch state {
	case gcm.LineRead:
		return "read"
	case gcm.LineWrite:
		return "write"
	default:
		return "invalid"
	}
}
