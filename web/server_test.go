package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/tmsim/gcm"
)

func newTestGCM(t *testing.T, deps *gcm.DependencyLog) *gcm.GCM {
	broker := gcm.NewBroker()
	if deps != nil {
		broker.Register(deps)
	}
	cycle := uint64(0)
	g, err := gcm.New(true, true, 64, 2, gcm.DefaultConfig(), broker, func() uint64 { return cycle })
	if err != nil {
		t.Fatalf("gcm.New: %v", err)
	}
	return g
}

func TestSnapshotEndpointReflectsLiveLines(t *testing.T) {
	g := newTestGCM(t, nil)
	g.Begin(0, 0x400)
	g.Read(0, 0, 0x100)

	srv := NewServer(g, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp snapshotResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Lines) != 1 {
		t.Fatalf("expected 1 tracked line, got %d", len(resp.Lines))
	}
	if resp.Lines[0].State != "read" {
		t.Errorf("expected line state %q, got %q", "read", resp.Lines[0].State)
	}
	if len(resp.Trans) != 2 {
		t.Errorf("expected 2 transaction-state slots, got %d", len(resp.Trans))
	}
}

func TestSnapshotEndpointRejectsNonGet(t *testing.T) {
	g := newTestGCM(t, nil)
	srv := NewServer(g, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/snapshot", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestDepsEndpointReportsForcedAborts(t *testing.T) {
	deps := gcm.NewDependencyLog()
	g := newTestGCM(t, deps)

	g.Begin(0, 0)
	g.Begin(1, 0)
	g.Read(0, 0, 0x200)
	g.Read(1, 0, 0x200)
	g.Write(1, 0, 0x200) // nacked against P0, sets P0's cycle flag
	g.Write(0, 0, 0x200) // P0 now self-aborts under its own cycle flag, reporting an edge

	req := httptest.NewRequest(http.MethodGet, "/api/deps", nil)
	w := httptest.NewRecorder()
	NewServer(g, deps, nil).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var edges []gcm.DependencyEdge
	if err := json.NewDecoder(w.Body).Decode(&edges); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(edges) == 0 {
		t.Fatal("expected at least one recorded dependency edge")
	}
}
