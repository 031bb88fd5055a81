package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/banshee-data/drive.control/internal/actuation"
	"github.com/banshee-data/drive.control/internal/loop"
	"github.com/banshee-data/drive.control/internal/sessionlog"
)

func newTestServer(t *testing.T) (*httptest.Server, *StateCache, *sessionlog.DB) {
	t.Helper()
	db, err := sessionlog.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("sessionlog.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cache := &StateCache{}
	ts := httptest.NewServer(NewServer(cache, db).ServeMux())
	t.Cleanup(ts.Close)
	return ts, cache, db
}

func TestControlsBeforeFirstCycle(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/controls")
	if err != nil {
		t.Fatalf("GET /controls failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestControlsReturnsLatestSnapshot(t *testing.T) {
	ts, cache, _ := newTestServer(t)

	cache.Publish(loop.ControlsState{Frame: 12, VEgo: 8.5, Command: actuation.Command{Seq: 12}})
	cache.Publish(loop.ControlsState{Frame: 13, VEgo: 8.6, Command: actuation.Command{Seq: 13}})

	resp, err := http.Get(ts.URL + "/controls")
	if err != nil {
		t.Fatalf("GET /controls failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var cs loop.ControlsState
	if err := json.NewDecoder(resp.Body).Decode(&cs); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if cs.Frame != 13 {
		t.Errorf("Frame = %d, want 13 (latest snapshot)", cs.Frame)
	}
	if cs.VEgo != 8.6 {
		t.Errorf("VEgo = %v, want 8.6", cs.VEgo)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	ts, _, db := newTestServer(t)

	id, err := db.StartSession("TEST VEHICLE", "api test")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions failed: %v", err)
	}
	defer resp.Body.Close()

	var sessions []sessionlog.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Errorf("unexpected sessions: %+v", sessions)
	}
}

func TestCyclesRequiresSessionParam(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/cycles")
	if err != nil {
		t.Fatalf("GET /cycles failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/controls", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /controls failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestSessionEndpointsWithoutDB(t *testing.T) {
	ts := httptest.NewServer(NewServer(&StateCache{}, nil).ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
