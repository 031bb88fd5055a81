package sessionlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/drive.control/internal/alerts"
	"github.com/banshee-data/drive.control/internal/engage"
	"github.com/banshee-data/drive.control/internal/loop"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesMigrations(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"sessions", "cycles", "alerts"} {
		var n int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&n)
		if err != nil {
			t.Fatalf("schema query failed: %v", err)
		}
		if n != 1 {
			t.Errorf("table %q missing after migration", table)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	db.Close()
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	id, err := db.StartSession("TEST VEHICLE", "unit test")
	if err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}
	if id == "" {
		t.Fatal("StartSession() returned empty id")
	}

	sessions, err := db.Sessions()
	if err != nil {
		t.Fatalf("Sessions() failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].ID != id || sessions[0].CarFingerprint != "TEST VEHICLE" {
		t.Errorf("unexpected session row: %+v", sessions[0])
	}
	if sessions[0].EndedAt != nil {
		t.Error("new session should not have an end time")
	}

	if err := db.EndSession(id); err != nil {
		t.Fatalf("EndSession() failed: %v", err)
	}
	sessions, err = db.Sessions()
	if err != nil {
		t.Fatalf("Sessions() failed: %v", err)
	}
	if sessions[0].EndedAt == nil {
		t.Error("ended session should have an end time")
	}
}

func cycleState(frame uint64) loop.ControlsState {
	return loop.ControlsState{
		Frame:            frame,
		Time:             time.Unix(1700000000, int64(frame)*10_000_000),
		State:            engage.StateEnabled,
		Enabled:          true,
		VEgo:             15,
		DesiredCurvature: 0.001,
		Alerts: []alerts.Alert{
			{ID: alerts.AlertEngaged, Severity: alerts.SeverityInfo, Cause: "controls engaged"},
		},
	}
}

func TestRecorderWritesDecimatedCycles(t *testing.T) {
	db := openTestDB(t)
	id, err := db.StartSession("TEST VEHICLE", "")
	if err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}

	r := NewRecorder(db, id, 5, 64)
	for frame := uint64(1); frame <= 20; frame++ {
		r.Publish(cycleState(frame))
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	cycles, err := db.Cycles(id)
	if err != nil {
		t.Fatalf("Cycles() failed: %v", err)
	}
	// Frames 5, 10, 15, 20 survive the decimation.
	if len(cycles) != 4 {
		t.Fatalf("expected 4 cycles, got %d", len(cycles))
	}
	for i, want := range []int64{5, 10, 15, 20} {
		if cycles[i].Frame != want {
			t.Errorf("cycle %d: frame = %d, want %d", i, cycles[i].Frame, want)
		}
	}
	if cycles[0].VEgo != 15 || cycles[0].State != "enabled" || !cycles[0].Enabled {
		t.Errorf("unexpected cycle row: %+v", cycles[0])
	}

	alertRows, err := db.Alerts(id)
	if err != nil {
		t.Fatalf("Alerts() failed: %v", err)
	}
	if len(alertRows) != 4 {
		t.Fatalf("expected 4 alert rows, got %d", len(alertRows))
	}
	if alertRows[0].AlertID != alerts.AlertEngaged {
		t.Errorf("alert id = %q, want %q", alertRows[0].AlertID, alerts.AlertEngaged)
	}

	if r.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", r.Dropped())
	}
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	db := openTestDB(t)
	id, err := db.StartSession("TEST VEHICLE", "")
	if err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}

	// decimate 1 and a tiny queue: flooding faster than sqlite can drain
	// must drop rather than block.
	r := NewRecorder(db, id, 1, 1)
	for frame := uint64(1); frame <= 5000; frame++ {
		r.Publish(cycleState(frame))
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	cycles, err := db.Cycles(id)
	if err != nil {
		t.Fatalf("Cycles() failed: %v", err)
	}
	if len(cycles) == 0 {
		t.Fatal("expected some cycles to be written")
	}
	if uint64(len(cycles))+r.Dropped() != 5000 {
		t.Errorf("written (%d) + dropped (%d) != published (5000)", len(cycles), r.Dropped())
	}
}
