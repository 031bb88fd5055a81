// Package sessionlog persists per-drive control sessions to sqlite. Each
// session gets a uuid; the recorder decimates the 100 Hz cycle stream down to
// a reviewable rate and writes it off the control thread.
package sessionlog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/drive.control/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the session database at path and applies
// any pending schema migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	d := &DB{db}
	if err := d.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (db *DB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Note: m is not closed because that would close the underlying DB
	// connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Session is one recorded drive.
type Session struct {
	ID             string
	CarFingerprint string
	StartedAt      time.Time
	EndedAt        *time.Time
	Notes          string
}

// StartSession creates a session row and returns its id.
func (db *DB) StartSession(carFingerprint, notes string) (string, error) {
	id := uuid.New().String()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, car_fingerprint, notes) VALUES (?, ?, ?)`,
		id, carFingerprint, notes,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	monitoring.Logf("sessionlog: started session %s (%s)", id, carFingerprint)
	return id, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(id string) error {
	_, err := db.Exec(
		`UPDATE sessions SET ended_at = CURRENT_TIMESTAMP WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	return nil
}

// Sessions lists recorded sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`
		SELECT session_id, car_fingerprint, started_at, ended_at, COALESCE(notes, '')
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var ended sql.NullTime
		if err := rows.Scan(&s.ID, &s.CarFingerprint, &s.StartedAt, &ended, &s.Notes); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CycleRow is one recorded control cycle.
type CycleRow struct {
	Frame            int64
	TimeNs           int64
	State            string
	Enabled          bool
	VEgo             float64
	AEgo             float64
	DesiredCurvature float64
	CurrentCurvature float64
	SteerTorque      float64
	SteeringAngleDeg float64
	Accel            float64
	LongState        string
	LatError         float64
	LatSaturated     bool
	LongSaturated    bool
	Lagging          bool
}

func (db *DB) insertCycle(sessionID string, c CycleRow) error {
	_, err := db.Exec(`
		INSERT INTO cycles (
			session_id, frame, time_ns, state, enabled, v_ego, a_ego,
			desired_curvature, current_curvature, steer_torque,
			steering_angle_deg, accel, long_state, lat_error,
			lat_saturated, long_saturated, lagging
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, c.Frame, c.TimeNs, c.State, c.Enabled, c.VEgo, c.AEgo,
		c.DesiredCurvature, c.CurrentCurvature, c.SteerTorque,
		c.SteeringAngleDeg, c.Accel, c.LongState, c.LatError,
		c.LatSaturated, c.LongSaturated, c.Lagging,
	)
	return err
}

// Cycles returns the recorded cycles of a session in frame order.
func (db *DB) Cycles(sessionID string) ([]CycleRow, error) {
	rows, err := db.Query(`
		SELECT frame, time_ns, state, enabled, v_ego, a_ego,
			desired_curvature, current_curvature, steer_torque,
			steering_angle_deg, accel, long_state, lat_error,
			lat_saturated, long_saturated, lagging
		FROM cycles WHERE session_id = ? ORDER BY frame`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []CycleRow
	for rows.Next() {
		var c CycleRow
		if err := rows.Scan(
			&c.Frame, &c.TimeNs, &c.State, &c.Enabled, &c.VEgo, &c.AEgo,
			&c.DesiredCurvature, &c.CurrentCurvature, &c.SteerTorque,
			&c.SteeringAngleDeg, &c.Accel, &c.LongState, &c.LatError,
			&c.LatSaturated, &c.LongSaturated, &c.Lagging,
		); err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// AlertRow is one alert observation tied to a recorded cycle.
type AlertRow struct {
	Frame    int64
	AlertID  string
	Severity string
	Cause    string
}

func (db *DB) insertAlert(sessionID string, a AlertRow) error {
	_, err := db.Exec(`
		INSERT INTO alerts (session_id, frame, alert_id, severity, cause)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, a.Frame, a.AlertID, a.Severity, a.Cause)
	return err
}

// Alerts returns the recorded alerts of a session in frame order.
func (db *DB) Alerts(sessionID string) ([]AlertRow, error) {
	rows, err := db.Query(`
		SELECT frame, alert_id, severity, COALESCE(cause, '')
		FROM alerts WHERE session_id = ? ORDER BY frame`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []AlertRow
	for rows.Next() {
		var a AlertRow
		if err := rows.Scan(&a.Frame, &a.AlertID, &a.Severity, &a.Cause); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
