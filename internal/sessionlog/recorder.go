package sessionlog

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/drive.control/internal/loop"
	"github.com/banshee-data/drive.control/internal/monitoring"
)

// Recorder consumes the cycle stream and writes it to the session database
// from its own goroutine. Publish never blocks the control loop: when the
// queue is full the cycle is dropped and counted.
type Recorder struct {
	db        *DB
	sessionID string
	decimate  int

	ch      chan loop.ControlsState
	dropped atomic.Uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRecorder starts a recorder for the given session. decimate keeps every
// n-th cycle (alerts are recorded from every kept cycle); queueSize bounds
// the hand-off buffer.
func NewRecorder(db *DB, sessionID string, decimate, queueSize int) *Recorder {
	if decimate < 1 {
		decimate = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	r := &Recorder{
		db:        db,
		sessionID: sessionID,
		decimate:  decimate,
		ch:        make(chan loop.ControlsState, queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Publish implements loop.Sink.
func (r *Recorder) Publish(st loop.ControlsState) {
	if st.Frame%uint64(r.decimate) != 0 {
		return
	}
	select {
	case r.ch <- st:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of cycles lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Close flushes queued cycles and stops the writer.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	if n := r.Dropped(); n > 0 {
		monitoring.Logf("sessionlog: dropped %d cycles (queue full)", n)
	}
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case st := <-r.ch:
			r.write(st)
		case <-r.stop:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case st := <-r.ch:
					r.write(st)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(st loop.ControlsState) {
	row := CycleRow{
		Frame:            int64(st.Frame),
		TimeNs:           st.Time.UnixNano(),
		State:            string(st.State),
		Enabled:          st.Enabled,
		VEgo:             st.VEgo,
		AEgo:             st.AEgo,
		DesiredCurvature: st.DesiredCurvature,
		CurrentCurvature: st.CurrentCurvature,
		SteerTorque:      st.Command.SteerTorque,
		SteeringAngleDeg: st.Command.SteeringAngleDeg,
		Accel:            st.Command.Accel,
		LongState:        string(st.Long.State),
		LatError:         st.Lat.Error,
		LatSaturated:     st.Lat.Saturated,
		LongSaturated:    st.Long.Saturated,
		Lagging:          st.Lagging,
	}
	if err := r.db.insertCycle(r.sessionID, row); err != nil {
		monitoring.Logf("sessionlog: cycle insert failed: %v", err)
		return
	}
	for _, a := range st.Alerts {
		if err := r.db.insertAlert(r.sessionID, AlertRow{
			Frame:    int64(st.Frame),
			AlertID:  a.ID,
			Severity: string(a.Severity),
			Cause:    a.Cause,
		}); err != nil {
			monitoring.Logf("sessionlog: alert insert failed: %v", err)
		}
	}
}
