// Package serialbridge connects the control loop to a vehicle gateway over a
// line-oriented serial protocol. Inbound lines are JSON telemetry frames that
// get published onto the loop's input sockets; outbound lines carry the
// actuator command produced each cycle.
package serialbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/drive.control/internal/actuation"
	"github.com/banshee-data/drive.control/internal/loop"
	"github.com/banshee-data/drive.control/internal/monitoring"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// ErrWriteFailed is returned when a command line cannot be written in full.
var ErrWriteFailed = errors.New("failed to write command to serial port")

// stateFrame is the inbound vehicle telemetry line.
type stateFrame struct {
	VEgo             float64 `json:"v_ego"`
	AEgo             float64 `json:"a_ego"`
	SteeringAngleDeg float64 `json:"steering_angle_deg"`
	SteeringRateDeg  float64 `json:"steering_rate_deg"`
	SteeringTorque   float64 `json:"steering_torque"`
	SteeringPressed  bool    `json:"steering_pressed"`
	GasPressed       bool    `json:"gas_pressed"`
	BrakePressed     bool    `json:"brake_pressed"`
	Standstill       bool    `json:"standstill"`
	LeftBlinker      bool    `json:"left_blinker"`
	RightBlinker     bool    `json:"right_blinker"`
	VCruiseKPH       float64 `json:"v_cruise_kph"`
	CANValid         bool    `json:"can_valid"`
	SteerFaultTemp   bool    `json:"steer_fault_temp"`
	SteerFaultPerm   bool    `json:"steer_fault_perm"`
	ActuatorFault    bool    `json:"actuator_fault"`
}

// buttonFrame reports the driver's engage switch level.
type buttonFrame struct {
	Engage bool `json:"engage"`
}

// radarFrame is the inbound lead-track line.
type radarFrame struct {
	LeadValid bool    `json:"lead_valid"`
	LeadDRel  float64 `json:"lead_d_rel"`
	LeadVRel  float64 `json:"lead_v_rel"`
}

// modelFrame is the inbound lateral plan line from the perception model.
type modelFrame struct {
	DesiredCurvature    float64 `json:"desired_curvature"`
	LaneChangeActive    bool    `json:"lane_change_active"`
	LaneChangeDirection int     `json:"lane_change_direction"`
}

// planFrame is the inbound longitudinal plan line.
type planFrame struct {
	ATarget    float64   `json:"a_target"`
	VTarget    float64   `json:"v_target"`
	ShouldStop bool      `json:"should_stop"`
	HasLead    bool      `json:"has_lead"`
	Speeds     []float64 `json:"speeds"`
}

// calibrationFrame is the inbound camera calibration line.
type calibrationFrame struct {
	Calibrated  bool    `json:"calibrated"`
	RollOffset  float64 `json:"roll_offset"`
	PitchOffset float64 `json:"pitch_offset"`
	YawOffset   float64 `json:"yaw_offset"`
}

// liveParamsFrame is the inbound parameter learner line.
type liveParamsFrame struct {
	AngleOffsetDeg  float64 `json:"angle_offset_deg"`
	StiffnessFactor float64 `json:"stiffness_factor"`
	SteerRatio      float64 `json:"steer_ratio"`
	Roll            float64 `json:"roll"`
	Valid           bool    `json:"valid"`
}

// frame is the envelope shared by all inbound lines.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// commandFrame is the outbound actuator command line.
type commandFrame struct {
	Type             string  `json:"type"`
	Seq              uint64  `json:"seq"`
	Enabled          bool    `json:"enabled"`
	LatActive        bool    `json:"lat_active"`
	LongActive       bool    `json:"long_active"`
	SteerTorque      float64 `json:"steer_torque"`
	SteeringAngleDeg float64 `json:"steering_angle_deg"`
	Accel            float64 `json:"accel"`
	CruiseCancel     bool    `json:"cruise_cancel"`
	CruiseResume     bool    `json:"cruise_resume"`
	LeftBlinker      bool    `json:"left_blinker"`
	RightBlinker     bool    `json:"right_blinker"`
}

// Bridge shuttles frames between a serial port and the loop's sockets. It is
// generic over the port type so tests can substitute an in-memory port.
type Bridge[T Porter] struct {
	port    T
	sockets *loop.Sockets

	commandMu sync.Mutex // serializes writes to the port

	// outbox is a latest-wins mailbox from the control cycle to the writer
	// goroutine so Publish never blocks the loop.
	outbox chan actuation.Command

	dropped atomic.Uint64
	frames  atomic.Uint64

	closingMu sync.Mutex
	closing   bool
}

// New wraps an open port. Inbound frames are published onto sockets.
func New[T Porter](port T, sockets *loop.Sockets) *Bridge[T] {
	return &Bridge[T]{
		port:    port,
		sockets: sockets,
		outbox:  make(chan actuation.Command, 1),
	}
}

// Publish implements loop.Sink. It hands the cycle's command to the writer
// goroutine, replacing any command still waiting. The loop never blocks on a
// slow port, and the port only ever sees the freshest command.
func (b *Bridge[T]) Publish(cs loop.ControlsState) {
	for {
		select {
		case b.outbox <- cs.Command:
			return
		default:
			select {
			case <-b.outbox:
				b.dropped.Add(1)
			default:
			}
		}
	}
}

// Monitor reads inbound frames and drains the outbox until ctx is cancelled
// or the port fails. It blocks, so run it in its own goroutine.
func (b *Bridge[T]) Monitor(ctx context.Context) error {
	lineChan := make(chan string, 64)
	scanErrChan := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(b.port)
		for scanner.Scan() {
			select {
			case lineChan <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErrChan <- scanner.Err()
		close(lineChan)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErrChan:
			if err != nil {
				return fmt.Errorf("serial read: %w", err)
			}
			return nil
		case cmd := <-b.outbox:
			if err := b.SendCommand(cmd); err != nil {
				monitoring.Logf("serialbridge: %v", err)
			}
		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			b.handleLine(line, time.Now())
		}
	}
}

func (b *Bridge[T]) handleLine(line string, now time.Time) {
	var f frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		monitoring.Debugf("serialbridge: malformed line: %v", err)
		return
	}

	switch f.Type {
	case "state":
		var sf stateFrame
		if err := json.Unmarshal(f.Data, &sf); err != nil {
			monitoring.Debugf("serialbridge: bad state frame: %v", err)
			return
		}
		b.sockets.VehicleState.PublishAt(vehicle.State{
			VEgo:                sf.VEgo,
			AEgo:                sf.AEgo,
			SteeringAngleDeg:    sf.SteeringAngleDeg,
			SteeringRateDeg:     sf.SteeringRateDeg,
			SteeringTorque:      sf.SteeringTorque,
			SteeringPressed:     sf.SteeringPressed,
			GasPressed:          sf.GasPressed,
			BrakePressed:        sf.BrakePressed,
			Standstill:          sf.Standstill,
			LeftBlinker:         sf.LeftBlinker,
			RightBlinker:        sf.RightBlinker,
			VCruiseKPH:          sf.VCruiseKPH,
			CANValid:            sf.CANValid,
			SteerFaultTemporary: sf.SteerFaultTemp,
			SteerFaultPermanent: sf.SteerFaultPerm,
			ActuatorFault:       sf.ActuatorFault,
		}, now)
	case "button":
		var bf buttonFrame
		if err := json.Unmarshal(f.Data, &bf); err != nil {
			monitoring.Debugf("serialbridge: bad button frame: %v", err)
			return
		}
		b.sockets.Request.PublishAt(loop.Request{Engage: bf.Engage}, now)
	case "radar":
		var rf radarFrame
		if err := json.Unmarshal(f.Data, &rf); err != nil {
			monitoring.Debugf("serialbridge: bad radar frame: %v", err)
			return
		}
		b.sockets.Radar.PublishAt(vehicle.RadarState{
			LeadValid: rf.LeadValid,
			LeadDRel:  rf.LeadDRel,
			LeadVRel:  rf.LeadVRel,
		}, now)
	case "model":
		var mf modelFrame
		if err := json.Unmarshal(f.Data, &mf); err != nil {
			monitoring.Debugf("serialbridge: bad model frame: %v", err)
			return
		}
		b.sockets.Model.PublishAt(vehicle.ModelOutput{
			DesiredCurvature:    mf.DesiredCurvature,
			LaneChangeActive:    mf.LaneChangeActive,
			LaneChangeDirection: vehicle.LaneChangeDirection(mf.LaneChangeDirection),
		}, now)
	case "plan":
		var pf planFrame
		if err := json.Unmarshal(f.Data, &pf); err != nil {
			monitoring.Debugf("serialbridge: bad plan frame: %v", err)
			return
		}
		b.sockets.Plan.PublishAt(vehicle.LongitudinalPlan{
			ATarget:    pf.ATarget,
			VTarget:    pf.VTarget,
			ShouldStop: pf.ShouldStop,
			HasLead:    pf.HasLead,
			Speeds:     pf.Speeds,
		}, now)
	case "calibration":
		var cf calibrationFrame
		if err := json.Unmarshal(f.Data, &cf); err != nil {
			monitoring.Debugf("serialbridge: bad calibration frame: %v", err)
			return
		}
		b.sockets.Calibration.PublishAt(vehicle.Calibration{
			Calibrated:  cf.Calibrated,
			RollOffset:  cf.RollOffset,
			PitchOffset: cf.PitchOffset,
			YawOffset:   cf.YawOffset,
		}, now)
	case "live_params":
		var lf liveParamsFrame
		if err := json.Unmarshal(f.Data, &lf); err != nil {
			monitoring.Debugf("serialbridge: bad live_params frame: %v", err)
			return
		}
		b.sockets.LiveParams.PublishAt(vehicle.LiveParameters{
			AngleOffsetDeg:  lf.AngleOffsetDeg,
			StiffnessFactor: lf.StiffnessFactor,
			SteerRatio:      lf.SteerRatio,
			Roll:            lf.Roll,
			Valid:           lf.Valid,
		}, now)
	default:
		monitoring.Debugf("serialbridge: unknown frame type %q", f.Type)
		return
	}
	b.frames.Add(1)
}

// SendCommand encodes one actuator command as a newline-terminated JSON line
// and writes it to the port.
func (b *Bridge[T]) SendCommand(cmd actuation.Command) error {
	payload, err := json.Marshal(commandFrame{
		Type:             "command",
		Seq:              cmd.Seq,
		Enabled:          cmd.Enabled,
		LatActive:        cmd.LatActive,
		LongActive:       cmd.LongActive,
		SteerTorque:      cmd.SteerTorque,
		SteeringAngleDeg: cmd.SteeringAngleDeg,
		Accel:            cmd.Accel,
		CruiseCancel:     cmd.CruiseCancel,
		CruiseResume:     cmd.CruiseResume,
		LeftBlinker:      cmd.LeftBlinker,
		RightBlinker:     cmd.RightBlinker,
	})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	payload = append(payload, '\n')

	b.commandMu.Lock()
	defer b.commandMu.Unlock()
	n, err := b.port.Write(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(payload) {
		return fmt.Errorf("%w: short write (%d of %d bytes)", ErrWriteFailed, n, len(payload))
	}
	return nil
}

// FramesReceived reports how many well-formed inbound frames have been
// handled since the bridge was created.
func (b *Bridge[T]) FramesReceived() uint64 { return b.frames.Load() }

// CommandsDropped reports how many commands were superseded before the
// writer could transmit them.
func (b *Bridge[T]) CommandsDropped() uint64 { return b.dropped.Load() }

// Close shuts the underlying port. Safe to call more than once.
func (b *Bridge[T]) Close() error {
	b.closingMu.Lock()
	defer b.closingMu.Unlock()
	if b.closing {
		return nil
	}
	b.closing = true
	return b.port.Close()
}
