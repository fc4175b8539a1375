package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.einride.tech/can"

	control "dbw-core/dbw_node/twist_control"
	"dbw-core/utils"
)

// Command type codes carried in pedal_cmd_type.
const (
	PedalCmdPercent = 2
	PedalCmdTorque  = 3
)

// CANActuator encodes each command as THROTTLE, BRAKE and STEERING frames.
type CANActuator struct {
	cmap   *utils.CANMap
	writer utils.CANWriter
	cfg    CANConfig
}

// NewCANActuator checks that every command frame exists and is a TX frame.
func NewCANActuator(cmap *utils.CANMap, writer utils.CANWriter, cfg CANConfig) (*CANActuator, error) {
	for _, name := range []string{cfg.ThrottleFrame, cfg.BrakeFrame, cfg.SteeringFrame} {
		fd, err := cmap.FrameByName(name)
		if err != nil {
			return nil, fmt.Errorf("actuator frame: %w", err)
		}
		if fd.Direction != utils.DirectionTX {
			return nil, fmt.Errorf("actuator frame %s is %s, want %s", name, fd.Direction, utils.DirectionTX)
		}
	}
	return &CANActuator{cmap: cmap, writer: writer, cfg: cfg}, nil
}

func (a *CANActuator) frames(cmd control.ControlOutput) ([]can.Frame, error) {
	specs := []struct {
		name   string
		values map[string]float64
	}{
		{a.cfg.ThrottleFrame, map[string]float64{
			"enable":         1,
			"pedal_cmd_type": PedalCmdPercent,
			"pedal_cmd":      cmd.Throttle,
		}},
		{a.cfg.SteeringFrame, map[string]float64{
			"enable":                   1,
			"steering_wheel_angle_cmd": cmd.Steer,
		}},
		{a.cfg.BrakeFrame, map[string]float64{
			"enable":         1,
			"pedal_cmd_type": PedalCmdTorque,
			"pedal_cmd":      cmd.Brake,
		}},
	}

	out := make([]can.Frame, 0, len(specs))
	for _, s := range specs {
		f, err := a.cmap.EncodeEinrideFrame(s.name, s.values)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.name, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Publish transmits all three frames. A failed frame does not stop the
// others; the joined error is returned.
func (a *CANActuator) Publish(ctx context.Context, cmd control.ControlOutput) error {
	frames, err := a.frames(cmd)
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range frames {
		if err := a.writer.WriteFrame(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("transmit 0x%X: %w", f.ID, err))
		}
	}
	return errors.Join(errs...)
}

// CANListener applies inbound twist, velocity and enable frames to the
// shared VehicleState.
type CANListener struct {
	cmap   *utils.CANMap
	reader utils.CANReader
	state  *VehicleState
	log    *utils.Logger

	twistID    uint32
	velocityID uint32
	enableID   uint32
}

func NewCANListener(cmap *utils.CANMap, reader utils.CANReader, state *VehicleState, log *utils.Logger, cfg CANConfig) (*CANListener, error) {
	ids := make([]uint32, 3)
	for i, name := range []string{cfg.TwistFrame, cfg.VelocityFrame, cfg.EnableFrame} {
		fd, err := cmap.FrameByName(name)
		if err != nil {
			return nil, fmt.Errorf("inbound frame: %w", err)
		}
		if fd.Direction != utils.DirectionRX {
			return nil, fmt.Errorf("inbound frame %s is %s, want %s", name, fd.Direction, utils.DirectionRX)
		}
		ids[i] = fd.ID
	}
	return &CANListener{
		cmap:       cmap,
		reader:     reader,
		state:      state,
		log:        log,
		twistID:    ids[0],
		velocityID: ids[1],
		enableID:   ids[2],
	}, nil
}

// Run reads frames until ctx ends or the reader fails permanently.
func (l *CANListener) Run(ctx context.Context) error {
	l.log.Debug("RX loop started")
	defer l.log.Debug("RX loop stopped")

	for {
		frame, err := l.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("can rx: %w", err)
		}
		if err := l.Apply(frame, time.Now()); err != nil {
			l.log.Error("RX id=0x%X: %v", frame.ID, err)
		}
	}
}

// Apply decodes one frame and updates state. Frames the node does not
// consume are ignored.
func (l *CANListener) Apply(frame can.Frame, at time.Time) error {
	switch frame.ID {
	case l.twistID, l.velocityID, l.enableID:
	default:
		return nil
	}

	_, values, err := l.cmap.DecodeEinrideFrame(frame)
	if err != nil {
		return err
	}

	switch frame.ID {
	case l.twistID:
		l.state.SetTarget(control.NewTwist(values["target_linear_x"], values["target_angular_z"]), at)
	case l.velocityID:
		l.state.SetCurrent(control.NewTwist(values["current_linear_x"], values["current_angular_z"]), at)
	case l.enableID:
		enabled := values["dbw_enabled"] != 0
		if l.state.SetEnabled(enabled, at) {
			l.log.Warn("dbw_enabled changed to: %v", enabled)
		}
	}
	l.log.Trace("RX id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])
	return nil
}
