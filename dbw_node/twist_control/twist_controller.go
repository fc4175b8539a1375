// Package control implements the drive-by-wire twist controller: a
// longitudinal PID with throttle/brake split and a kinematic yaw controller,
// composed per control tick.
//
// The two axes are decoupled. Speed error drives throttle and brake only,
// yaw rate and speed drive steering only.
package control

import (
	"errors"
	"fmt"
)

// Controller orchestrates the longitudinal and yaw controllers once per tick.
type Controller struct {
	params       VehicleParameters
	longitudinal *LongitudinalController
	yaw          *YawController
}

// NewController validates the configuration and builds a Controller for
// invocation at sampleRate Hz.
func NewController(params VehicleParameters, gains GainConfig, sampleRate float64) (*Controller, error) {
	if err := errors.Join(params.Validate(), gains.Validate()); err != nil {
		return nil, err
	}
	if !(sampleRate > 0) || !isFinite(sampleRate) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSampleRate, sampleRate)
	}
	return &Controller{
		params:       params,
		longitudinal: NewLongitudinalController(params, gains, 1/sampleRate),
		yaw:          NewYawControllerFromParams(params),
	}, nil
}

// Control computes throttle, brake and steer from the target and current
// twists. dt is 1/sampleRate.
//
// An invalid sample rate or a non-finite twist skips the tick and returns an
// error. A skipped tick without authority still disengages the longitudinal
// controller, so the next enabled tick starts from a zero integral. Whether
// or not the outputs are sent is the caller's decision; Control must still be
// called while disabled so the longitudinal reset runs.
func (c *Controller) Control(target, current Twist, sampleRate float64, dbwEnabled bool) (ControlOutput, error) {
	var err error
	switch {
	case !(sampleRate > 0) || !isFinite(sampleRate):
		err = fmt.Errorf("%w: %v", ErrInvalidSampleRate, sampleRate)
	case !finiteTwist(target) || !finiteTwist(current):
		err = ErrNonFiniteInput
	}
	if err != nil {
		if !dbwEnabled {
			c.longitudinal.Disengage()
		}
		return ControlOutput{}, err
	}

	dt := 1 / sampleRate
	throttle, brake := c.longitudinal.Step(target.Linear.X, current.Linear.X, dt, dbwEnabled)
	steer := c.yaw.SteeringAngle(current.Linear.X, target.Angular.Z)

	return ControlOutput{Throttle: throttle, Brake: brake, Steer: steer}, nil
}

// Reset drops accumulated longitudinal state.
func (c *Controller) Reset() {
	c.longitudinal.Reset()
}

// Params returns the vehicle parameters the controller was built with.
func (c *Controller) Params() VehicleParameters { return c.params }

// GetDiagnostics returns the throttle PID state.
func (c *Controller) GetDiagnostics() PIDDiagnostics {
	return c.longitudinal.GetDiagnostics()
}
