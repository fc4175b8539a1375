package control

import "math"

// LongitudinalController turns a speed error into a throttle/brake split.
//
// The throttle PID produces a signed acceleration demand bounded by
// [decel_limit, accel_limit]. Positive demand becomes pedal fraction, negative
// demand becomes brake torque = |decel| * total_mass * wheel_radius. Demands
// inside the brake deadband produce neither.
type LongitudinalController struct {
	params    VehicleParameters
	pid       *PIDController
	lpf       *LowPassFilter
	totalMass float64
	maxBrake  float64

	// engaged is true while the previous step had control authority.
	engaged bool
}

// NewLongitudinalController builds the controller for a fixed sample period
// ts (seconds), which sets the velocity filter coefficient.
func NewLongitudinalController(params VehicleParameters, gains GainConfig, ts float64) *LongitudinalController {
	return &LongitudinalController{
		params:    params,
		pid:       NewPIDController(gains.ThrottlePID(params)),
		lpf:       NewLowPassFilter(gains.VelocityFilterTau, ts),
		totalMass: params.TotalMass(),
		maxBrake:  params.MaxBrakeTorque(),
	}
}

// Step computes (throttle, brake) for one tick.
//
// Without authority the PID and velocity filter are reset and (0, 0) is
// returned, so nothing accumulates while a human drives. The first step after
// authority is regained starts from a clean state.
func (lc *LongitudinalController) Step(targetVelocity, currentVelocity, dt float64, enabled bool) (throttle, brake float64) {
	if !enabled {
		lc.Disengage()
		return 0, 0
	}
	if !lc.engaged {
		lc.Reset()
		lc.engaged = true
	}

	filtered := lc.lpf.Filter(currentVelocity)
	velocityError := targetVelocity - filtered

	return lc.split(lc.pid.Step(velocityError, dt))
}

func (lc *LongitudinalController) split(demand float64) (throttle, brake float64) {
	if demand > 0 {
		return ClampFloat(demand, 0, 1), 0
	}

	decel := math.Max(demand, lc.params.DecelLimit)
	if math.Abs(decel) < lc.params.BrakeDeadband {
		return 0, 0
	}
	return 0, ClampFloat(math.Abs(decel)*lc.totalMass*lc.params.WheelRadius, 0, lc.maxBrake)
}

// Reset clears the integral and derivative memory and the velocity filter.
func (lc *LongitudinalController) Reset() {
	lc.pid.Reset()
	lc.lpf.Reset()
}

// Disengage drops authority: state is reset and the next enabled step is
// treated as a rising edge.
func (lc *LongitudinalController) Disengage() {
	lc.Reset()
	lc.engaged = false
}

// Engaged reports whether the last step ran with control authority.
func (lc *LongitudinalController) Engaged() bool { return lc.engaged }

// FilteredVelocity returns the last low-pass filtered speed.
func (lc *LongitudinalController) FilteredVelocity() float64 { return lc.lpf.Get() }

func (lc *LongitudinalController) GetDiagnostics() PIDDiagnostics {
	return lc.pid.GetDiagnostics()
}
