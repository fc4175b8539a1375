package control

import (
	"errors"
	"fmt"
	"math"
)

// GasDensity is the mass of one gallon of gasoline (kg/gal). fuel_capacity is
// expressed in gallons, so a full tank adds FuelCapacity*GasDensity kg.
const GasDensity = 2.858

var (
	ErrInvalidParameters = errors.New("invalid vehicle parameters")
	ErrInvalidGains      = errors.New("invalid controller gains")
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	ErrNonFiniteInput    = errors.New("non-finite motion input")
)

// VehicleParameters holds the immutable vehicle description the controllers
// are built from. Defaults are the reference vehicle (Lincoln MKZ).
type VehicleParameters struct {
	VehicleMass   float64 `yaml:"vehicle_mass" json:"vehicle_mass"`       // kg
	FuelCapacity  float64 `yaml:"fuel_capacity" json:"fuel_capacity"`     // gal
	BrakeDeadband float64 `yaml:"brake_deadband" json:"brake_deadband"`   // m/s²
	DecelLimit    float64 `yaml:"decel_limit" json:"decel_limit"`         // m/s², negative
	AccelLimit    float64 `yaml:"accel_limit" json:"accel_limit"`         // m/s²
	WheelRadius   float64 `yaml:"wheel_radius" json:"wheel_radius"`       // m
	WheelBase     float64 `yaml:"wheel_base" json:"wheel_base"`           // m
	SteerRatio    float64 `yaml:"steer_ratio" json:"steer_ratio"`         // steering wheel : road wheel
	MaxLatAccel   float64 `yaml:"max_lat_accel" json:"max_lat_accel"`     // m/s²
	MaxSteerAngle float64 `yaml:"max_steer_angle" json:"max_steer_angle"` // rad, steering wheel
	MinSpeed      float64 `yaml:"min_speed" json:"min_speed"`             // m/s
}

// DefaultVehicleParameters returns the reference vehicle values.
func DefaultVehicleParameters() VehicleParameters {
	return VehicleParameters{
		VehicleMass:   1736.35,
		FuelCapacity:  13.5,
		BrakeDeadband: 0.1,
		DecelLimit:    -5,
		AccelLimit:    1,
		WheelRadius:   0.2413,
		WheelBase:     2.8498,
		SteerRatio:    14.8,
		MaxLatAccel:   3,
		MaxSteerAngle: 8,
		MinSpeed:      0,
	}
}

// TotalMass is the vehicle mass including a full fuel tank.
func (p VehicleParameters) TotalMass() float64 {
	return p.VehicleMass + p.FuelCapacity*GasDensity
}

// MaxBrakeTorque is the brake torque (Nm) corresponding to decel_limit.
func (p VehicleParameters) MaxBrakeTorque() float64 {
	return math.Abs(p.DecelLimit) * p.TotalMass() * p.WheelRadius
}

// Validate checks every invariant and reports all violations together.
func (p VehicleParameters) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidParameters}, args...)...))
		}
	}

	for _, f := range p.fields() {
		check(isFinite(f.value), "%s must be finite (got %v)", f.name, f.value)
	}

	check(p.VehicleMass > 0, "vehicle_mass must be > 0 (got %v)", p.VehicleMass)
	check(p.FuelCapacity >= 0, "fuel_capacity must be >= 0 (got %v)", p.FuelCapacity)
	check(p.BrakeDeadband >= 0, "brake_deadband must be >= 0 (got %v)", p.BrakeDeadband)
	check(p.DecelLimit < 0, "decel_limit must be < 0 (got %v)", p.DecelLimit)
	check(p.AccelLimit >= 0, "accel_limit must be >= 0 (got %v)", p.AccelLimit)
	check(p.WheelRadius > 0, "wheel_radius must be > 0 (got %v)", p.WheelRadius)
	check(p.WheelBase > 0, "wheel_base must be > 0 (got %v)", p.WheelBase)
	check(p.SteerRatio > 0, "steer_ratio must be > 0 (got %v)", p.SteerRatio)
	check(p.MaxLatAccel >= 0, "max_lat_accel must be >= 0 (got %v)", p.MaxLatAccel)
	check(p.MaxSteerAngle > 0, "max_steer_angle must be > 0 (got %v)", p.MaxSteerAngle)
	check(p.MinSpeed >= 0, "min_speed must be >= 0 (got %v)", p.MinSpeed)

	return errors.Join(errs...)
}

type namedValue struct {
	name  string
	value float64
}

func (p VehicleParameters) fields() []namedValue {
	return []namedValue{
		{"vehicle_mass", p.VehicleMass},
		{"fuel_capacity", p.FuelCapacity},
		{"brake_deadband", p.BrakeDeadband},
		{"decel_limit", p.DecelLimit},
		{"accel_limit", p.AccelLimit},
		{"wheel_radius", p.WheelRadius},
		{"wheel_base", p.WheelBase},
		{"steer_ratio", p.SteerRatio},
		{"max_lat_accel", p.MaxLatAccel},
		{"max_steer_angle", p.MaxSteerAngle},
		{"min_speed", p.MinSpeed},
	}
}

// PIDConfig holds PID controller parameters
type PIDConfig struct {
	Kp  float64 `yaml:"kp" json:"kp"`
	Ki  float64 `yaml:"ki" json:"ki"`
	Kd  float64 `yaml:"kd" json:"kd"`
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Validate rejects non-finite gains and inverted output bounds.
func (c PIDConfig) Validate() error {
	for _, v := range []float64{c.Kp, c.Ki, c.Kd, c.Min, c.Max} {
		if !isFinite(v) {
			return fmt.Errorf("%w: non-finite value in %+v", ErrInvalidGains, c)
		}
	}
	if c.Min > c.Max {
		return fmt.Errorf("%w: min %v > max %v", ErrInvalidGains, c.Min, c.Max)
	}
	return nil
}

// GainConfig holds the tunable gains of the twist controller. Output bounds of
// the throttle PID come from VehicleParameters, not from here.
type GainConfig struct {
	ThrottleKp float64 `yaml:"throttle_kp" json:"throttle_kp"`
	ThrottleKi float64 `yaml:"throttle_ki" json:"throttle_ki"`
	ThrottleKd float64 `yaml:"throttle_kd" json:"throttle_kd"`

	// Time constant (s) of the low-pass filter on measured speed.
	VelocityFilterTau float64 `yaml:"velocity_filter_tau" json:"velocity_filter_tau"`
}

// DefaultGains returns gains tuned for the reference vehicle at 50 Hz.
func DefaultGains() GainConfig {
	return GainConfig{
		ThrottleKp:        0.3,
		ThrottleKi:        0.1,
		ThrottleKd:        0.0,
		VelocityFilterTau: 0.5,
	}
}

func (g GainConfig) Validate() error {
	for _, f := range []namedValue{
		{"throttle_kp", g.ThrottleKp},
		{"throttle_ki", g.ThrottleKi},
		{"throttle_kd", g.ThrottleKd},
		{"velocity_filter_tau", g.VelocityFilterTau},
	} {
		if !isFinite(f.value) || f.value < 0 {
			return fmt.Errorf("%w: %s must be finite and >= 0 (got %v)", ErrInvalidGains, f.name, f.value)
		}
	}
	return nil
}

// ThrottlePID derives the longitudinal PID configuration. The PID output is a
// signed acceleration demand bounded by [decel_limit, accel_limit].
func (g GainConfig) ThrottlePID(p VehicleParameters) PIDConfig {
	return PIDConfig{
		Kp:  g.ThrottleKp,
		Ki:  g.ThrottleKi,
		Kd:  g.ThrottleKd,
		Min: p.DecelLimit,
		Max: p.AccelLimit,
	}
}
