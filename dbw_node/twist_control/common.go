package control

import "math"

// Vector3 is a 3D vector. Only X of a linear velocity (forward speed) and
// Z of an angular velocity (yaw rate) are consumed by the controllers.
type Vector3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Twist is a motion state: linear velocity (m/s) and angular velocity (rad/s).
type Twist struct {
	Linear  Vector3 `json:"linear" yaml:"linear"`
	Angular Vector3 `json:"angular" yaml:"angular"`
}

// NewTwist builds a planar twist from a forward speed and a yaw rate.
func NewTwist(linearX, angularZ float64) Twist {
	return Twist{
		Linear:  Vector3{X: linearX},
		Angular: Vector3{Z: angularZ},
	}
}

// ControlOutput contains the three actuator commands produced per tick.
type ControlOutput struct {
	Throttle float64 `json:"throttle"` // pedal fraction [0,1]
	Brake    float64 `json:"brake"`    // brake torque (Nm), >= 0
	Steer    float64 `json:"steer"`    // steering wheel angle (rad)
}

// IsAccel reports whether the output commands throttle.
func (o ControlOutput) IsAccel() bool { return o.Throttle > 0 }

// IsBrake reports whether the output commands brake torque.
func (o ControlOutput) IsBrake() bool { return o.Brake > 0 }

// ClampFloat clamps value between min and max
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// BoolToFloat converts bool to float64 (for CAN encoding)
func BoolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// GetControlModeStr returns a string describing the control mode
func GetControlModeStr(output ControlOutput) string {
	if output.IsAccel() {
		return "[ACCEL]"
	} else if output.IsBrake() {
		return "[BRAKE]"
	}
	return "[COAST]"
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteTwist(t Twist) bool {
	return isFinite(t.Linear.X) && isFinite(t.Linear.Y) && isFinite(t.Linear.Z) &&
		isFinite(t.Angular.X) && isFinite(t.Angular.Y) && isFinite(t.Angular.Z)
}
