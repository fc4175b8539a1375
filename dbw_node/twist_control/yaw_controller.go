package control

import "math"

// minCurvatureSpeed is the speed below which curvature is undefined. It only
// applies when min_speed itself is (near) zero.
const minCurvatureSpeed = 1e-3

// YawController converts a desired yaw rate into a steering wheel angle using
// a kinematic bicycle model. It holds no state.
type YawController struct {
	wheelBase     float64
	steerRatio    float64
	minSpeed      float64
	maxLatAccel   float64
	maxSteerAngle float64
}

func NewYawController(wheelBase, steerRatio, minSpeed, maxLatAccel, maxSteerAngle float64) *YawController {
	return &YawController{
		wheelBase:     wheelBase,
		steerRatio:    steerRatio,
		minSpeed:      minSpeed,
		maxLatAccel:   maxLatAccel,
		maxSteerAngle: maxSteerAngle,
	}
}

// NewYawControllerFromParams builds a YawController from vehicle parameters.
func NewYawControllerFromParams(p VehicleParameters) *YawController {
	return NewYawController(p.WheelBase, p.SteerRatio, p.MinSpeed, p.MaxLatAccel, p.MaxSteerAngle)
}

// SteeringAngle returns the steering wheel angle (rad) that yields the
// requested yaw rate at the given speed, bounded by max_lat_accel and
// max_steer_angle.
//
// Speeds with magnitude below min_speed are replaced by min_speed. If that
// still leaves no usable speed the result is 0.
func (yc *YawController) SteeringAngle(currentVelocity, angularVelocity float64) float64 {
	if !isFinite(currentVelocity) || !isFinite(angularVelocity) {
		return 0
	}

	speed := currentVelocity
	if math.Abs(speed) < yc.minSpeed {
		speed = yc.minSpeed
	}
	if math.Abs(speed) < minCurvatureSpeed {
		return 0
	}

	maxYawRate := math.Abs(yc.maxLatAccel / speed)
	yawRate := ClampFloat(angularVelocity, -maxYawRate, maxYawRate)

	curvature := yawRate / speed
	wheelAngle := math.Atan(yc.wheelBase * curvature)

	return ClampFloat(wheelAngle*yc.steerRatio, -yc.maxSteerAngle, yc.maxSteerAngle)
}
