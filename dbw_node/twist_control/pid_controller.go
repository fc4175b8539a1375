package control

// PIDController implements a discrete PID controller over a scalar error with
// clamped output.
//
// Anti-windup is conditional integration: the integral is held for a step when
// the unclamped output lies beyond a bound and the error pushes further in
// that direction. The derivative term is skipped on the first step after
// construction or Reset to avoid a kick from stale previous error.
type PIDController struct {
	cfg PIDConfig

	// State
	integral    float64
	prevError   float64
	lastOutput  float64
	lastP       float64
	lastI       float64
	lastD       float64
	saturated   bool
	initialized bool
}

// NewPIDController creates a new PID controller with given configuration
func NewPIDController(cfg PIDConfig) *PIDController {
	return &PIDController{cfg: cfg}
}

// Reset clears the PID state
func (pid *PIDController) Reset() {
	pid.integral = 0.0
	pid.prevError = 0.0
	pid.lastOutput = 0.0
	pid.lastP, pid.lastI, pid.lastD = 0, 0, 0
	pid.saturated = false
	pid.initialized = false
}

// Step advances the controller by dt seconds with the given error and returns
// the clamped output. A non-positive or non-finite dt, or a non-finite error,
// leaves the state untouched and returns the previous output.
func (pid *PIDController) Step(err, dt float64) float64 {
	if !(dt > 0) || !isFinite(dt) || !isFinite(err) {
		return pid.lastOutput
	}

	p := pid.cfg.Kp * err

	var d float64
	if pid.initialized {
		d = pid.cfg.Kd * (err - pid.prevError) / dt
	}

	integral := pid.integral + err*dt
	unclamped := p + pid.cfg.Ki*integral + d

	pid.saturated = false
	if (unclamped > pid.cfg.Max && err > 0) || (unclamped < pid.cfg.Min && err < 0) {
		// Hold the integral while saturated in the direction of the error.
		integral = pid.integral
		pid.saturated = true
	}
	pid.integral = integral

	i := pid.cfg.Ki * pid.integral
	output := ClampFloat(p+i+d, pid.cfg.Min, pid.cfg.Max)

	pid.prevError = err
	pid.lastOutput = output
	pid.lastP, pid.lastI, pid.lastD = p, i, d
	pid.initialized = true

	return output
}

// GetDiagnostics returns current PID state for logging/debugging
func (pid *PIDController) GetDiagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:     pid.prevError,
		Integral:  pid.integral,
		P:         pid.lastP,
		I:         pid.lastI,
		D:         pid.lastD,
		Output:    pid.lastOutput,
		Saturated: pid.saturated,
	}
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error     float64 `json:"error"`
	Integral  float64 `json:"integral"`
	P         float64 `json:"p"`
	I         float64 `json:"i"`
	D         float64 `json:"d"`
	Output    float64 `json:"output"`
	Saturated bool    `json:"saturated"`
}

// GetIntegral returns the current integral term value
func (pid *PIDController) GetIntegral() float64 {
	return pid.integral
}

// GetError returns the most recent error
func (pid *PIDController) GetError() float64 {
	return pid.prevError
}
