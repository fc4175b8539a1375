package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/guptarohit/asciigraph"

	control "dbw-core/dbw_node/twist_control"
	"dbw-core/utils"
)

// Plant is a point-mass longitudinal model with kinematic bicycle yaw. It
// doubles as the Actuator of a simulated run.
type Plant struct {
	params control.VehicleParameters

	MaxDriveAccel float64 // m/s² at full throttle
	DragCoeff     float64 // aerodynamic drag, m/s² per (m/s)²
	RollingAccel  float64 // rolling resistance while moving, m/s²

	speed   float64
	yawRate float64
	cmd     control.ControlOutput
}

func NewPlant(params control.VehicleParameters, speed float64) *Plant {
	return &Plant{
		params:        params,
		MaxDriveAccel: 3.0,
		DragCoeff:     0.0004,
		RollingAccel:  0.1,
		speed:         speed,
	}
}

// Publish latches the command applied on the next Step.
func (p *Plant) Publish(_ context.Context, cmd control.ControlOutput) error {
	p.cmd = cmd
	return nil
}

// Step advances the plant by dt. Without an applied command the vehicle
// coasts, as if the human driver had their feet off the pedals.
func (p *Plant) Step(dt float64, applied bool) {
	cmd := p.cmd
	if !applied {
		cmd = control.ControlOutput{}
	}
	p.cmd = control.ControlOutput{}

	accel := cmd.Throttle * p.MaxDriveAccel
	resist := p.DragCoeff * p.speed * p.speed
	if p.speed > 0 {
		resist += p.RollingAccel
	}
	resist += cmd.Brake / (p.params.TotalMass() * p.params.WheelRadius)

	p.speed = math.Max(0, p.speed+(accel-resist)*dt)
	p.yawRate = p.speed * math.Tan(cmd.Steer/p.params.SteerRatio) / p.params.WheelBase
}

// Twist is the measured motion of the plant.
func (p *Plant) Twist() control.Twist {
	return control.NewTwist(p.speed, p.yawRate)
}

// SimResult holds per-tick traces and a summary of a simulated run.
type SimResult struct {
	Time     []float64
	Target   []float64
	Speed    []float64
	Throttle []float64
	Brake    []float64
	Steer    []float64

	Published   uint64
	Overlaps    int // ticks with both throttle and brake > 0
	MaxThrottle float64
	MaxBrake    float64
	MaxSteer    float64
	FinalError  float64
}

// Simulate drives a Runner against a Plant through the scenario on a
// simulated clock. Nothing sleeps; a 60 s scenario runs in milliseconds.
// rec may be nil.
func Simulate(cfg *NodeConfig, scen Scenario, log *utils.Logger, rec TickRecorder) (*SimResult, error) {
	ctrl, err := control.NewController(cfg.Vehicle, cfg.Gains, cfg.ControlRate)
	if err != nil {
		return nil, err
	}

	state := NewVehicleState()
	plant := NewPlant(cfg.Vehicle, scen.Initial.SpeedMPS)
	runner := NewRunner(cfg, log, state, ctrl, plant)
	if rec != nil {
		runner.SetRecorder(rec)
	}

	dt := 1 / cfg.ControlRate
	steps := int(math.Round(scen.Timing.DurationS / dt))
	start := time.Unix(0, 0).UTC()
	ctx := context.Background()

	res := &SimResult{}
	for i := 0; i < steps; i++ {
		t := float64(i) * dt
		now := start.Add(time.Duration(t * float64(time.Second)))

		target, enabled := EvalSegment(&scen, t)
		state.SetTarget(target, now)
		state.SetCurrent(plant.Twist(), now)
		state.SetEnabled(enabled, now)

		tick := runner.Tick(ctx, now)
		if tick.Skipped {
			return nil, fmt.Errorf("tick %d skipped: %w", i, tick.Err)
		}
		plant.Step(dt, tick.Published)

		out := tick.Output
		res.Time = append(res.Time, t)
		res.Target = append(res.Target, target.Linear.X)
		res.Speed = append(res.Speed, plant.speed)
		res.Throttle = append(res.Throttle, out.Throttle)
		res.Brake = append(res.Brake, out.Brake)
		res.Steer = append(res.Steer, out.Steer)

		if out.Throttle > 0 && out.Brake > 0 {
			res.Overlaps++
		}
		res.MaxThrottle = math.Max(res.MaxThrottle, out.Throttle)
		res.MaxBrake = math.Max(res.MaxBrake, out.Brake)
		res.MaxSteer = math.Max(res.MaxSteer, math.Abs(out.Steer))
	}

	res.Published = runner.Status().Published
	if n := len(res.Speed); n > 0 {
		res.FinalError = res.Target[n-1] - res.Speed[n-1]
	}
	return res, nil
}

// Render writes the speed and pedal plots and a summary.
func (r *SimResult) Render(w io.Writer, name string) {
	if len(r.Speed) == 0 {
		fmt.Fprintln(w, "no samples")
		return
	}

	speed := asciigraph.PlotMany([][]float64{r.Target, r.Speed},
		asciigraph.Height(12),
		asciigraph.Width(80),
		asciigraph.SeriesColors(asciigraph.Red, asciigraph.Green),
		asciigraph.Caption(fmt.Sprintf("%s: target (red) vs measured (green) speed, m/s", name)),
	)
	fmt.Fprintln(w, speed)
	fmt.Fprintln(w)

	pedal := asciigraph.Plot(r.Throttle,
		asciigraph.Height(6),
		asciigraph.Width(80),
		asciigraph.Caption("throttle [0,1]"),
	)
	fmt.Fprintln(w, pedal)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "ticks:          %d (published %d)\n", len(r.Speed), r.Published)
	fmt.Fprintf(w, "max throttle:   %.3f\n", r.MaxThrottle)
	fmt.Fprintf(w, "max brake:      %.1f Nm\n", r.MaxBrake)
	fmt.Fprintf(w, "max |steer|:    %.3f rad\n", r.MaxSteer)
	fmt.Fprintf(w, "final error:    %.3f m/s\n", r.FinalError)
	if r.Overlaps > 0 {
		fmt.Fprintf(w, "WARNING: %d ticks commanded throttle and brake together\n", r.Overlaps)
	}
}
