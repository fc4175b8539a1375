package main

import (
	"context"
	"sync"
	"time"

	control "dbw-core/dbw_node/twist_control"
	"dbw-core/utils"
)

// Actuator receives the command of every enabled tick.
type Actuator interface {
	Publish(ctx context.Context, cmd control.ControlOutput) error
}

// TickRecorder stores tick results without blocking.
type TickRecorder interface {
	Record(rec utils.TickRecord) bool
}

// TickResult describes one control tick.
type TickResult struct {
	At        time.Time
	Snapshot  StateSnapshot
	Output    control.ControlOutput
	Stale     bool
	Skipped   bool
	Published bool
	Err       error
}

// RunnerStatus is the operator-facing summary of the loop.
type RunnerStatus struct {
	Ticks         uint64                 `json:"ticks"`
	Published     uint64                 `json:"published"`
	PublishErrors uint64                 `json:"publish_errors"`
	Skipped       uint64                 `json:"skipped"`
	StaleTicks    uint64                 `json:"stale_ticks"`
	Enabled       bool                   `json:"dbw_enabled"`
	Stale         bool                   `json:"stale"`
	StaleReason   string                 `json:"stale_reason,omitempty"`
	LastTick      time.Time              `json:"last_tick"`
	LastOutput    control.ControlOutput  `json:"last_output"`
	PID           control.PIDDiagnostics `json:"pid"`
}

// Runner is the fixed-rate control loop. Each tick reads the latest
// VehicleState, always runs the Controller, and forwards the command to the
// Actuator only while DBW is enabled.
type Runner struct {
	cfg   *NodeConfig
	log   *utils.Logger
	state *VehicleState
	ctrl  *control.Controller
	act   Actuator
	rec   TickRecorder

	mu          sync.Mutex
	status      RunnerStatus
	lastEnabled bool
	lastStale   bool
}

func NewRunner(cfg *NodeConfig, log *utils.Logger, state *VehicleState, ctrl *control.Controller, act Actuator) *Runner {
	return &Runner{
		cfg:   cfg,
		log:   log,
		state: state,
		ctrl:  ctrl,
		act:   act,
	}
}

// SetRecorder attaches a tick recorder. Must be called before Run.
func (r *Runner) SetRecorder(rec TickRecorder) {
	r.rec = rec
}

func (r *Runner) Run(ctx context.Context) error {
	period := r.cfg.Period()
	r.log.Info("Starting control loop: rate=%.1f Hz period=%v stale_after=%v",
		r.cfg.ControlRate, period, r.cfg.StaleAfter)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st := r.Status()
			r.log.Info("Control loop stopped. ticks=%d published=%d publish_errors=%d skipped=%d",
				st.Ticks, st.Published, st.PublishErrors, st.Skipped)
			return ctx.Err()

		case now := <-ticker.C:
			r.Tick(ctx, now)
		}
	}
}

// Tick runs one control cycle at time now.
func (r *Runner) Tick(ctx context.Context, now time.Time) TickResult {
	snap := r.state.Snapshot()
	stale, reason := snap.Stale(now, r.cfg.StaleAfter)
	r.noteTransitions(snap.Enabled, stale, reason)

	res := TickResult{At: now, Snapshot: snap, Stale: stale}

	// Stale input withholds authority from the controller, which resets the
	// longitudinal PID exactly as a DBW disable does.
	authority := snap.Enabled && !stale
	out, err := r.ctrl.Control(snap.Target, snap.Current, r.cfg.ControlRate, authority)
	if err != nil {
		res.Skipped = true
		res.Err = err
		r.log.Warn("Tick skipped: %v", err)
		r.finish(res)
		return res
	}
	if stale {
		out = control.ControlOutput{}
	}
	res.Output = out

	r.log.Trace("%v -- throttle: %f | brake: %f | steering: %f %s",
		snap.Enabled, out.Throttle, out.Brake, out.Steer, control.GetControlModeStr(out))

	if snap.Enabled {
		pubCtx, cancel := context.WithTimeout(ctx, r.cfg.Period()/2)
		err := r.act.Publish(pubCtx, out)
		cancel()
		if err != nil {
			res.Err = err
			r.log.Error("Publish failed: %v", err)
		} else {
			res.Published = true
		}
	}

	r.finish(res)
	return res
}

func (r *Runner) noteTransitions(enabled, stale bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enabled != r.lastEnabled {
		if enabled {
			r.log.Warn("Control authority acquired; longitudinal state reset")
		} else {
			r.log.Warn("Control authority released; commands suppressed")
		}
		r.lastEnabled = enabled
	}
	if stale != r.lastStale {
		if stale {
			r.log.Warn("Motion input stale (%s); commanding safe stop output", reason)
		} else {
			r.log.Info("Motion input fresh again")
		}
		r.lastStale = stale
	}
	r.status.StaleReason = reason
}

func (r *Runner) finish(res TickResult) {
	r.mu.Lock()
	r.status.Ticks++
	r.status.LastTick = res.At
	r.status.Enabled = res.Snapshot.Enabled
	r.status.Stale = res.Stale
	if res.Stale {
		r.status.StaleTicks++
	}
	switch {
	case res.Skipped:
		r.status.Skipped++
	case res.Published:
		r.status.Published++
	case res.Err != nil:
		r.status.PublishErrors++
	}
	if !res.Skipped {
		r.status.LastOutput = res.Output
	}
	r.status.PID = r.ctrl.GetDiagnostics()
	ticks := r.status.Ticks
	r.mu.Unlock()

	if ticks%100 == 0 {
		diag := r.ctrl.GetDiagnostics()
		r.log.Debug("PID: v=%.2f target=%.2f err=%.3f P=%.3f I=%.3f D=%.3f out=%.3f sat=%v",
			res.Snapshot.Current.Linear.X, res.Snapshot.Target.Linear.X,
			diag.Error, diag.P, diag.I, diag.D, diag.Output, diag.Saturated)
	}

	if r.rec != nil {
		r.rec.Record(utils.TickRecord{
			At:             res.At,
			Enabled:        res.Snapshot.Enabled,
			Published:      res.Published,
			Stale:          res.Stale,
			TargetLinear:   res.Snapshot.Target.Linear.X,
			TargetAngular:  res.Snapshot.Target.Angular.Z,
			CurrentLinear:  res.Snapshot.Current.Linear.X,
			CurrentAngular: res.Snapshot.Current.Angular.Z,
			Throttle:       res.Output.Throttle,
			Brake:          res.Output.Brake,
			Steer:          res.Output.Steer,
		})
	}
}

// Status returns a copy of the loop counters and last output.
func (r *Runner) Status() RunnerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
