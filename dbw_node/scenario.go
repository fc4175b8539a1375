package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	control "dbw-core/dbw_node/twist_control"
)

// Scenario defines an offline run: timed segments of target twist and DBW
// authority applied to the simulated vehicle.
type Scenario struct {
	Meta     ScenarioMeta      `json:"meta"`
	Timing   ScenarioTiming    `json:"timing"`
	Initial  ScenarioInitial   `json:"initial"`
	Defaults ScenarioCommand   `json:"defaults"`
	Segments []ScenarioSegment `json:"segments"`
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DurationS float64 `json:"duration_s"`
}

// ScenarioInitial is the vehicle state at t=0.
type ScenarioInitial struct {
	SpeedMPS float64 `json:"speed_mps"`
}

// ScenarioCommand is what the planner and the driver request.
type ScenarioCommand struct {
	TargetLinearMPS  float64 `json:"target_linear_mps"`
	TargetAngularRPS float64 `json:"target_angular_rps"`
	DBWEnabled       bool    `json:"dbw_enabled"`
}

// ScenarioSegment overrides the defaults for t in [T0, T1). A negative T1
// runs to the end of the scenario. DBWEnabled falls back to the default
// when omitted.
type ScenarioSegment struct {
	T0               float64 `json:"t0"`
	T1               float64 `json:"t1"`
	TargetLinearMPS  float64 `json:"target_linear_mps"`
	TargetAngularRPS float64 `json:"target_angular_rps"`
	DBWEnabled       *bool   `json:"dbw_enabled,omitempty"`
	Comment          string  `json:"comment,omitempty"`
}

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}

	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := scen.Validate(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

func (s *Scenario) Validate() error {
	if !(s.Timing.DurationS > 0) || math.IsInf(s.Timing.DurationS, 0) {
		return fmt.Errorf("invalid duration_s: %f", s.Timing.DurationS)
	}
	if s.Initial.SpeedMPS < 0 {
		return fmt.Errorf("invalid initial speed_mps: %f", s.Initial.SpeedMPS)
	}
	for i, seg := range s.Segments {
		if seg.T0 < 0 || (seg.T1 >= 0 && seg.T1 <= seg.T0) {
			return fmt.Errorf("segment %d: invalid window [%v, %v)", i, seg.T0, seg.T1)
		}
	}
	return nil
}

// EvalSegment returns the target twist and DBW flag at time t. The first
// matching segment wins.
func EvalSegment(scen *Scenario, t float64) (control.Twist, bool) {
	cmd := scen.Defaults

	for _, seg := range scen.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = scen.Timing.DurationS
		}

		if t >= seg.T0 && t < t1 {
			cmd.TargetLinearMPS = seg.TargetLinearMPS
			cmd.TargetAngularRPS = seg.TargetAngularRPS
			if seg.DBWEnabled != nil {
				cmd.DBWEnabled = *seg.DBWEnabled
			}
			break
		}
	}

	return control.NewTwist(cmd.TargetLinearMPS, cmd.TargetAngularRPS), cmd.DBWEnabled
}
