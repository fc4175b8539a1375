package main

import (
	"sync"
	"time"

	control "dbw-core/dbw_node/twist_control"
)

// VehicleState holds the latest target twist, measured twist and DBW enable
// flag. Writers are the inbound message handlers, the reader is the control
// loop. Every update is last-value-wins and Snapshot never sees a torn value.
type VehicleState struct {
	mu sync.RWMutex

	target    control.Twist
	targetAt  time.Time
	current   control.Twist
	currentAt time.Time
	enabled   bool
	enabledAt time.Time
}

func NewVehicleState() *VehicleState {
	return &VehicleState{}
}

// StateSnapshot is a consistent copy of VehicleState.
type StateSnapshot struct {
	Target    control.Twist `json:"target"`
	TargetAt  time.Time     `json:"target_at"`
	Current   control.Twist `json:"current"`
	CurrentAt time.Time     `json:"current_at"`
	Enabled   bool          `json:"dbw_enabled"`
	EnabledAt time.Time     `json:"dbw_enabled_at"`
}

func (s *VehicleState) SetTarget(t control.Twist, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
	s.targetAt = at
}

func (s *VehicleState) SetCurrent(t control.Twist, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = t
	s.currentAt = at
}

// SetEnabled stores the enable flag and reports whether it changed.
func (s *VehicleState) SetEnabled(enabled bool, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.enabled != enabled
	s.enabled = enabled
	s.enabledAt = at
	return changed
}

func (s *VehicleState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateSnapshot{
		Target:    s.target,
		TargetAt:  s.targetAt,
		Current:   s.current,
		CurrentAt: s.currentAt,
		Enabled:   s.enabled,
		EnabledAt: s.enabledAt,
	}
}

// Stale reports whether the target or current twist is missing or older
// than window at now, and names the offending input. A zero window disables
// the check.
func (snap StateSnapshot) Stale(now time.Time, window time.Duration) (bool, string) {
	if window <= 0 {
		return false, ""
	}
	switch {
	case snap.TargetAt.IsZero():
		return true, "no target velocity received"
	case snap.CurrentAt.IsZero():
		return true, "no current velocity received"
	case now.Sub(snap.TargetAt) > window:
		return true, "target velocity older than " + window.String()
	case now.Sub(snap.CurrentAt) > window:
		return true, "current velocity older than " + window.String()
	}
	return false, ""
}
