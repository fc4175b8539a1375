package main

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	control "dbw-core/dbw_node/twist_control"
)

var _ = Describe("VehicleState", func() {
	var state *VehicleState

	BeforeEach(func() {
		state = NewVehicleState()
	})

	It("starts disabled with nothing received", func() {
		snap := state.Snapshot()
		Expect(snap.Enabled).To(BeFalse())
		Expect(snap.TargetAt.IsZero()).To(BeTrue())
		Expect(snap.CurrentAt.IsZero()).To(BeTrue())
	})

	It("keeps the last value of each input", func() {
		state.SetTarget(control.NewTwist(1, 0), epoch)
		state.SetTarget(control.NewTwist(2, 0.5), epoch.Add(time.Second))
		state.SetCurrent(control.NewTwist(1.5, 0.1), epoch)

		snap := state.Snapshot()
		Expect(snap.Target).To(Equal(control.NewTwist(2, 0.5)))
		Expect(snap.TargetAt).To(Equal(epoch.Add(time.Second)))
		Expect(snap.Current.Linear.X).To(Equal(1.5))
	})

	It("reports enable flag changes", func() {
		Expect(state.SetEnabled(true, epoch)).To(BeTrue())
		Expect(state.SetEnabled(true, epoch)).To(BeFalse())
		Expect(state.SetEnabled(false, epoch)).To(BeTrue())
	})

	DescribeTable("staleness",
		func(targetAge, currentAge time.Duration, window time.Duration, wantStale bool, reason string) {
			now := epoch.Add(time.Minute)
			snap := StateSnapshot{}
			if targetAge >= 0 {
				snap.TargetAt = now.Add(-targetAge)
			}
			if currentAge >= 0 {
				snap.CurrentAt = now.Add(-currentAge)
			}
			stale, why := snap.Stale(now, window)
			Expect(stale).To(Equal(wantStale))
			Expect(why).To(ContainSubstring(reason))
		},
		Entry("fresh", 10*time.Millisecond, 10*time.Millisecond, 500*time.Millisecond, false, ""),
		Entry("exactly at the window", 500*time.Millisecond, 0*time.Millisecond, 500*time.Millisecond, false, ""),
		Entry("target never received", time.Duration(-1), 0*time.Millisecond, 500*time.Millisecond, true, "no target"),
		Entry("current never received", 0*time.Millisecond, time.Duration(-1), 500*time.Millisecond, true, "no current"),
		Entry("old target", time.Second, 0*time.Millisecond, 500*time.Millisecond, true, "target velocity older"),
		Entry("old current", 0*time.Millisecond, time.Second, 500*time.Millisecond, true, "current velocity older"),
		Entry("check disabled", time.Duration(-1), time.Hour, 0*time.Millisecond, false, ""),
	)

	It("never yields a torn snapshot under concurrent writers", func() {
		var wg sync.WaitGroup
		done := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; ; i++ {
					select {
					case <-done:
						return
					default:
					}
					v := float64(i % 100)
					state.SetTarget(control.NewTwist(v, v), epoch)
					state.SetCurrent(control.NewTwist(v, v), epoch)
					state.SetEnabled(i%2 == 0, epoch)
				}
			}(w)
		}

		for i := 0; i < 10000; i++ {
			snap := state.Snapshot()
			Expect(snap.Target.Linear.X).To(Equal(snap.Target.Angular.Z))
			Expect(snap.Current.Linear.X).To(Equal(snap.Current.Angular.Z))
		}
		close(done)
		wg.Wait()
	})
})
