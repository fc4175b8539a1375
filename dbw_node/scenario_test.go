package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const stopAndGoPath = "../config/scenarios/stop_and_go.json"

var _ = Describe("Scenario", func() {
	It("loads the shipped stop-and-go scenario", func() {
		scen, err := LoadScenario(stopAndGoPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(scen.Meta.Name).To(Equal("stop_and_go"))
		Expect(scen.Timing.DurationS).To(Equal(60.0))
		Expect(scen.Segments).To(HaveLen(6))
	})

	DescribeTable("EvalSegment",
		func(t, wantLinear, wantAngular float64, wantEnabled bool) {
			scen, err := LoadScenario(stopAndGoPath)
			Expect(err).NotTo(HaveOccurred())
			target, enabled := EvalSegment(&scen, t)
			Expect(target.Linear.X).To(Equal(wantLinear))
			Expect(target.Angular.Z).To(Equal(wantAngular))
			Expect(enabled).To(Equal(wantEnabled))
		},
		Entry("parked", 1.0, 0.0, 0.0, false),
		Entry("launch", 2.0, 10.0, 0.0, true),
		Entry("curve", 30.0, 10.0, 0.1, true),
		Entry("takeover", 47.0, 5.0, 0.0, false),
		Entry("open-ended tail", 59.99, 5.0, 0.0, true),
		Entry("past the end falls back to defaults", 61.0, 0.0, 0.0, true),
	)

	DescribeTable("rejects invalid scenarios",
		func(scen Scenario) {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "scen.json")
			data, err := json.Marshal(scen)
			Expect(err).NotTo(HaveOccurred())
			Expect(os.WriteFile(path, data, 0o644)).To(Succeed())

			_, err = LoadScenario(path)
			Expect(err).To(HaveOccurred())
		},
		Entry("zero duration", Scenario{}),
		Entry("negative initial speed", Scenario{
			Timing:  ScenarioTiming{DurationS: 1},
			Initial: ScenarioInitial{SpeedMPS: -1},
		}),
		Entry("empty window", Scenario{
			Timing:   ScenarioTiming{DurationS: 10},
			Segments: []ScenarioSegment{{T0: 5, T1: 5}},
		}),
	)
})

var _ = Describe("Simulate", func() {
	var (
		res *SimResult
		cfg *NodeConfig
	)

	at := func(t float64) int {
		return int(t * cfg.ControlRate)
	}

	BeforeEach(func() {
		cfg = testConfig()
		scen, err := LoadScenario(stopAndGoPath)
		Expect(err).NotTo(HaveOccurred())
		res, err = Simulate(cfg, scen, testLogger(), nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("produces one sample per tick", func() {
		Expect(res.Speed).To(HaveLen(3000))
		Expect(res.Time).To(HaveLen(len(res.Speed)))
	})

	It("publishes only while DBW is enabled", func() {
		// 7 of 60 s are under driver control.
		Expect(res.Published).To(BeNumerically("~", 53*cfg.ControlRate, 5))
		Expect(res.Throttle[at(1)]).To(BeZero())
	})

	It("tracks the target speed", func() {
		Expect(res.Speed[at(24.9)]).To(BeNumerically("~", 10, 0.5))
		Expect(res.Speed[at(44.9)]).To(BeNumerically("<", 0.3))
		Expect(res.Speed[at(59.9)]).To(BeNumerically("~", 5, 0.75))
	})

	It("respects actuator bounds", func() {
		Expect(res.Overlaps).To(BeZero())
		Expect(res.MaxThrottle).To(BeNumerically("<=", 1))
		Expect(res.MaxBrake).To(BeNumerically("<=", cfg.Vehicle.MaxBrakeTorque()))
		Expect(res.MaxSteer).To(BeNumerically("<=", cfg.Vehicle.MaxSteerAngle))
		Expect(res.Steer[at(30)]).To(BeNumerically(">", 0), "left curve steers left")
	})

	It("records every tick when given a recorder", func() {
		rec := &fakeRecorder{}
		scen, err := LoadScenario(stopAndGoPath)
		Expect(err).NotTo(HaveOccurred())
		scen.Timing.DurationS = 1
		_, err = Simulate(cfg, scen, testLogger(), rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.recs).To(HaveLen(50))
	})

	It("renders plots and a summary", func() {
		var buf bytes.Buffer
		res.Render(&buf, "stop_and_go")
		Expect(buf.String()).To(ContainSubstring("stop_and_go"))
		Expect(buf.String()).To(ContainSubstring("final error"))
		Expect(buf.String()).NotTo(ContainSubstring("WARNING"))
	})
})
