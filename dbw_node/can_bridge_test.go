package main

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.einride.tech/can"

	control "dbw-core/dbw_node/twist_control"
	"dbw-core/utils"
)

var _ = Describe("CAN bridge", func() {
	var (
		cmap *utils.CANMap
		cfg  CANConfig
	)

	BeforeEach(func() {
		cmap = loadTestMap()
		cfg = DefaultNodeConfig().CAN
	})

	Describe("CANActuator", func() {
		var writer *fakeWriter

		BeforeEach(func() {
			writer = &fakeWriter{}
		})

		It("sends throttle, steering and brake frames", func() {
			act, err := NewCANActuator(cmap, writer, cfg)
			Expect(err).NotTo(HaveOccurred())

			cmd := control.ControlOutput{Throttle: 0.42, Brake: 0, Steer: -1.25}
			Expect(act.Publish(context.Background(), cmd)).To(Succeed())
			Expect(writer.frames).To(HaveLen(3))
			Expect(writer.frames[0].ID).To(Equal(uint32(0x200)))
			Expect(writer.frames[1].ID).To(Equal(uint32(0x202)))
			Expect(writer.frames[2].ID).To(Equal(uint32(0x201)))

			_, throttle, err := cmap.DecodeEinrideFrame(writer.frames[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(throttle["enable"]).To(Equal(1.0))
			Expect(throttle["pedal_cmd_type"]).To(Equal(float64(PedalCmdPercent)))
			Expect(throttle["pedal_cmd"]).To(BeNumerically("~", 0.42, 1e-4))

			_, steer, err := cmap.DecodeEinrideFrame(writer.frames[1])
			Expect(err).NotTo(HaveOccurred())
			Expect(steer["steering_wheel_angle_cmd"]).To(BeNumerically("~", -1.25, 1e-3))

			_, brake, err := cmap.DecodeEinrideFrame(writer.frames[2])
			Expect(err).NotTo(HaveOccurred())
			Expect(brake["pedal_cmd_type"]).To(Equal(float64(PedalCmdTorque)))
			Expect(brake["pedal_cmd"]).To(BeZero())
		})

		It("encodes brake torque in Nm", func() {
			act, err := NewCANActuator(cmap, writer, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(act.Publish(context.Background(), control.ControlOutput{Brake: 1234.5})).To(Succeed())

			_, brake, err := cmap.DecodeEinrideFrame(writer.frames[2])
			Expect(err).NotTo(HaveOccurred())
			Expect(brake["pedal_cmd"]).To(BeNumerically("~", 1234.5, 0.1))
		})

		It("keeps sending after one frame fails", func() {
			writer.failID = 0x202
			act, err := NewCANActuator(cmap, writer, cfg)
			Expect(err).NotTo(HaveOccurred())

			err = act.Publish(context.Background(), control.ControlOutput{Throttle: 0.1})
			Expect(err).To(MatchError(ContainSubstring("0x202")))
			Expect(writer.frames).To(HaveLen(2))
		})

		It("rejects unknown or inbound frames", func() {
			bad := cfg
			bad.ThrottleFrame = "NOPE"
			_, err := NewCANActuator(cmap, writer, bad)
			Expect(err).To(HaveOccurred())

			bad = cfg
			bad.BrakeFrame = "TWIST_CMD"
			_, err = NewCANActuator(cmap, writer, bad)
			Expect(err).To(MatchError(ContainSubstring("want tx")))
		})
	})

	Describe("CANListener", func() {
		var (
			state    *VehicleState
			listener *CANListener
			reader   *fakeReader
		)

		encode := func(name string, values map[string]float64) can.Frame {
			f, err := cmap.EncodeEinrideFrame(name, values)
			Expect(err).NotTo(HaveOccurred())
			return f
		}

		BeforeEach(func() {
			state = NewVehicleState()
			reader = &fakeReader{frames: make(chan can.Frame, 8)}
			var err error
			listener, err = NewCANListener(cmap, reader, state, testLogger(), cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("applies twist, velocity and enable frames", func() {
			at := epoch.Add(time.Second)
			Expect(listener.Apply(encode("TWIST_CMD", map[string]float64{
				"target_linear_x": 11.11, "target_angular_z": -0.25,
			}), at)).To(Succeed())
			Expect(listener.Apply(encode("CURRENT_VELOCITY", map[string]float64{
				"current_linear_x": 9.5, "current_angular_z": 0.01,
			}), at)).To(Succeed())
			Expect(listener.Apply(encode("DBW_ENABLED", map[string]float64{"dbw_enabled": 1}), at)).To(Succeed())

			snap := state.Snapshot()
			Expect(snap.Target.Linear.X).To(BeNumerically("~", 11.11, 0.005))
			Expect(snap.Target.Angular.Z).To(BeNumerically("~", -0.25, 0.0005))
			Expect(snap.Current.Linear.X).To(BeNumerically("~", 9.5, 0.005))
			Expect(snap.TargetAt).To(Equal(at))
			Expect(snap.Enabled).To(BeTrue())
		})

		It("ignores frames it does not consume", func() {
			f := can.Frame{ID: 0x7AB, Length: 2}
			Expect(listener.Apply(f, epoch)).To(Succeed())
			Expect(state.Snapshot().TargetAt.IsZero()).To(BeTrue())
		})

		It("rejects a short frame", func() {
			f := encode("TWIST_CMD", map[string]float64{"target_linear_x": 1})
			f.Length = 1
			Expect(listener.Apply(f, epoch)).NotTo(Succeed())
		})

		It("feeds state from the reader until cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- listener.Run(ctx) }()

			reader.frames <- encode("DBW_ENABLED", map[string]float64{"dbw_enabled": 1})
			Eventually(func() bool { return state.Snapshot().Enabled }).Should(BeTrue())

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("rejects outbound frames", func() {
			bad := cfg
			bad.EnableFrame = "BRAKE_CMD"
			_, err := NewCANListener(cmap, reader, state, testLogger(), bad)
			Expect(err).To(MatchError(ContainSubstring("want rx")))
		})
	})
})
