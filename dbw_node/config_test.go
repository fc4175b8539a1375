package main

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	control "dbw-core/dbw_node/twist_control"
)

var _ = Describe("LoadNodeConfig", func() {
	var dir string

	setenv := func(key, value string) {
		prev, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(func() {
			if had {
				os.Setenv(key, prev)
			} else {
				os.Unsetenv(key)
			}
		})
	}

	writeFile := func(name, body string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("returns validated defaults without a file", func() {
		cfg, err := LoadNodeConfig("", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ControlRate).To(Equal(DefaultControlRate))
		Expect(cfg.StaleAfter).To(Equal(DefaultStaleAfter))
		Expect(cfg.Vehicle).To(Equal(control.DefaultVehicleParameters()))
		Expect(cfg.Period()).To(Equal(20 * time.Millisecond))
	})

	It("loads the shipped vehicle config", func() {
		cfg, err := LoadNodeConfig("../config/vehicle.yaml", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Vehicle.VehicleMass).To(Equal(1736.35))
		Expect(cfg.Vehicle.MinSpeed).To(BeZero())
		Expect(cfg.StaleAfter).To(Equal(500 * time.Millisecond))
		Expect(cfg.CAN.ThrottleFrame).To(Equal("THROTTLE_CMD"), "unset keys keep defaults")
	})

	It("applies DBW_* environment overrides", func() {
		setenv("DBW_VEHICLE_MASS", "2000")
		setenv("DBW_STALE_AFTER", "250ms")
		setenv("DBW_CAN_INTERFACE", "can1")

		cfg, err := LoadNodeConfig("../config/vehicle.yaml", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Vehicle.VehicleMass).To(Equal(2000.0))
		Expect(cfg.StaleAfter).To(Equal(250 * time.Millisecond))
		Expect(cfg.CAN.Interface).To(Equal("can1"))
	})

	It("reads a dotenv file below the process environment", func() {
		envFile := writeFile("dbw.env", "DBW_STEER_RATIO=16\nDBW_WHEEL_BASE=3.1\n")
		setenv("DBW_WHEEL_BASE", "2.5")

		cfg, err := LoadNodeConfig("", envFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Vehicle.SteerRatio).To(Equal(16.0))
		Expect(cfg.Vehicle.WheelBase).To(Equal(2.5))
	})

	It("rejects unparseable overrides", func() {
		setenv("DBW_ACCEL_LIMIT", "fast")
		_, err := LoadNodeConfig("", "")
		Expect(err).To(MatchError(ContainSubstring("DBW_ACCEL_LIMIT")))
	})

	It("fails on a missing env file", func() {
		_, err := LoadNodeConfig("", filepath.Join(dir, "nope.env"))
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("rejects invalid configuration",
		func(body string, want error) {
			path := writeFile("bad.yaml", body)
			_, err := LoadNodeConfig(path, "")
			Expect(err).To(HaveOccurred())
			if want != nil {
				Expect(err).To(MatchError(want))
			}
		},
		Entry("zero wheel base", "vehicle:\n  wheel_base: 0\n", control.ErrInvalidParameters),
		Entry("positive decel limit", "vehicle:\n  decel_limit: 1\n", control.ErrInvalidParameters),
		Entry("negative gain", "gains:\n  throttle_kp: -0.1\n", control.ErrInvalidGains),
		Entry("zero control rate", "control_rate: 0\n", control.ErrInvalidSampleRate),
		Entry("unknown log level", "log_level: loud\n", nil),
		Entry("negative stale window", "stale_after: -1s\n", nil),
		Entry("malformed yaml", "vehicle: [\n", nil),
	)
})
