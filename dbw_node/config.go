package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	control "dbw-core/dbw_node/twist_control"
	"dbw-core/utils"
)

const (
	DefaultControlRate = 50.0
	DefaultStaleAfter  = 500 * time.Millisecond
	envPrefix          = "DBW_"
)

// CANConfig names the SocketCAN interface, the CAN map and the frames used for
// each message. Frame names must exist in the map.
type CANConfig struct {
	Interface     string `yaml:"interface"`
	MapPath       string `yaml:"map_path"`
	TwistFrame    string `yaml:"twist_frame"`
	VelocityFrame string `yaml:"velocity_frame"`
	EnableFrame   string `yaml:"enable_frame"`
	ThrottleFrame string `yaml:"throttle_frame"`
	BrakeFrame    string `yaml:"brake_frame"`
	SteeringFrame string `yaml:"steering_frame"`
}

// NodeConfig is the full, immutable configuration of the DBW node.
type NodeConfig struct {
	Vehicle     control.VehicleParameters `yaml:"vehicle"`
	Gains       control.GainConfig        `yaml:"gains"`
	ControlRate float64                   `yaml:"control_rate"`
	StaleAfter  time.Duration             `yaml:"stale_after"`
	CAN         CANConfig                 `yaml:"can"`
	HTTPAddr    string                    `yaml:"http_addr"`
	RecordPath  string                    `yaml:"record_path"`
	LogLevel    string                    `yaml:"log_level"`
	LogFile     string                    `yaml:"log_file"`
}

func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Vehicle:     control.DefaultVehicleParameters(),
		Gains:       control.DefaultGains(),
		ControlRate: DefaultControlRate,
		StaleAfter:  DefaultStaleAfter,
		CAN: CANConfig{
			Interface:     "vcan0",
			MapPath:       "config/can/can_map.csv",
			TwistFrame:    "TWIST_CMD",
			VelocityFrame: "CURRENT_VELOCITY",
			EnableFrame:   "DBW_ENABLED",
			ThrottleFrame: "THROTTLE_CMD",
			BrakeFrame:    "BRAKE_CMD",
			SteeringFrame: "STEERING_CMD",
		},
		LogLevel: "info",
		LogFile:  "dbw_node.log",
	}
}

// Period is the control tick period.
func (c *NodeConfig) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.ControlRate)
}

// LoadNodeConfig builds the configuration from defaults, an optional YAML
// file, and DBW_* overrides. Overrides come from the process environment
// first and the optional dotenv file second. The result is validated.
func LoadNodeConfig(path, envFile string) (*NodeConfig, error) {
	cfg := DefaultNodeConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	fileEnv := map[string]string{}
	if envFile != "" {
		var err error
		fileEnv, err = godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := cfg.applyOverrides(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *NodeConfig) floatOverrides() map[string]*float64 {
	v := &c.Vehicle
	return map[string]*float64{
		"VEHICLE_MASS":    &v.VehicleMass,
		"FUEL_CAPACITY":   &v.FuelCapacity,
		"BRAKE_DEADBAND":  &v.BrakeDeadband,
		"DECEL_LIMIT":     &v.DecelLimit,
		"ACCEL_LIMIT":     &v.AccelLimit,
		"WHEEL_RADIUS":    &v.WheelRadius,
		"WHEEL_BASE":      &v.WheelBase,
		"STEER_RATIO":     &v.SteerRatio,
		"MAX_LAT_ACCEL":   &v.MaxLatAccel,
		"MAX_STEER_ANGLE": &v.MaxSteerAngle,
		"MIN_SPEED":       &v.MinSpeed,
		"CONTROL_RATE":    &c.ControlRate,
	}
}

func (c *NodeConfig) applyOverrides(lookup func(string) (string, bool)) error {
	var errs []error
	for name, dst := range c.floatOverrides() {
		raw, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			continue
		}
		*dst = f
	}

	if raw, ok := lookup(envPrefix + "STALE_AFTER"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSTALE_AFTER: %w", envPrefix, err))
		} else {
			c.StaleAfter = d
		}
	}
	strs := map[string]*string{
		"CAN_INTERFACE": &c.CAN.Interface,
		"CAN_MAP":       &c.CAN.MapPath,
		"HTTP_ADDR":     &c.HTTPAddr,
		"RECORD_PATH":   &c.RecordPath,
		"LOG_LEVEL":     &c.LogLevel,
	}
	for name, dst := range strs {
		if raw, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(raw)
		}
	}
	return errors.Join(errs...)
}

// Validate reports every configuration problem. An invalid configuration
// must stop the node before the loop starts.
func (c *NodeConfig) Validate() error {
	errs := []error{c.Vehicle.Validate(), c.Gains.Validate()}
	if !(c.ControlRate > 0) || c.ControlRate > 1000 {
		errs = append(errs, fmt.Errorf("%w: control_rate must be in (0, 1000] Hz (got %v)",
			control.ErrInvalidSampleRate, c.ControlRate))
	}
	if c.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("stale_after must be >= 0 (got %v)", c.StaleAfter))
	}
	if _, ok := utils.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}
