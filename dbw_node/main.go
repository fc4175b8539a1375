package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	control "dbw-core/dbw_node/twist_control"
	"dbw-core/utils"
)

var (
	configPath string
	envFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dbw_node",
		Short: "Drive-by-wire twist controller",
		Long: `Converts target twists (linear and angular velocity) into throttle, brake
and steering commands at a fixed rate. Commands go out on SocketCAN only
while drive-by-wire is enabled.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/vehicle.yaml", "Path to node YAML config")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Optional dotenv file with DBW_* overrides")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(checkConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runCmd starts the node on a CAN interface
func runCmd() *cobra.Command {
	var iface, logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop on a SocketCAN interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadNodeConfig(configPath, envFile)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if iface != "" {
				cfg.CAN.Interface = iface
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			level, ok := utils.ParseLevel(cfg.LogLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", cfg.LogLevel)
			}

			log, err := utils.NewFileLogger(cfg.LogFile, level, true)
			if err != nil {
				return fmt.Errorf("cannot open %s: %w", cfg.LogFile, err)
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runNode(ctx, cfg, log); err != nil {
				log.Critical("Node failed: %v", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&iface, "iface", "", "SocketCAN interface (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "trace|debug|info|warn|error|critical")
	return cmd
}

func runNode(ctx context.Context, cfg *NodeConfig, log *utils.Logger) error {
	log.Info("Vehicle: mass=%.1f kg (total %.1f) wheel_base=%.3f steer_ratio=%.1f rate=%.1f Hz",
		cfg.Vehicle.VehicleMass, cfg.Vehicle.TotalMass(), cfg.Vehicle.WheelBase,
		cfg.Vehicle.SteerRatio, cfg.ControlRate)

	cmap, err := utils.LoadCANMap(cfg.CAN.MapPath)
	if err != nil {
		return fmt.Errorf("load CAN map: %w", err)
	}
	log.Info("Loaded CAN map %s (%d frames)", cfg.CAN.MapPath, len(cmap.ByID))

	ctrl, err := control.NewController(cfg.Vehicle, cfg.Gains, cfg.ControlRate)
	if err != nil {
		return err
	}

	writer, err := utils.NewSocketCANWriter(ctx, cfg.CAN.Interface)
	if err != nil {
		return fmt.Errorf("open CAN tx %s: %w", cfg.CAN.Interface, err)
	}
	defer writer.Close()

	reader, err := utils.NewSocketCANReader(ctx, cfg.CAN.Interface)
	if err != nil {
		return fmt.Errorf("open CAN rx %s: %w", cfg.CAN.Interface, err)
	}
	defer reader.Close()

	state := NewVehicleState()
	act, err := NewCANActuator(cmap, writer, cfg.CAN)
	if err != nil {
		return err
	}
	listener, err := NewCANListener(cmap, reader, state, log, cfg.CAN)
	if err != nil {
		return err
	}

	runner := NewRunner(cfg, log, state, ctrl, act)
	if cfg.RecordPath != "" {
		rec, err := utils.OpenRecorder(cfg.RecordPath, 50, time.Second, log)
		if err != nil {
			return fmt.Errorf("open recorder: %w", err)
		}
		defer rec.Close()
		runner.SetRecorder(rec)
		log.Info("Recording ticks to %s", cfg.RecordPath)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	if cfg.HTTPAddr != "" {
		srv := NewStatusServer(state, runner, log)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.HTTPAddr) })
	}
	g.Go(func() error { return runner.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// simulateCmd runs a scenario against the built-in vehicle model
func simulateCmd() *cobra.Command {
	var scenPath, recordPath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scenario offline against a simulated vehicle and plot the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadNodeConfig(configPath, envFile)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			scen, err := LoadScenario(scenPath)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", scenPath, err)
			}

			// Transitions are WARN; keep the plot readable unless asked.
			level := utils.WARN
			if quiet {
				level = utils.CRITICAL
			}
			log := utils.NewLogger(os.Stderr, level)

			var rec TickRecorder
			if recordPath != "" {
				r, err := utils.OpenRecorder(recordPath, 500, time.Second, log)
				if err != nil {
					return fmt.Errorf("open recorder: %w", err)
				}
				defer r.Close()
				rec = r
			}

			res, err := Simulate(cfg, scen, log, rec)
			if err != nil {
				return err
			}

			name := scen.Meta.Name
			if name == "" {
				name = scenPath
			}
			res.Render(cmd.OutOrStdout(), name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&scenPath, "scenario", "s", "config/scenarios/stop_and_go.json", "Scenario JSON file")
	cmd.Flags().StringVar(&recordPath, "record", "", "Optional SQLite file for tick records")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress transition warnings")
	return cmd
}

// checkConfigCmd validates and prints the effective configuration
func checkConfigCmd() *cobra.Command {
	var mapCheck bool

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the effective values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadNodeConfig(configPath, envFile)
			if err != nil {
				return err
			}
			if mapCheck {
				cmap, err := utils.LoadCANMap(cfg.CAN.MapPath)
				if err != nil {
					return fmt.Errorf("load CAN map: %w", err)
				}
				if _, err := NewCANActuator(cmap, nil, cfg.CAN); err != nil {
					return err
				}
				if _, err := NewCANListener(cmap, nil, nil, nil, cfg.CAN); err != nil {
					return err
				}
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprint(w, string(out))
			fmt.Fprintf(w, "# total_mass: %.2f kg\n# max_brake_torque: %.1f Nm\n",
				cfg.Vehicle.TotalMass(), cfg.Vehicle.MaxBrakeTorque())
			return nil
		},
	}

	cmd.Flags().BoolVar(&mapCheck, "map", true, "Also check the CAN map against the configured frame names")
	return cmd
}
