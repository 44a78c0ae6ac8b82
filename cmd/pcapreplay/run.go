package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samaelod/pcapreplay/config"
	"github.com/samaelod/pcapreplay/engine"
	"github.com/samaelod/pcapreplay/lua"
	"github.com/samaelod/pcapreplay/tui"
	"github.com/samaelod/pcapreplay/types"
)

type runFlags struct {
	profile  string
	logFile  string
	logLevel string
	monitor  bool
	save     bool
	policy   policyFlags
}

// replayPlan is a fully resolved run: the configuration, the profile that
// reproduces it and the file it came from.
type replayPlan struct {
	cfg        *types.ReplayConfig
	profile    *lua.Profile
	source     string
	overridden bool
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run " + config.Usage,
		Short: "Replay one side of a capture",
		Long: `Replay the client or server side of the flows in the given captures.

The client connects to <server-host>:<tcp-port> and sends UDP to tcp-port+1.
The server listens on both ports. The -vpn variants send whole TCP segments
for use inside a tunnel; client-tor goes through the SOCKS5 proxy on
127.0.0.1:<proxy-port> and is the only role that takes that argument. The replay stops after <timeout-sec> seconds.`,
		Example: `  # Replay the client side of a capture towards a test server
  pcapreplay run client 192.0.2.10 8000 10.0.0.5 10.0.0.0 24 60 session.pcap

  # Serve the recorded replies, reconnecting up to three times
  pcapreplay run server 0.0.0.0 8000 10.0.0.5 10.0.0.0 24 600 session.pcap --restart --max-restarts 3

  # Same run from a Lua profile, inside the live monitor
  pcapreplay run --profile session.lua --monitor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.profile == "" && len(args) == 0 {
				return fmt.Errorf("%w: give replay arguments or --profile", types.ErrConfig)
			}
			if flags.profile != "" && len(args) > 0 {
				return fmt.Errorf("%w: --profile cannot be combined with replay arguments", types.ErrConfig)
			}

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				if _, err := types.ParseLevel(flags.logLevel); err != nil {
					return err
				}
				settings.LogLevel = flags.logLevel
			}

			now := time.Now()
			plan, err := resolveReplay(flags, args, settings, cmd.Flags().Changed, now)
			if err != nil {
				return err
			}

			saved := ""
			if flags.save || flags.monitor {
				if saved, err = savePlan(settings.RecentDir, plan); err != nil {
					if flags.monitor {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
			}
			if flags.monitor {
				return tui.Run(version, settings, saved, true)
			}

			logPath := flags.logFile
			if logPath == "" {
				logPath = settings.LogFile(now)
			} else if logPath == "-" {
				logPath = ""
			}
			return runReplay(cmd.Context(), plan.cfg, settings, logPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&flags.profile, "profile", "", "Lua profile to run instead of positional arguments")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Log file (default: <logs_dir>/pcapreplay-<time>.log, - for none)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Minimum log level: debug|info|message|warning|critical|error")
	cmd.Flags().BoolVar(&flags.monitor, "monitor", false, "Run inside the live terminal monitor")
	cmd.Flags().BoolVar(&flags.save, "save", true, "Keep the effective profile under recent_dir")
	flags.policy.register(cmd)

	return cmd
}

// resolveReplay builds the run configuration. Policies come from the profile
// when one is given, else from the settings file. Explicit policy flags win
// over both.
func resolveReplay(f *runFlags, args []string, settings *config.Settings, changed func(string) bool, now time.Time) (*replayPlan, error) {
	plan := &replayPlan{}

	if f.profile != "" {
		p, err := lua.ReadProfile(f.profile)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", types.ErrConfig, f.profile, err)
		}
		if plan.cfg, err = p.Config(now); err != nil {
			return nil, err
		}
		plan.source = f.profile
	} else {
		cfg, err := config.ParseArgs(args, now)
		if err != nil {
			return nil, err
		}
		if err := settings.Apply(cfg); err != nil {
			return nil, err
		}
		plan.cfg = cfg
		plan.source = cfg.Captures[0]
	}

	n, err := f.policy.apply(changed, plan.cfg)
	if err != nil {
		return nil, err
	}
	plan.overridden = n > 0

	if err := plan.cfg.Validate(); err != nil {
		return nil, err
	}
	plan.profile = lua.FromConfig(plan.cfg, plan.cfg.Deadline.Sub(now))
	return plan, nil
}

// savePlan stores the profile of a run. A Lua source is copied as written
// unless flags changed its policy, in which case the effective profile is
// generated under the same name.
func savePlan(dir string, plan *replayPlan) (string, error) {
	source := plan.source
	if plan.overridden && strings.EqualFold(filepath.Ext(source), ".lua") {
		source = strings.TrimSuffix(source, filepath.Ext(source))
	}
	return lua.SaveToDir(dir, plan.profile, source)
}

// runReplay drives the engine until it finishes or ctx is cancelled, then
// prints a one line summary.
func runReplay(ctx context.Context, cfg *types.ReplayConfig, settings *config.Settings, logPath string, stdout, stderr io.Writer) error {
	logger := engine.NewLogger(logPath, settings.LogLines, settings.Level())
	logger.SetMirror(stderr)
	defer logger.Close()

	e, err := engine.New(*cfg, logger.Log)
	if err != nil {
		return err
	}
	defer e.Close()

	interval := settings.PumpInterval()
	for !e.IsDone() {
		if ctx.Err() != nil {
			logger.Log(types.LevelMessage, "main", "interrupted, stopping replay")
			e.Close()
			break
		}
		if _, err := e.Wait(interval); err != nil {
			return err
		}
		e.Pump()
	}

	s := e.Stats()
	fmt.Fprintf(stdout, "%s: sent %d packets (%d bytes), received %d bytes, %d restarts\n",
		config.RoleKeyword(s.Role, s.Mode), s.PacketsSent, s.BytesSent, s.BytesReceived, s.Restarts)
	return e.Err()
}
