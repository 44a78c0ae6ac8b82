package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samaelod/pcapreplay/config"
	"github.com/samaelod/pcapreplay/lua"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Write and check Lua replay profiles",
	}
	cmd.AddCommand(newProfileExportCmd())
	cmd.AddCommand(newProfileCheckCmd())
	return cmd
}

func newProfileExportCmd() *cobra.Command {
	var (
		output string
		policy policyFlags
	)

	cmd := &cobra.Command{
		Use:     "export " + config.Usage,
		Short:   "Turn replay arguments into a Lua profile",
		Example: `  pcapreplay profile export client-tor 9050 203.0.113.9 443 10.0.0.5 10.0.0.0 24 60 a.pcap -o tor.lua`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			now := time.Now()
			cfg, err := config.ParseArgs(args, now)
			if err != nil {
				return err
			}
			if err := settings.Apply(cfg); err != nil {
				return err
			}
			if _, err := policy.apply(cmd.Flags().Changed, cfg); err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return lua.WriteProfile(w, lua.FromConfig(cfg, cfg.Deadline.Sub(now)))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the profile to a file instead of stdout")
	policy.register(cmd)
	return cmd
}

func newProfileCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <profile.lua>...",
		Short: "Validate profiles and print the arguments they stand for",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				p, err := lua.ReadProfile(path)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "%s: ok\n  run %s\n", path, strings.Join(p.Args(), " "))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d profiles are invalid", failed, len(args))
			}
			return nil
		},
	}
}
