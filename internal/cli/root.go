// Package cli implements the zonewatch command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/zonewatch/internal/conf"
	"github.com/tphakala/zonewatch/internal/logger"
)

type rootOptions struct {
	configPath string
	version    string
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	cmd := &cobra.Command{
		Use:           "zonewatch",
		Short:         "Geofence alerting engine",
		Long:          "zonewatch watches tracker position reports and records deduplicated zone enter and exit activities.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default ./zonewatch.yaml or /etc/zonewatch/zonewatch.yaml)")

	cmd.AddCommand(
		newServeCommand(opts),
		newRulesCommand(opts),
		newVersionCommand(opts),
	)
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute(version string) int {
	cmd := NewRootCommand(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (o *rootOptions) loadSettings() (*conf.Settings, error) {
	return conf.Load(o.configPath)
}

// newLogger builds the process logger from settings. Timestamps are UTC.
func newLogger(s conf.LogSettings, w io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	switch s.Format {
	case "json":
		return logger.NewJSONLogger(w, level, time.UTC), nil
	case "", "text":
		return logger.NewSlogLogger(w, level, time.UTC), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", s.Format)
	}
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "zonewatch %s\n", opts.version)
		},
	}
}
