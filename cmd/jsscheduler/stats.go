// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

func newStatsCmd(root *rootFlags) *cobra.Command {
	var withMetrics bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Create the configured pools and print their statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := startScheduler(cmd.Context(), root.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.scheduler.Cleanup()

			if err := printJSON(cmd, env.scheduler.Stats()); err != nil {
				return err
			}
			if !withMetrics {
				return nil
			}
			if !env.cfg.Scheduler.Metrics {
				return fmt.Errorf("metrics are disabled, set scheduler.metrics in the configuration")
			}
			families, err := env.registry.Gather()
			if err != nil {
				return fmt.Errorf("gather metrics: %w", err)
			}
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(cmd.OutOrStdout(), mf); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "also print the scheduler metrics in Prometheus text format")
	return cmd
}
