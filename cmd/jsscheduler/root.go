// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "jsscheduler",
		Short: "Run JavaScript operations on pools of engine units",
		Long: `jsscheduler creates the pools described by its configuration file and
dispatches operations to their units.`,
		Version:      Version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "configuration file (default: ./jsscheduler.yaml)")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newStatsCmd(flags))
	cmd.AddCommand(newValidateCmd(flags))
	return cmd
}
