// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/buke/js-scheduler/config"
	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the pool scripts without starting any unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			for _, pool := range cfg.Pools {
				if engineFactory(pool.Engine, pool.EngineOptions) == nil {
					return fmt.Errorf("pool %s: engine %q is not available on this platform", pool.ID, pool.Engine)
				}
				if _, err := pool.LoadScripts(); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d pool(s)\n", len(cfg.Pools))
			return nil
		},
	}
}
