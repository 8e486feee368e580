// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"time"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/spf13/cobra"
)

type runFlags struct {
	pool      string
	operation string
	payload   string
	options   string
	timeout   time.Duration
	retries   int
	skipCache bool
}

// runOutput is printed by the run command.
type runOutput struct {
	JobID            string      `json:"jobId"`
	Result           interface{} `json:"result"`
	FromCache        bool        `json:"fromCache"`
	ProcessingTimeMs float64     `json:"processingTimeMs"`
	TotalTimeMs      float64     `json:"totalTimeMs"`
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one operation and print its result",
		Long: `Create the configured pools, execute one operation on the given pool and
print the result as JSON.`,
		Example: `  jsscheduler run -c jsscheduler.yaml --pool math --op add --payload '{"a":1,"b":2}'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, root, flags)
		},
	}
	cmd.Flags().StringVar(&flags.pool, "pool", "", "pool id")
	cmd.Flags().StringVar(&flags.operation, "op", "", "operation name")
	cmd.Flags().StringVar(&flags.payload, "payload", "null", "operation payload as JSON")
	cmd.Flags().StringVar(&flags.options, "options", "", "operation options as a JSON object")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "job timeout (default: pool job_timeout)")
	cmd.Flags().IntVar(&flags.retries, "retries", 0, "retries on worker unavailable or unit crash")
	cmd.Flags().BoolVar(&flags.skipCache, "skip-cache", false, "set skipCache in the operation options")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func runOperation(cmd *cobra.Command, root *rootFlags, flags *runFlags) error {
	var payload interface{}
	if err := json.Unmarshal([]byte(flags.payload), &payload); err != nil {
		return fmt.Errorf("invalid --payload: %w", err)
	}
	var params map[string]interface{}
	if flags.options != "" {
		if err := json.Unmarshal([]byte(flags.options), &params); err != nil {
			return fmt.Errorf("invalid --options: %w", err)
		}
	}
	if flags.skipCache {
		if params == nil {
			params = make(map[string]interface{}, 1)
		}
		params["skipCache"] = true
	}

	ctx := cmd.Context()
	env, err := startScheduler(ctx, root.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.scheduler.Cleanup()

	opts := env.jobOptions(flags.pool)
	if params != nil {
		opts = append(opts, jsscheduler.JobOperationOptions(params))
	}
	if flags.timeout > 0 {
		opts = append(opts, jsscheduler.JobTimeout(flags.timeout))
	}
	if flags.retries > 0 {
		opts = append(opts, jsscheduler.JobRetry(flags.retries, 100*time.Millisecond))
	}

	res, err := env.scheduler.Execute(ctx, flags.pool, flags.operation, payload, opts...)
	if err != nil {
		return err
	}
	return printJSON(cmd, runOutput{
		JobID:            res.JobID,
		Result:           res.Value,
		FromCache:        res.FromCache,
		ProcessingTimeMs: float64(res.ProcessingTime) / float64(time.Millisecond),
		TotalTimeMs:      float64(res.TotalTime) / float64(time.Millisecond),
	})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
