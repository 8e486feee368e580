// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Command jsscheduler runs JavaScript operations on pools of engine units described
// by a configuration file.
package main

import (
	"os"
)

var Version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
