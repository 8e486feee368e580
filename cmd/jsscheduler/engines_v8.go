//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"sort"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/buke/js-scheduler/config"
	v8engine "github.com/buke/js-scheduler/engines/v8go"
)

func init() {
	engineFactories[config.EngineV8] = v8engine.NewFactory
	engineOptions[config.EngineV8] = v8Options
}

func v8Options(s config.EngineSettings) []jsscheduler.JsEngineOption {
	names := make([]string, 0, len(s.Globals))
	for name := range s.Globals {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]jsscheduler.JsEngineOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, v8engine.WithGlobal(name, s.Globals[name]))
	}
	return opts
}
