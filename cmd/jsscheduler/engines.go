// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	jsscheduler "github.com/buke/js-scheduler"
	"github.com/buke/js-scheduler/config"
	gojaengine "github.com/buke/js-scheduler/engines/goja"
	quickjsengine "github.com/buke/js-scheduler/engines/quickjs-go"
)

// engineOptions maps configured engine names to the options built from a pool's settings.
var engineOptions = map[string]func(config.EngineSettings) []jsscheduler.JsEngineOption{
	config.EngineGoja:    gojaOptions,
	config.EngineQuickJS: quickjsOptions,
}

// engineFactories maps engine names to their factory constructors.
var engineFactories = map[string]func(...jsscheduler.JsEngineOption) jsscheduler.JsEngineFactory{
	config.EngineGoja:    gojaengine.NewFactory,
	config.EngineQuickJS: quickjsengine.NewFactory,
}

func gojaOptions(s config.EngineSettings) []jsscheduler.JsEngineOption {
	opts := []jsscheduler.JsEngineOption{gojaengine.WithRequire(), gojaengine.WithEnableConsole()}
	if s.MaxCallStackSize > 0 {
		opts = append(opts, gojaengine.WithMaxCallStackSize(s.MaxCallStackSize))
	}
	return opts
}

func quickjsOptions(s config.EngineSettings) []jsscheduler.JsEngineOption {
	opts := []jsscheduler.JsEngineOption{
		quickjsengine.WithEnableModuleImport(true),
		quickjsengine.WithCanBlock(s.CanBlock),
	}
	if s.MemoryLimit > 0 {
		opts = append(opts, quickjsengine.WithMemoryLimit(s.MemoryLimit))
	}
	if s.MaxStackSize > 0 {
		opts = append(opts, quickjsengine.WithMaxStackSize(s.MaxStackSize))
	}
	if s.Timeout > 0 {
		opts = append(opts, quickjsengine.WithTimeout(s.Timeout))
	}
	if s.GCThreshold != nil {
		opts = append(opts, quickjsengine.WithGCThreshold(*s.GCThreshold))
	}
	if s.Strip != nil {
		opts = append(opts, quickjsengine.WithStrip(*s.Strip))
	}
	return opts
}

// engineFactory returns the factory of the named engine configured with settings, or nil
// when the engine is not built into this binary.
func engineFactory(name string, settings config.EngineSettings) jsscheduler.JsEngineFactory {
	newFactory, ok := engineFactories[name]
	if !ok {
		return nil
	}
	return newFactory(engineOptions[name](settings)...)
}
