//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/buke/js-scheduler/config"
	v8engine "github.com/buke/js-scheduler/engines/v8go"
	"github.com/stretchr/testify/require"
)

func TestEngineFactory_V8Globals(t *testing.T) {
	engine, err := engineFactory(config.EngineV8, config.EngineSettings{
		Globals: map[string]string{"region": "eu", "site": "plant-7"},
	})()
	require.NoError(t, err)
	defer engine.Close()
	require.Equal(t, map[string]string{"region": "eu", "site": "plant-7"}, engine.(*v8engine.Engine).Option.Globals)

	require.NoError(t, engine.Load([]*jsscheduler.JsScript{{
		FileName: "where.js",
		Content:  "function where() { return region + '/' + site; }",
	}}))
	resp, err := engine.Execute(&jsscheduler.Request{Id: "w", Operation: "where"})
	require.NoError(t, err)
	require.Equal(t, "eu/plant-7", resp.Result)
}
