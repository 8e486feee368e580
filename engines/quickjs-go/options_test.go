// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"testing"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/stretchr/testify/require"
)

func TestOptions_Apply(t *testing.T) {
	tests := []struct {
		name   string
		option jsscheduler.JsEngineOption
		check  func(t *testing.T, o *EngineOption)
	}{
		{"gc threshold", WithGCThreshold(1 << 20), func(t *testing.T, o *EngineOption) {
			require.Equal(t, int64(1<<20), o.GCThreshold)
		}},
		{"gc disabled", WithGCThreshold(-1), func(t *testing.T, o *EngineOption) {
			require.Equal(t, int64(-1), o.GCThreshold)
		}},
		{"memory limit", WithMemoryLimit(64 << 20), func(t *testing.T, o *EngineOption) {
			require.Equal(t, uint64(64<<20), o.MemoryLimit)
		}},
		{"timeout", WithTimeout(10), func(t *testing.T, o *EngineOption) {
			require.Equal(t, uint64(10), o.Timeout)
		}},
		{"stack size", WithMaxStackSize(512 << 10), func(t *testing.T, o *EngineOption) {
			require.Equal(t, uint64(512<<10), o.MaxStackSize)
		}},
		{"can block", WithCanBlock(true), func(t *testing.T, o *EngineOption) {
			require.True(t, o.CanBlock)
		}},
		{"module import", WithEnableModuleImport(true), func(t *testing.T, o *EngineOption) {
			require.True(t, o.EnableModuleImport)
		}},
		{"strip none", WithStrip(0), func(t *testing.T, o *EngineOption) {
			require.Zero(t, o.Strip)
		}},
		{"strip all", WithStrip(2), func(t *testing.T, o *EngineOption) {
			require.Equal(t, 2, o.Strip)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := NewFactory(tt.option)()
			require.NoError(t, err)
			defer engine.Close()
			tt.check(t, engine.(*Engine).Option)
		})
	}
}

func TestOptions_Defaults(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	defer engine.Close()
	require.Equal(t, EngineOption{GCThreshold: -1, Strip: 1}, *engine.Option)
}

func TestOptions_InvalidValues(t *testing.T) {
	for _, opt := range []jsscheduler.JsEngineOption{
		WithGCThreshold(-2),
		WithStrip(-1),
		WithStrip(3),
		WithRpcScript(""),
	} {
		_, err := NewFactory(opt)()
		require.ErrorContains(t, err, "failed to apply option")
	}
}

func TestWithMemoryLimit_Enforced(t *testing.T) {
	engine := loadedEngine(t, "function grow() { var a = []; for (;;) { a.push(new Array(1024).fill(1)); } }")
	require.NoError(t, WithMemoryLimit(8<<20)(engine))

	// The allocation failure surfaces either as a failed operation or an engine error.
	resp, err := engine.Execute(&jsscheduler.Request{Id: "m", Operation: "grow"})
	if err == nil {
		require.False(t, resp.Success)
		require.Contains(t, resp.Error, "memory")
	}
}

func TestWithRpcScript(t *testing.T) {
	engine, err := NewFactory(WithRpcScript("(function(raw) { return raw; })"))()
	require.NoError(t, err)
	defer engine.Close()
	require.Equal(t, "(function(raw) { return raw; })", engine.(*Engine).RpcScript)
}

func TestOptions_RejectForeignEngine(t *testing.T) {
	var foreign jsscheduler.JsEngine
	for _, opt := range []jsscheduler.JsEngineOption{
		WithGCThreshold(0),
		WithMemoryLimit(0),
		WithTimeout(0),
		WithMaxStackSize(0),
		WithCanBlock(true),
		WithEnableModuleImport(true),
		WithStrip(0),
		WithRpcScript("x"),
	} {
		require.ErrorContains(t, opt(foreign), "invalid engine type")
	}
}
