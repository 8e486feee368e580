// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"strings"
	"testing"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

// evalOnLoop evaluates src on the engine loop and returns its string form.
func evalOnLoop(t *testing.T, engine jsscheduler.JsEngine, src string) string {
	t.Helper()
	out := make(chan string, 1)
	engine.(*Engine).Loop.RunOnLoop(func(vm *goja.Runtime) {
		v, err := vm.RunString(src)
		if err != nil {
			out <- "error: " + err.Error()
			return
		}
		out <- v.String()
	})
	return <-out
}

func TestOptions_Apply(t *testing.T) {
	tests := []struct {
		name   string
		option jsscheduler.JsEngineOption
		expr   string
		want   string
		check  func(t *testing.T, o *EngineOption)
	}{
		{
			name:   "call stack size",
			option: WithMaxCallStackSize(128),
			expr:   "typeof globalThis",
			want:   "object",
			check:  func(t *testing.T, o *EngineOption) { require.Equal(t, 128, o.MaxCallStackSize) },
		},
		{
			name:   "console",
			option: WithEnableConsole(),
			expr:   "typeof console.log",
			want:   "function",
			check:  func(t *testing.T, o *EngineOption) { require.True(t, o.EnableConsole) },
		},
		{
			name:   "require",
			option: WithRequire(),
			expr:   "typeof require",
			want:   "function",
			check:  func(t *testing.T, o *EngineOption) { require.True(t, o.EnableRequire) },
		},
		{
			name:   "field name mapper",
			option: WithFieldNameMapper(goja.UncapFieldNameMapper()),
			expr:   "typeof globalThis",
			want:   "object",
			check:  func(t *testing.T, o *EngineOption) { require.NotNil(t, o.FieldNameMapper) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := NewFactory(tt.option)()
			require.NoError(t, err)
			defer engine.Close()

			tt.check(t, engine.(*Engine).Option)
			require.Equal(t, tt.want, evalOnLoop(t, engine, tt.expr))
		})
	}
}

func TestWithMaxCallStackSize_Enforced(t *testing.T) {
	engine, err := NewFactory(WithMaxCallStackSize(64))()
	require.NoError(t, err)
	defer engine.Close()
	require.NoError(t, engine.Load([]*jsscheduler.JsScript{{
		FileName: "deep.js",
		Content:  "function deep(n) { return n === 0 ? 0 : 1 + deep(n - 1); }",
	}}))

	resp, err := engine.Execute(&jsscheduler.Request{Id: "shallow", Operation: "deep", Payload: 10})
	require.NoError(t, err)
	require.True(t, resp.Success)

	// Overflow is uncatchable in goja, so it may end the call instead of failing the operation.
	resp, err = engine.Execute(&jsscheduler.Request{Id: "deep", Operation: "deep", Payload: 1000})
	if err == nil {
		require.False(t, resp.Success)
	}
}

func TestWithFieldNameMapper_Conversion(t *testing.T) {
	type reading struct {
		MachineID string `json:"machineId"`
	}
	tests := []struct {
		name   string
		mapper goja.FieldNameMapper
		expr   string
	}{
		{"default json tags", nil, "v.machineId"},
		{"uncapitalized names", goja.UncapFieldNameMapper(), "v.machineID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := NewFactory(WithFieldNameMapper(tt.mapper))()
			require.NoError(t, err)
			defer engine.Close()

			done := make(chan string, 1)
			engine.(*Engine).Loop.RunOnLoop(func(vm *goja.Runtime) {
				if err := vm.Set("v", reading{MachineID: "m-1"}); err != nil {
					done <- err.Error()
					return
				}
				v, err := vm.RunString(tt.expr)
				if err != nil {
					done <- err.Error()
					return
				}
				done <- v.String()
			})
			require.Equal(t, "m-1", <-done)
		})
	}
}

type foreignEngine struct{}

func (foreignEngine) Load([]*jsscheduler.JsScript) error { return nil }
func (foreignEngine) Execute(*jsscheduler.Request) (*jsscheduler.Response, error) {
	return nil, nil
}
func (foreignEngine) Close() error { return nil }

func TestOptions_RejectForeignEngine(t *testing.T) {
	for _, opt := range []jsscheduler.JsEngineOption{
		WithMaxCallStackSize(64),
		WithEnableConsole(),
		WithRequire(),
		WithFieldNameMapper(goja.UncapFieldNameMapper()),
	} {
		err := opt(foreignEngine{})
		require.Error(t, err)
		require.True(t, strings.Contains(err.Error(), "invalid engine type"))
	}
}
