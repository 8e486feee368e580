// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockEngine is a simple mock implementation of JsEngine for testing.
type mockEngine struct {
	mu          sync.Mutex  // Mutex for concurrent access
	loadCalled  bool        // Whether Load was called
	closeCalled bool        // Whether Close was called
	interrupted string      // Reason passed to Interrupt
	scripts     []*JsScript // Scripts passed to Load
	executed    []*Request  // Executed requests

	loadFunc    func(scripts []*JsScript) error       // Custom Load behavior (if set)
	executeFunc func(req *Request) (*Response, error) // Custom Execute behavior (if set)
	closeFunc   func() error                          // Custom Close behavior (if set)
}

// Load mocks loading scripts into the JavaScript engine.
func (m *mockEngine) Load(scripts []*JsScript) error {
	m.mu.Lock()
	m.loadCalled = true
	m.scripts = scripts
	m.mu.Unlock()
	if m.loadFunc != nil {
		return m.loadFunc(scripts)
	}
	return nil
}

// Execute mocks executing a request. By default it echoes the payload.
func (m *mockEngine) Execute(req *Request) (*Response, error) {
	m.mu.Lock()
	m.executed = append(m.executed, req)
	m.mu.Unlock()
	if m.executeFunc != nil {
		return m.executeFunc(req)
	}
	return &Response{Success: true, Result: req.Payload}, nil
}

func (m *mockEngine) Interrupt(reason string) {
	m.mu.Lock()
	m.interrupted = reason
	m.mu.Unlock()
}

// Close mocks closing the JavaScript engine.
func (m *mockEngine) Close() error {
	m.mu.Lock()
	m.closeCalled = true
	m.mu.Unlock()
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockEngine) closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalled
}

// mockEngineFactory returns a JsEngineFactory always handing out engine.
func mockEngineFactory(engine *mockEngine) JsEngineFactory {
	return func() (JsEngine, error) {
		return engine, nil
	}
}

// inbox collects unit messages.
type inbox chan Message

func (in inbox) handle(m Message) { in <- m }

func (in inbox) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-in:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a unit message")
		return nil
	}
}

func (in inbox) none(t *testing.T) {
	t.Helper()
	select {
	case m := <-in:
		t.Fatalf("unexpected unit message %#v", m)
	case <-time.After(30 * time.Millisecond):
	}
}

func startUnit(t *testing.T, engine *mockEngine, opts ...EngineUnitOption) (*engineUnit, inbox) {
	t.Helper()
	opts = append([]EngineUnitOption{WithUnitLogger(nil)}, opts...)
	unit, err := NewEngineUnitFactory(mockEngineFactory(engine), opts...)()
	require.NoError(t, err)
	in := make(inbox, 16)
	require.NoError(t, unit.Start(in.handle))
	t.Cleanup(unit.Terminate)
	return unit.(*engineUnit), in
}

func TestEngineUnit_ReadyAndRespond(t *testing.T) {
	engine := &mockEngine{}
	script := &JsScript{FileName: "ops.js", Content: "function op() {}"}
	u, in := startUnit(t, engine, WithScripts(script))

	ready, ok := in.next(t).(ReadyMessage)
	require.True(t, ok)
	require.Contains(t, ready.Info, u.Name())
	require.True(t, strings.HasPrefix(u.Name(), "unit-"))
	require.Equal(t, []*JsScript{script}, engine.scripts)

	require.NoError(t, u.Send(&Request{Id: "p-1-0", Operation: "op", Payload: "x", Generation: 3}))
	msg, ok := in.next(t).(*ResponseMessage)
	require.True(t, ok)
	require.Equal(t, "p-1-0", msg.Id)
	require.Equal(t, uint64(3), msg.Generation)
	require.Equal(t, "x", msg.Result)
}

func TestEngineUnit_StampsCorrelation(t *testing.T) {
	engine := &mockEngine{executeFunc: func(req *Request) (*Response, error) {
		return &Response{Id: "something-else", Success: true, Generation: 99}, nil
	}}
	u, in := startUnit(t, engine)
	in.next(t)

	require.NoError(t, u.Send(&Request{Id: "real", Generation: 2}))
	msg := in.next(t).(*ResponseMessage)
	require.Equal(t, "real", msg.Id)
	require.Equal(t, uint64(2), msg.Generation)
}

func TestEngineUnit_StartupFailures(t *testing.T) {
	tests := []struct {
		name    string
		factory JsEngineFactory
		want    string
	}{
		{
			name:    "factory error",
			factory: func() (JsEngine, error) { return nil, errors.New("factory error") },
			want:    "failed to create JS engine: factory error",
		},
		{
			name: "load error",
			factory: mockEngineFactory(&mockEngine{
				loadFunc: func([]*JsScript) error { return errors.New("syntax error") },
			}),
			want: "failed to load JS scripts: syntax error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, err := NewEngineUnitFactory(tt.factory, WithUnitLogger(nil))()
			require.NoError(t, err)
			in := make(inbox, 4)
			require.NoError(t, unit.Start(in.handle))

			crash, ok := in.next(t).(CrashMessage)
			require.True(t, ok)
			require.EqualError(t, crash.Err, tt.want)
			require.ErrorIs(t, unit.Send(&Request{}), ErrUnitTerminated)
		})
	}
}

func TestEngineUnit_NilEngineFactory(t *testing.T) {
	_, err := NewEngineUnitFactory(nil)()
	require.Error(t, err)
}

func TestEngineUnit_CrashOnExecute(t *testing.T) {
	tests := []struct {
		name    string
		execute func(req *Request) (*Response, error)
		want    string
	}{
		{"error", func(*Request) (*Response, error) { return nil, errors.New("engine died") }, "engine died"},
		{"panic", func(*Request) (*Response, error) { panic("bad state") }, "panic in unit"},
		{"nil response", func(*Request) (*Response, error) { return nil, nil }, "engine returned no response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &mockEngine{executeFunc: tt.execute}
			u, in := startUnit(t, engine)
			in.next(t)

			require.NoError(t, u.Send(&Request{Id: "1"}))
			crash, ok := in.next(t).(CrashMessage)
			require.True(t, ok)
			require.Contains(t, crash.Err.Error(), tt.want)

			require.ErrorIs(t, u.Send(&Request{Id: "2"}), ErrUnitTerminated)
			require.Eventually(t, engine.closed, time.Second, 5*time.Millisecond)
			in.none(t)
		})
	}
}

func TestEngineUnit_Terminate(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	engine := &mockEngine{executeFunc: func(req *Request) (*Response, error) {
		close(started)
		<-release
		return &Response{Success: true}, nil
	}}
	u, in := startUnit(t, engine)
	in.next(t)

	require.NoError(t, u.Send(&Request{Id: "long"}))
	<-started
	u.Terminate()
	u.Terminate()

	engine.mu.Lock()
	require.Equal(t, "unit terminated", engine.interrupted)
	engine.mu.Unlock()
	require.ErrorIs(t, u.Send(&Request{Id: "after"}), ErrUnitTerminated)

	close(release)
	require.Eventually(t, engine.closed, time.Second, 5*time.Millisecond)
	// A terminated unit neither answers nor reports a crash.
	in.none(t)
}

func TestEngineUnit_QueueFull(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	engine := &mockEngine{executeFunc: func(req *Request) (*Response, error) {
		started <- struct{}{}
		<-release
		return &Response{Success: true}, nil
	}}
	u, in := startUnit(t, engine, WithQueueSize(1))
	in.next(t)

	require.NoError(t, u.Send(&Request{Id: "1"}))
	<-started
	require.NoError(t, u.Send(&Request{Id: "2"}))
	err := u.Send(&Request{Id: "3"})
	require.ErrorIs(t, err, ErrUnitQueueFull)

	close(release)
	require.Equal(t, "1", in.next(t).(*ResponseMessage).Id)
	require.Equal(t, "2", in.next(t).(*ResponseMessage).Id)
}

func TestEngineUnit_StartAndSendValidation(t *testing.T) {
	unit, err := NewEngineUnitFactory(mockEngineFactory(&mockEngine{}), WithUnitLogger(nil))()
	require.NoError(t, err)
	defer unit.Terminate()

	require.Error(t, unit.Start(nil))
	in := make(inbox, 4)
	require.NoError(t, unit.Start(in.handle))
	require.Error(t, unit.Start(in.handle))
	require.Error(t, unit.Send(nil))
}

func TestEngineUnit_CloseErrorLogged(t *testing.T) {
	engine := &mockEngine{closeFunc: func() error { return errors.New("close failed") }}
	u, in := startUnit(t, engine)
	in.next(t)
	u.Terminate()
	require.Eventually(t, engine.closed, time.Second, 5*time.Millisecond)
}

func TestEngineUnit_WithScheduler(t *testing.T) {
	s := New(WithLogger(nil))
	defer s.Cleanup()

	h, err := s.CreatePool(context.Background(), "mock",
		NewEngineUnitFactory(func() (JsEngine, error) { return &mockEngine{}, nil }, WithUnitLogger(nil)), 2)
	require.NoError(t, err)
	require.Equal(t, 2, h.Capacity())

	res, err := s.Execute(context.Background(), "mock", "echo", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"a": 1}, res.Value)
}
