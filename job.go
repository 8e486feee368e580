// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"context"
	"sync"
	"time"
)

// JobStatus represents the current status of a job.
type JobStatus int32

const (
	JobQueued     JobStatus = iota // Waiting for an available unit
	JobDispatched                  // Sent to a unit, waiting for its response
	JobCompleted                   // Unit answered with success
	JobFailed                      // Unit answered with failure, crashed or could not be reached
	JobTimedOut                    // No response before the job timeout
	JobCancelled                   // Cancelled by the caller or by cleanup
)

// String returns the string representation of a JobStatus.
func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobDispatched:
		return "dispatched"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobTimedOut:
		return "timed_out"
	case JobCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transition may happen.
func (s JobStatus) terminal() bool {
	return s >= JobCompleted
}

// Result is the outcome of a successful job.
type Result struct {
	JobID          string        `json:"jobId"`
	Value          interface{}   `json:"result"`
	FromCache      bool          `json:"fromCache"`
	ProcessingTime time.Duration `json:"processingTime"` // Reported by the unit
	TotalTime      time.Duration `json:"totalTime"`      // From submission to response
}

// Future is the pending completion of a submitted job.
type Future struct {
	id        string
	scheduler *Scheduler
	abort     context.CancelFunc // Stops the acquisition wait

	mu     sync.Mutex
	status JobStatus
	result *Result
	err    error
	done   chan struct{}
}

func newFuture(id string, s *Scheduler, abort context.CancelFunc) *Future {
	return &Future{
		id:        id,
		scheduler: s,
		abort:     abort,
		status:    JobQueued,
		done:      make(chan struct{}),
	}
}

// ID returns the correlation id of the job. It can be passed to Scheduler.Cancel.
func (f *Future) ID() string {
	return f.id
}

// Done returns a channel closed when the job reaches a terminal state.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Status returns the current job status.
func (f *Future) Status() JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Wait blocks until the job settles. If ctx ends first the job is cancelled and the
// context error is returned, unless the job settled otherwise in the meantime.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		if f.abort != nil {
			f.abort()
		}
		f.scheduler.Cancel(f.id)
		// A queued job settles as soon as its acquisition sees the aborted context.
		<-f.done
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.status == JobCancelled {
			return nil, ctx.Err()
		}
		return f.result, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// setStatus records a non-terminal transition.
func (f *Future) setStatus(s JobStatus) {
	f.mu.Lock()
	if !f.status.terminal() {
		f.status = s
	}
	f.mu.Unlock()
}

// settle performs the single terminal transition. It reports false, leaving the
// future untouched, if the job was already settled.
func (f *Future) settle(status JobStatus, result *Result, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status.terminal() {
		return false
	}
	f.status = status
	f.result = result
	f.err = err
	close(f.done)
	return true
}

// job is the registry entry of a dispatched job.
type job struct {
	id         string
	poolID     string
	operation  string
	unit       *execUnit
	generation uint64 // Unit generation at dispatch
	submitted  time.Time
	timeout    time.Duration
	timer      *time.Timer
	future     *Future
}

// stopTimer cancels the pending timeout, if any.
func (j *job) stopTimer() {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
}
