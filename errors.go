// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolNotFound is returned when a job references a pool that does not exist.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrWorkerUnavailable is returned when no unit became available within the acquisition timeout.
	// It also wraps a failed delivery to the acquired unit, in which case errors.Is matches the
	// unit's error too, e.g. ErrUnitQueueFull. The unit goes back to the pool, so a retry may be
	// dispatched to the same unit.
	ErrWorkerUnavailable = errors.New("worker unavailable")
	// ErrOperationTimeout is returned when a unit did not answer within the job timeout.
	// The unit-side work is abandoned, not interrupted.
	ErrOperationTimeout = errors.New("operation timeout")
	// ErrUnitCrashed is returned for jobs bound to a unit that terminated abnormally.
	ErrUnitCrashed = errors.New("unit crashed")
	// ErrCancelled is returned for jobs cancelled by the caller or by cleanup.
	ErrCancelled = errors.New("job cancelled")
	// ErrPoolInitializationFailed is returned when a unit of a new pool failed its readiness handshake.
	ErrPoolInitializationFailed = errors.New("pool initialization failed")
	// ErrOperationFailed is matched by every *OperationError.
	ErrOperationFailed = errors.New("operation failed")
	// ErrUnitTerminated is returned when sending to a terminated unit.
	ErrUnitTerminated = errors.New("unit terminated")
	// ErrUnitQueueFull is returned when a unit cannot accept another request.
	ErrUnitQueueFull = errors.New("unit queue full")
)

// OperationError is returned when a unit answered with success set to false.
type OperationError struct {
	JobID     string
	Operation string
	Message   string
}

func (e *OperationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown unit error"
	}
	return fmt.Sprintf("operation %s failed: %s", e.Operation, msg)
}

// Unwrap lets errors.Is match ErrOperationFailed.
func (e *OperationError) Unwrap() error {
	return ErrOperationFailed
}

// IsRetryable reports whether resubmitting the same job may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrWorkerUnavailable) || errors.Is(err, ErrUnitCrashed)
}
