// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	DefaultHandshakeTimeout = 5 * time.Second  // Readiness handshake bound per unit
	DefaultAcquireTimeout   = 10 * time.Second // Wait for an available unit per job
	maxRetryBackoffFactor   = 10
)

var errHandshakeFailed = errors.New("failed before ready")

// Scheduler routes jobs to pools of execution units. It owns every pool and the job
// registry; one mutex guards both.
type Scheduler struct {
	mu       sync.Mutex
	pools    map[string]*unitPool
	registry *jobRegistry
	epoch    uint64             // Incremented by Cleanup
	life     context.Context    // Cancelled by Cleanup, bounds replacements
	stop     context.CancelFunc // Cancels life

	createMu sync.Mutex // Serializes CreatePool

	handshakeTimeout time.Duration
	acquireTimeout   time.Duration
	replaceLimiter   *rate.Limiter

	logger  *slog.Logger
	metrics *metrics
}

// New creates a scheduler with the given options.
func New(opts ...func(*Scheduler)) *Scheduler {
	s := &Scheduler{
		pools:            make(map[string]*unitPool),
		registry:         newJobRegistry(),
		handshakeTimeout: DefaultHandshakeTimeout,
		acquireTimeout:   DefaultAcquireTimeout,
		replaceLimiter:   rate.NewLimiter(rate.Every(50*time.Millisecond), 8),
		logger:           slog.Default(),
	}
	s.life, s.stop = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// WithLogger configures the logger for the scheduler. A nil logger discards all output.
func WithLogger(logger *slog.Logger) func(*Scheduler) {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithHandshakeTimeout bounds how long a new unit may take to report ready.
func WithHandshakeTimeout(timeout time.Duration) func(*Scheduler) {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.handshakeTimeout = timeout
		}
	}
}

// WithAcquireTimeout sets the default time a job waits for an available unit.
func WithAcquireTimeout(timeout time.Duration) func(*Scheduler) {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.acquireTimeout = timeout
		}
	}
}

// WithReplaceRate paces the replacement of crashed units. A limit of rate.Inf disables pacing.
func WithReplaceRate(limit rate.Limit, burst int) func(*Scheduler) {
	return func(s *Scheduler) {
		if burst > 0 {
			s.replaceLimiter = rate.NewLimiter(limit, burst)
		}
	}
}

// WithMetrics registers the scheduler collectors on reg under the jsscheduler namespace.
func WithMetrics(reg prometheus.Registerer) func(*Scheduler) {
	return func(s *Scheduler) {
		s.metrics = newMetrics("jsscheduler", reg)
	}
}

// jobOptions holds per-job settings.
type jobOptions struct {
	timeout        time.Duration          // Response wait, zero waits indefinitely
	acquireTimeout time.Duration          // Wait for an available unit
	params         map[string]interface{} // Forwarded to the unit as request options
	retries        int                    // Extra attempts for retryable errors (Execute only)
	retryBackoff   time.Duration          // Delay before the first retry
}

// JobOption configures a single job.
type JobOption func(*jobOptions)

// JobTimeout rejects the job with ErrOperationTimeout if the unit has not answered
// within timeout. The unit goes back to the pool even though it may still be working.
func JobTimeout(timeout time.Duration) JobOption {
	return func(o *jobOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// JobAcquireTimeout overrides the scheduler's acquisition timeout for one job.
func JobAcquireTimeout(timeout time.Duration) JobOption {
	return func(o *jobOptions) {
		if timeout > 0 {
			o.acquireTimeout = timeout
		}
	}
}

// JobOperationOptions sets the options object passed to the operation.
func JobOperationOptions(params map[string]interface{}) JobOption {
	return func(o *jobOptions) {
		o.params = params
	}
}

// JobRetry makes Execute resubmit up to retries times when the job fails with a
// retryable error. The delay starts at backoff and doubles, capped at ten times backoff.
func JobRetry(retries int, backoff time.Duration) JobOption {
	return func(o *jobOptions) {
		if retries > 0 {
			o.retries = retries
		}
		if backoff > 0 {
			o.retryBackoff = backoff
		}
	}
}

func (s *Scheduler) jobOptions(opts []JobOption) *jobOptions {
	o := &jobOptions{
		acquireTimeout: s.acquireTimeout,
		retryBackoff:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreatePool builds a pool of capacity units for poolID. If the pool already exists it
// is returned unchanged and factory and capacity are ignored. Every unit must pass the
// readiness handshake; otherwise the units built so far are terminated and nothing is
// registered.
func (s *Scheduler) CreatePool(ctx context.Context, poolID string, factory UnitFactory, capacity int) (*PoolHandle, error) {
	if poolID == "" {
		return nil, fmt.Errorf("pool id cannot be empty")
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	s.mu.Lock()
	if p, ok := s.pools[poolID]; ok {
		s.mu.Unlock()
		return &PoolHandle{pool: p}, nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	if factory == nil {
		return nil, fmt.Errorf("unit factory must be provided")
	}
	if err := validateCapacity(capacity); err != nil {
		return nil, err
	}

	p := newPool(poolID, factory, capacity)
	built := make([]*execUnit, 0, capacity)
	abort := func(cause error) (*PoolHandle, error) {
		s.terminateAll(built)
		s.logger.Error("Failed to create pool", "pool", poolID, "error", cause)
		return nil, fmt.Errorf("%w: pool %s: %v", ErrPoolInitializationFailed, poolID, cause)
	}

	for i := 0; i < capacity; i++ {
		u, err := s.spawnUnit(ctx, p)
		if err != nil {
			return abort(fmt.Errorf("unit %d: %w", i, err))
		}
		built = append(built, u)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return abort(errors.New("scheduler was cleaned up during initialization"))
	}
	for _, u := range built {
		if u.state == UnitTerminated {
			s.mu.Unlock()
			return abort(fmt.Errorf("unit %s terminated before the pool was registered", u.name))
		}
	}
	for _, u := range built {
		p.push(u)
	}
	s.pools[poolID] = p
	s.metrics.observePool(p)
	s.mu.Unlock()

	s.logger.Debug("Pool created", "pool", poolID, "capacity", capacity)
	return &PoolHandle{pool: p}, nil
}

// spawnUnit builds one unit for p and waits for its readiness handshake.
func (s *Scheduler) spawnUnit(ctx context.Context, p *unitPool) (*execUnit, error) {
	handle, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create unit: %w", err)
	}
	if handle == nil {
		return nil, errors.New("unit factory returned nil")
	}

	u := newExecUnit(unitName(handle), handle, p)
	if err := handle.Start(func(m Message) { s.onMessage(u, m) }); err != nil {
		handle.Terminate()
		return nil, fmt.Errorf("failed to start unit %s: %w", u.name, err)
	}

	timer := time.NewTimer(s.handshakeTimeout)
	defer timer.Stop()

	var cause error
	select {
	case err := <-u.ready:
		if err == nil {
			return u, nil
		}
		cause = fmt.Errorf("%w: unit %s: %w", errHandshakeFailed, u.name, err)
	case <-timer.C:
		cause = fmt.Errorf("unit %s readiness handshake timed out after %s", u.name, s.handshakeTimeout)
	case <-ctx.Done():
		cause = ctx.Err()
	}

	// On timeout, resolve the handshake ourselves so a late ready signal is dropped.
	// If the unit got there first its outcome is already buffered.
	if cause != nil && !errors.Is(cause, errHandshakeFailed) && !u.signalReady(cause) {
		if err := <-u.ready; err == nil {
			return u, nil
		}
	}
	s.mu.Lock()
	u.state = UnitTerminated
	s.mu.Unlock()
	handle.Terminate()
	return nil, cause
}

func unitName(handle Unit) string {
	if named, ok := handle.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "unit-" + uuid.NewString()
}

func (s *Scheduler) terminateAll(units []*execUnit) {
	s.mu.Lock()
	for _, u := range units {
		u.state = UnitTerminated
	}
	s.mu.Unlock()
	for _, u := range units {
		u.handle.Terminate()
	}
}

// onMessage is the handler registered on every unit.
func (s *Scheduler) onMessage(u *execUnit, m Message) {
	switch m := m.(type) {
	case ReadyMessage:
		if !u.signalReady(nil) {
			s.logger.Debug("Ignoring repeated ready signal", "unit", u.name)
		}
	case *ResponseMessage:
		s.onResponse(u, m.Response)
	case CrashMessage:
		err := m.Err
		if err == nil {
			err = errors.New("unknown fault")
		}
		if u.signalReady(err) {
			return
		}
		s.onCrash(u, err)
	default:
		s.logger.Warn("Ignoring unknown unit message", "unit", u.name, "type", fmt.Sprintf("%T", m))
	}
}

// Submit sends a job to poolID and returns its pending completion. The job waits for an
// available unit in the background; ctx bounds that wait only.
func (s *Scheduler) Submit(ctx context.Context, poolID, operation string, payload interface{}, opts ...JobOption) (*Future, error) {
	o := s.jobOptions(opts)

	s.mu.Lock()
	p, ok := s.pools[poolID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	submitted := time.Now()
	id := p.nextJobID(submitted)
	s.mu.Unlock()

	actx, cancel := context.WithCancel(ctx)
	f := newFuture(id, s, cancel)
	j := &job{
		id:        id,
		poolID:    poolID,
		operation: operation,
		submitted: submitted,
		timeout:   o.timeout,
		future:    f,
	}
	go s.dispatch(actx, cancel, p, j, payload, o)
	return f, nil
}

// Execute submits a job and waits for it, retrying retryable failures as configured
// with JobRetry.
func (s *Scheduler) Execute(ctx context.Context, poolID, operation string, payload interface{}, opts ...JobOption) (*Result, error) {
	o := s.jobOptions(opts)
	backoff := o.retryBackoff

	for attempt := 0; ; attempt++ {
		f, err := s.Submit(ctx, poolID, operation, payload, opts...)
		if err != nil {
			return nil, err
		}
		res, err := f.Wait(ctx)
		if err == nil || !IsRetryable(err) || attempt >= o.retries {
			return res, err
		}

		s.logger.Debug("Retrying job",
			"pool", poolID,
			"operation", operation,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if limit := o.retryBackoff * maxRetryBackoffFactor; backoff > limit {
			backoff = limit
		}
	}
}

// dispatch waits for a unit, registers the job and sends the request.
func (s *Scheduler) dispatch(ctx context.Context, cancel context.CancelFunc, p *unitPool, j *job, payload interface{}, o *jobOptions) {
	defer cancel()

	deadline := time.NewTimer(o.acquireTimeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			s.settleQueued(j, JobCancelled, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
			return
		}
		if s.pools[p.id] != p {
			s.mu.Unlock()
			s.settleQueued(j, JobCancelled, fmt.Errorf("%w: pool %s was cleaned up", ErrCancelled, p.id))
			return
		}
		if u := p.acquire(); u != nil {
			j.unit = u
			j.generation = u.generation
			s.registry.add(j)
			if j.timeout > 0 {
				id := j.id
				j.timer = time.AfterFunc(j.timeout, func() { s.expire(id) })
			}
			j.future.setStatus(JobDispatched)
			s.metrics.observePool(p)
			s.metrics.setPending(s.registry.len())
			s.mu.Unlock()

			req := &Request{
				Id:         j.id,
				Operation:  j.operation,
				Payload:    payload,
				Options:    o.params,
				Generation: j.generation,
			}
			if err := u.handle.Send(req); err != nil {
				s.failSend(j.id, err)
			}
			return
		}
		released := p.released
		s.mu.Unlock()

		select {
		case <-released:
		case <-deadline.C:
			s.logger.Warn("No unit became available", "pool", p.id, "job", j.id, "timeout", o.acquireTimeout)
			s.settleQueued(j, JobFailed, fmt.Errorf("%w: pool %s after %s", ErrWorkerUnavailable, p.id, o.acquireTimeout))
			return
		case <-ctx.Done():
			s.settleQueued(j, JobCancelled, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
			return
		}
	}
}

// settleQueued settles a job that never reached the registry.
func (s *Scheduler) settleQueued(j *job, status JobStatus, err error) {
	if j.future.settle(status, nil, err) {
		s.metrics.recordJob(j.poolID, status, 0)
	}
}

// settle performs the terminal transition of a registered job that the caller has
// already taken out of the registry. Must be called with s.mu held.
func (s *Scheduler) settle(j *job, status JobStatus, result *Result, err error) {
	if !j.future.settle(status, result, err) {
		s.logger.Error("Job settled twice", "job", j.id, "status", status.String())
		return
	}
	s.metrics.recordJob(j.poolID, status, time.Since(j.submitted))
	s.metrics.setPending(s.registry.len())
}

// releaseUnit returns a unit to its pool. Must be called with s.mu held.
func (s *Scheduler) releaseUnit(u *execUnit) {
	if u == nil {
		return
	}
	p := u.pool
	if !p.release(u) {
		s.logger.Debug("Release ignored, unit is not busy", "pool", p.id, "unit", u.name, "state", u.state.String())
		return
	}
	s.metrics.observePool(p)
}

// onResponse matches a unit response to its job.
func (s *Scheduler) onResponse(u *execUnit, resp *Response) {
	if resp == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.registry.get(resp.Id)
	if !ok {
		s.logger.Debug("Discarding response for unknown job", "job", resp.Id, "unit", u.name)
		return
	}
	// Generation zero means the unit does not echo generations.
	if j.unit != u || (resp.Generation != 0 && resp.Generation != j.generation) {
		s.logger.Warn("Discarding response from a previous assignment",
			"job", resp.Id,
			"unit", u.name,
			"generation", resp.Generation,
			"expected", j.generation)
		return
	}

	s.registry.take(j.id)
	j.stopTimer()
	s.releaseUnit(u)

	if !resp.Success {
		s.settle(j, JobFailed, nil, &OperationError{
			JobID:     j.id,
			Operation: j.operation,
			Message:   resp.Error,
		})
		return
	}
	s.settle(j, JobCompleted, &Result{
		JobID:          j.id,
		Value:          resp.Result,
		FromCache:      resp.FromCache,
		ProcessingTime: time.Duration(resp.ProcessingTime * float64(time.Millisecond)),
		TotalTime:      time.Since(j.submitted),
	}, nil)
}

// expire fires when a job timeout elapses.
func (s *Scheduler) expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.registry.take(id)
	if !ok {
		return
	}
	j.timer = nil
	// The unit may still be computing; it is reused anyway and its late answer
	// will miss the registry.
	s.releaseUnit(j.unit)
	s.logger.Warn("Job timed out", "pool", j.poolID, "job", id, "operation", j.operation, "timeout", j.timeout)
	s.settle(j, JobTimedOut, nil, fmt.Errorf("%w: %s after %s", ErrOperationTimeout, j.operation, j.timeout))
}

// failSend rejects a job whose request could not be delivered.
func (s *Scheduler) failSend(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.registry.take(id)
	if !ok {
		return
	}
	j.stopTimer()
	s.releaseUnit(j.unit)
	s.settle(j, JobFailed, nil, fmt.Errorf("%w: send to %s: %w", ErrWorkerUnavailable, j.unit.name, err))
}

// Cancel rejects a dispatched job with ErrCancelled and frees its unit. It returns
// false if the job is not registered.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(jobID)
}

func (s *Scheduler) cancelLocked(jobID string) bool {
	j, ok := s.registry.take(jobID)
	if !ok {
		return false
	}
	j.stopTimer()
	s.releaseUnit(j.unit)
	s.settle(j, JobCancelled, nil, fmt.Errorf("%w: %s", ErrCancelled, jobID))
	return true
}

// CancelAll cancels every dispatched job, or only those of the given pools, and
// returns how many were cancelled.
func (s *Scheduler) CancelAll(poolIDs ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range s.registry.ids(poolIDs...) {
		if s.cancelLocked(id) {
			n++
		}
	}
	return n
}

// Stats returns the counters of every pool, the fleet totals and the number of dispatched jobs.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Pools:       make(map[string]PoolStats, len(s.pools)),
		PendingJobs: s.registry.len(),
	}
	for id, p := range s.pools {
		ps := p.stats()
		st.Pools[id] = ps
		st.AvailableUnits += ps.Available
		st.BusyUnits += ps.Busy
	}
	st.TotalUnits = st.AvailableUnits + st.BusyUnits
	return st
}

// Cleanup cancels every job, terminates every unit and forgets every pool. Pools still
// being created fail with ErrPoolInitializationFailed. Cleanup may be called more than once.
func (s *Scheduler) Cleanup() {
	s.mu.Lock()

	s.epoch++
	s.stop()
	s.life, s.stop = context.WithCancel(context.Background())

	cancelled := 0
	for _, id := range s.registry.ids() {
		if s.cancelLocked(id) {
			cancelled++
		}
	}

	var units []*execUnit
	for id, p := range s.pools {
		for _, u := range p.units() {
			p.remove(u)
			units = append(units, u)
		}
		// Wake queued jobs; they observe the missing pool and settle.
		close(p.released)
		p.released = make(chan struct{})
		s.metrics.forgetPool(id)
	}
	pools := len(s.pools)
	s.pools = make(map[string]*unitPool)
	s.mu.Unlock()

	for _, u := range units {
		u.handle.Terminate()
	}

	s.logger.Debug("Scheduler cleaned up",
		"pools", pools,
		"units", len(units),
		"cancelledJobs", cancelled)
}
