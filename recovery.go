// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"context"
	"fmt"
)

// onCrash rejects every job bound to a crashed unit, retires the unit and starts
// building its replacement. Jobs on other units are not touched.
func (s *Scheduler) onCrash(u *execUnit, cause error) {
	s.mu.Lock()

	switch u.state {
	case UnitTerminated:
		s.mu.Unlock()
		s.logger.Debug("Ignoring crash of terminated unit", "unit", u.name, "error", cause)
		return
	case UnitInitializing:
		// Passed its handshake but its pool is not registered yet; CreatePool sees the
		// terminated state and fails.
		u.state = UnitTerminated
		s.mu.Unlock()
		u.handle.Terminate()
		return
	}

	p := u.pool
	s.logger.Warn("Execution unit crashed", "pool", p.id, "unit", u.name, "state", u.state.String(), "error", cause)

	for _, id := range s.registry.boundTo(u) {
		j, _ := s.registry.take(id)
		j.stopTimer()
		s.settle(j, JobFailed, nil, fmt.Errorf("%w: %s: %v", ErrUnitCrashed, u.name, cause))
	}

	p.remove(u)
	u.handle.Terminate()
	s.metrics.observePool(p)

	registered := s.pools[p.id] == p
	epoch := s.epoch
	life := s.life
	s.mu.Unlock()

	if registered {
		go s.replace(life, p, epoch)
	}
}

// replace builds a unit for p to stand in for a crashed one. On failure the pool keeps
// running below its capacity.
func (s *Scheduler) replace(ctx context.Context, p *unitPool, epoch uint64) {
	if s.replaceLimiter != nil {
		if err := s.replaceLimiter.Wait(ctx); err != nil {
			s.logger.Warn("Unit replacement abandoned", "pool", p.id, "error", err)
			return
		}
	}

	u, err := s.spawnUnit(ctx, p)
	if err != nil {
		s.metrics.recordReplacement(p.id, false)
		s.mu.Lock()
		st := p.stats()
		s.mu.Unlock()
		s.logger.Warn("Failed to replace crashed unit, pool is running below capacity",
			"pool", p.id,
			"capacity", st.Capacity,
			"units", st.Available+st.Busy,
			"error", err)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || s.pools[p.id] != p || u.state == UnitTerminated || p.size() >= p.capacity {
		u.state = UnitTerminated
		s.mu.Unlock()
		u.handle.Terminate()
		return
	}
	p.push(u)
	s.metrics.observePool(p)
	s.mu.Unlock()

	s.metrics.recordReplacement(p.id, true)
	s.logger.Debug("Crashed unit replaced", "pool", p.id, "unit", u.name)
}
