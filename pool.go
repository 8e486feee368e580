// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"fmt"
	"strconv"
	"time"
)

// unitPool owns the execution units of one task type. Every field is guarded by the
// scheduler mutex; the pool itself never locks.
type unitPool struct {
	id       string      // Pool id, unique per task type
	capacity int         // Target number of units
	factory  UnitFactory // Builds fresh units
	msgSeq   uint64      // Correlation id counter

	available []*execUnit            // Idle units, most recently released last
	busy      map[*execUnit]struct{} // Units assigned to a job

	// released is closed and replaced whenever a unit becomes available,
	// waking every goroutine waiting to acquire.
	released chan struct{}
}

// newPool creates an empty pool.
func newPool(id string, factory UnitFactory, capacity int) *unitPool {
	return &unitPool{
		id:       id,
		capacity: capacity,
		factory:  factory,
		busy:     make(map[*execUnit]struct{}),
		released: make(chan struct{}),
	}
}

// nextJobID returns a fresh correlation id of the form {poolId}-{sequence}-{unixMillis}.
func (p *unitPool) nextJobID(now time.Time) string {
	p.msgSeq++
	return p.id + "-" + strconv.FormatUint(p.msgSeq, 10) + "-" + strconv.FormatInt(now.UnixMilli(), 10)
}

// size returns the number of live units tracked by the pool.
func (p *unitPool) size() int {
	return len(p.available) + len(p.busy)
}

// acquire pops the most recently released unit and marks it busy. It returns nil if no
// unit is available.
func (p *unitPool) acquire() *execUnit {
	n := len(p.available)
	if n == 0 {
		return nil
	}
	u := p.available[n-1]
	p.available[n-1] = nil
	p.available = p.available[:n-1]

	p.busy[u] = struct{}{}
	u.state = UnitBusy
	u.generation++
	return u
}

// release moves a busy unit back to the available stack. It reports false if the unit
// is not busy in this pool.
func (p *unitPool) release(u *execUnit) bool {
	if _, ok := p.busy[u]; !ok {
		return false
	}
	delete(p.busy, u)
	p.push(u)
	return true
}

// push adds a unit to the available stack and wakes waiters.
func (p *unitPool) push(u *execUnit) {
	u.state = UnitAvailable
	p.available = append(p.available, u)
	close(p.released)
	p.released = make(chan struct{})
}

// remove takes a unit out of whichever set holds it and marks it terminated.
// The caller terminates the handle.
func (p *unitPool) remove(u *execUnit) {
	delete(p.busy, u)
	for i, a := range p.available {
		if a == u {
			copy(p.available[i:], p.available[i+1:])
			p.available[len(p.available)-1] = nil
			p.available = p.available[:len(p.available)-1]
			break
		}
	}
	u.state = UnitTerminated
}

// units returns every unit tracked by the pool.
func (p *unitPool) units() []*execUnit {
	all := make([]*execUnit, 0, p.size())
	all = append(all, p.available...)
	for u := range p.busy {
		all = append(all, u)
	}
	return all
}

// stats returns a snapshot of the pool counters.
func (p *unitPool) stats() PoolStats {
	return PoolStats{
		Capacity:  p.capacity,
		Available: len(p.available),
		Busy:      len(p.busy),
	}
}

// PoolHandle identifies a pool created by Scheduler.CreatePool.
type PoolHandle struct {
	pool *unitPool
}

// ID returns the pool id.
func (h *PoolHandle) ID() string {
	return h.pool.id
}

// Capacity returns the target number of units of the pool.
func (h *PoolHandle) Capacity() int {
	return h.pool.capacity
}

// PoolStats holds the counters of one pool.
type PoolStats struct {
	Capacity  int `json:"capacity"`
	Available int `json:"availableCount"`
	Busy      int `json:"busyCount"`
}

// Stats holds the counters of every pool, their fleet-wide sums and the number of
// registered jobs. TotalUnits counts live units, so it drops below the summed capacity
// while crashed units are being replaced.
type Stats struct {
	Pools          map[string]PoolStats `json:"pools"`
	TotalUnits     int                  `json:"totalUnits"`
	AvailableUnits int                  `json:"availableUnits"`
	BusyUnits      int                  `json:"busyUnits"`
	PendingJobs    int                  `json:"pendingJobs"`
}

func validateCapacity(capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("pool capacity must be at least 1, got %d", capacity)
	}
	return nil
}
