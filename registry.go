// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

// jobRegistry maps correlation ids to dispatched jobs. Guarded by the scheduler mutex.
type jobRegistry struct {
	jobs map[string]*job
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*job)}
}

func (r *jobRegistry) add(j *job) {
	r.jobs[j.id] = j
}

func (r *jobRegistry) get(id string) (*job, bool) {
	j, ok := r.jobs[id]
	return j, ok
}

// take removes and returns the job. A job can be taken once; every terminal
// transition goes through take, which is what prevents double resolution.
func (r *jobRegistry) take(id string) (*job, bool) {
	j, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	return j, ok
}

// boundTo returns the ids of every job dispatched to the unit.
func (r *jobRegistry) boundTo(u *execUnit) []string {
	var ids []string
	for id, j := range r.jobs {
		if j.unit == u {
			ids = append(ids, id)
		}
	}
	return ids
}

// ids returns the ids of every registered job, optionally limited to some pools.
func (r *jobRegistry) ids(poolIDs ...string) []string {
	var filter map[string]struct{}
	if len(poolIDs) > 0 {
		filter = make(map[string]struct{}, len(poolIDs))
		for _, id := range poolIDs {
			filter[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(r.jobs))
	for id, j := range r.jobs {
		if filter != nil {
			if _, ok := filter[j.poolID]; !ok {
				continue
			}
		}
		ids = append(ids, id)
	}
	return ids
}

func (r *jobRegistry) len() int {
	return len(r.jobs)
}
