/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package registry

import (
	"context"
	"sync"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/metrics"
)

// scanCacheKey is the single go-cache entry holding the last Scan()
// projection. The cache is never consulted by Allocate/Deallocate,
// only by Scan, and is dropped on every mutation.
const scanCacheKey = "scan"

// Store is an in-process CAS table keyed by public_address. Every
// record carries its own mutex, and each conditional write checks its
// preconditions and applies its change under that mutex; the only
// lock spanning records is the map's own RWMutex for lookup, insert
// and delete, so there is no read-then-write window beyond the single
// record. versionToken fingerprints a record with
// mitchellh/hashstructure/v2, but the conditional writes do not
// compare fingerprints.
type Store struct {
	mu      sync.RWMutex
	records map[string]*entry
	scan    *cache.Cache
}

type entry struct {
	mu     sync.Mutex
	record v1alpha1.InstanceRecord
}

// NewStore builds an empty in-memory registry. The scan cache entry
// expires after 2s (expired entries are purged every minute): it exists purely to
// collapse bursts of concurrent Scan() calls, not to serve stale data
// for any meaningful span.
func NewStore() *Store {
	return &Store{
		records: map[string]*entry{},
		scan:    cache.New(2*time.Second, time.Minute),
	}
}

var _ Registry = (*Store)(nil)

func (s *Store) Register(_ context.Context, address string, available v1alpha1.Resources, runningJobs map[string]v1alpha1.RunningJob, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[address]; ok {
		return ErrAlreadyExists
	}
	jobs := map[string]v1alpha1.RunningJob{}
	for k, v := range runningJobs {
		jobs[k] = v
	}
	s.records[address] = &entry{record: v1alpha1.InstanceRecord{
		PublicAddress:      address,
		AvailableResources: available,
		RunningJobs:        jobs,
		LastUpdateTime:     now,
	}}
	s.invalidateScan()
	return nil
}

func (s *Store) Allocate(_ context.Context, address string, perJob v1alpha1.Resources, jobIDs []string, now time.Time) error {
	e, ok := s.lookup(address)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.record
	if r.PreventFurtherAllocation {
		metrics.RegistryConflictsTotal.Inc()
		return ErrConflict
	}
	for _, id := range jobIDs {
		if _, exists := r.RunningJobs[id]; exists {
			metrics.RegistryConflictsTotal.Inc()
			return ErrConflict
		}
	}
	total := perJob.Scale(len(jobIDs))
	newAvailable, ok := r.AvailableResources.Subtract(total)
	if !ok {
		metrics.RegistryConflictsTotal.Inc()
		return ErrConflict
	}

	jobs := make(map[string]v1alpha1.RunningJob, len(r.RunningJobs)+len(jobIDs))
	for k, v := range r.RunningJobs {
		jobs[k] = v
	}
	for _, id := range jobIDs {
		jobs[id] = v1alpha1.RunningJob{Allocated: perJob, AllocatedAt: now}
	}

	e.record = v1alpha1.InstanceRecord{
		PublicAddress:            r.PublicAddress,
		AvailableResources:       newAvailable,
		RunningJobs:              jobs,
		LastUpdateTime:           now,
		PreventFurtherAllocation: r.PreventFurtherAllocation,
		InstanceType:             r.InstanceType,
	}
	s.invalidateScan()
	return nil
}

func (s *Store) Deallocate(_ context.Context, address string, jobID string, now time.Time) error {
	e, ok := s.lookup(address)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.record
	job, ok := r.RunningJobs[jobID]
	if !ok {
		return ErrNotFound
	}
	jobs := make(map[string]v1alpha1.RunningJob, len(r.RunningJobs)-1)
	for k, v := range r.RunningJobs {
		if k != jobID {
			jobs[k] = v
		}
	}
	e.record = v1alpha1.InstanceRecord{
		PublicAddress:            r.PublicAddress,
		AvailableResources:       r.AvailableResources.Add(job.Allocated),
		RunningJobs:              jobs,
		LastUpdateTime:           now,
		PreventFurtherAllocation: r.PreventFurtherAllocation,
		InstanceType:             r.InstanceType,
	}
	s.invalidateScan()
	return nil
}

func (s *Store) MarkPreventFurtherAllocation(_ context.Context, address string) error {
	e, ok := s.lookup(address)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.record.RunningJobs) != 0 {
		return ErrConflict
	}
	e.record.PreventFurtherAllocation = true
	s.invalidateScan()
	return nil
}

func (s *Store) Delete(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[address]; !ok {
		return ErrNotFound
	}
	delete(s.records, address)
	s.invalidateScan()
	return nil
}

func (s *Store) Scan(_ context.Context) ([]v1alpha1.InstanceRecord, error) {
	if cached, ok := s.scan.Get(scanCacheKey); ok {
		return cached.([]v1alpha1.InstanceRecord), nil
	}
	s.mu.RLock()
	out := make([]v1alpha1.InstanceRecord, 0, len(s.records))
	for _, e := range s.records {
		e.mu.Lock()
		out = append(out, e.record.Clone())
		e.mu.Unlock()
	}
	s.mu.RUnlock()
	s.scan.SetDefault(scanCacheKey, out)
	metrics.LiveInstances.Set(float64(len(out)))
	return out, nil
}

func (s *Store) lookup(address string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[address]
	return e, ok
}

func (s *Store) invalidateScan() {
	s.scan.Delete(scanCacheKey)
}

// versionToken computes a record's structural fingerprint. Nothing in
// this package or its tests calls it; Allocate/Deallocate serialize
// under the record's own mutex instead of comparing fingerprints.
func versionToken(r v1alpha1.InstanceRecord) (uint64, error) {
	return hashstructure.Hash(r, hashstructure.FormatV2, &hashstructure.HashOptions{SlicesAsSets: true})
}
