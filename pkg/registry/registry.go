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

// Package registry implements a strongly-consistent KV table,
// conditionally-writable one record at a time, with no cross-record
// locking. Register/Allocate/Deallocate/Scan is the full contract; any
// single-item-CAS KV (DynamoDB, etcd, Consul) can sit behind it -- this
// package ships the in-memory implementation used in-process and by
// every test in this repo.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
)

// ErrAlreadyExists is returned by Register when the address already
// has a record: address reuse fails loud rather than silently
// overwriting the existing record.
var ErrAlreadyExists = errors.New("registry: address already registered")

// ErrConflict is returned by Allocate when the conditional write's
// preconditions don't hold at commit time: insufficient resources, a
// job_id already present, or prevent_further_allocation set. Callers
// retry.
var ErrConflict = errors.New("registry: conditional write conflict")

// ErrNotFound is returned by Deallocate when the job isn't present on
// the named instance, and by any operation against an unknown address.
var ErrNotFound = errors.New("registry: record or job not found")

// Registry is the core allocation-bookkeeping contract.
type Registry interface {
	// Register performs a conditional put: fails with ErrAlreadyExists
	// if address already has a record.
	Register(ctx context.Context, address string, available v1alpha1.Resources, runningJobs map[string]v1alpha1.RunningJob, now time.Time) error

	// Allocate conditionally subtracts perJob*len(jobIDs) from
	// available_resources and inserts a running_jobs entry for each
	// jobID, bumping last_update_time. Fails with ErrConflict unless
	// every component of available_resources >= perJob*len(jobIDs), no
	// jobID is already present, and prevent_further_allocation is false.
	Allocate(ctx context.Context, address string, perJob v1alpha1.Resources, jobIDs []string, now time.Time) error

	// Deallocate conditionally adds the job's stored allocation back to
	// available_resources and removes it from running_jobs. Fails with
	// ErrNotFound if running_jobs doesn't contain jobID.
	Deallocate(ctx context.Context, address string, jobID string, now time.Time) error

	// Scan returns a point-in-time projection over every live record.
	Scan(ctx context.Context) ([]v1alpha1.InstanceRecord, error)

	// MarkPreventFurtherAllocation conditionally flips
	// prevent_further_allocation to true, guarded on running_jobs being
	// empty. Used only by the sweeper.
	MarkPreventFurtherAllocation(ctx context.Context, address string) error

	// Delete removes a record outright. Used only by the sweeper, after
	// MarkPreventFurtherAllocation and a successful cloud Terminate.
	Delete(ctx context.Context, address string) error
}
