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

// Package sweeper implements a periodic, stateless pass running four
// independent checks -- finished-job reclamation, phantom-allocation
// reclamation, idle-instance retirement over every InstanceRecord, and
// (when a grid ObjectStore is wired in) finished-job blob
// garbage-collection -- aggregating whatever failed with multierr
// rather than letting one bad record stop the whole pass. A plain
// time.Ticker drives the loop; there's no reconcile queue or work-item
// deduplication since every pass re-scans everything from scratch.
package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/cloudprovider"
	"github.com/meadowrun/meadowrun/pkg/grid"
	"github.com/meadowrun/meadowrun/pkg/log"
	"github.com/meadowrun/meadowrun/pkg/metrics"
	"github.com/meadowrun/meadowrun/pkg/registry"
)

// Options bounds the grace periods the three checks apply; defaults to
// 5 minutes for both. pkg/config.Settings.ClientLaunchGrace and
// IdleShutdownGrace feed these in production.
type Options struct {
	ClientLaunchGrace time.Duration
	IdleShutdownGrace time.Duration

	// ResultRetentionWindow bounds how long a finished grid job's
	// task-args/ and task-results/ objects survive before the fourth
	// check (reclaimGridBlobs) deletes them. Only runs when Store is
	// set on the Sweeper.
	ResultRetentionWindow time.Duration

	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Sweeper is stateless: every pass re-scans the Registry, matching the
// Allocator's own "Registry is the single source of truth" rule.
type Sweeper struct {
	Registry registry.Registry
	Cloud    cloudprovider.CloudProvider
	Liveness LivenessChecker

	// Store is the grid ObjectStore the fourth check garbage-collects
	// against. Left nil, reclaimGridBlobs is skipped entirely -- a
	// deployment that doesn't run the grid fan-out has nothing to GC.
	Store grid.ObjectStore

	Opts Options
}

func New(reg registry.Registry, cloud cloudprovider.CloudProvider, liveness LivenessChecker, opts Options) *Sweeper {
	if opts.ClientLaunchGrace <= 0 {
		opts.ClientLaunchGrace = 5 * time.Minute
	}
	if opts.IdleShutdownGrace <= 0 {
		opts.IdleShutdownGrace = 5 * time.Minute
	}
	if opts.ResultRetentionWindow <= 0 {
		opts.ResultRetentionWindow = 24 * time.Hour
	}
	return &Sweeper{Registry: reg, Cloud: cloud, Liveness: liveness, Opts: opts}
}

// Run ticks RunOnce at interval until ctx is canceled, logging (not
// panicking on) whatever each pass returns -- a bad pass shouldn't stop
// the next one from trying.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	logger := log.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				logger.Errorw("sweep pass had errors", "error", err)
			}
		}
	}
}

// RunOnce runs the three per-InstanceRecord checks over every live
// record, then, if a grid ObjectStore is wired in, the grid-blob GC
// check once for the whole pass.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	records, err := s.Registry.Scan(ctx)
	if err != nil {
		return err
	}
	var errs error
	now := s.Opts.now()
	for _, r := range records {
		errs = multierr.Append(errs, s.sweepRecord(ctx, r, now))
	}
	if s.Store != nil {
		errs = multierr.Append(errs, s.reclaimGridBlobs(ctx, now))
	}
	return errs
}

func (s *Sweeper) sweepRecord(ctx context.Context, r v1alpha1.InstanceRecord, now time.Time) error {
	var errs error
	errs = multierr.Append(errs, s.reclaimFinishedJobs(ctx, r, now))
	errs = multierr.Append(errs, s.reclaimPhantomAllocations(ctx, r, now))
	errs = multierr.Append(errs, s.retireIfIdle(ctx, r, now))
	return errs
}

// reclaimFinishedJobs deallocates any job whose liveness file reports a
// terminal state, or whose host says the PID is dead.
func (s *Sweeper) reclaimFinishedJobs(ctx context.Context, r v1alpha1.InstanceRecord, now time.Time) error {
	var errs error
	for jobID := range r.RunningJobs {
		state, found, alive, err := s.Liveness.Check(ctx, r.PublicAddress, jobID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !found {
			continue // handled by reclaimPhantomAllocations
		}
		if state.State.Terminal() || !alive {
			if err := s.Registry.Deallocate(ctx, r.PublicAddress, jobID, now); err != nil && err != registry.ErrNotFound {
				errs = multierr.Append(errs, err)
			} else {
				metrics.InstancesSwept.WithLabelValues("job_reclaimed").Inc()
			}
		}
	}
	return errs
}

// reclaimPhantomAllocations deallocates a job allocated longer than
// ClientLaunchGrace ago with no liveness record ever written -- the
// client crashed between allocate and dispatch.
func (s *Sweeper) reclaimPhantomAllocations(ctx context.Context, r v1alpha1.InstanceRecord, now time.Time) error {
	var errs error
	for jobID, job := range r.RunningJobs {
		if now.Sub(job.AllocatedAt) < s.Opts.ClientLaunchGrace {
			continue
		}
		_, found, _, err := s.Liveness.Check(ctx, r.PublicAddress, jobID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if found {
			continue
		}
		if err := s.Registry.Deallocate(ctx, r.PublicAddress, jobID, now); err != nil && err != registry.ErrNotFound {
			errs = multierr.Append(errs, err)
		} else {
			metrics.InstancesSwept.WithLabelValues("phantom_reclaimed").Inc()
		}
	}
	return errs
}

// retireIfIdle retires an instance with no running jobs that hasn't
// been touched in IdleShutdownGrace: it gets flipped to
// prevent_further_allocation, terminated, and its record deleted. The
// flip-before-terminate ordering closes the race where the Allocator
// picks an instance the sweeper is about to kill.
func (s *Sweeper) retireIfIdle(ctx context.Context, r v1alpha1.InstanceRecord, now time.Time) error {
	if len(r.RunningJobs) != 0 || now.Sub(r.LastUpdateTime) < s.Opts.IdleShutdownGrace {
		return nil
	}
	if err := s.Registry.MarkPreventFurtherAllocation(ctx, r.PublicAddress); err != nil {
		if err == registry.ErrConflict {
			return nil // a job landed on it between Scan and here; next pass retries
		}
		return err
	}
	if err := s.Cloud.Terminate(ctx, r.PublicAddress); err != nil {
		return err
	}
	if err := s.Registry.Delete(ctx, r.PublicAddress); err != nil {
		return err
	}
	metrics.InstancesSwept.WithLabelValues("instance_retired").Inc()
	return nil
}

// reclaimGridBlobs deletes a finished job's task-args blob and every
// task-results object once ResultRetentionWindow has passed since its
// JobFinished sentinel was written. Grid-task argument blobs and
// results are owned by the object store for the lifetime of the job;
// this is the "garbage-collected ... by the sweeper after a retention
// window" half of that lifetime -- the other half, immediate deletion
// on job end, isn't safe to do from here since job_finish_time is only
// ever observed by whichever process drove the job's tasks to
// completion, a different process than this one in general.
func (s *Sweeper) reclaimGridBlobs(ctx context.Context, now time.Time) error {
	argsKeys, err := s.Store.List(ctx, v1alpha1.ArgsPrefix, v1alpha1.ArgsPrefix)
	if err != nil {
		return err
	}
	var errs error
	for _, key := range argsKeys {
		jobID := strings.TrimPrefix(key, v1alpha1.ArgsPrefix)
		if jobID == key {
			continue
		}
		done, finishedAt, err := s.gridJobFinished(ctx, jobID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !done || now.Sub(finishedAt) < s.Opts.ResultRetentionWindow {
			continue
		}
		if err := s.deleteGridJobBlobs(ctx, jobID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		metrics.InstancesSwept.WithLabelValues("grid_blobs_reclaimed").Inc()
	}
	return errs
}

func (s *Sweeper) gridJobFinished(ctx context.Context, jobID string) (bool, time.Time, error) {
	data, err := s.Store.Get(ctx, v1alpha1.FinishedKey(jobID))
	if err != nil {
		return false, time.Time{}, nil // not finished yet, or already GC'd
	}
	var finished v1alpha1.JobFinished
	if err := json.Unmarshal(data, &finished); err != nil {
		return false, time.Time{}, fmt.Errorf("decoding job-finished sentinel for %s: %w", jobID, err)
	}
	return true, finished.FinishedAt, nil
}

func (s *Sweeper) deleteGridJobBlobs(ctx context.Context, jobID string) error {
	var errs error
	if err := s.Store.Delete(ctx, v1alpha1.ArgsKey(jobID)); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("deleting task-args blob for %s: %w", jobID, err))
	}
	prefix := v1alpha1.ResultPrefix(jobID)
	keys, err := s.Store.List(ctx, prefix, prefix)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("listing task-results for %s: %w", jobID, err))
	}
	for _, key := range keys {
		if err := s.Store.Delete(ctx, key); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("deleting %s: %w", key, err))
		}
	}
	if err := s.Store.Delete(ctx, v1alpha1.FinishedKey(jobID)); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("deleting job-finished sentinel for %s: %w", jobID, err))
	}
	return errs
}
