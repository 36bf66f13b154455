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

// Package scheduling implements the Instance Allocator: stateless
// bin-packing logic that reuses existing instances where it can
// (Phase A) and launches new ones from the Instance-Type Selector where
// it must (Phase B). It tries in-flight capacity first, sorted by
// tightest fit, then falls through to buying new capacity, aggregating
// per-shape failures along the way.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/cloudprovider"
	"github.com/meadowrun/meadowrun/pkg/log"
	"github.com/meadowrun/meadowrun/pkg/metrics"
	"github.com/meadowrun/meadowrun/pkg/providers/instancetype"
	"github.com/meadowrun/meadowrun/pkg/registry"
)

// Options configures launch-time details the Allocator needs to pass to
// the cloud provider but never itself interprets.
type Options struct {
	SecurityGroup string
	IAMRole       string
	KeyPairName   string
	Tags          map[string]string

	// PhaseARetryPasses bounds how many times Phase A is retried before
	// falling through to Phase B. Defaults to 3; configurable since
	// whether three is load-bearing or incidental is genuinely unclear.
	PhaseARetryPasses int

	// Now lets tests pin allocation timestamps; defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Allocator is a stateless bin-packer: it holds no allocation state of
// its own, and every call re-scans the Registry, which remains the
// single source of truth rather than an in-process replica.
type Allocator struct {
	Registry registry.Registry
	Selector *instancetype.Selector
	Cloud    cloudprovider.CloudProvider
	Opts     Options
}

func New(reg registry.Registry, selector *instancetype.Selector, cloud cloudprovider.CloudProvider, opts Options) *Allocator {
	if opts.PhaseARetryPasses <= 0 {
		opts.PhaseARetryPasses = 3
	}
	return &Allocator{Registry: reg, Selector: selector, Cloud: cloud, Opts: opts}
}

// Allocate is the Allocator's single public operation: given a
// per-worker resource request, a worker count, and an interruption
// ceiling, return {instance_address -> [job_id]}.
func (a *Allocator) Allocate(ctx context.Context, resourcesPerWorker v1alpha1.Resources, numWorkers int, interruptionCeilingPct float64) (map[string][]string, error) {
	if numWorkers == 0 {
		return map[string][]string{}, nil
	}
	logger := log.FromContext(ctx)
	now := a.Opts.now()

	result := map[string][]string{}
	remaining := numWorkers

	for pass := 0; pass < a.Opts.PhaseARetryPasses && remaining > 0; pass++ {
		placed, err := a.phaseA(ctx, resourcesPerWorker, remaining, now)
		if err != nil {
			return nil, err
		}
		for addr, jobs := range placed {
			result[addr] = append(result[addr], jobs...)
			remaining -= len(jobs)
		}
		if remaining == 0 {
			metrics.AllocationsTotal.WithLabelValues("reused").Inc()
			return result, nil
		}
		logger.Debugw("phase A placed some workers, retrying", "pass", pass, "remaining", remaining)
	}

	if remaining == 0 {
		metrics.AllocationsTotal.WithLabelValues("reused").Inc()
		return result, nil
	}

	placed, shortfall, err := a.phaseB(ctx, resourcesPerWorker, remaining, interruptionCeilingPct, now)
	for addr, jobs := range placed {
		result[addr] = append(result[addr], jobs...)
	}
	if err != nil {
		if errors.Is(err, ErrNoSuitableShape) {
			metrics.AllocationsTotal.WithLabelValues("no_suitable_shape").Inc()
			return nil, err
		}
		metrics.AllocationsTotal.WithLabelValues("partial").Inc()
		return result, &PartialAllocationError{Assigned: result, Shortfall: shortfall, Cause: err}
	}
	metrics.AllocationsTotal.WithLabelValues("launched").Inc()
	return result, nil
}

// phaseA reuses existing instances: scan, repeatedly pick the tightest
// hostable record and propose one worker on it, then commit every
// proposal concurrently via Registry.Allocate.
func (a *Allocator) phaseA(ctx context.Context, resourcesPerWorker v1alpha1.Resources, numWorkers int, now time.Time) (map[string][]string, error) {
	records, err := a.Registry.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning registry: %w", err)
	}

	type proposal struct {
		address string
		jobID   string
	}
	var proposals []proposal
	working := make(map[string]v1alpha1.InstanceRecord, len(records))
	for _, r := range records {
		if r.PreventFurtherAllocation {
			continue
		}
		working[r.PublicAddress] = r
	}

	for len(proposals) < numWorkers {
		var pool []v1alpha1.InstanceRecord
		for _, r := range working {
			pool = append(pool, r)
		}
		sortByFitness(pool, resourcesPerWorker)
		if len(pool) == 0 || !pool[0].AvailableResources.Dominates(resourcesPerWorker) {
			break
		}
		chosen := pool[0]
		proposals = append(proposals, proposal{address: chosen.PublicAddress, jobID: uuid.NewString()})

		remaining, _ := chosen.AvailableResources.Subtract(resourcesPerWorker)
		chosen.AvailableResources = remaining
		working[chosen.PublicAddress] = chosen
	}

	if len(proposals) == 0 {
		return map[string][]string{}, nil
	}

	byAddress := map[string][]string{}
	for _, p := range proposals {
		byAddress[p.address] = append(byAddress[p.address], p.jobID)
	}

	result := map[string][]string{}
	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(16)
	for addr, jobIDs := range byAddress {
		addr, jobIDs := addr, jobIDs
		group.Go(func() error {
			if err := a.Registry.Allocate(gctx, addr, resourcesPerWorker, jobIDs, now); err != nil {
				if err == registry.ErrConflict {
					return nil // expected; unplaced jobs flow to the next pass
				}
				return fmt.Errorf("allocating on %s: %w", addr, err)
			}
			mu.Lock()
			result[addr] = append(result[addr], jobIDs...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// phaseB launches new instances to cover whatever Phase A couldn't
// place. It returns the partial map and shortfall
// even on error so callers can keep whatever progress was made.
func (a *Allocator) phaseB(ctx context.Context, resourcesPerWorker v1alpha1.Resources, numWorkers int, interruptionCeilingPct float64, now time.Time) (map[string][]string, int, error) {
	logger := log.FromContext(ctx)
	choices, err := a.Selector.Choose(ctx, resourcesPerWorker, numWorkers, interruptionCeilingPct)
	if err != nil {
		return map[string][]string{}, numWorkers, fmt.Errorf("%w: %v", ErrNoSuitableShape, err)
	}

	result := map[string][]string{}
	placed := 0
	var errs error
	for _, choice := range choices {
		launched, launchErr := a.Cloud.Launch(ctx, cloudprovider.LaunchRequest{
			InstanceType:  choice.InstanceType,
			Count:         1,
			SecurityGroup: a.Opts.SecurityGroup,
			IAMRole:       a.Opts.IAMRole,
			KeyPairName:   a.Opts.KeyPairName,
			Tags:          a.Opts.Tags,
		})
		if launchErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %v", ErrLaunchFailed, launchErr))
		}
		for _, inst := range launched {
			jobIDs := make([]string, choice.WorkersPerInstanceActual)
			for i := range jobIDs {
				jobIDs[i] = uuid.NewString()
			}
			runningJobs := make(map[string]v1alpha1.RunningJob, len(jobIDs))
			for _, id := range jobIDs {
				runningJobs[id] = v1alpha1.RunningJob{Allocated: resourcesPerWorker, AllocatedAt: now}
			}
			total := choice.InstanceType.Resources()
			available, _ := total.Subtract(resourcesPerWorker.Scale(len(jobIDs)))
			if regErr := a.Registry.Register(ctx, inst.PublicAddress, available, runningJobs, now); regErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("registering %s: %w", inst.PublicAddress, regErr))
				continue
			}
			result[inst.PublicAddress] = jobIDs
			placed += len(jobIDs)
			logger.Infow("launched instance", "address", inst.PublicAddress, "shape", choice.InstanceType.Name, "workers", len(jobIDs))
		}
	}

	shortfall := numWorkers - placed
	if shortfall > 0 {
		return result, shortfall, multierr.Append(errs, fmt.Errorf("placed %d of %d requested workers", placed, numWorkers))
	}
	return result, 0, nil
}
