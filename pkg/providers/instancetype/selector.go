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

// Package instancetype implements the Instance-Type Selector: given a
// resource request per worker and a worker count, choose the
// near-minimal-cost set of cloud VM shapes that can host them without
// exceeding an interruption-probability ceiling.
package instancetype

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/cloudprovider"
)

// ErrNoSuitableShape is returned when the catalog, after filtering by
// resource fit and interruption ceiling, is empty.
var ErrNoSuitableShape = errors.New("instancetype: no shape satisfies the resource request and interruption ceiling")

// Catalog is a queryable snapshot of {shape -> price/interruption},
// refreshed by whatever backs it (static config, a periodic cloud poll).
// Keeping it as an interface separate from CloudProvider lets tests
// supply a fixed catalog without a fake cloud underneath.
type Catalog interface {
	InstanceTypes(ctx context.Context) ([]v1alpha1.InstanceTypeInfo, error)
}

// CloudCatalog adapts a cloudprovider.CloudProvider into a Catalog, the
// production wiring: the catalog is just "ask the cloud what's on offer
// right now."
type CloudCatalog struct {
	Cloud cloudprovider.CloudProvider
}

func (c CloudCatalog) InstanceTypes(ctx context.Context) ([]v1alpha1.InstanceTypeInfo, error) {
	return c.Cloud.InstanceTypes(ctx)
}

// StaticCatalog is a fixed snapshot, used by tests and by a
// periodic-refresh wrapper that swaps the slice out from under readers
// on a timer.
type StaticCatalog []v1alpha1.InstanceTypeInfo

func (s StaticCatalog) InstanceTypes(context.Context) ([]v1alpha1.InstanceTypeInfo, error) {
	return s, nil
}

// Selector implements Choose against a Catalog.
type Selector struct {
	Catalog Catalog
}

func NewSelector(catalog Catalog) *Selector {
	return &Selector{Catalog: catalog}
}

// Choose returns a set of InstanceTypeChoice covering exactly numWorkers
// workers via a greedy price-per-worker-hour algorithm: filter to shapes
// that individually fit the request and the interruption ceiling, sort
// by price-per-worker-hour ascending, pack full-price shapes until the
// remainder is smaller than one shape, then pick the cheapest shape
// whose full capacity still covers the remainder.
func (s *Selector) Choose(ctx context.Context, resourcesPerWorker v1alpha1.Resources, numWorkers int, interruptionCeilingPct float64) ([]v1alpha1.InstanceTypeChoice, error) {
	if numWorkers <= 0 {
		return nil, nil
	}
	catalog, err := s.Catalog.InstanceTypes(ctx)
	if err != nil {
		return nil, err
	}

	candidates := lo.Filter(catalog, func(it v1alpha1.InstanceTypeInfo, _ int) bool {
		return it.Resources().Dominates(resourcesPerWorker) && it.InterruptionProbabilityPct <= interruptionCeilingPct
	})
	if len(candidates) == 0 {
		return nil, ErrNoSuitableShape
	}

	choices := lo.Map(candidates, func(it v1alpha1.InstanceTypeInfo, _ int) v1alpha1.InstanceTypeChoice {
		full := workersPerInstanceFull(it, resourcesPerWorker)
		return v1alpha1.InstanceTypeChoice{InstanceType: it, WorkersPerInstanceFull: full, WorkersPerInstanceActual: full}
	})
	sort.Slice(choices, func(i, j int) bool { return less(choices[i], choices[j]) })

	var result []v1alpha1.InstanceTypeChoice
	remaining := numWorkers
	for _, c := range choices {
		if remaining <= c.WorkersPerInstanceFull {
			break
		}
		count := remaining / c.WorkersPerInstanceFull
		if count == 0 {
			continue
		}
		for i := 0; i < count; i++ {
			result = append(result, v1alpha1.InstanceTypeChoice{
				InstanceType:             c.InstanceType,
				WorkersPerInstanceFull:   c.WorkersPerInstanceFull,
				WorkersPerInstanceActual: c.WorkersPerInstanceFull,
			})
		}
		remaining -= count * c.WorkersPerInstanceFull
	}

	if remaining > 0 {
		last, ok := lastShape(choices, remaining)
		if !ok {
			return nil, ErrNoSuitableShape
		}
		last.WorkersPerInstanceActual = remaining
		result = append(result, last)
	}
	return result, nil
}

// workersPerInstanceFull is min(floor(cpu/req.cpu), floor(mem/req.mem)).
func workersPerInstanceFull(it v1alpha1.InstanceTypeInfo, req v1alpha1.Resources) int {
	if req.LogicalCPU <= 0 || req.MemoryGB <= 0 {
		return 1
	}
	byCPU := it.LogicalCPU / req.LogicalCPU
	byMem := int(math.Floor(it.MemoryGB / req.MemoryGB))
	full := byCPU
	if byMem < full {
		full = byMem
	}
	if full < 1 {
		return 0
	}
	return full
}

// lastShape picks, among shapes whose full capacity covers the
// remaining worker count, the one with the lowest hourly price (ties
// broken by less) -- which may differ from the bulk-cheapest shape when
// remaining is small, avoiding wasting a large instance on a single
// worker.
func lastShape(choices []v1alpha1.InstanceTypeChoice, remaining int) (v1alpha1.InstanceTypeChoice, bool) {
	var best v1alpha1.InstanceTypeChoice
	found := false
	for _, c := range choices {
		if c.WorkersPerInstanceFull < remaining {
			continue
		}
		if !found || c.InstanceType.PricePerHour < best.InstanceType.PricePerHour ||
			(c.InstanceType.PricePerHour == best.InstanceType.PricePerHour && less(c, best)) {
			best = c
			found = true
		}
	}
	return best, found
}

// less implements the spec's tie-break chain: price-per-worker-hour,
// then on-demand over spot, then lower absolute price, then lower
// interruption probability, then lexicographic name.
func less(a, b v1alpha1.InstanceTypeChoice) bool {
	pa, pb := a.PricePerWorkerHour(), b.PricePerWorkerHour()
	if pa != pb {
		return pa < pb
	}
	if (a.InstanceType.Market == v1alpha1.OnDemand) != (b.InstanceType.Market == v1alpha1.OnDemand) {
		return a.InstanceType.Market == v1alpha1.OnDemand
	}
	if a.InstanceType.PricePerHour != b.InstanceType.PricePerHour {
		return a.InstanceType.PricePerHour < b.InstanceType.PricePerHour
	}
	if a.InstanceType.InterruptionProbabilityPct != b.InstanceType.InterruptionProbabilityPct {
		return a.InstanceType.InterruptionProbabilityPct < b.InstanceType.InterruptionProbabilityPct
	}
	return a.InstanceType.Name < b.InstanceType.Name
}
