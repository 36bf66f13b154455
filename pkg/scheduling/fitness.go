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

package scheduling

import (
	"sort"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
)

// fitnessKey ranks one existing instance's suitability for hosting one
// more worker: instances that can't host even one worker
// sort last; among the rest, the tightest post-placement residual wins,
// so large holes are preserved for later, larger requests.
type fitnessKey struct {
	cannotHost     bool
	residual       float64 // combined, equally-weighted CPU+memory residual after one placement
	customResidual []float64
	address        string
}

func computeFitness(record v1alpha1.InstanceRecord, required v1alpha1.Resources) fitnessKey {
	if !record.AvailableResources.Dominates(required) {
		return fitnessKey{cannotHost: true, address: record.PublicAddress}
	}
	remaining, ok := record.AvailableResources.Subtract(required)
	if !ok {
		return fitnessKey{cannotHost: true, address: record.PublicAddress}
	}
	total := record.TotalResources()

	residual := 0.5*normalize(remaining.LogicalCPU, total.LogicalCPU) + 0.5*normalize(remaining.MemoryGB, total.MemoryGB)

	keys := total.CustomKeys()
	customResidual := make([]float64, len(keys))
	for i, k := range keys {
		customResidual[i] = normalizeF(remaining.Custom[k], total.Custom[k])
	}

	return fitnessKey{
		residual:       residual,
		customResidual: customResidual,
		address:        record.PublicAddress,
	}
}

func normalize[T int | float64](v T, total T) float64 {
	if total == 0 {
		return 0
	}
	return float64(v) / float64(total)
}

func normalizeF(v, total float64) float64 {
	if total == 0 {
		return 0
	}
	return v / total
}

// less orders fitness keys ascending by residual, then breaks ties
// deterministically by address so equally-scored records still sort
// the same way every time.
func (k fitnessKey) less(other fitnessKey) bool {
	if k.cannotHost != other.cannotHost {
		return !k.cannotHost
	}
	if k.residual != other.residual {
		return k.residual < other.residual
	}
	for i := 0; i < len(k.customResidual) && i < len(other.customResidual); i++ {
		if k.customResidual[i] != other.customResidual[i] {
			return k.customResidual[i] < other.customResidual[i]
		}
	}
	return k.address < other.address
}

// sortByFitness sorts records ascending by fitness key (tightest-fitting
// and hostable first).
func sortByFitness(records []v1alpha1.InstanceRecord, required v1alpha1.Resources) {
	keys := make(map[string]fitnessKey, len(records))
	for _, r := range records {
		keys[r.PublicAddress] = computeFitness(r, required)
	}
	sort.Slice(records, func(i, j int) bool {
		return keys[records[i].PublicAddress].less(keys[records[j].PublicAddress])
	})
}
