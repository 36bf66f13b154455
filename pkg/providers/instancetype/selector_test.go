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

package instancetype_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/providers/instancetype"
)

var catalog = instancetype.StaticCatalog{
	{Name: "small", LogicalCPU: 2, MemoryGB: 8, PricePerHour: 0.10, InterruptionProbabilityPct: 5, Market: v1alpha1.OnDemand},
	{Name: "large", LogicalCPU: 8, MemoryGB: 32, PricePerHour: 0.32, InterruptionProbabilityPct: 5, Market: v1alpha1.OnDemand},
	{Name: "spot-cheap", LogicalCPU: 8, MemoryGB: 32, PricePerHour: 0.12, InterruptionProbabilityPct: 90, Market: v1alpha1.Spot},
}

var _ = Describe("Selector", func() {
	var selector *instancetype.Selector

	BeforeEach(func() {
		selector = instancetype.NewSelector(catalog)
	})

	It("packs full-price shapes then picks the cheapest shape covering the remainder", func() {
		// "large" hosts 4 workers of (cpu:2,mem:8) at 0.08/worker-hr; "small" hosts 1 at 0.10/worker-hr.
		choices, err := selector.Choose(ctx, v1alpha1.Resources{LogicalCPU: 2, MemoryGB: 8}, 5, 80)
		Expect(err).NotTo(HaveOccurred())

		total := 0
		for _, c := range choices {
			total += c.WorkersPerInstanceActual
		}
		Expect(total).To(Equal(5))
		Expect(choices[0].InstanceType.Name).To(Equal("large"))
	})

	It("excludes shapes above the interruption ceiling", func() {
		choices, err := selector.Choose(ctx, v1alpha1.Resources{LogicalCPU: 8, MemoryGB: 32}, 1, 50)
		Expect(err).NotTo(HaveOccurred())
		for _, c := range choices {
			Expect(c.InstanceType.Name).NotTo(Equal("spot-cheap"))
		}
	})

	It("returns ErrNoSuitableShape when nothing fits", func() {
		_, err := selector.Choose(ctx, v1alpha1.Resources{LogicalCPU: 64, MemoryGB: 512}, 1, 80)
		Expect(err).To(MatchError(instancetype.ErrNoSuitableShape))
	})

	It("prefers on-demand over equally priced spot at equal price-per-worker-hour in the tie-break chain", func() {
		tied := instancetype.StaticCatalog{
			{Name: "od", LogicalCPU: 4, MemoryGB: 16, PricePerHour: 0.20, InterruptionProbabilityPct: 5, Market: v1alpha1.OnDemand},
			{Name: "sp", LogicalCPU: 4, MemoryGB: 16, PricePerHour: 0.20, InterruptionProbabilityPct: 50, Market: v1alpha1.Spot},
		}
		s := instancetype.NewSelector(tied)
		choices, err := s.Choose(ctx, v1alpha1.Resources{LogicalCPU: 4, MemoryGB: 16}, 1, 80)
		Expect(err).NotTo(HaveOccurred())
		Expect(choices[0].InstanceType.Name).To(Equal("od"))
	})
})
