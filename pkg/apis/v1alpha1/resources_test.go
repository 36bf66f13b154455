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

package v1alpha1_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
)

var _ = Describe("Resources", func() {
	It("subtracts componentwise and reports underflow instead of going negative", func() {
		r := v1alpha1.Resources{MemoryGB: 8, LogicalCPU: 4, Custom: map[string]float64{"gpu": 2}}
		remaining, ok := r.Subtract(v1alpha1.Resources{MemoryGB: 2, LogicalCPU: 1, Custom: map[string]float64{"gpu": 1}})
		Expect(ok).To(BeTrue())
		Expect(remaining.MemoryGB).To(Equal(6.0))
		Expect(remaining.LogicalCPU).To(Equal(3))
		Expect(remaining.Custom["gpu"]).To(Equal(1.0))

		_, ok = r.Subtract(v1alpha1.Resources{MemoryGB: 100})
		Expect(ok).To(BeFalse())
	})

	It("round-trips through subtract then add", func() {
		r := v1alpha1.Resources{MemoryGB: 8, LogicalCPU: 4}
		job := v1alpha1.Resources{MemoryGB: 2, LogicalCPU: 1}
		remaining, ok := r.Subtract(job)
		Expect(ok).To(BeTrue())
		restored := remaining.Add(job)
		Expect(restored).To(Equal(r))
	})

	It("dominates only when every component, including custom ones, is sufficient", func() {
		r := v1alpha1.Resources{MemoryGB: 8, LogicalCPU: 4, Custom: map[string]float64{"gpu": 1}}
		Expect(r.Dominates(v1alpha1.Resources{MemoryGB: 8, LogicalCPU: 4, Custom: map[string]float64{"gpu": 1}})).To(BeTrue())
		Expect(r.Dominates(v1alpha1.Resources{MemoryGB: 9})).To(BeFalse())
		Expect(r.Dominates(v1alpha1.Resources{Custom: map[string]float64{"gpu": 2}})).To(BeFalse())
	})

	It("scales every component by n", func() {
		r := v1alpha1.Resources{MemoryGB: 2, LogicalCPU: 1, Custom: map[string]float64{"gpu": 1}}
		scaled := r.Scale(3)
		Expect(scaled.MemoryGB).To(Equal(6.0))
		Expect(scaled.LogicalCPU).To(Equal(3))
		Expect(scaled.Custom["gpu"]).To(Equal(3.0))
	})
})

var _ = Describe("InstanceRecord", func() {
	It("computes total resources as available plus every running job's allocation", func() {
		rec := v1alpha1.InstanceRecord{
			AvailableResources: v1alpha1.Resources{MemoryGB: 4, LogicalCPU: 2},
			RunningJobs: map[string]v1alpha1.RunningJob{
				"job-1": {Allocated: v1alpha1.Resources{MemoryGB: 2, LogicalCPU: 1}},
				"job-2": {Allocated: v1alpha1.Resources{MemoryGB: 2, LogicalCPU: 1}},
			},
		}
		total := rec.TotalResources()
		Expect(total.MemoryGB).To(Equal(8.0))
		Expect(total.LogicalCPU).To(Equal(4))
	})

	It("clones without sharing the running-jobs map or custom resources", func() {
		rec := v1alpha1.InstanceRecord{
			AvailableResources: v1alpha1.Resources{Custom: map[string]float64{"gpu": 1}},
			RunningJobs:        map[string]v1alpha1.RunningJob{"job-1": {}},
		}
		clone := rec.Clone()
		clone.RunningJobs["job-2"] = v1alpha1.RunningJob{}
		clone.AvailableResources.Custom["gpu"] = 5

		Expect(rec.RunningJobs).To(HaveLen(1))
		Expect(rec.AvailableResources.Custom["gpu"]).To(Equal(1.0))
	})
})

var _ = Describe("Task result keys", func() {
	It("zero-pads task_id and attempt so lexical order matches numeric order", func() {
		Expect(v1alpha1.ResultKey("job", 1, 0) < v1alpha1.ResultKey("job", 2, 0)).To(BeTrue())
		Expect(v1alpha1.ResultKey("job", 9, 0) < v1alpha1.ResultKey("job", 10, 0)).To(BeTrue())
		Expect(v1alpha1.ResultKey("job", 1, 1) < v1alpha1.ResultKey("job", 1, 2)).To(BeTrue())
	})

	It("prefixes every result key under a job with the result prefix", func() {
		key := v1alpha1.ResultKey("job-xyz", 3, 0)
		Expect(key).To(HavePrefix(v1alpha1.ResultPrefix("job-xyz")))
	})
})
