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

var _ = Describe("StateCode", func() {
	DescribeTable("Terminal",
		func(s v1alpha1.StateCode, terminal bool) {
			Expect(s.Terminal()).To(Equal(terminal))
		},
		Entry("run requested", v1alpha1.RunRequested, false),
		Entry("running", v1alpha1.Running, false),
		Entry("unknown", v1alpha1.Unknown, false),
		Entry("succeeded", v1alpha1.Succeeded, true),
		Entry("run request failed", v1alpha1.RunRequestFailed, true),
		Entry("python exception", v1alpha1.PythonException, true),
		Entry("non-zero return code", v1alpha1.NonZeroReturnCode, true),
		Entry("resources not available", v1alpha1.ResourcesNotAvailable, true),
		Entry("error getting state", v1alpha1.ErrorGettingState, true),
	)
})

var _ = Describe("InstanceTypeChoice", func() {
	It("amortizes full-instance price across the workers it can host", func() {
		c := v1alpha1.InstanceTypeChoice{
			InstanceType:           v1alpha1.InstanceTypeInfo{PricePerHour: 2.0},
			WorkersPerInstanceFull: 4,
		}
		Expect(c.PricePerWorkerHour()).To(Equal(0.5))
	})

	It("falls back to the raw instance price when it hosts no full workers", func() {
		c := v1alpha1.InstanceTypeChoice{
			InstanceType: v1alpha1.InstanceTypeInfo{PricePerHour: 2.0},
		}
		Expect(c.PricePerWorkerHour()).To(Equal(2.0))
	})
})
