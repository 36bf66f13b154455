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

var _ = Describe("NewJob", func() {
	It("fills in a fresh job id and friendly name when both are blank", func() {
		job := v1alpha1.NewJob(v1alpha1.Job{JobSpec: v1alpha1.PyCommand{Argv: []string{"true"}}})
		Expect(job.JobID).NotTo(BeEmpty())
		Expect(job.JobFriendlyName).NotTo(BeEmpty())
	})

	It("leaves an explicit id and name untouched", func() {
		job := v1alpha1.NewJob(v1alpha1.Job{JobID: "fixed-id", JobFriendlyName: "fixed-name"})
		Expect(job.JobID).To(Equal("fixed-id"))
		Expect(job.JobFriendlyName).To(Equal("fixed-name"))
	})
})
