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

package dispatch_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/dispatch"
)

var _ = Describe("Dispatcher", func() {
	It("sends the job and returns the reported state on the first try", func() {
		transport := dispatch.NewFakeTransport()
		transport.Reply("10.0.2.1", v1alpha1.ProcessState{State: v1alpha1.RunRequested, Pid: 42})
		d := dispatch.New(transport, dispatch.Options{ConnectBaseDelay: time.Millisecond})

		job := v1alpha1.Job{JobID: "job-1"}
		state, err := d.Send(ctx, "10.0.2.1", job)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.State).To(Equal(v1alpha1.RunRequested))
		Expect(state.Pid).To(Equal(42))
		Expect(transport.Sent).To(HaveLen(1))
		Expect(transport.Sent[0].JobID).To(Equal("job-1"))
	})

	It("retries a failed connect with backoff before succeeding", func() {
		transport := dispatch.NewFakeTransport()
		transport.FailAddresses["10.0.2.2"] = 2
		d := dispatch.New(transport, dispatch.Options{ConnectRetries: 5, ConnectBaseDelay: time.Millisecond})

		state, err := d.Send(ctx, "10.0.2.2", v1alpha1.Job{JobID: "job-2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.State).To(Equal(v1alpha1.RunRequested))
	})

	It("gives up and reports RUN_REQUEST_FAILED after exhausting connect attempts", func() {
		transport := dispatch.NewFakeTransport()
		transport.FailAddresses["10.0.2.3"] = 10
		d := dispatch.New(transport, dispatch.Options{ConnectRetries: 2, ConnectBaseDelay: time.Millisecond})

		state, err := d.Send(ctx, "10.0.2.3", v1alpha1.Job{JobID: "job-3"})
		Expect(err).To(HaveOccurred())
		Expect(state.State).To(Equal(v1alpha1.RunRequestFailed))
	})
})
