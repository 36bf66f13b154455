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

package grid_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meadowrun/meadowrun/pkg/grid"
)

var _ = Describe("MemQueue", func() {
	It("redelivers a message whose visibility timeout expired without being deleted", func() {
		q := grid.NewMemQueue()
		Expect(q.Send(ctx, grid.Message{TaskID: 1}, time.Millisecond)).To(Succeed())

		first, err := q.Receive(ctx, 1, 10*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(HaveLen(1))

		empty, err := q.Receive(ctx, 1, 10*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(empty).To(BeEmpty())

		time.Sleep(20 * time.Millisecond)
		redelivered, err := q.Receive(ctx, 1, 10*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(redelivered).To(HaveLen(1))
		Expect(redelivered[0].TaskID).To(Equal(1))
	})

	It("does not redeliver a message deleted before its timeout", func() {
		q := grid.NewMemQueue()
		Expect(q.Send(ctx, grid.Message{TaskID: 2}, time.Minute)).To(Succeed())

		msgs, err := q.Receive(ctx, 1, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Delete(ctx, msgs[0].ReceiptHandle)).To(Succeed())

		err = q.Delete(ctx, msgs[0].ReceiptHandle)
		Expect(err).To(HaveOccurred())
	})
})
