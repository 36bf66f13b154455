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
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/grid"
)

var _ = Describe("TaskQueue", func() {
	var store *grid.MemStore
	var queue *grid.MemQueue
	var tq *grid.TaskQueue

	BeforeEach(func() {
		store = grid.NewMemStore()
		queue = grid.NewMemQueue()
		tq = grid.NewTaskQueue(store, queue, 3, time.Minute)
	})

	It("round-trips every task through submit, next, and complete", func() {
		args := [][]byte{[]byte("10"), []byte("20"), []byte("30")}
		handle, err := tq.Submit(ctx, "job-1", args)
		Expect(err).NotTo(HaveOccurred())
		Expect(handle.NumTasks).To(Equal(3))

		stop := make(chan struct{})
		exited := make(chan struct{})
		results := tq.ReceiveResults(ctx, handle, stop, exited)

		seen := map[int][]byte{}
		for i := 0; i < 3; i++ {
			msg, arg, ok, err := tq.NextTask(ctx, "job-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			seen[msg.TaskID] = arg
			Expect(tq.Complete(ctx, "job-1", msg, v1alpha1.ProcessState{State: v1alpha1.Succeeded})).To(Succeed())
		}
		Expect(seen).To(HaveLen(3))
		Expect(seen[0]).To(Equal([]byte("10")))
		Expect(seen[1]).To(Equal([]byte("20")))
		Expect(seen[2]).To(Equal([]byte("30")))

		close(exited)
		collected := map[int]bool{}
		for i := 0; i < 3; i++ {
			res := <-results
			collected[res.TaskID] = true
		}
		Expect(collected).To(HaveLen(3))
		close(stop)
	})

	It("resends an unsuccessful result as the next attempt below the retry ceiling", func() {
		handle, err := tq.Submit(ctx, "job-2", [][]byte{[]byte("x")})
		Expect(err).NotTo(HaveOccurred())
		Expect(handle.NumTasks).To(Equal(1))

		msg, _, ok, err := tq.NextTask(ctx, "job-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(msg.Attempt).To(Equal(0))
		Expect(tq.Complete(ctx, "job-2", msg, v1alpha1.ProcessState{State: v1alpha1.ErrorGettingState})).To(Succeed())

		msg2, _, ok, err := tq.NextTask(ctx, "job-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(msg2.Attempt).To(Equal(1))
	})

	It("writes a job-finished sentinel once every task reaches a final attempt", func() {
		handle, err := tq.Submit(ctx, "job-4", [][]byte{[]byte("a"), []byte("b")})
		Expect(err).NotTo(HaveOccurred())
		Expect(handle.NumTasks).To(Equal(2))

		msg1, _, _, err := tq.NextTask(ctx, "job-4")
		Expect(err).NotTo(HaveOccurred())
		Expect(tq.Complete(ctx, "job-4", msg1, v1alpha1.ProcessState{State: v1alpha1.Succeeded})).To(Succeed())

		_, err = store.Get(ctx, v1alpha1.FinishedKey("job-4"))
		Expect(err).To(HaveOccurred(), "sentinel should not exist until every task is final")

		msg2, _, _, err := tq.NextTask(ctx, "job-4")
		Expect(err).NotTo(HaveOccurred())
		Expect(tq.Complete(ctx, "job-4", msg2, v1alpha1.ProcessState{State: v1alpha1.Succeeded})).To(Succeed())

		data, err := store.Get(ctx, v1alpha1.FinishedKey("job-4"))
		Expect(err).NotTo(HaveOccurred())
		var finished v1alpha1.JobFinished
		Expect(json.Unmarshal(data, &finished)).To(Succeed())
		Expect(finished.FinishedAt).NotTo(BeZero())
	})

	It("fetches each task's own argument range via a ranged get", func() {
		args := [][]byte{[]byte("aa"), []byte("bbb")}
		_, err := tq.Submit(ctx, "job-3", args)
		Expect(err).NotTo(HaveOccurred())

		msg1, arg1, _, err := tq.NextTask(ctx, "job-3")
		Expect(err).NotTo(HaveOccurred())
		msg2, arg2, _, err := tq.NextTask(ctx, "job-3")
		Expect(err).NotTo(HaveOccurred())

		byTask := map[int][]byte{msg1.TaskID: arg1, msg2.TaskID: arg2}
		Expect(byTask[0]).To(Equal([]byte("aa")))
		Expect(byTask[1]).To(Equal([]byte("bbb")))
	})
})
