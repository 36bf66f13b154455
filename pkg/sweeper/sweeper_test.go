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

package sweeper_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/cloudprovider"
	fakecloud "github.com/meadowrun/meadowrun/pkg/cloudprovider/fake"
	"github.com/meadowrun/meadowrun/pkg/grid"
	"github.com/meadowrun/meadowrun/pkg/registry"
	"github.com/meadowrun/meadowrun/pkg/sweeper"
)

var _ = Describe("Sweeper", func() {
	var reg *registry.Store
	var cloud *fakecloud.CloudProvider
	var liveness *sweeper.FakeLiveness

	BeforeEach(func() {
		reg = registry.NewStore()
		cloud = fakecloud.NewCloudProvider()
		liveness = sweeper.NewFakeLiveness()
	})

	It("reclaims a job whose liveness file reports a terminal state", func() {
		now := time.Now()
		res := v1alpha1.Resources{MemoryGB: 8, LogicalCPU: 4}
		Expect(reg.Register(ctx, "10.0.3.1", res, nil, now)).To(Succeed())
		perJob := v1alpha1.Resources{MemoryGB: 2, LogicalCPU: 1}
		Expect(reg.Allocate(ctx, "10.0.3.1", perJob, []string{"job-1"}, now)).To(Succeed())
		liveness.SetTerminal("10.0.3.1", "job-1", v1alpha1.ProcessState{State: v1alpha1.Succeeded})

		s := sweeper.New(reg, cloud, liveness, sweeper.Options{Now: func() time.Time { return now }})
		Expect(s.RunOnce(ctx)).To(Succeed())

		records, _ := reg.Scan(ctx)
		Expect(records[0].RunningJobs).To(BeEmpty())
		Expect(records[0].AvailableResources).To(Equal(res))
	})

	It("reclaims a phantom allocation with no liveness record after the launch grace period", func() {
		now := time.Now()
		res := v1alpha1.Resources{MemoryGB: 8, LogicalCPU: 4}
		Expect(reg.Register(ctx, "10.0.3.2", res, nil, now.Add(-10*time.Minute))).To(Succeed())
		perJob := v1alpha1.Resources{MemoryGB: 2, LogicalCPU: 1}
		Expect(reg.Allocate(ctx, "10.0.3.2", perJob, []string{"job-2"}, now.Add(-10*time.Minute))).To(Succeed())

		s := sweeper.New(reg, cloud, liveness, sweeper.Options{
			ClientLaunchGrace: 5 * time.Minute,
			Now:               func() time.Time { return now },
		})
		Expect(s.RunOnce(ctx)).To(Succeed())

		records, _ := reg.Scan(ctx)
		Expect(records[0].RunningJobs).To(BeEmpty())
		Expect(records[0].AvailableResources).To(Equal(res))
	})

	It("leaves a fresh allocation with no liveness record alone", func() {
		now := time.Now()
		res := v1alpha1.Resources{MemoryGB: 8, LogicalCPU: 4}
		Expect(reg.Register(ctx, "10.0.3.3", res, nil, now)).To(Succeed())
		perJob := v1alpha1.Resources{MemoryGB: 2, LogicalCPU: 1}
		Expect(reg.Allocate(ctx, "10.0.3.3", perJob, []string{"job-3"}, now)).To(Succeed())

		s := sweeper.New(reg, cloud, liveness, sweeper.Options{
			ClientLaunchGrace: 5 * time.Minute,
			Now:               func() time.Time { return now },
		})
		Expect(s.RunOnce(ctx)).To(Succeed())

		records, _ := reg.Scan(ctx)
		Expect(records[0].RunningJobs).To(HaveKey("job-3"))
	})

	It("retires an idle instance: marks it, terminates it, and deletes its record", func() {
		now := time.Now()
		res := v1alpha1.Resources{MemoryGB: 8, LogicalCPU: 4}
		launched, err := cloud.Launch(ctx, cloudprovider.LaunchRequest{
			InstanceType: v1alpha1.InstanceTypeInfo{Name: "small", LogicalCPU: 4, MemoryGB: 8},
			Count:        1,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(launched).To(HaveLen(1))
		addr := launched[0].PublicAddress
		Expect(reg.Register(ctx, addr, res, nil, now.Add(-10*time.Minute))).To(Succeed())

		s := sweeper.New(reg, cloud, liveness, sweeper.Options{
			IdleShutdownGrace: 5 * time.Minute,
			Now:               func() time.Time { return now },
		})
		Expect(s.RunOnce(ctx)).To(Succeed())

		records, _ := reg.Scan(ctx)
		found := false
		for _, r := range records {
			if r.PublicAddress == addr {
				found = true
			}
		}
		Expect(found).To(BeFalse())
		Expect(cloud.Launched()).To(BeEmpty())
	})

	It("does not retire an instance with running jobs", func() {
		now := time.Now()
		res := v1alpha1.Resources{MemoryGB: 8, LogicalCPU: 4}
		Expect(reg.Register(ctx, "10.0.3.4", res, nil, now.Add(-10*time.Minute))).To(Succeed())
		perJob := v1alpha1.Resources{MemoryGB: 2, LogicalCPU: 1}
		Expect(reg.Allocate(ctx, "10.0.3.4", perJob, []string{"job-4"}, now)).To(Succeed())
		liveness.SetAlive("10.0.3.4", "job-4")

		s := sweeper.New(reg, cloud, liveness, sweeper.Options{
			IdleShutdownGrace: 5 * time.Minute,
			Now:               func() time.Time { return now },
		})
		Expect(s.RunOnce(ctx)).To(Succeed())

		records, _ := reg.Scan(ctx)
		Expect(records).To(HaveLen(1))
		Expect(records[0].RunningJobs).To(HaveKey("job-4"))
	})

	It("reclaims a finished grid job's blobs once the retention window has passed", func() {
		now := time.Now()
		store := grid.NewMemStore()
		Expect(store.Put(ctx, v1alpha1.ArgsKey("grid-job-1"), []byte("args"))).To(Succeed())
		Expect(store.Put(ctx, v1alpha1.ResultKey("grid-job-1", 0, 0), []byte("result"))).To(Succeed())
		finished, err := json.Marshal(v1alpha1.JobFinished{FinishedAt: now.Add(-2 * time.Hour)})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Put(ctx, v1alpha1.FinishedKey("grid-job-1"), finished)).To(Succeed())

		s := sweeper.New(reg, cloud, liveness, sweeper.Options{
			ResultRetentionWindow: time.Hour,
			Now:                   func() time.Time { return now },
		})
		s.Store = store
		Expect(s.RunOnce(ctx)).To(Succeed())

		_, err = store.Get(ctx, v1alpha1.ArgsKey("grid-job-1"))
		Expect(err).To(HaveOccurred())
		_, err = store.Get(ctx, v1alpha1.ResultKey("grid-job-1", 0, 0))
		Expect(err).To(HaveOccurred())
		_, err = store.Get(ctx, v1alpha1.FinishedKey("grid-job-1"))
		Expect(err).To(HaveOccurred())
	})

	It("leaves a finished grid job's blobs alone before the retention window elapses", func() {
		now := time.Now()
		store := grid.NewMemStore()
		Expect(store.Put(ctx, v1alpha1.ArgsKey("grid-job-2"), []byte("args"))).To(Succeed())
		finished, err := json.Marshal(v1alpha1.JobFinished{FinishedAt: now.Add(-1 * time.Minute)})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Put(ctx, v1alpha1.FinishedKey("grid-job-2"), finished)).To(Succeed())

		s := sweeper.New(reg, cloud, liveness, sweeper.Options{
			ResultRetentionWindow: time.Hour,
			Now:                   func() time.Time { return now },
		})
		s.Store = store
		Expect(s.RunOnce(ctx)).To(Succeed())

		_, err = store.Get(ctx, v1alpha1.ArgsKey("grid-job-2"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("leaves an unfinished grid job's blobs alone", func() {
		now := time.Now()
		store := grid.NewMemStore()
		Expect(store.Put(ctx, v1alpha1.ArgsKey("grid-job-3"), []byte("args"))).To(Succeed())

		s := sweeper.New(reg, cloud, liveness, sweeper.Options{
			ResultRetentionWindow: time.Hour,
			Now:                   func() time.Time { return now },
		})
		s.Store = store
		Expect(s.RunOnce(ctx)).To(Succeed())

		_, err := store.Get(ctx, v1alpha1.ArgsKey("grid-job-3"))
		Expect(err).NotTo(HaveOccurred())
	})
})
