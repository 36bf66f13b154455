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

package v1alpha1

import "time"

// RunningJob is one entry in InstanceRecord.RunningJobs.
type RunningJob struct {
	Allocated   Resources `json:"allocated"`
	AllocatedAt time.Time `json:"allocated_time"`
}

// InstanceRecord is one row of the Allocation Registry: everything known
// about a live VM. public_address is the primary key.
type InstanceRecord struct {
	PublicAddress            string                `json:"public_address"`
	AvailableResources       Resources             `json:"available_resources"`
	RunningJobs              map[string]RunningJob `json:"running_jobs"`
	LastUpdateTime           time.Time             `json:"last_update_time"`
	PreventFurtherAllocation bool                  `json:"prevent_further_allocation"`
	InstanceType             string                `json:"instance_type,omitempty"`
}

// TotalResources recomputes an instance's total capacity from the
// records it keeps: available + sum(running_jobs.allocated) == total.
func (r InstanceRecord) TotalResources() Resources {
	total := r.AvailableResources
	for _, j := range r.RunningJobs {
		total = total.Add(j.Allocated)
	}
	return total
}

// Clone deep-copies a record so callers can mutate a working copy without
// corrupting what's stored in the registry.
func (r InstanceRecord) Clone() InstanceRecord {
	jobs := make(map[string]RunningJob, len(r.RunningJobs))
	for k, v := range r.RunningJobs {
		jobs[k] = v
	}
	custom := make(map[string]float64, len(r.AvailableResources.Custom))
	for k, v := range r.AvailableResources.Custom {
		custom[k] = v
	}
	avail := r.AvailableResources
	avail.Custom = custom
	return InstanceRecord{
		PublicAddress:            r.PublicAddress,
		AvailableResources:       avail,
		RunningJobs:              jobs,
		LastUpdateTime:           r.LastUpdateTime,
		PreventFurtherAllocation: r.PreventFurtherAllocation,
		InstanceType:             r.InstanceType,
	}
}

// JobAssignment is the transient result the Allocator hands to the
// Dispatcher: one job, one host. It has no persistent existence of its
// own -- the registry's running_jobs entry is the durable record.
type JobAssignment struct {
	InstanceAddress string
	JobID           string
}
