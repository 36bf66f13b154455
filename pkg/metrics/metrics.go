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

// Package metrics registers the allocator's Prometheus instrumentation
// (labelled CounterVecs for the allocator and sweeper, a plain Counter
// and Gauge for the registry) against the default registerer at
// package init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "meadowrun"

var (
	// AllocationsTotal counts allocate() outcomes by result: "reused",
	// "launched", "partial", "no_suitable_shape".
	AllocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "allocations_total",
		Help:      "Count of allocate() calls by outcome.",
	}, []string{"outcome"})

	// RegistryConflictsTotal counts optimistic-concurrency CAS failures
	// observed by the Allocator during Phase A.
	RegistryConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "conflicts_total",
		Help:      "Count of Allocate() conditional-write conflicts.",
	})

	// InstancesSwept counts sweeper actions by kind: "job_reclaimed",
	// "phantom_reclaimed", "instance_retired", "grid_blobs_reclaimed".
	InstancesSwept = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "actions_total",
		Help:      "Count of sweeper reconciliation actions by kind.",
	}, []string{"kind"})

	// LiveInstances tracks the current pool size as observed on the last
	// scan.
	LiveInstances = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "live_instances",
		Help:      "Number of InstanceRecords returned by the last Scan().",
	})
)

func init() {
	prometheus.MustRegister(AllocationsTotal, RegistryConflictsTotal, InstancesSwept, LiveInstances)
}
