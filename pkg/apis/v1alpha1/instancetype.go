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

// MarketType distinguishes on-demand from spot capacity.
type MarketType string

const (
	OnDemand MarketType = "ON_DEMAND"
	Spot     MarketType = "SPOT"
)

// InstanceTypeInfo is a catalog entry: one VM shape and its price.
type InstanceTypeInfo struct {
	Name                       string
	LogicalCPU                 int
	MemoryGB                   float64
	PricePerHour               float64
	InterruptionProbabilityPct float64
	Market                     MarketType
}

// Resources returns the total capacity of one instance of this shape.
func (i InstanceTypeInfo) Resources() Resources {
	return Resources{MemoryGB: i.MemoryGB, LogicalCPU: i.LogicalCPU}
}

// InstanceTypeChoice is one shape the Selector decided to buy, along with
// how many workers it will host.
type InstanceTypeChoice struct {
	InstanceType             InstanceTypeInfo
	WorkersPerInstanceFull   int
	WorkersPerInstanceActual int
}

// PricePerWorkerHour is the greedy-selection sort key: full-instance
// price amortized across the workers it can host.
func (c InstanceTypeChoice) PricePerWorkerHour() float64 {
	if c.WorkersPerInstanceFull == 0 {
		return c.InstanceType.PricePerHour
	}
	return c.InstanceType.PricePerHour / float64(c.WorkersPerInstanceFull)
}
