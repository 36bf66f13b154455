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

// Package fake provides an in-memory cloudprovider.CloudProvider for
// tests: a configurable instance-type list plus a counter-based address
// generator instead of talking to EC2.
package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/cloudprovider"
)

// CloudProvider is a thread-safe in-memory stand-in for a real cloud.
type CloudProvider struct {
	mu            sync.Mutex
	instanceTypes []v1alpha1.InstanceTypeInfo
	launched      map[string]cloudprovider.LaunchedInstance
	seq           atomic.Int64

	// LaunchError, when non-nil, is returned by Launch after still
	// populating a short count of instances, letting tests exercise the
	// partial-success path.
	LaunchError     error
	LaunchShortfall int
}

// NewCloudProvider builds a fake seeded with the given catalog.
func NewCloudProvider(instanceTypes ...v1alpha1.InstanceTypeInfo) *CloudProvider {
	return &CloudProvider{
		instanceTypes: instanceTypes,
		launched:      map[string]cloudprovider.LaunchedInstance{},
	}
}

var _ cloudprovider.CloudProvider = (*CloudProvider)(nil)

func (c *CloudProvider) InstanceTypes(context.Context) ([]v1alpha1.InstanceTypeInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]v1alpha1.InstanceTypeInfo, len(c.instanceTypes))
	copy(out, c.instanceTypes)
	return out, nil
}

func (c *CloudProvider) Launch(_ context.Context, req cloudprovider.LaunchRequest) ([]cloudprovider.LaunchedInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := req.Count - c.LaunchShortfall
	if count < 0 {
		count = 0
	}
	var out []cloudprovider.LaunchedInstance
	for i := 0; i < count; i++ {
		addr := fmt.Sprintf("10.0.0.%d", c.seq.Add(1))
		li := cloudprovider.LaunchedInstance{PublicAddress: addr, InstanceType: req.InstanceType}
		c.launched[addr] = li
		out = append(out, li)
	}
	if c.LaunchError != nil {
		return out, c.LaunchError
	}
	return out, nil
}

func (c *CloudProvider) Terminate(_ context.Context, publicAddress string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.launched[publicAddress]; !ok {
		return fmt.Errorf("fake: no such instance %s", publicAddress)
	}
	delete(c.launched, publicAddress)
	return nil
}

// Launched returns every address the fake has launched and not yet
// terminated, for test assertions.
func (c *CloudProvider) Launched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.launched))
	for addr := range c.launched {
		out = append(out, addr)
	}
	return out
}
