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

// Package cloudprovider is the boundary to the cloud SDK: creating VMs,
// reading pricing, and terminating instances are external collaborators
// described only through the interface the core consumes. One interface,
// one fake for tests, and (pkg/cloudprovider/aws) one real implementation
// wired to the AWS SDK v2.
package cloudprovider

import (
	"context"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
)

// AllocatedTag is the fixed tag every VM the allocator launches carries,
// so the sweeper can enumerate only instances it owns.
const AllocatedTag = "meadowrun_allocated=true"

// LaunchRequest describes a batch of identical instances to launch.
type LaunchRequest struct {
	InstanceType  v1alpha1.InstanceTypeInfo
	Count         int
	SecurityGroup string
	IAMRole       string
	KeyPairName   string
	Tags          map[string]string
}

// LaunchedInstance is one VM that came up far enough to have a reachable
// address.
type LaunchedInstance struct {
	PublicAddress string
	InstanceType  v1alpha1.InstanceTypeInfo
}

// CloudProvider is the seam between the Allocator/Catalog and a real
// cloud SDK. Implementations must tolerate partial success: Launch may
// return fewer instances than requested plus a non-nil error, so the
// caller can register whatever instances did come up.
type CloudProvider interface {
	// InstanceTypes returns the current catalog snapshot: shape, price,
	// interruption probability.
	InstanceTypes(ctx context.Context) ([]v1alpha1.InstanceTypeInfo, error)

	// Launch requests req.Count instances of req.InstanceType and waits
	// for each to report a reachable address. A partial slice plus a
	// non-nil error means some instances came up and some didn't.
	Launch(ctx context.Context, req LaunchRequest) ([]LaunchedInstance, error)

	// Terminate shuts down the instance at the given address.
	Terminate(ctx context.Context, publicAddress string) error
}
