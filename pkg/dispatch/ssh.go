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

// Package dispatch implements the SSH transport seam: the Dispatcher
// sends a Job message to a chosen host and gets back a ProcessState. The
// transport itself (an SSH connection and whatever remote agent decodes
// the message) is an external collaborator; this package only defines
// the interface and retries connecting to it.
package dispatch

import (
	"context"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
)

// Session is one connected transport to a host. Dispatcher.Send obtains
// one via Transport.Connect, uses it once, and closes it.
type Session interface {
	// SendJob delivers job and returns the ProcessState the remote side
	// reports once the run has been accepted. A session
	// reports RUN_REQUESTED or RUN_REQUEST_FAILED synchronously; later
	// states arrive via the liveness file pkg/sweeper reads, not this
	// call.
	SendJob(ctx context.Context, job v1alpha1.Job) (v1alpha1.ProcessState, error)
	Close() error
}

// Transport opens a Session to a host. The production implementation
// wraps an SSH client; tests use an in-memory fake.
type Transport interface {
	Connect(ctx context.Context, address string) (Session, error)
}
