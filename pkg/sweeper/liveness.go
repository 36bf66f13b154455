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

package sweeper

import (
	"context"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
)

// LivenessChecker reads the host-side liveness file the local runner
// writes for a job: either the job's terminal ProcessState if it
// finished, or a report of whether its PID is still alive. Production
// wiring is an SSH/SFTP read against the host; it's a separate seam
// from pkg/dispatch's Job-send transport because the sweeper never
// needs a connected session, only a one-shot read.
type LivenessChecker interface {
	// Check looks up job_id's liveness record on address. found is false
	// if no liveness file has ever been written for the job (the
	// client-crashed-between-allocate-and-dispatch case). state is the
	// terminal ProcessState if one was reported; alive is whether the
	// runner believes the job's PID is still running.
	Check(ctx context.Context, address, jobID string) (state v1alpha1.ProcessState, found, alive bool, err error)
}
