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

package scheduling

import (
	"errors"
	"fmt"
)

// ErrNoSuitableShape is surfaced when Phase B can't find any instance
// type meeting the interruption ceiling for the remaining workers.
var ErrNoSuitableShape = errors.New("scheduling: no suitable instance shape for remaining workers")

// ErrLaunchFailed wraps any error a cloud provider Launch call returned,
// whether or not some of the requested instances came up.
var ErrLaunchFailed = errors.New("scheduling: cloud launch failed")

// PartialAllocationError is returned when some but not all of
// num_workers could be placed, carrying the partial map so the caller
// can keep the progress made instead of discarding it.
type PartialAllocationError struct {
	Assigned map[string][]string
	Shortfall int
	Cause    error
}

func (e *PartialAllocationError) Error() string {
	return fmt.Sprintf("scheduling: partial allocation, %d worker(s) unplaced: %v", e.Shortfall, e.Cause)
}

func (e *PartialAllocationError) Unwrap() error { return e.Cause }
