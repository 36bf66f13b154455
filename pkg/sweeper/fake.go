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
	"sync"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
)

// FakeLiveness is an in-memory LivenessChecker for tests: callers set
// records directly rather than writing an actual liveness file.
type FakeLiveness struct {
	mu      sync.Mutex
	records map[string]fakeRecord // key: address+"/"+jobID
}

type fakeRecord struct {
	state v1alpha1.ProcessState
	alive bool
}

func NewFakeLiveness() *FakeLiveness {
	return &FakeLiveness{records: map[string]fakeRecord{}}
}

func (f *FakeLiveness) SetAlive(address, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[address+"/"+jobID] = fakeRecord{alive: true}
}

func (f *FakeLiveness) SetTerminal(address, jobID string, state v1alpha1.ProcessState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[address+"/"+jobID] = fakeRecord{state: state, alive: false}
}

func (f *FakeLiveness) SetDead(address, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[address+"/"+jobID] = fakeRecord{alive: false}
}

var _ LivenessChecker = (*FakeLiveness)(nil)

func (f *FakeLiveness) Check(_ context.Context, address, jobID string) (v1alpha1.ProcessState, bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[address+"/"+jobID]
	if !ok {
		return v1alpha1.ProcessState{}, false, false, nil
	}
	return rec.state, true, rec.alive, nil
}
