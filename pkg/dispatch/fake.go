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

package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
)

// FakeTransport is an in-memory Transport for tests: Connect succeeds
// unless address is in FailAddresses, and SendJob replays whatever
// ProcessState was queued for it with Reply.
type FakeTransport struct {
	mu            sync.Mutex
	FailAddresses map[string]int // address -> remaining Connect failures
	replies       map[string]v1alpha1.ProcessState
	Sent          []v1alpha1.Job
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{FailAddresses: map[string]int{}, replies: map[string]v1alpha1.ProcessState{}}
}

func (f *FakeTransport) Reply(address string, state v1alpha1.ProcessState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[address] = state
}

var _ Transport = (*FakeTransport)(nil)

func (f *FakeTransport) Connect(_ context.Context, address string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if remaining := f.FailAddresses[address]; remaining > 0 {
		f.FailAddresses[address] = remaining - 1
		return nil, fmt.Errorf("fake: connection refused to %s", address)
	}
	return &fakeSession{transport: f, address: address}, nil
}

type fakeSession struct {
	transport *FakeTransport
	address   string
}

func (s *fakeSession) SendJob(_ context.Context, job v1alpha1.Job) (v1alpha1.ProcessState, error) {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	s.transport.Sent = append(s.transport.Sent, job)
	if reply, ok := s.transport.replies[s.address]; ok {
		return reply, nil
	}
	return v1alpha1.ProcessState{State: v1alpha1.RunRequested}, nil
}

func (s *fakeSession) Close() error { return nil }
