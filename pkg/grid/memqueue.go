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

package grid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemQueue is an in-memory MessageQueue that actually honors visibility
// timeouts, so tests can exercise the crashed-worker,
// message-reappears path without SQS.
type MemQueue struct {
	mu      sync.Mutex
	ready   []Message
	inFlight map[string]inFlightMsg // receipt handle -> message + deadline
}

type inFlightMsg struct {
	msg      Message
	deadline time.Time
}

func NewMemQueue() *MemQueue {
	return &MemQueue{inFlight: map[string]inFlightMsg{}}
}

var _ MessageQueue = (*MemQueue)(nil)

func (q *MemQueue) Send(_ context.Context, msg Message, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, msg)
	return nil
}

func (q *MemQueue) Receive(_ context.Context, maxMessages int, visibilityTimeout time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reapExpiredLocked()
	if visibilityTimeout <= 0 {
		visibilityTimeout = visibilityDefault
	}

	n := maxMessages
	if n > len(q.ready) {
		n = len(q.ready)
	}
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		m := q.ready[i]
		m.ReceiptHandle = uuid.NewString()
		q.inFlight[m.ReceiptHandle] = inFlightMsg{msg: m, deadline: time.Now().Add(visibilityTimeout)}
		out = append(out, m)
	}
	q.ready = q.ready[n:]
	return out, nil
}

func (q *MemQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inFlight[receiptHandle]; !ok {
		return fmt.Errorf("memqueue: unknown receipt handle %s", receiptHandle)
	}
	delete(q.inFlight, receiptHandle)
	return nil
}

// reapExpiredLocked moves messages whose visibility timeout elapsed
// back onto the ready queue, simulating SQS's automatic redelivery.
func (q *MemQueue) reapExpiredLocked() {
	now := time.Now()
	for handle, m := range q.inFlight {
		if now.After(m.deadline) {
			q.ready = append(q.ready, m.msg)
			delete(q.inFlight, handle)
		}
	}
}

const visibilityDefault = 5 * time.Minute
