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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/log"
)

// JobHandle is what Submit hands back: enough to find the job's
// argument blob and result prefix again without re-threading the job ID
// through every caller.
type JobHandle struct {
	JobID    string
	NumTasks int
}

// TaskQueue ties an ObjectStore and a MessageQueue together into four
// operations: submit a job's tasks, hand the next one to a worker,
// record its completion, and stream results back as they land.
type TaskQueue struct {
	Store ObjectStore
	Queue MessageQueue

	// RetryCeiling bounds how many attempts a task gets before its last
	// ProcessState is surfaced as final, rather than resent.
	RetryCeiling int

	// VisibilityTimeout is V: how long a received message stays hidden
	// before it would reappear if never deleted.
	VisibilityTimeout time.Duration

	// PollBaseDelay/PollMaxDelay bound ReceiveResults's exponential
	// backoff while polling the object store for new result keys.
	PollBaseDelay time.Duration
	PollMaxDelay  time.Duration

	// Now lets tests pin the clock stamped into a job's finished-sentinel
	// object; defaults to time.Now.
	Now func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobCompletion
}

// jobCompletion tracks how many of a job's tasks have reached a final
// attempt (succeeded, or out of retries), so Complete can tell when a
// job has ended without a separate job registry.
type jobCompletion struct {
	total int
	done  map[int]bool
}

func NewTaskQueue(store ObjectStore, queue MessageQueue, retryCeiling int, visibilityTimeout time.Duration) *TaskQueue {
	return &TaskQueue{
		Store:             store,
		Queue:             queue,
		RetryCeiling:      retryCeiling,
		VisibilityTimeout: visibilityTimeout,
		PollBaseDelay:     100 * time.Millisecond,
		PollMaxDelay:      20 * time.Second,
		jobs:              map[string]*jobCompletion{},
	}
}

func (q *TaskQueue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// Submit writes every task's argument bytes into one contiguous
// task-args/{job_id} blob, records each task's (from, to) range, and
// enqueues a request-queue message per task at attempt 0.
func (q *TaskQueue) Submit(ctx context.Context, jobID string, args [][]byte) (JobHandle, error) {
	var blob bytes.Buffer
	ranges := make([]v1alpha1.ArgRange, len(args))
	for i, a := range args {
		from := int64(blob.Len())
		blob.Write(a)
		ranges[i] = v1alpha1.ArgRange{From: from, To: int64(blob.Len())}
	}
	if err := q.Store.Put(ctx, v1alpha1.ArgsKey(jobID), blob.Bytes()); err != nil {
		return JobHandle{}, fmt.Errorf("writing task-args blob for %s: %w", jobID, err)
	}

	q.mu.Lock()
	q.jobs[jobID] = &jobCompletion{total: len(args), done: map[int]bool{}}
	q.mu.Unlock()

	for taskID, r := range ranges {
		msg := Message{TaskID: taskID, Attempt: 0, ArgFrom: r.From, ArgTo: r.To}
		if err := q.Queue.Send(ctx, msg, q.VisibilityTimeout); err != nil {
			return JobHandle{}, fmt.Errorf("enqueueing task %d for %s: %w", taskID, jobID, err)
		}
	}
	return JobHandle{JobID: jobID, NumTasks: len(args)}, nil
}

// NextTask receives one message from the request queue and fetches its
// argument via a ranged GET against the shared blob, so a worker never
// needs to know about any other task's argument.
func (q *TaskQueue) NextTask(ctx context.Context, jobID string) (Message, []byte, bool, error) {
	msgs, err := q.Queue.Receive(ctx, 1, q.VisibilityTimeout)
	if err != nil {
		return Message{}, nil, false, fmt.Errorf("receiving task message: %w", err)
	}
	if len(msgs) == 0 {
		return Message{}, nil, false, nil
	}
	msg := msgs[0]
	arg, err := q.Store.GetRange(ctx, v1alpha1.ArgsKey(jobID), msg.ArgFrom, msg.ArgTo)
	if err != nil {
		return Message{}, nil, false, fmt.Errorf("fetching argument for task %d: %w", msg.TaskID, err)
	}
	return msg, arg, true, nil
}

// Complete writes the task's result object and deletes its request
// message. Any result other than SUCCEEDED below the retry ceiling is
// resent as the next attempt instead of being treated as final.
func (q *TaskQueue) Complete(ctx context.Context, jobID string, msg Message, state v1alpha1.ProcessState) error {
	encoded, err := json.Marshal(v1alpha1.TaskResult{TaskID: msg.TaskID, Attempt: msg.Attempt, ProcessState: state})
	if err != nil {
		return fmt.Errorf("encoding result for task %d: %w", msg.TaskID, err)
	}
	key := v1alpha1.ResultKey(jobID, msg.TaskID, msg.Attempt)
	if err := q.Store.Put(ctx, key, encoded); err != nil {
		return fmt.Errorf("writing result %s: %w", key, err)
	}
	if err := q.Queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		return fmt.Errorf("deleting message for task %d: %w", msg.TaskID, err)
	}

	if state.State != v1alpha1.Succeeded && msg.Attempt+1 < q.RetryCeiling {
		retry := Message{TaskID: msg.TaskID, Attempt: msg.Attempt + 1, ArgFrom: msg.ArgFrom, ArgTo: msg.ArgTo}
		if err := q.Queue.Send(ctx, retry, q.VisibilityTimeout); err != nil {
			return fmt.Errorf("resending task %d attempt %d: %w", msg.TaskID, retry.Attempt, err)
		}
		return nil
	}

	return q.markTaskFinal(ctx, jobID, msg.TaskID)
}

// markTaskFinal records that a task has reached its last attempt
// (SUCCEEDED, or the retry ceiling), and once every one of
// a job's tasks has, writes a JobFinished sentinel object. The
// sentinel, not an in-process map, is what lets the
// sweeper -- which runs in a different process than whatever submitted
// the job -- find job_finish_time and garbage-collect task-args/ and
// task-results/ once ResultRetentionWindow has passed.
func (q *TaskQueue) markTaskFinal(ctx context.Context, jobID string, taskID int) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if ok {
		job.done[taskID] = true
	}
	done := ok && len(job.done) >= job.total
	if done {
		delete(q.jobs, jobID)
	}
	q.mu.Unlock()
	if !done {
		return nil
	}

	encoded, err := json.Marshal(v1alpha1.JobFinished{FinishedAt: q.now()})
	if err != nil {
		return fmt.Errorf("encoding job-finished sentinel for %s: %w", jobID, err)
	}
	if err := q.Store.Put(ctx, v1alpha1.FinishedKey(jobID), encoded); err != nil {
		return fmt.Errorf("writing job-finished sentinel for %s: %w", jobID, err)
	}
	return nil
}

// ReceiveResults streams every task-results/{job_id}/ object once, as it
// appears: each poll lists the job's whole result prefix and yields the
// keys not fetched before, in lexical (task_id, attempt) order within
// that poll. Polling uses exponential backoff that resets whenever new
// keys are found. It stops
// when stopEvent fires, or when workersExitedEvent has fired and three
// further polls at 1s intervals turn up nothing new.
func (q *TaskQueue) ReceiveResults(ctx context.Context, handle JobHandle, stopEvent <-chan struct{}, workersExitedEvent <-chan struct{}) <-chan v1alpha1.TaskResult {
	out := make(chan v1alpha1.TaskResult)
	go func() {
		defer close(out)
		logger := log.FromContext(ctx)
		prefix := v1alpha1.ResultPrefix(handle.JobID)
		seen := map[string]bool{}
		delay := q.PollBaseDelay
		quietPollsAfterExit := 0
		workersExited := false

		for {
			select {
			case <-stopEvent:
				return
			case <-ctx.Done():
				return
			default:
			}
			if !workersExited {
				select {
				case <-workersExitedEvent:
					workersExited = true
				default:
				}
			}

			listed, err := q.Store.List(ctx, prefix, prefix)
			if err != nil {
				logger.Errorw("listing task results", "job_id", handle.JobID, "error", err)
			}
			var keys []string
			for _, key := range listed {
				if !seen[key] {
					keys = append(keys, key)
				}
			}
			if len(keys) == 0 {
				if workersExited {
					quietPollsAfterExit++
					if quietPollsAfterExit >= 3 {
						return
					}
				}
				if !q.sleep(ctx, pickDelay(workersExited, delay), stopEvent) {
					return
				}
				delay = nextDelay(delay, q.PollMaxDelay)
				continue
			}

			quietPollsAfterExit = 0
			delay = q.PollBaseDelay
			for _, key := range keys {
				data, err := q.Store.Get(ctx, key)
				if err != nil {
					logger.Errorw("fetching task result", "key", key, "error", err)
					continue
				}
				seen[key] = true
				var res v1alpha1.TaskResult
				if err := json.Unmarshal(data, &res); err != nil {
					logger.Errorw("decoding task result", "key", key, "error", err)
					continue
				}
				select {
				case out <- res:
				case <-stopEvent:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// pickDelay switches to a fixed 1s cadence once workers have exited,
// and uses the caller's exponential backoff otherwise.
func pickDelay(workersExited bool, backoff time.Duration) time.Duration {
	if workersExited {
		return time.Second
	}
	return backoff
}

func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func (q *TaskQueue) sleep(ctx context.Context, d time.Duration, stopEvent <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stopEvent:
		return false
	case <-ctx.Done():
		return false
	}
}
