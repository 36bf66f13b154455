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

import (
	"fmt"
	"time"
)

// ArgRange is a (from, to) byte range into the task-args/{job_id} blob.
type ArgRange struct {
	From int64
	To   int64
}

// Task is one element of a grid job fanned across workers.
type Task struct {
	TaskID   int
	Attempt  int
	ArgRange ArgRange
}

// ArgsPrefix is the listing prefix under which every job's task-args
// blob lives, one key per job.
const ArgsPrefix = "task-args/"

// ArgsKey returns the single-blob object key holding every task's
// pickled argument bytes for a job.
func ArgsKey(jobID string) string {
	return ArgsPrefix + jobID
}

// ResultKey returns the object key for one task attempt's result. The
// six-digit/three-digit zero-padding is load-bearing: lexical key order
// equals (task_id, attempt) order.
func ResultKey(jobID string, taskID, attempt int) string {
	return fmt.Sprintf("task-results/%s/%06d/%03d", jobID, taskID, attempt)
}

// ResultPrefix returns the listing prefix for every result under a job.
func ResultPrefix(jobID string) string {
	return fmt.Sprintf("task-results/%s/", jobID)
}

// TaskResult is what the result store holds for one attempt.
type TaskResult struct {
	TaskID       int
	Attempt      int
	ProcessState ProcessState
}

// FinishedKey returns the object key for a job's finished sentinel, kept
// under its own prefix rather than task-results/ so it never shows up
// in a ReceiveResults listing.
func FinishedKey(jobID string) string {
	return fmt.Sprintf("job-finished/%s", jobID)
}

// JobFinished is the sentinel object TaskQueue.Complete writes once
// every task in a job has reached a final attempt: the one piece of
// job_finish_time state that survives across processes, so a sweeper
// running separately from whatever submitted the job can still
// garbage-collect its blobs after the retention window.
type JobFinished struct {
	FinishedAt time.Time
}
