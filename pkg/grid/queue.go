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
	"time"
)

// Message is one request-queue entry: a task to run, with the receipt
// handle a worker needs to delete it on completion.
type Message struct {
	TaskID        int
	Attempt       int
	ArgFrom       int64
	ArgTo         int64
	ReceiptHandle string
}

// MessageQueue is the request-delivery seam: a queue carrying
// {task_id, attempt, arg_range} with a visibility timeout. Production
// wiring is SQSQueue over github.com/aws/aws-sdk-go-v2/service/sqs;
// tests use the in-memory fake in this package.
type MessageQueue interface {
	// Send enqueues one task message with the given visibility timeout.
	Send(ctx context.Context, msg Message, visibilityTimeout time.Duration) error

	// Receive long-polls for up to maxMessages messages. A message not
	// deleted within its visibility timeout reappears automatically.
	Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]Message, error)

	// Delete removes a message by receipt handle once its task has
	// finished: the result object is written first, then the message
	// is deleted.
	Delete(ctx context.Context, receiptHandle string) error
}
