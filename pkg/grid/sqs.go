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

// SQSQueue wraps GetQueueUrl/SendMessage/ReceiveMessage/DeleteMessage/
// CreateQueue/DeleteQueue on an *sqs.Client -- the calls the request
// queue needs, visibility timeout and all.
package grid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSQueue implements MessageQueue over one SQS queue.
type SQSQueue struct {
	Client   *sqs.Client
	QueueURL string
}

// NewSQSQueue resolves queueName to a URL, creating the queue if it
// doesn't exist yet. The sweeper's result-retention pass does not touch
// queues; DeleteQueue is the only teardown.
func NewSQSQueue(ctx context.Context, client *sqs.Client, queueName string) (*SQSQueue, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		var notExist *types.QueueDoesNotExist
		if !errors.As(err, &notExist) {
			return nil, fmt.Errorf("resolving queue %s: %w", queueName, err)
		}
		created, createErr := client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(queueName)})
		if createErr != nil {
			return nil, fmt.Errorf("creating queue %s: %w", queueName, createErr)
		}
		return &SQSQueue{Client: client, QueueURL: aws.ToString(created.QueueUrl)}, nil
	}
	return &SQSQueue{Client: client, QueueURL: aws.ToString(out.QueueUrl)}, nil
}

// DeleteQueue tears down the underlying SQS queue entirely (not to be
// confused with MessageQueue.Delete, which removes one message).
func (q *SQSQueue) DeleteQueue(ctx context.Context) error {
	_, err := q.Client.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(q.QueueURL)})
	if err != nil {
		return fmt.Errorf("deleting queue %s: %w", q.QueueURL, err)
	}
	return nil
}

var _ MessageQueue = (*SQSQueue)(nil)

// wireMessage is the JSON encoding of Message used as the SQS message
// body; ReceiptHandle is SQS's own and never round-trips through it.
type wireMessage struct {
	TaskID  int
	Attempt int
	ArgFrom int64
	ArgTo   int64
}

// Send enqueues msg. SQS has no per-message initial visibility
// timeout, and Receive below sets none either, so redelivery follows
// the queue's own configured visibility timeout; the argument is
// accepted here to satisfy the MessageQueue interface the in-memory
// fake also implements.
func (q *SQSQueue) Send(ctx context.Context, msg Message, _ time.Duration) error {
	body, err := json.Marshal(wireMessage{TaskID: msg.TaskID, Attempt: msg.Attempt, ArgFrom: msg.ArgFrom, ArgTo: msg.ArgTo})
	if err != nil {
		return fmt.Errorf("encoding message for task %d: %w", msg.TaskID, err)
	}
	_, err = q.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sending message for task %d: %w", msg.TaskID, err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]Message, error) {
	waitSeconds := int32(waitTime / time.Second)
	if waitSeconds > 20 {
		waitSeconds = 20 // SQS long-poll ceiling
	}
	out, err := q.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.QueueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("receiving messages: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		var wire wireMessage
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &wire); err != nil {
			return nil, fmt.Errorf("decoding message body: %w", err)
		}
		msgs = append(msgs, Message{
			TaskID:        wire.TaskID,
			Attempt:       wire.Attempt,
			ArgFrom:       wire.ArgFrom,
			ArgTo:         wire.ArgTo,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}
