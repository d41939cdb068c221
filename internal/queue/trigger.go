// Package queue provides the SQS producer that hands ad-hoc job tasks to the
// job worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"inzikt/internal/jobs"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDispatcher implements jobs.Dispatcher by sending each task as a JSON
// message. The job id doubles as the deduplication key on FIFO queues.
type SQSDispatcher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewSQSDispatcher creates a dispatcher for queueURL. A URL ending in
// ".fifo" gets group and deduplication ids.
func NewSQSDispatcher(client SQSSender, queueURL string, logger *slog.Logger) *SQSDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSDispatcher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger,
	}
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, task jobs.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal task: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"job_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(task.JobType)),
			},
		},
	}
	if d.fifo {
		// One group per user keeps a user's jobs ordered without
		// serializing everyone.
		input.MessageGroupId = aws.String(task.UserID)
		input.MessageDeduplicationId = aws.String(task.JobID)
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send task to %s: %w", d.queueURL, err)
	}

	d.logger.InfoContext(ctx, "job task sent",
		"queue_url", d.queueURL,
		"job_id", task.JobID,
		"user_id", task.UserID,
		"job_type", string(task.JobType),
	)
	return nil
}

// DecodeTask parses a message body produced by Dispatch.
func DecodeTask(body string) (jobs.Task, error) {
	var task jobs.Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return task, fmt.Errorf("queue: malformed task: %w", err)
	}
	if task.JobID == "" {
		return task, fmt.Errorf("queue: task has no job_id")
	}
	return task, nil
}
