package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// SQSAPI is the part of the SQS client the queue uses.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue keeps commit jobs in an SQS queue so they survive restarts.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	log      zerolog.Logger
	base     time.Duration
	max      time.Duration
}

// maxSQSDelay is the largest DelaySeconds SQS accepts.
const maxSQSDelay = 15 * time.Minute

// NewSQSQueue resolves the queue URL by name.
func NewSQSQueue(ctx context.Context, client SQSAPI, name string, base, max time.Duration, log zerolog.Logger) (*SQSQueue, error) {
	resp, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("get queue url %s: %w", name, err)
	}
	if max > maxSQSDelay {
		max = maxSQSDelay
	}
	return &SQSQueue{
		client:   client,
		queueURL: aws.ToString(resp.QueueUrl),
		log:      log.With().Str("component", "commit-queue").Logger(),
		base:     base,
		max:      max,
	}, nil
}

func (q *SQSQueue) Enqueue(ctx context.Context, job CommitJob) error {
	return q.send(ctx, job, 0)
}

func (q *SQSQueue) send(ctx context.Context, job CommitJob, delay time.Duration) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
	})
	return err
}

func (q *SQSQueue) Consume(ctx context.Context, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     10,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Warn().Err(err).Msg("receive failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.base):
			}
			continue
		}

		valid := lo.Filter(resp.Messages, func(m types.Message, _ int) bool { return m.Body != nil })
		for _, msg := range valid {
			q.handle(ctx, msg, h)
		}
	}
}

func (q *SQSQueue) handle(ctx context.Context, msg types.Message, h Handler) {
	var job CommitJob
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
		q.log.Error().Err(err).Msg("malformed commit job discarded")
		q.delete(ctx, msg)
		return
	}
	job.Attempt++
	if err := h(ctx, job); err != nil {
		delay := Backoff(job.Attempt, q.base, q.max)
		q.log.Warn().Err(err).Str("appointment_id", job.AppointmentID).Int("attempt", job.Attempt).Dur("retry_in", delay).Msg("commit retry failed")
		if err := q.send(ctx, job, delay); err != nil {
			// Leave the original message to reappear after its visibility timeout.
			q.log.Error().Err(err).Str("appointment_id", job.AppointmentID).Msg("requeue failed")
			return
		}
	}
	q.delete(ctx, msg)
}

func (q *SQSQueue) delete(ctx context.Context, msg types.Message) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		q.log.Warn().Err(err).Msg("delete message failed")
	}
}
