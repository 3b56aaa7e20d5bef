package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff(1, 100*time.Millisecond, time.Second))
	assert.Equal(t, 400*time.Millisecond, Backoff(3, 100*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, Backoff(10, 100*time.Millisecond, time.Second))
}

func TestMemoryQueue_RetriesUntilSuccess(t *testing.T) {
	q := NewMemoryQueue(4, time.Millisecond, 5*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	done := make(chan CommitJob, 1)
	go q.Consume(ctx, func(_ context.Context, job CommitJob) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("store still down")
		}
		done <- job
		return nil
	})

	require.NoError(t, q.Enqueue(ctx, CommitJob{AppointmentID: "appt-1"}))
	select {
	case job := <-done:
		assert.Equal(t, "appt-1", job.AppointmentID)
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
}

func TestMemoryQueue_FullBuffer(t *testing.T) {
	q := NewMemoryQueue(1, time.Millisecond, time.Millisecond, zerolog.Nop())
	q.publishTTL = 10 * time.Millisecond
	require.NoError(t, q.Enqueue(context.Background(), CommitJob{AppointmentID: "a"}))
	assert.ErrorIs(t, q.Enqueue(context.Background(), CommitJob{AppointmentID: "b"}), ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

// fakeSQS serves one batch of messages and records sends and deletes.
type fakeSQS struct {
	mu       sync.Mutex
	inbox    []types.Message
	sent     []*sqs.SendMessageInput
	deleted  []string
	received chan struct{}
}

func (f *fakeSQS) GetQueueUrl(context.Context, *sqs.GetQueueUrlInput, ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/commit")}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	batch := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	if batch == nil {
		select {
		case f.received <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

var _ SQSAPI = (*fakeSQS)(nil)

func message(t *testing.T, handle string, job CommitJob) types.Message {
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return types.Message{Body: aws.String(string(body)), ReceiptHandle: aws.String(handle)}
}

func TestSQSQueue_Consume(t *testing.T) {
	f := &fakeSQS{received: make(chan struct{}, 1)}
	f.inbox = []types.Message{
		message(t, "ok", CommitJob{AppointmentID: "appt-ok"}),
		message(t, "fail", CommitJob{AppointmentID: "appt-fail", Attempt: 1}),
		{Body: aws.String("{garbage"), ReceiptHandle: aws.String("bad")},
	}
	q, err := NewSQSQueue(context.Background(), f, "commit", time.Second, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, maxSQSDelay, q.max)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- q.Consume(ctx, func(_ context.Context, job CommitJob) error {
			if job.AppointmentID == "appt-fail" {
				return errors.New("still down")
			}
			return nil
		})
	}()

	select {
	case <-f.received:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the batch")
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.ElementsMatch(t, []string{"ok", "fail", "bad"}, f.deleted)
	require.Len(t, f.sent, 1)
	var requeued CommitJob
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(f.sent[0].MessageBody)), &requeued))
	assert.Equal(t, "appt-fail", requeued.AppointmentID)
	assert.Equal(t, 2, requeued.Attempt)
	assert.Equal(t, int32(2), f.sent[0].DelaySeconds)
}
