package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

// NewClient enqueues onto queueName. taskTimeout bounds a single generation
// on the worker and should exceed the engine job budget.
func NewClient(redisOpt asynq.RedisClientOpt, queueName string, taskTimeout time.Duration) *Client {
	if taskTimeout <= 0 {
		taskTimeout = 3 * time.Minute
	}
	return &Client{
		client:  asynq.NewClient(redisOpt),
		queue:   queueName,
		timeout: taskTimeout,
	}
}

func (c *Client) QueueName() string { return c.queue }

// EnqueueGenerate submits payload once. Failed generations are not retried.
func (c *Client) EnqueueGenerate(ctx context.Context, payload GeneratePayload) (*asynq.TaskInfo, error) {
	task, err := NewGenerateTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.ID),
		asynq.MaxRetry(0),
		asynq.Timeout(c.timeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
