package queue

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer enqueues dispatch tasks.
type Producer struct {
	client *kgo.Client
	topic  string
}

func NewProducer(client *kgo.Client, topic string) *Producer {
	return &Producer{
		client: client,
		topic:  topic,
	}
}

// Ping checks broker connectivity.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Enqueue produces the task, keyed by request id so retries of the same
// request stay ordered on one partition. The produce is synchronous: when
// Enqueue returns nil the task is on the broker.
func (p *Producer) Enqueue(ctx context.Context, task DispatchTask) error {
	payload, err := jsoniter.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "marshalling dispatch task")
	}

	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(task.ID),
		Value: payload,
	}
	return p.client.ProduceSync(ctx, rec).FirstErr()
}

func (p *Producer) Close() {
	p.client.Close()
}
