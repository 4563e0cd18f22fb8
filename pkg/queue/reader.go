package queue

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/multierror"
	"github.com/grafana/dskit/services"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Handler runs one dispatch task. A nil return acknowledges the task; an
// error return is retried with the configured backoff before the task is
// abandoned.
type Handler func(ctx context.Context, task DispatchTask) error

// Reader consumes dispatch tasks from the queue, one at a time. The offset of
// a task is committed only after the handler finishes with it, so a worker
// lost mid-task leaves the task uncommitted and the broker redelivers it.
type Reader struct {
	services.Service

	cfg    Config
	client *kgo.Client
	handle Handler
	logger log.Logger
}

func NewReader(cfg Config, handle Handler, logger log.Logger, reg prometheus.Registerer) (*Reader, error) {
	client, err := NewReaderClient(cfg, NewQueueMetrics("reader", reg), logger)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		cfg:    cfg,
		client: client,
		handle: handle,
		logger: logger,
	}
	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)
	return r, nil
}

func (r *Reader) starting(ctx context.Context) error {
	// Fail fast when the broker is unreachable instead of polling into the
	// void.
	return errors.Wrap(r.client.Ping(ctx), "pinging kafka")
}

func (r *Reader) running(ctx context.Context) error {
	for ctx.Err() == nil {
		fetches := r.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if fetches.Err() != nil {
			if errors.Is(fetches.Err(), context.Canceled) {
				return nil
			}
			err := collectFetchErrs(fetches)
			level.Error(r.logger).Log("msg", "encountered error while fetching", "err", err)
			continue
		}

		it := fetches.RecordIter()
		for !it.Done() {
			if ctx.Err() != nil {
				return nil
			}
			rec := it.Next()
			r.consumeRecord(ctx, rec)
			r.commitRecord(ctx, rec)
		}
	}
	return nil
}

func (r *Reader) stopping(_ error) error {
	r.client.Close()
	return nil
}

func collectFetchErrs(fetches kgo.Fetches) (_ error) {
	mErr := multierror.New()
	fetches.EachError(func(_ string, _ int32, err error) {
		mErr.Add(err)
	})
	return mErr.Err()
}

func (r *Reader) consumeRecord(ctx context.Context, rec *kgo.Record) {
	start := time.Now()
	defer func() {
		metricTaskDuration.Observe(time.Since(start).Seconds())
	}()

	var task DispatchTask
	if err := jsoniter.Unmarshal(rec.Value, &task); err != nil {
		metricTasksProcessed.WithLabelValues(outcomeMalformed).Inc()
		level.Error(r.logger).Log("msg", "dropping malformed task", "offset", rec.Offset, "err", err)
		return
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}

	boff := backoff.New(ctx, r.cfg.RetryBackoff)
	var err error
	for boff.Ongoing() {
		if err = r.handle(ctx, task); err == nil {
			metricTasksProcessed.WithLabelValues(outcomeSuccess).Inc()
			return
		}
		metricTaskRetries.Inc()
		level.Warn(r.logger).Log("msg", "dispatch task failed", "request", task.ID, "task", task.TaskID, "retries", boff.NumRetries(), "err", err)
		boff.Wait()
	}

	metricTasksProcessed.WithLabelValues(outcomeAbandoned).Inc()
	level.Error(r.logger).Log("msg", "dispatch task abandoned", "request", task.ID, "task", task.TaskID, "err", err)
}

// commitRecord acknowledges a finished task. Commit failures are retried
// briefly; giving up means the task is redelivered, which downstream
// tolerates.
func (r *Reader) commitRecord(ctx context.Context, rec *kgo.Record) {
	boff := backoff.New(ctx, backoff.Config{
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		MaxRetries: 10,
	})

	var err error
	for boff.Ongoing() {
		if err = r.client.CommitRecords(ctx, rec); err == nil {
			return
		}
		level.Warn(r.logger).Log("msg", "failed to commit offset", "offset", rec.Offset, "retries", boff.NumRetries(), "err", err)
		boff.Wait()
	}
	level.Error(r.logger).Log("msg", "giving up committing offset, task may be redelivered", "offset", rec.Offset, "err", err)
}
