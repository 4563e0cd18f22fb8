package dispatcher

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/usherd/usher/pkg/counter"
	"github.com/usherd/usher/pkg/events"
	"github.com/usherd/usher/pkg/queue"
	"github.com/usherd/usher/pkg/scoring"
	"github.com/usherd/usher/pkg/store"
)

// Dispatcher consumes dispatch tasks from the queue and assigns each request
// to the most suitable quota-available user.
type Dispatcher struct {
	services.Service

	cfg      Config
	queueCfg queue.Config

	store   store.Store
	counter *counter.Counter
	pub     events.Publisher
	policy  scoring.Policy

	reader        *queue.Reader
	readerWatcher *services.FailureWatcher

	logger log.Logger
	reg    prometheus.Registerer
}

// New creates the dispatcher. The queue reader is not connected until the
// service starts, so construction never touches the broker.
func New(cfg Config, queueCfg queue.Config, s store.Store, ctr *counter.Counter, pub events.Publisher, logger log.Logger, reg prometheus.Registerer) (*Dispatcher, error) {
	policy, err := scoring.NewPolicy(cfg.Policy, cfg.MinScoreFraction)
	if err != nil {
		return nil, errors.Wrap(err, "invalid dispatcher config")
	}

	if pub == nil {
		pub = events.NopPublisher{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		queueCfg: queueCfg,
		store:    s,
		counter:  ctr,
		pub:      pub,
		policy:   policy,
		logger:   logger,
		reg:      reg,
	}
	d.Service = services.NewBasicService(d.starting, d.running, d.stopping)
	return d, nil
}

func (d *Dispatcher) starting(ctx context.Context) error {
	reader, err := queue.NewReader(d.queueCfg, d.Dispatch, d.logger, d.reg)
	if err != nil {
		return errors.Wrap(err, "creating queue reader")
	}
	d.reader = reader

	d.readerWatcher = services.NewFailureWatcher()
	d.readerWatcher.WatchService(d.reader)

	return services.StartAndAwaitRunning(ctx, d.reader)
}

func (d *Dispatcher) running(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-d.readerWatcher.Chan():
		return errors.Wrap(err, "queue reader failed")
	}
}

func (d *Dispatcher) stopping(_ error) error {
	if d.reader == nil {
		return nil
	}
	return services.StopAndAwaitTerminated(context.Background(), d.reader)
}

// Dispatch runs one task end to end: load the request, pick the winner,
// commit the assignment and do the post-commit bookkeeping. A nil return
// acknowledges the task. Outcomes a retry cannot change, an unknown request
// or a duplicate delivery of a committed one, are absorbed here so the queue
// does not spin on them.
func (d *Dispatcher) Dispatch(ctx context.Context, task queue.DispatchTask) error {
	start := time.Now()

	// The soft time limit covers everything up to the commit. Past the
	// commit the bookkeeping runs detached, see below.
	if d.cfg.SoftTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SoftTimeLimit)
		defer cancel()
	}

	req, err := d.store.GetRequest(ctx, task.ID)
	if errors.Is(err, store.ErrNotFound) {
		metricDispatches.WithLabelValues(outcomeNotFound).Inc()
		level.Warn(d.logger).Log("msg", "dispatch task references unknown request", "request", task.ID, "task", task.TaskID)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "loading request")
	}

	// Idempotency guard for redeliveries: a request that already carries a
	// user was committed by an earlier delivery.
	if req.User != nil {
		metricDispatches.WithLabelValues(outcomeAlreadyAssigned).Inc()
		level.Info(d.logger).Log("msg", "request already assigned", "request", req.ID, "user", *req.User)
		return nil
	}

	counts, err := d.counter.Counts(ctx, false)
	if err != nil {
		return errors.Wrap(err, "loading daily counts")
	}

	users, err := d.store.ListUserProfiles(ctx)
	if err != nil {
		return errors.Wrap(err, "listing user profiles")
	}

	profiles := make([]scoring.Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, scoring.Profile{ID: u.ID, Params: u.Params, Quota: u.MaxDailyRequests})
	}

	winner, considered, ok := d.policy.Select(profiles, req.Params, counts)
	metricCandidates.Observe(float64(considered))
	if !ok {
		metricDispatches.WithLabelValues(outcomeNoCandidates).Inc()
		if d.cfg.RetryNoCandidates {
			return errors.Errorf("no candidate for request %s", req.ID)
		}
		level.Warn(d.logger).Log("msg", "no candidate for request, leaving unassigned", "request", req.ID, "task", task.TaskID)
		return nil
	}

	committedAt := time.Now().UTC()
	err = d.store.AssignRequest(ctx, req.ID, winner, committedAt)
	switch {
	case errors.Is(err, store.ErrAlreadyAssigned):
		metricDispatches.WithLabelValues(outcomeAlreadyAssigned).Inc()
		level.Info(d.logger).Log("msg", "lost assignment race to a concurrent dispatch", "request", req.ID)
		return nil
	case errors.Is(err, store.ErrNotFound):
		metricDispatches.WithLabelValues(outcomeNotFound).Inc()
		level.Warn(d.logger).Log("msg", "request disappeared before commit", "request", req.ID)
		return nil
	case err != nil:
		return errors.Wrap(err, "assigning request")
	}

	metricDispatches.WithLabelValues(outcomeDispatched).Inc()
	metricDispatchDuration.Observe(time.Since(start).Seconds())
	level.Info(d.logger).Log("msg", "request dispatched", "request", req.ID, "user", winner, "task", task.TaskID, "candidates", considered, "duration", time.Since(start))

	// The assignment is committed. Run the bookkeeping on a fresh context:
	// the soft time limit must not abandon it halfway, and its failures
	// must not fail the task or the broker would redeliver an already
	// assigned request.
	d.afterCommit(context.Background(), req, task, winner, committedAt)
	return nil
}

// afterCommit does the post-commit bookkeeping: counter bump, audit log,
// broadcast. Failures are logged and counted, never returned.
func (d *Dispatcher) afterCommit(ctx context.Context, req *store.Request, task queue.DispatchTask, winner string, committedAt time.Time) {
	d.counter.Increment(ctx, winner)

	entry := &store.DispatchLog{
		RequestID:        req.ID,
		ParentID:         req.Parent,
		TaskID:           task.TaskID,
		RequestCreatedAt: req.CreatedAt,
		// the timestamps the request carried when it was picked up, not the
		// commit time; AssignRequest stamps updated_at separately
		RequestUpdatedAt: req.UpdatedAt,
	}
	if err := d.store.InsertDispatchLog(ctx, entry); err != nil {
		metricLogWriteFailures.Inc()
		level.Error(d.logger).Log("msg", "failed to write dispatch log", "request", req.ID, "task", task.TaskID, "err", err)
	}

	if err := events.PublishRequestDispatched(ctx, d.pub, req.ID, winner, committedAt); err != nil {
		level.Warn(d.logger).Log("msg", "failed to broadcast dispatch", "request", req.ID, "err", err)
	}
}
