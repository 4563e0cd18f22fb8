// Package api serves the CRUD and dispatch surface: requests, users, the key
// type registry, the dispatch trigger and the summary and health reads.
package api

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/services"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	pkg_api "github.com/usherd/usher/pkg/api"
	"github.com/usherd/usher/pkg/cache"
	"github.com/usherd/usher/pkg/events"
	"github.com/usherd/usher/pkg/params"
	"github.com/usherd/usher/pkg/queue"
	"github.com/usherd/usher/pkg/store"
)

var tracer = otel.Tracer("modules/api")

// Enqueuer hands dispatch tasks to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.DispatchTask) error
}

// Probe is one health-checked dependency.
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

// API is the HTTP surface. Requests enter the system here: persisted to the
// store, handed to the queue, announced on the broadcast channels.
type API struct {
	services.Service

	cfg      Config
	store    store.Store
	enqueuer Enqueuer
	pub      events.Publisher

	// summaryCache holds rendered summary responses, may be nil.
	summaryCache cache.Cache

	probes    []Probe
	startedAt time.Time

	logger log.Logger
}

func New(cfg Config, s store.Store, enq Enqueuer, pub events.Publisher, summaryCache cache.Cache, probes []Probe, logger log.Logger) *API {
	if pub == nil {
		pub = events.NopPublisher{}
	}

	a := &API{
		cfg:          cfg,
		store:        s,
		enqueuer:     enq,
		pub:          pub,
		summaryCache: summaryCache,
		probes:       probes,
		startedAt:    time.Now(),
		logger:       logger,
	}
	a.Service = services.NewIdleService(a.starting, a.stopping)
	return a
}

func (a *API) starting(_ context.Context) error { return nil }
func (a *API) stopping(_ error) error           { return nil }

// createRequest validates and persists one request, enqueues its dispatch
// task and announces it. The registry is loaded per call so freshly added
// keys cast correctly without a restart.
func (a *API) createRequest(ctx context.Context, payload *createRequestPayload) (*store.Request, error) {
	ctx, span := tracer.Start(ctx, "API.createRequest", trace.WithAttributes(
		attribute.String("request", payload.ID),
	))
	defer span.End()

	reg, err := store.LoadRegistry(ctx, a.store)
	if err != nil {
		return nil, errors.Wrap(err, "loading key type registry")
	}

	conds, err := params.CastConditions(payload.Params, reg)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	req := &store.Request{
		ID:        payload.ID,
		Parent:    payload.Parent,
		Params:    conds,
		Text:      payload.Text,
		Status:    store.StatusProcessed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.ID == "" {
		req.ID = primitive.NewObjectID().Hex()
	}

	if err := a.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	task := queue.DispatchTask{ID: req.ID, TaskID: uuid.NewString()}
	if err := a.enqueuer.Enqueue(ctx, task); err != nil {
		// The document exists but carries no task. POST /api/dispatch can
		// re-trigger it once the broker is back.
		return nil, errors.Wrap(err, "enqueueing dispatch task")
	}

	if err := events.PublishNewRequest(ctx, a.pub, req.ID, req.Status, req.CreatedAt); err != nil {
		level.Warn(a.logger).Log("msg", "failed to broadcast new request", "request", req.ID, "err", err)
	}

	level.Info(a.logger).Log("msg", "request created", "request", req.ID, "task", task.TaskID)
	return req, nil
}

// enqueueDispatch validates the direct dispatch payload and enqueues it,
// returning the minted task id. The request is not required to exist yet:
// an unknown id is absorbed by the worker.
func (a *API) enqueueDispatch(ctx context.Context, payload *dispatchPayload) (string, error) {
	ctx, span := tracer.Start(ctx, "API.enqueueDispatch", trace.WithAttributes(
		attribute.String("request", payload.ID),
	))
	defer span.End()

	if payload.ID == "" {
		return "", params.NewValidationErrorf("id is required")
	}

	if payload.Params != nil {
		reg, err := store.LoadRegistry(ctx, a.store)
		if err != nil {
			return "", errors.Wrap(err, "loading key type registry")
		}
		if _, err := params.CastConditions(payload.Params, reg); err != nil {
			return "", err
		}
	}

	task := queue.DispatchTask{ID: payload.ID, TaskID: uuid.NewString()}
	if err := a.enqueuer.Enqueue(ctx, task); err != nil {
		return "", errors.Wrap(err, "enqueueing dispatch task")
	}

	level.Info(a.logger).Log("msg", "dispatch enqueued", "request", payload.ID, "task", task.TaskID)
	return task.TaskID, nil
}

func (a *API) createUser(ctx context.Context, payload *createUserPayload) (*store.User, error) {
	ctx, span := tracer.Start(ctx, "API.createUser", trace.WithAttributes(
		attribute.String("username", payload.Username),
	))
	defer span.End()

	if payload.Username == "" {
		return nil, params.NewValidationErrorf("username is required")
	}
	if payload.MaxDailyRequests != nil && *payload.MaxDailyRequests <= 0 {
		return nil, params.NewValidationErrorf("max_daily_requests must be positive")
	}

	userParams := map[string]any{}
	if payload.Params != nil {
		reg, err := store.LoadRegistry(ctx, a.store)
		if err != nil {
			return nil, errors.Wrap(err, "loading key type registry")
		}
		userParams, err = params.CastUserParams(payload.Params, reg)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	u := &store.User{
		ID:               payload.ID,
		Username:         payload.Username,
		Password:         payload.Password,
		Email:            payload.Email,
		FirstName:        payload.FirstName,
		LastName:         payload.LastName,
		Params:           userParams,
		MaxDailyRequests: payload.MaxDailyRequests,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if u.ID == "" {
		u.ID = primitive.NewObjectID().Hex()
	}

	if err := a.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	level.Info(a.logger).Log("msg", "user created", "user", u.ID, "username", u.Username)
	return u, nil
}

func (a *API) createDataType(ctx context.Context, k *store.KeyDataType) error {
	if k.Name == "" {
		return params.NewValidationErrorf("name is required")
	}
	if !params.ValidType(k.TypeOf) {
		return params.NewValidationErrorf("type_of %q is not a valid type", k.TypeOf)
	}

	if err := a.store.CreateKeyDataType(ctx, k); err != nil {
		return err
	}

	level.Info(a.logger).Log("msg", "key data type created", "name", k.Name, "type", k.TypeOf)
	return nil
}

// summary serves the dispatch summary for a date range, cached when a cache
// is configured for the role.
func (a *API) summary(ctx context.Context, start, end *time.Time) ([]store.SummaryRow, error) {
	key := pkg_api.SummaryCacheKey(start, end)

	ctx, span := tracer.Start(ctx, "API.summary", trace.WithAttributes(
		attribute.String("key", key),
	))
	defer span.End()

	if a.summaryCache != nil {
		if buf, found := a.summaryCache.FetchKey(ctx, key); found {
			var rows []store.SummaryRow
			if err := jsoniter.Unmarshal(buf, &rows); err == nil {
				return rows, nil
			}
			level.Warn(a.logger).Log("msg", "discarding undecodable cached summary", "key", key)
		}
	}

	rows, err := a.store.DispatchSummary(ctx, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "aggregating dispatch summary")
	}

	if a.summaryCache != nil {
		if buf, err := jsoniter.Marshal(rows); err == nil {
			a.summaryCache.Store(ctx, []string{key}, [][]byte{buf})
		}
	}

	return rows, nil
}
