package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/tracing"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/codes"

	pkg_api "github.com/usherd/usher/pkg/api"
	"github.com/usherd/usher/pkg/params"
	"github.com/usherd/usher/pkg/store"
)

type createRequestPayload struct {
	ID     string         `json:"id"`
	Parent *string        `json:"parent"`
	Params map[string]any `json:"params"`
	Text   string         `json:"text"`
}

// dispatchPayload mirrors the request document. Only the id is required,
// the rest is accepted so callers can post the document they hold.
type dispatchPayload struct {
	ID        string         `json:"id"`
	ParentID  *string        `json:"parent_id"`
	Params    map[string]any `json:"params"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type dispatchResponse struct {
	TaskID string `json:"task_id"`
}

type createUserPayload struct {
	ID               string         `json:"id"`
	Username         string         `json:"username"`
	Password         string         `json:"password"`
	Email            string         `json:"email"`
	FirstName        string         `json:"first_name"`
	LastName         string         `json:"last_name"`
	Params           map[string]any `json:"params"`
	MaxDailyRequests *int           `json:"max_daily_requests"`
}

// CreateRequestHandler accepts a request document, persists it and enqueues
// its dispatch task.
func (a *API) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.CreateRequestHandler", r)
	defer f(&err)

	payload := &createRequestPayload{}
	if err = jsoniter.NewDecoder(r.Body).Decode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req, err := a.createRequest(ctx, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	err = writeJSON(w, http.StatusCreated, req)
}

func (a *API) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.GetRequestHandler", r)
	defer f(&err)

	id, err := pkg_api.ParseRequestID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req, err := a.store.GetRequest(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	err = writeJSON(w, http.StatusOK, req)
}

func (a *API) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.ListRequestsHandler", r)
	defer f(&err)

	limit, err := pkg_api.ParseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reqs, err := a.store.ListRequests(ctx, pkg_api.ParseStatusFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}

	err = writeJSON(w, http.StatusOK, reqs)
}

// DispatchHandler re-enqueues a dispatch task for an existing request. The
// worker absorbs ids that do not resolve to a document.
func (a *API) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.DispatchHandler", r)
	defer f(&err)

	payload := &dispatchPayload{}
	if err = jsoniter.NewDecoder(r.Body).Decode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	taskID, err := a.enqueueDispatch(ctx, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	err = writeJSON(w, http.StatusAccepted, dispatchResponse{TaskID: taskID})
}

func (a *API) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.SummaryHandler", r)
	defer f(&err)

	start, end, err := pkg_api.ParseSummaryRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := a.summary(ctx, start, end)
	if err != nil {
		writeError(w, err)
		return
	}

	err = writeJSON(w, http.StatusOK, rows)
}

func (a *API) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.CreateUserHandler", r)
	defer f(&err)

	payload := &createUserPayload{}
	if err = jsoniter.NewDecoder(r.Body).Decode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	u, err := a.createUser(ctx, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	err = writeJSON(w, http.StatusCreated, u)
}

func (a *API) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.GetUserHandler", r)
	defer f(&err)

	id, err := pkg_api.ParseUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	u, err := a.store.GetUser(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	err = writeJSON(w, http.StatusOK, u)
}

func (a *API) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.ListUsersHandler", r)
	defer f(&err)

	users, err := a.store.ListUsers(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	err = writeJSON(w, http.StatusOK, users)
}

func (a *API) CreateDataTypeHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.CreateDataTypeHandler", r)
	defer f(&err)

	kdt := &store.KeyDataType{}
	if err = jsoniter.NewDecoder(r.Body).Decode(kdt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err = a.createDataType(ctx, kdt); err != nil {
		writeError(w, err)
		return
	}

	err = writeJSON(w, http.StatusCreated, kdt)
}

func (a *API) ListDataTypesHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.ListDataTypesHandler", r)
	defer f(&err)

	kdts, err := a.store.ListKeyDataTypes(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	err = writeJSON(w, http.StatusOK, kdts)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if errors.Is(err, store.ErrDuplicateKey) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if params.IsValidation(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	data, err := jsoniter.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return err
	}

	w.Header().Set(pkg_api.HeaderContentType, pkg_api.HeaderContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(data)
	return nil
}

func (a *API) logRequest(ctx context.Context, handler string, r *http.Request) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, handler)
	traceID, _ := tracing.ExtractTraceID(ctx)

	level.Info(a.logger).Log("traceID", traceID, "method", r.Method, "url", r.URL.RequestURI(), "user-agent", r.UserAgent())

	return ctx, func(errPtr *error) {
		err := *errPtr

		if err != nil && !errors.Is(err, store.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			level.Error(a.logger).Log("traceID", traceID, "method", r.Method, "url", r.URL.RequestURI(), "user-agent", r.UserAgent(), "err", err)
		}

		span.End()
	}
}
