package httpclient

import (
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/stretchr/testify/require"

	apimod "github.com/usherd/usher/modules/api"
	pkg_api "github.com/usherd/usher/pkg/api"
	"github.com/usherd/usher/pkg/events"
	"github.com/usherd/usher/pkg/params"
	"github.com/usherd/usher/pkg/queue"
	"github.com/usherd/usher/pkg/store"
	"github.com/usherd/usher/pkg/store/memstore"
)

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(context.Context, queue.DispatchTask) error { return nil }

// testServer serves the real API handlers behind the same gzip middleware the
// application installs, so the compressing client is exercised end to end.
func testServer(t *testing.T) (*Client, *memstore.Store) {
	t.Helper()

	cfg := apimod.Config{}
	cfg.RegisterFlagsAndApplyDefaults("api", &flag.FlagSet{})

	s := memstore.New()
	a := apimod.New(cfg, s, nopEnqueuer{}, events.NopPublisher{}, nil, nil, log.NewNopLogger())

	router := mux.NewRouter()
	router.HandleFunc(pkg_api.PathRequests, a.CreateRequestHandler).Methods(http.MethodPost)
	router.HandleFunc(pkg_api.PathRequests, a.ListRequestsHandler).Methods(http.MethodGet)
	router.HandleFunc(pkg_api.PathRequestByID, a.GetRequestHandler).Methods(http.MethodGet)
	router.HandleFunc(pkg_api.PathUsers, a.CreateUserHandler).Methods(http.MethodPost)
	router.HandleFunc(pkg_api.PathUsers, a.ListUsersHandler).Methods(http.MethodGet)
	router.HandleFunc(pkg_api.PathUserByID, a.GetUserHandler).Methods(http.MethodGet)
	router.HandleFunc(pkg_api.PathDataTypes, a.CreateDataTypeHandler).Methods(http.MethodPost)
	router.HandleFunc(pkg_api.PathDataTypes, a.ListDataTypesHandler).Methods(http.MethodGet)
	router.HandleFunc(pkg_api.PathDispatch, a.DispatchHandler).Methods(http.MethodPost)
	router.HandleFunc(pkg_api.PathDispatchSummary, a.SummaryHandler).Methods(http.MethodGet)

	srv := httptest.NewServer(gzhttp.GzipHandler(router))
	t.Cleanup(srv.Close)

	return NewWithCompression(srv.URL), s
}

func TestClientRoundTrip(t *testing.T) {
	c, _ := testServer(t)

	_, err := c.CreateDataType(&store.KeyDataType{Name: "age", TypeOf: "integer"})
	require.NoError(t, err)

	kdts, err := c.ListDataTypes()
	require.NoError(t, err)
	require.Len(t, kdts, 1)
	require.Equal(t, "age", kdts[0].Name)

	quota := 5
	u, err := c.CreateUser(&CreateUserBody{
		Username:         "ada",
		Params:           map[string]any{"age": "30"},
		MaxDailyRequests: &quota,
	})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	// the server casts against the registry, json carries it back as a number
	require.Equal(t, float64(30), u.Params["age"])

	got, err := c.GetUser(u.ID)
	require.NoError(t, err)
	require.Equal(t, "ada", got.Username)

	users, err := c.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)

	req, err := c.CreateRequest(&CreateRequestBody{
		Params: map[string]any{"age": map[string]any{"value": "30", "operator": "gte"}},
		Text:   "needs an executor",
	})
	require.NoError(t, err)
	require.Equal(t, store.StatusProcessed, req.Status)

	gotReq, err := c.GetRequest(req.ID)
	require.NoError(t, err)
	require.Equal(t, params.OpGTE, gotReq.Params["age"].Operator)
	require.Equal(t, 1.0, gotReq.Params["age"].Height)

	list, err := c.ListRequests(store.StatusProcessed, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, req.ID, list[0].ID)

	resp, err := c.Dispatch(&DispatchBody{ID: req.ID})
	require.NoError(t, err)
	require.NotEmpty(t, resp.TaskID)
}

func TestClientNotFound(t *testing.T) {
	c, _ := testServer(t)

	_, err := c.GetRequest("missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.GetUser("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClientValidationError(t *testing.T) {
	c, _ := testServer(t)

	_, err := c.CreateUser(&CreateUserBody{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestClientDispatchSummary(t *testing.T) {
	c, s := testServer(t)
	ctx := context.Background()

	day := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertDispatchLog(ctx, &store.DispatchLog{
		RequestID:        "r1",
		TaskID:           "t1",
		RequestCreatedAt: day,
		RequestUpdatedAt: day,
	}))
	require.NoError(t, s.InsertDispatchLog(ctx, &store.DispatchLog{
		RequestID:        "r2",
		TaskID:           "t2",
		RequestCreatedAt: day.Add(time.Hour),
		RequestUpdatedAt: day.Add(time.Hour),
	}))

	start := time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)
	rows, err := c.DispatchSummary(&start, &start)
	require.NoError(t, err)
	require.Equal(t, []store.SummaryRow{{Date: "2024-05-14", Count: 2}}, rows)

	// a window before the logs is empty
	early := start.AddDate(0, 0, -7)
	rows, err = c.DispatchSummary(&early, &early)
	require.NoError(t, err)
	require.Empty(t, rows)
}
