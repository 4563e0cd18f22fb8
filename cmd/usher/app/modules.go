package app

import (
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/server"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/usherd/usher/modules/api"
	cachemod "github.com/usherd/usher/modules/cache"
	"github.com/usherd/usher/modules/dispatcher"
	"github.com/usherd/usher/modules/hub"
	pkg_api "github.com/usherd/usher/pkg/api"
	"github.com/usherd/usher/pkg/cache"
	"github.com/usherd/usher/pkg/counter"
	"github.com/usherd/usher/pkg/events"
	"github.com/usherd/usher/pkg/queue"
	"github.com/usherd/usher/pkg/store/mongodb"
	"github.com/usherd/usher/pkg/util/log"
)

// The various modules that make up usher.
const (
	// utilities
	Server        string = "server"
	Store         string = "store"
	CacheProvider string = "cache-provider"
	EventBus      string = "event-bus"
	QueueProducer string = "queue-producer"
	Counter       string = "counter"

	// individual targets
	API        string = "api"
	Dispatcher string = "dispatcher"
	Hub        string = "hub"

	// composite targets
	All string = "all"
)

const metricsNamespace = "usher"

func (t *App) initServer() (services.Service, error) {
	t.cfg.Server.MetricsNamespace = metricsNamespace
	t.cfg.Server.ExcludeRequestInLog = true

	if t.cfg.EnableGoRuntimeMetrics {
		// unregister the default Go collector and register a Go collector
		// with all available runtime metrics
		prometheus.Unregister(collectors.NewGoCollector())
		prometheus.MustRegister(collectors.NewGoCollector(
			collectors.WithGoCollectorRuntimeMetrics(collectors.MetricsAll),
		))
	}

	t.cfg.Server.HTTPMiddleware = append(t.cfg.Server.HTTPMiddleware, httpGzipMiddleware())

	DisableSignalHandling(&t.cfg.Server)

	serv, err := server.New(t.cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	t.Server = serv

	servicesToWaitFor := func() []services.Service {
		svs := []services.Service(nil)
		for m, s := range t.serviceMap {
			// the server should not wait for itself
			if m != Server {
				svs = append(svs, s)
			}
		}
		return svs
	}

	return NewServerService(serv, servicesToWaitFor), nil
}

func (t *App) initStore() (services.Service, error) {
	s, err := mongodb.New(context.Background(), t.cfg.Store, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	t.store = s

	return services.NewIdleService(nil, func(_ error) error {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Store.ConnectTimeout)
		defer cancel()
		return s.Close(ctx)
	}), nil
}

func (t *App) initCacheProvider() (services.Service, error) {
	c, err := cachemod.NewProvider(&t.cfg.Cache, prometheus.DefaultRegisterer, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache provider: %w", err)
	}

	t.cacheProvider = c
	return c, nil
}

func (t *App) initEventBus() (services.Service, error) {
	t.bus = events.NewRedisBus(t.cfg.EventBus)

	return services.NewIdleService(nil, func(_ error) error {
		return t.bus.Close()
	}), nil
}

func (t *App) initQueueProducer() (services.Service, error) {
	client, err := queue.NewWriterClient(t.cfg.Queue, queue.NewQueueMetrics("producer", prometheus.DefaultRegisterer), log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue writer: %w", err)
	}
	t.producer = queue.NewProducer(client, t.cfg.Queue.Topic)

	return services.NewIdleService(nil, func(_ error) error {
		t.producer.Close()
		return nil
	}), nil
}

func (t *App) initCounter() (services.Service, error) {
	t.counter = counter.New(t.store, t.cacheProvider.CacheFor(cache.RoleDailyCounts), t.cfg.Counter.RefreshInterval, log.Logger)

	// the counter refreshes lazily on read, it needs no service of its own
	return nil, nil
}

func (t *App) initAPI() (services.Service, error) {
	probes := []api.Probe{
		{Name: "store", Ping: t.store.Ping},
		{Name: "queue", Ping: t.producer.Ping},
		{Name: "event_bus", Ping: t.bus.Ping},
	}

	a := api.New(t.cfg.API, t.store, t.producer, t.bus, t.cacheProvider.CacheFor(cache.RoleDispatchSummary), probes, log.Logger)
	t.api = a

	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathRequests)).Methods(http.MethodPost).HandlerFunc(a.CreateRequestHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathRequests)).Methods(http.MethodGet).HandlerFunc(a.ListRequestsHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathRequestByID)).Methods(http.MethodGet).HandlerFunc(a.GetRequestHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathUsers)).Methods(http.MethodPost).HandlerFunc(a.CreateUserHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathUsers)).Methods(http.MethodGet).HandlerFunc(a.ListUsersHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathUserByID)).Methods(http.MethodGet).HandlerFunc(a.GetUserHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathDataTypes)).Methods(http.MethodPost).HandlerFunc(a.CreateDataTypeHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathDataTypes)).Methods(http.MethodGet).HandlerFunc(a.ListDataTypesHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathDispatch)).Methods(http.MethodPost).HandlerFunc(a.DispatchHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathDispatchSummary)).Methods(http.MethodGet).HandlerFunc(a.SummaryHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathHealth)).Methods(http.MethodGet).HandlerFunc(a.HealthHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathBuildInfo)).Methods(http.MethodGet).HandlerFunc(t.buildInfoHandler)
	t.Server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, pkg_api.PathEcho)).Methods(http.MethodGet).HandlerFunc(echoHandler())

	return a, nil
}

func (t *App) initDispatcher() (services.Service, error) {
	d, err := dispatcher.New(t.cfg.Dispatcher, t.cfg.Queue, t.store, t.counter, t.bus, log.Logger, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	t.dispatcher = d

	return d, nil
}

func (t *App) initHub() (services.Service, error) {
	h := hub.New(t.cfg.Hub, t.bus, log.Logger)
	t.hub = h

	// websocket endpoints are not prefixed, observers dial them as is
	t.Server.HTTP.Path(pkg_api.PathWSNewRequests).Methods(http.MethodGet).HandlerFunc(h.NewRequestsHandler)
	t.Server.HTTP.Path(pkg_api.PathWSDispatched).Methods(http.MethodGet).HandlerFunc(h.DispatchedHandler)

	return h, nil
}

func (t *App) setupModuleManager() error {
	mm := modules.NewManager(log.Logger)

	mm.RegisterModule(Server, t.initServer, modules.UserInvisibleModule)
	mm.RegisterModule(Store, t.initStore, modules.UserInvisibleModule)
	mm.RegisterModule(CacheProvider, t.initCacheProvider, modules.UserInvisibleModule)
	mm.RegisterModule(EventBus, t.initEventBus, modules.UserInvisibleModule)
	mm.RegisterModule(QueueProducer, t.initQueueProducer, modules.UserInvisibleModule)
	mm.RegisterModule(Counter, t.initCounter, modules.UserInvisibleModule)
	mm.RegisterModule(API, t.initAPI)
	mm.RegisterModule(Dispatcher, t.initDispatcher)
	mm.RegisterModule(Hub, t.initHub)
	mm.RegisterModule(All, nil)

	deps := map[string][]string{
		Server:        nil,
		Store:         nil,
		CacheProvider: nil,
		EventBus:      nil,
		QueueProducer: nil,
		Counter:       {Store, CacheProvider},
		API:           {Server, Store, CacheProvider, QueueProducer, EventBus},
		Dispatcher:    {Server, Store, Counter, EventBus},
		Hub:           {Server, EventBus},
		All:           {API, Dispatcher, Hub},
	}

	for mod, targets := range deps {
		if err := mm.AddDependency(mod, targets...); err != nil {
			return err
		}
	}

	t.ModuleManager = mm
	t.deps = deps

	return nil
}

func addHTTPAPIPrefix(cfg *Config, apiPath string) string {
	return path.Join(cfg.HTTPAPIPrefix, apiPath)
}

func echoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "echo", http.StatusOK)
	}
}

// NewServerService constructs service from Server component. servicesToWaitFor
// is called when server is stopping, and should return all services that need
// to terminate before server actually stops.
func NewServerService(serv *server.Server, servicesToWaitFor func() []services.Service) services.Service {
	serverDone := make(chan error, 1)

	runFn := func(ctx context.Context) error {
		go func() {
			defer close(serverDone)
			serverDone <- serv.Run()
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-serverDone:
			if err != nil {
				return err
			}
			return fmt.Errorf("server stopped unexpectedly")
		}
	}

	stoppingFn := func(_ error) error {
		// wait until all modules are done, and then shutdown server
		for _, s := range servicesToWaitFor() {
			_ = s.AwaitTerminated(context.Background())
		}

		// this also unblocks Run
		serv.Shutdown()

		// if not closed yet, wait until server stops
		<-serverDone
		level.Info(log.Logger).Log("msg", "server stopped")
		return nil
	}

	return services.NewBasicService(nil, runFn, stoppingFn)
}

// DisableSignalHandling puts a dummy signal handler on the server config. The
// app installs its own handler so the server must not react to signals itself.
func DisableSignalHandling(config *server.Config) {
	config.SignalHandler = make(ignoreSignalHandler)
}

type ignoreSignalHandler chan struct{}

func (h ignoreSignalHandler) Loop() {
	<-h
}

func (h ignoreSignalHandler) Stop() {
	close(h)
}
