package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/server"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"
	jsoniter "github.com/json-iterator/go"
	prom_version "github.com/prometheus/common/version"
	"gopkg.in/yaml.v2"

	"github.com/usherd/usher/modules/api"
	"github.com/usherd/usher/modules/dispatcher"
	"github.com/usherd/usher/modules/hub"
	pkg_api "github.com/usherd/usher/pkg/api"
	"github.com/usherd/usher/pkg/cache"
	"github.com/usherd/usher/pkg/counter"
	"github.com/usherd/usher/pkg/events"
	"github.com/usherd/usher/pkg/queue"
	"github.com/usherd/usher/pkg/store"
	"github.com/usherd/usher/pkg/util/log"
)

// App is the root datastructure of the usher process. It holds references to
// the modules the target builds so init functions can hand results to their
// dependents.
type App struct {
	cfg Config

	Server        *server.Server
	ModuleManager *modules.Manager

	serviceMap     map[string]services.Service
	serviceManager *services.Manager
	deps           map[string][]string

	store         store.Store
	cacheProvider cache.Provider
	bus           *events.RedisBus
	producer      *queue.Producer
	counter       *counter.Counter
	api           *api.API
	dispatcher    *dispatcher.Dispatcher
	hub           *hub.Hub
}

// New makes a new app.
func New(cfg Config) (*App, error) {
	app := &App{
		cfg: cfg,
	}

	if err := app.setupModuleManager(); err != nil {
		return nil, fmt.Errorf("failed to setup module manager: %w", err)
	}

	return app, nil
}

// Run starts and stops the configured target. It blocks until the service
// manager lands in a terminal state.
func (t *App) Run() error {
	if !t.ModuleManager.IsUserVisibleModule(t.cfg.Target) {
		level.Warn(log.Logger).Log("msg", "selected target is an internal module, is this intended?", "target", t.cfg.Target)
	}

	serviceMap, err := t.ModuleManager.InitModuleServices(t.cfg.Target)
	if err != nil {
		return fmt.Errorf("failed to init module services: %w", err)
	}
	t.serviceMap = serviceMap

	servs := []services.Service(nil)
	for _, s := range serviceMap {
		servs = append(servs, s)
	}

	sm, err := services.NewManager(servs...)
	if err != nil {
		return fmt.Errorf("failed to create service manager: %w", err)
	}
	t.serviceManager = sm

	// before starting servers, register /ready and /config. these should not
	// be subject to the target's readiness.
	t.Server.HTTP.Path("/config").Handler(t.configHandler())
	t.Server.HTTP.Path("/ready").Handler(t.readyHandler(sm))

	// listen for events from this manager and log them.
	healthy := func() { level.Info(log.Logger).Log("msg", "usher started") }
	stopped := func() { level.Info(log.Logger).Log("msg", "usher stopped") }
	serviceFailed := func(service services.Service) {
		// if any service fails, stop everything
		sm.StopAsync()

		// let's find out which module failed
		for m, s := range serviceMap {
			if s == service {
				if errors.Is(service.FailureCase(), modules.ErrStopProcess) {
					level.Info(log.Logger).Log("msg", "received stop signal via return error", "module", m, "error", service.FailureCase())
				} else {
					level.Error(log.Logger).Log("msg", "module failed", "module", m, "error", service.FailureCase())
				}
				return
			}
		}

		level.Error(log.Logger).Log("msg", "module failed", "module", "unknown", "error", service.FailureCase())
	}
	sm.AddListener(services.NewManagerListener(healthy, stopped, serviceFailed))

	// signal arrives, stop the manager, which stops all the services.
	handler := signals.NewHandler(t.Server.Log)
	go func() {
		handler.Loop()
		sm.StopAsync()
	}()

	// start all services. this can really only fail if some service is
	// already in another state than New, which should not be the case.
	err = sm.StartAsync(context.Background())
	if err != nil {
		return fmt.Errorf("failed to start service manager: %w", err)
	}

	return sm.AwaitStopped(context.Background())
}

// Stop shuts a running target down from the outside, it is the programmatic
// equivalent of a signal.
func (t *App) Stop() {
	if t.serviceManager == nil {
		return
	}
	t.serviceManager.StopAsync()
	_ = t.serviceManager.AwaitStopped(context.Background())
}

func (t *App) readyHandler(sm *services.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !sm.IsHealthy() {
			msg := bytes.Buffer{}
			msg.WriteString("Some services are not Running:\n")

			byState := sm.ServicesByState()
			for state, svcs := range byState {
				msg.WriteString(fmt.Sprintf("%v: %d\n", state, len(svcs)))
			}

			http.Error(w, msg.String(), http.StatusServiceUnavailable)
			return
		}

		http.Error(w, "ready", http.StatusOK)
	}
}

func (t *App) configHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out, err := yaml.Marshal(t.cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set(pkg_api.HeaderContentType, "text/yaml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			level.Error(log.Logger).Log("msg", "error writing config response", "err", err)
		}
	}
}

type buildInfo struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	Branch    string `json:"branch"`
	BuildUser string `json:"buildUser"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

func (t *App) buildInfoHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(pkg_api.HeaderContentType, pkg_api.HeaderContentTypeJSON)

	out, err := jsoniter.Marshal(buildInfo{
		Version:   prom_version.Version,
		Revision:  prom_version.Revision,
		Branch:    prom_version.Branch,
		BuildUser: prom_version.BuildUser,
		BuildDate: prom_version.BuildDate,
		GoVersion: prom_version.GoVersion,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := w.Write(out); err != nil {
		level.Error(log.Logger).Log("msg", "error writing build info response", "err", err)
	}
}
