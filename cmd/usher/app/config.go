package app

import (
	"flag"

	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/server"

	"github.com/usherd/usher/modules/api"
	cachemod "github.com/usherd/usher/modules/cache"
	"github.com/usherd/usher/modules/dispatcher"
	"github.com/usherd/usher/modules/hub"
	"github.com/usherd/usher/pkg/cache"
	"github.com/usherd/usher/pkg/counter"
	"github.com/usherd/usher/pkg/events"
	"github.com/usherd/usher/pkg/queue"
	"github.com/usherd/usher/pkg/store/mongodb"
	"github.com/usherd/usher/pkg/util"
)

// Config is the root config for the usher process.
type Config struct {
	Target                 string `yaml:"target,omitempty"`
	HTTPAPIPrefix          string `yaml:"http_api_prefix"`
	EnableGoRuntimeMetrics bool   `yaml:"enable_go_runtime_metrics,omitempty"`

	Server     server.Config     `yaml:"server,omitempty"`
	Store      mongodb.Config    `yaml:"store,omitempty"`
	Cache      cachemod.Config   `yaml:"cache,omitempty"`
	Queue      queue.Config      `yaml:"queue,omitempty"`
	EventBus   events.Config     `yaml:"event_bus,omitempty"`
	Counter    counter.Config    `yaml:"counter,omitempty"`
	API        api.Config        `yaml:"api,omitempty"`
	Dispatcher dispatcher.Config `yaml:"dispatcher,omitempty"`
	Hub        hub.Config        `yaml:"hub,omitempty"`
}

// NewDefaultConfig returns a Config with all defaults applied.
func NewDefaultConfig() *Config {
	defaultConfig := &Config{}
	defaultFS := flag.NewFlagSet("", flag.PanicOnError)
	defaultConfig.RegisterFlagsAndApplyDefaults("", defaultFS)
	return defaultConfig
}

// RegisterFlagsAndApplyDefaults registers flags and applies defaults for the
// root config and every module config below it.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Target = All

	// global settings
	f.StringVar(&c.Target, "target", All, "target module")
	f.StringVar(&c.HTTPAPIPrefix, "http-api-prefix", "", "String prefix for all http api endpoints.")

	// server settings
	flagext.DefaultValues(&c.Server)
	c.Server.LogLevel.RegisterFlags(f)
	f.IntVar(&c.Server.HTTPListenPort, "server.http-listen-port", 8000, "HTTP server listen port.")

	// module settings
	c.Store.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "store"), f)
	c.Cache.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "cache"), f)
	c.Queue.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "queue"), f)
	c.EventBus.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "event-bus"), f)
	c.Counter.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "counter"), f)
	c.API.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "api"), f)
	c.Dispatcher.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "dispatcher"), f)
	c.Hub.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "hub"), f)
}

// ConfigWarning bundles a warning message with an explanation.
type ConfigWarning struct {
	Message string
	Explain string
}

var (
	warnSessionTimeoutBelowSoftLimit = ConfigWarning{
		Message: "queue.session_timeout is shorter than dispatcher.soft_time_limit",
		Explain: "a dispatch that runs up to its soft time limit outlives its delivery session and is redelivered to another consumer while the first is still working",
	}
	warnNoDailyCountsCache = ConfigWarning{
		Message: "no cache is configured for the daily-counts role",
		Explain: "every dispatch aggregates per-user daily counts straight from the store",
	}
	warnRetryNoCandidates = ConfigWarning{
		Message: "dispatcher.retry_no_candidates is enabled",
		Explain: "requests no user qualifies for are redelivered until the queue gives up on them instead of settling immediately",
	}
)

// CheckConfig checks if config values are suspect and returns a bundled list
// of warnings and explanations.
func (c *Config) CheckConfig() []ConfigWarning {
	var warnings []ConfigWarning

	if c.Queue.SessionTimeout < c.Dispatcher.SoftTimeLimit {
		warnings = append(warnings, warnSessionTimeoutBelowSoftLimit)
	}

	if !c.Cache.HasRole(cache.RoleDailyCounts) {
		warnings = append(warnings, warnNoDailyCountsCache)
	}

	if c.Dispatcher.RetryNoCandidates {
		warnings = append(warnings, warnRetryNoCandidates)
	}

	return warnings
}
