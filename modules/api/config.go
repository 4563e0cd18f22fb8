package api

import (
	"flag"
	"time"

	"github.com/usherd/usher/pkg/util"
)

type Config struct {
	// HealthProbeTimeout bounds each dependency probe of the health
	// endpoint.
	HealthProbeTimeout time.Duration `yaml:"health_probe_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.HealthProbeTimeout, util.PrefixConfig(prefix, "health-probe-timeout"), 2*time.Second, "Maximum time one dependency probe of the health endpoint may take.")
}
