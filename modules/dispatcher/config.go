package dispatcher

import (
	"flag"
	"time"

	"github.com/usherd/usher/pkg/scoring"
	"github.com/usherd/usher/pkg/util"
)

// DefaultSoftTimeLimit bounds one dispatch up to its commit. Past the commit
// the remaining bookkeeping runs to completion regardless.
const DefaultSoftTimeLimit = 30 * time.Second

type Config struct {
	// Policy selects the winner among candidates. Empty means the
	// score/load mixture.
	Policy           string  `yaml:"policy"`
	MinScoreFraction float64 `yaml:"min_score_fraction"`

	SoftTimeLimit time.Duration `yaml:"soft_time_limit"`

	// RetryNoCandidates turns the "no user qualifies" outcome into a task
	// failure so the queue retries it. Off by default: the outcome is
	// recorded and the request stays unassigned.
	RetryNoCandidates bool `yaml:"retry_no_candidates"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Policy, util.PrefixConfig(prefix, "policy"), scoring.PolicyMixture, "Selection policy, mixture or height-threshold.")
	f.Float64Var(&cfg.MinScoreFraction, util.PrefixConfig(prefix, "min-score-fraction"), scoring.DefaultMinScoreFraction, "Score fraction a candidate must clear to count as a primary match.")
	cfg.SoftTimeLimit = DefaultSoftTimeLimit
}

func (cfg *Config) Validate() error {
	_, err := scoring.NewPolicy(cfg.Policy, cfg.MinScoreFraction)
	return err
}
