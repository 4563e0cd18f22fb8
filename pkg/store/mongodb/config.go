package mongodb

import (
	"flag"
	"time"

	"github.com/usherd/usher/pkg/util"
)

type Config struct {
	// URL is a standard mongodb:// connection string.
	URL            string        `yaml:"url"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, util.PrefixConfig(prefix, "url"), "mongodb://localhost:27017", "Mongo connection string for the authoritative store.")
	f.StringVar(&cfg.Database, util.PrefixConfig(prefix, "database"), "usher", "Database holding the usher collections.")
	cfg.ConnectTimeout = 10 * time.Second
	cfg.QueryTimeout = 30 * time.Second
}
