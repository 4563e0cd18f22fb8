package queue

import (
	"flag"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/flagext"

	"github.com/usherd/usher/pkg/util"
)

const (
	// DefaultTopic carries the dispatch tasks.
	DefaultTopic = "usher-dispatch"
	// DefaultConsumerGroup is shared by all dispatcher workers so the
	// broker spreads partitions across them.
	DefaultConsumerGroup = "usher-dispatcher"
)

type Config struct {
	Address      string        `yaml:"address"`
	Topic        string        `yaml:"topic"`
	ClientID     string        `yaml:"client_id"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	SASLUsername string         `yaml:"sasl_username"`
	SASLPassword flagext.Secret `yaml:"sasl_password"`

	ConsumerGroup  string        `yaml:"consumer_group"`
	SessionTimeout time.Duration `yaml:"session_timeout"`

	AutoCreateTopicEnabled bool `yaml:"auto_create_topic_enabled"`

	// RetryBackoff bounds the in-process retries of a failing task before
	// it is abandoned.
	RetryBackoff backoff.Config `yaml:"retry_backoff"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Address, util.PrefixConfig(prefix, "address"), "localhost:9092", "Kafka broker addresses, comma separated.")
	f.StringVar(&cfg.Topic, util.PrefixConfig(prefix, "topic"), DefaultTopic, "Topic carrying dispatch tasks.")
	f.StringVar(&cfg.ConsumerGroup, util.PrefixConfig(prefix, "consumer-group"), DefaultConsumerGroup, "Consumer group of the dispatcher workers.")

	cfg.ClientID = "usher"
	cfg.DialTimeout = 2 * time.Second
	cfg.WriteTimeout = 10 * time.Second
	// Unacked tasks of a lost worker are redelivered after the session
	// times out, so keep it above the dispatch soft time limit.
	cfg.SessionTimeout = time.Minute
	cfg.AutoCreateTopicEnabled = true
	cfg.RetryBackoff = backoff.Config{
		MinBackoff: 5 * time.Second,
		MaxBackoff: 300 * time.Second,
		MaxRetries: 3,
	}
}
