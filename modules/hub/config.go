package hub

import (
	"flag"
	"time"

	"github.com/usherd/usher/pkg/util"
)

type Config struct {
	// SendBuffer is the number of outbound frames buffered per client.
	// A client whose buffer is full when a frame arrives is dropped.
	SendBuffer int `yaml:"send_buffer"`

	// WriteTimeout bounds a single frame or ping write to a client.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PongTimeout is how long a client may stay silent before its
	// connection is considered dead. Pings go out at 90% of this.
	PongTimeout time.Duration `yaml:"pong_timeout"`

	// ReadLimit caps inbound message size. Observers are not expected to
	// send anything beyond control frames.
	ReadLimit int64 `yaml:"read_limit"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.SendBuffer, util.PrefixConfig(prefix, "send-buffer"), 32, "Outbound frames buffered per websocket client before the client is dropped.")
	cfg.WriteTimeout = 10 * time.Second
	cfg.PongTimeout = 60 * time.Second
	cfg.ReadLimit = 512
}

func (cfg *Config) pingInterval() time.Duration {
	return cfg.PongTimeout * 9 / 10
}
