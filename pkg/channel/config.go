package channel

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kbirk/peerchan/pkg/log"
)

const DefaultGlobalRequestTimeout = 30 * time.Second

type Config struct {
	Transport Transport
	// Name identifies the channel in logs. A random one is generated if empty.
	Name string
	// GlobalRequestTimeout applies to requests with no other timeout.
	GlobalRequestTimeout time.Duration
	// RejectPendingOnDispose fails every pending request with
	// ErrChannelDisposed when the channel is disposed. Otherwise pending
	// requests settle only by response or timeout.
	RejectPendingOnDispose bool
	Clock                  clock.Clock
	Logger                 log.Logger
	ErrHandler             func(error)
}

func (c Config) withDefaults() Config {
	if c.GlobalRequestTimeout <= 0 {
		c.GlobalRequestTimeout = DefaultGlobalRequestTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}
