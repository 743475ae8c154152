// Package transport is the broker collaborator used by the secure producer
// and consumer. Publishers and subscribers are separate so each side owns
// exactly one connection.
package transport

import (
	"context"
	"time"
)

type OutboundMessage struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Receipt reports where a record landed. Partition and Offset are -1 when
// the broker did not report them.
type Receipt struct {
	Topic     string
	Partition int
	Offset    int64
}

type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

type Publisher interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// Publish returns a classified error: retryable for the transient
	// transport vocabulary, fatal otherwise.
	Publish(ctx context.Context, msg OutboundMessage) (Receipt, error)
	Flush(ctx context.Context) error
}

// RecordHandler is invoked once per fetched record. A returned error stops
// the run loop and is reported as a crash.
type RecordHandler func(ctx context.Context, rec Record) error

type RunConfig struct {
	AutoCommit      bool
	CommitInterval  time.Duration
	CommitThreshold int
}

type Subscriber interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, topics []string, fromBeginning bool) error
	// Run blocks until ctx is done, Stop is called or the loop crashes. It
	// returns nil on a clean stop.
	Run(ctx context.Context, cfg RunConfig, handler RecordHandler) error
	Stop()
	CommitOffsets(ctx context.Context) error
}

// Pinger is implemented by transports that can probe broker reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
