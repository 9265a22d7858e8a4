// Package echo confirms that layer writes come back from the server.
//
// Because the client subscribes to the layers it writes, the server echoes
// each accepted value back as a LayerSetValue. The tracker remembers every
// written item until that echo arrives and reports the ones that never do.
package echo

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/InsulaLabs/meshsync/internal/events"
	"github.com/InsulaLabs/meshsync/internal/wire"
)

const DefaultTimeout = 30 * time.Second

type Key struct {
	Node  uint32
	Layer uint16
	Item  uint32
}

type Config struct {
	Logger  *slog.Logger
	Timeout time.Duration
}

type Tracker struct {
	logger *slog.Logger
	cache  *ttlcache.Cache[Key, wire.Value]

	confirmed  atomic.Int64
	mismatched atomic.Int64
	missed     atomic.Int64
}

var _ events.TopicSubscriber = &Tracker{}

func New(config Config) *Tracker {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	t := &Tracker{
		logger: logger.WithGroup("echo"),
		cache: ttlcache.New[Key, wire.Value](
			ttlcache.WithTTL[Key, wire.Value](timeout),
			ttlcache.WithDisableTouchOnHit[Key, wire.Value](),
		),
	}
	t.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[Key, wire.Value]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		t.missed.Add(1)
		k := item.Key()
		t.logger.Warn("Write was not echoed", "node", k.Node, "layer", k.Layer, "item", k.Item)
	})
	go t.cache.Start()
	return t
}

// OnMessage tracks LayerSetValue commands: written ones are remembered,
// inbound ones settle the matching write.
func (t *Tracker) OnMessage(ctx context.Context, event events.Event) {
	msg, ok := event.Message.(*wire.LayerSetValue)
	if !ok {
		return
	}
	key := Key{Node: msg.NodeID, Layer: msg.LayerID, Item: msg.ItemID}

	switch event.Topic {
	case events.TopicWritten:
		t.cache.Set(key, msg.Value, ttlcache.DefaultTTL)
	case events.TopicInbound:
		item := t.cache.Get(key)
		if item == nil {
			return
		}
		t.cache.Delete(key)
		if !sameValue(item.Value(), msg.Value) {
			t.mismatched.Add(1)
			t.logger.Warn("Echo differs from written value",
				"node", key.Node, "layer", key.Layer, "item", key.Item)
			return
		}
		t.confirmed.Add(1)
	}
}

func sameValue(a, b wire.Value) bool {
	return a.Type == b.Type && slices.Equal(a.Uints, b.Uints) && slices.Equal(a.Reals, b.Reals)
}

// Sweep reports writes whose echo is overdue without waiting for the
// background cleanup.
func (t *Tracker) Sweep() {
	t.cache.DeleteExpired()
}

type Stats struct {
	Pending    int
	Confirmed  int64
	Mismatched int64
	Missed     int64
}

func (t *Tracker) Stats() Stats {
	return Stats{
		Pending:    t.cache.Len(),
		Confirmed:  t.confirmed.Load(),
		Mismatched: t.mismatched.Load(),
		Missed:     t.missed.Load(),
	}
}

func (t *Tracker) Stop() {
	t.cache.Stop()
}
