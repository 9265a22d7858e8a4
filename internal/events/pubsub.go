package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/InsulaLabs/meshsync/internal/wire"
)

var (
	ErrTopicNotPermitted = errors.New("topic not permitted")
)

const (
	// TopicInbound carries every command delivered by the server.
	TopicInbound = "inbound"
	// TopicWritten carries every command the client has handed to the session.
	TopicWritten = "written"
)

// DefaultTopics are the topics a session emits on.
var DefaultTopics = []string{TopicInbound, TopicWritten}

type Event struct {
	EventID   string
	Topic     string
	EmittedAt time.Time
	Emitter   string
	Message   wire.Message
}

type TopicPublisher interface {
	// Publish is handed a context that should be respected by the EventRouter
	// such that a cancelled context drops the event.
	Publish(ctx context.Context, m wire.Message) error
}

// TopicSubscriber receives events from a topic. When returned from
// PubSub.Subscribe it is the responsibility of the caller to call the
// Unsubscriber.
type TopicSubscriber interface {
	OnMessage(ctx context.Context, event Event)
}

// SubscriberFunc adapts a function to a TopicSubscriber.
type SubscriberFunc func(ctx context.Context, event Event)

func (f SubscriberFunc) OnMessage(ctx context.Context, event Event) {
	f(ctx, event)
}

// Call to unsubscribe from a topic
type Unsubscriber func()

// EventRouter fulfills the publishing logic. When none is configured the
// pubsub delivers to its own subscribers synchronously, in publish order.
type EventRouter func(ctx context.Context, event Event) error

type PubSub interface {
	GetPermittedTopics() ([]string, error)
	GetPublisher(emitterId, topic string) (TopicPublisher, error)
	Subscribe(topic string, subscriber TopicSubscriber) (Unsubscriber, error)
}

type Config struct {
	Router EventRouter
	Topics []string
}

func NewPubSub(config Config) PubSub {
	topics := config.Topics
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	ps := &pubSubImpl{
		permittedTopics:  topics,
		subscribers:      make(map[string][]*subscription),
		subscribersMutex: sync.RWMutex{},
		router:           config.Router,
	}
	if ps.router == nil {
		ps.router = ps.deliver
	}
	return ps
}
