package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/InsulaLabs/meshsync/internal/wire"
)

// The TopicPublisher handed to a caller who wants to publish events to a
// topic. The topic is validated when the publisher is requested.
type topicPublisherImpl struct {
	emitterId string
	topic     string

	router EventRouter
}

func (tp *topicPublisherImpl) Publish(ctx context.Context, m wire.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return tp.router(ctx, Event{
		EventID:   uuid.NewString(),
		Topic:     tp.topic,
		EmittedAt: time.Now(),
		Emitter:   tp.emitterId,
		Message:   m,
	})
}

// subscription wraps a subscriber so the same subscriber can be registered
// twice and removed independently.
type subscription struct {
	subscriber TopicSubscriber
}

type pubSubImpl struct {
	permittedTopics []string
	subscribers     map[string][]*subscription

	subscribersMutex sync.RWMutex

	router EventRouter
}

func (ps *pubSubImpl) GetPermittedTopics() ([]string, error) {
	return ps.permittedTopics, nil
}

func (ps *pubSubImpl) GetPublisher(emitterId, topic string) (TopicPublisher, error) {
	if !slices.Contains(ps.permittedTopics, topic) {
		return nil, ErrTopicNotPermitted
	}
	return &topicPublisherImpl{
		emitterId: emitterId,
		topic:     topic,
		router:    ps.router,
	}, nil
}

func (ps *pubSubImpl) Subscribe(topic string, subscriber TopicSubscriber) (Unsubscriber, error) {
	if !slices.Contains(ps.permittedTopics, topic) {
		return nil, ErrTopicNotPermitted
	}

	ps.subscribersMutex.Lock()
	defer ps.subscribersMutex.Unlock()

	sub := &subscription{subscriber: subscriber}
	ps.subscribers[topic] = append(ps.subscribers[topic], sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			ps.subscribersMutex.Lock()
			defer ps.subscribersMutex.Unlock()
			ps.subscribers[topic] = slices.DeleteFunc(ps.subscribers[topic], func(s *subscription) bool {
				return s == sub
			})
		})
	}, nil
}

// deliver is the default router. Subscribers run on the publisher's
// goroutine, so a slow subscriber slows the publisher down.
func (ps *pubSubImpl) deliver(ctx context.Context, event Event) error {
	ps.subscribersMutex.RLock()
	subs := slices.Clone(ps.subscribers[event.Topic])
	ps.subscribersMutex.RUnlock()

	for _, s := range subs {
		s.subscriber.OnMessage(ctx, event)
	}
	return nil
}
