// Package fanout implements the topic based publish/subscribe table that
// chat sessions use to reach each other.
package fanout

import (
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// GlobalGroupDirectory is the topic for clients browsing the group list
// without being bound to a group.
const GlobalGroupDirectory = "global-group-directory"

// UserTopic is the own-user topic every session of userID subscribes to.
func UserTopic(userID int64) string { return "user:" + strconv.FormatInt(userID, 10) }

// ConversationTopic carries events for one direct conversation.
func ConversationTopic(convID int64) string { return "conversation:" + strconv.FormatInt(convID, 10) }

// GroupTopic carries events for one group.
func GroupTopic(groupID int64) string { return "group:" + strconv.FormatInt(groupID, 10) }

// Event is anything that can be published. EventType names the wire variant.
type Event interface {
	EventType() string
}

// Subscriber is one delivery endpoint, normally a connected session.
// Deliver must not block: it either queues the event or fails.
type Subscriber interface {
	SubscriberID() string
	Deliver(Event) error
}

// Router maps topics to subscribers. Delivery is best effort and at most
// once per subscriber: a subscriber that is not subscribed when an event is
// published never sees it.
type Router struct {
	mu     sync.RWMutex
	topics map[string]map[string]Subscriber // topic -> subscriber id -> subscriber
	joined map[string]map[string]struct{}   // subscriber id -> topics
	logger *zap.Logger
}

// NewRouter creates an empty Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		topics: make(map[string]map[string]Subscriber),
		joined: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Subscribe adds s to topic. Subscribing twice is a no-op.
func (r *Router) Subscribe(topic string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[string]Subscriber)
		r.topics[topic] = subs
	}
	id := s.SubscriberID()
	subs[id] = s

	topics, ok := r.joined[id]
	if !ok {
		topics = make(map[string]struct{})
		r.joined[id] = topics
	}
	topics[topic] = struct{}{}
}

// Unsubscribe removes s from topic.
func (r *Router) Unsubscribe(topic string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(topic, s.SubscriberID())
}

// UnsubscribeAll removes s from every topic and returns the topics it left.
func (r *Router) UnsubscribeAll(s Subscriber) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropLocked(s.SubscriberID())
}

func (r *Router) dropLocked(id string) []string {
	topics := r.joined[id]
	left := make([]string, 0, len(topics))
	for topic := range topics {
		left = append(left, topic)
		r.removeLocked(topic, id)
	}
	return left
}

func (r *Router) removeLocked(topic, id string) {
	if subs, ok := r.topics[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
	if topics, ok := r.joined[id]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(r.joined, id)
		}
	}
}

// Publish delivers ev to every current subscriber of topic and returns how
// many accepted it. Subscribers whose Deliver fails are dropped from every
// topic so a dead session is never published to again. The table lock is
// not held while delivering.
func (r *Router) Publish(topic string, ev Event) int {
	r.mu.RLock()
	subs := r.topics[topic]
	targets := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	delivered := 0
	var failed []string
	for _, s := range targets {
		if err := s.Deliver(ev); err != nil {
			r.logger.Warn("dropping subscriber after failed delivery",
				zap.String("subscriber", s.SubscriberID()),
				zap.String("topic", topic),
				zap.String("event", ev.EventType()),
				zap.Error(err),
			)
			failed = append(failed, s.SubscriberID())
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		r.mu.Lock()
		for _, id := range failed {
			r.dropLocked(id)
		}
		r.mu.Unlock()
	}
	return delivered
}

// Subscribers returns how many subscribers topic currently has.
func (r *Router) Subscribers(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Topics returns the topics s is subscribed to.
func (r *Router) Topics(s Subscriber) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := r.joined[s.SubscriberID()]
	out := make([]string, 0, len(topics))
	for t := range topics {
		out = append(out, t)
	}
	return out
}
