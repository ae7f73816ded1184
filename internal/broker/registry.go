// Package broker provides the in-memory topic registry and fan-out
// publisher behind all real-time delivery: session sync events, live chat,
// direct-message notifications, and friendship notifications.
//
// Topics come in three families:
//
//	session.{sessionId}        anyone who has joined the session
//	direct-message.{userId}    only that user
//	notifications.{userId}     only that user
package broker

import (
	"errors"
	"strings"
	"sync"

	"github.com/watchroom/backend/internal/events"
)

// ErrUnauthorized is returned by Subscribe when the credentials do not
// satisfy the topic's owner/member rule.
var ErrUnauthorized = errors.New("not authorized for topic")

// Topic family prefixes.
const (
	sessionPrefix       = "session."
	directMessagePrefix = "direct-message."
	notificationsPrefix = "notifications."
)

// SessionTopic returns the broadcast topic for a watch session.
func SessionTopic(sessionID string) string { return sessionPrefix + sessionID }

// DirectMessageTopic returns a user's private direct-message topic.
func DirectMessageTopic(userID string) string { return directMessagePrefix + userID }

// NotificationsTopic returns a user's private notifications topic.
func NotificationsTopic(userID string) string { return notificationsPrefix + userID }

// subscriptionBuffer is the per-subscription event buffer. A subscriber
// that falls this far behind is treated as dead and evicted rather than
// blocking delivery to everyone else.
const subscriptionBuffer = 32

// MemberChecker reports whether a user has joined a session. The session
// store implements this; the registry delegates session-topic
// authorization to it.
type MemberChecker interface {
	IsMember(sessionID, userID string) bool
}

// Credentials identify the connection attempting to subscribe.
type Credentials struct {
	UserID string
}

// Subscription is one live connection's membership in a topic. Events
// arrive on C in the order they were published for the topic.
type Subscription struct {
	Topic  string
	UserID string
	C      chan events.Envelope

	closed bool // guarded by the registry mutex
}

// Registry maps topics to their live subscriber sets and enforces
// per-topic authorization. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	topics  map[string]map[*Subscription]struct{}
	members MemberChecker
}

// NewRegistry creates a Registry that authorizes session topics against
// the given member checker.
func NewRegistry(members MemberChecker) *Registry {
	return &Registry{
		topics:  make(map[string]map[*Subscription]struct{}),
		members: members,
	}
}

// Subscribe registers a new connection on a topic after checking the
// topic's authorization rule. It fails fast with ErrUnauthorized; it never
// blocks waiting for state.
func (r *Registry) Subscribe(topic string, creds Credentials) (*Subscription, error) {
	if !r.authorized(topic, creds) {
		return nil, ErrUnauthorized
	}

	sub := &Subscription{
		Topic:  topic,
		UserID: creds.UserID,
		C:      make(chan events.Envelope, subscriptionBuffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[*Subscription]struct{})
	}
	r.topics[topic][sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes a subscription from its topic. Unsubscribing a
// subscription that is not present is a no-op.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(sub)
}

// SubscribersOf returns a snapshot of the topic's live subscriber set.
// Subscribers may depart concurrently; callers must tolerate delivering to
// a subscription that vanishes mid-send.
func (r *Registry) SubscribersOf(topic string) []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := make([]*Subscription, 0, len(r.topics[topic]))
	for sub := range r.topics[topic] {
		subs = append(subs, sub)
	}
	return subs
}

// EvictUser closes and removes one user's subscriptions on a topic. Used
// when a viewer leaves a session: their membership is gone, so their live
// subscriptions must not keep receiving the session's events.
func (r *Registry) EvictUser(topic, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.topics[topic] {
		if sub.UserID == userID {
			r.dropLocked(sub)
		}
	}
}

// EvictTopic closes and removes every subscription on a topic. Used when a
// session is deleted so its viewers are disconnected.
func (r *Registry) EvictTopic(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.topics[topic] {
		r.dropLocked(sub)
	}
}

// dropLocked removes a subscription and closes its channel exactly once.
// Caller holds r.mu.
func (r *Registry) dropLocked(sub *Subscription) {
	if subs, ok := r.topics[sub.Topic]; ok {
		if _, present := subs[sub]; present {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(r.topics, sub.Topic)
			}
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.C)
	}
}

// authorized applies the per-family access rule.
func (r *Registry) authorized(topic string, creds Credentials) bool {
	switch {
	case strings.HasPrefix(topic, sessionPrefix):
		sessionID := strings.TrimPrefix(topic, sessionPrefix)
		return sessionID != "" && r.members != nil && r.members.IsMember(sessionID, creds.UserID)
	case strings.HasPrefix(topic, directMessagePrefix):
		owner := strings.TrimPrefix(topic, directMessagePrefix)
		return owner != "" && owner == creds.UserID
	case strings.HasPrefix(topic, notificationsPrefix):
		owner := strings.TrimPrefix(topic, notificationsPrefix)
		return owner != "" && owner == creds.UserID
	default:
		return false
	}
}
