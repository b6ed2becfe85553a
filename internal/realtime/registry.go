package realtime

import (
	"fmt"
	"sync"

	"github.com/citysense/citysense/internal/metrics"
)

// Selector addresses a broadcast: every connection, one user's connections,
// one role's connections, or one topic's subscribers.
type Selector struct {
	scope  string
	userID int
	role   string
	topic  string
}

const (
	scopeAll   = "all"
	scopeUser  = "user"
	scopeRole  = "role"
	scopeTopic = "topic"
)

func All() Selector               { return Selector{scope: scopeAll} }
func ToUser(userID int) Selector  { return Selector{scope: scopeUser, userID: userID} }
func ToRole(role string) Selector { return Selector{scope: scopeRole, role: role} }
func ToTopic(topic string) Selector {
	return Selector{scope: scopeTopic, topic: topic}
}

func (s Selector) String() string {
	switch s.scope {
	case scopeUser:
		return fmt.Sprintf("user:%d", s.userID)
	case scopeRole:
		return "role:" + s.role
	case scopeTopic:
		return "topic:" + s.topic
	default:
		return scopeAll
	}
}

// WireSelector is the JSON form of a Selector carried by the cross-instance
// event relay.
type WireSelector struct {
	Scope  string `json:"scope"`
	UserID int    `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	Topic  string `json:"topic,omitempty"`
}

func (s Selector) Wire() WireSelector {
	return WireSelector{Scope: s.scope, UserID: s.userID, Role: s.role, Topic: s.topic}
}

// Selector converts the wire form back. Unknown scopes degrade to an empty
// topic selector, which matches nothing.
func (w WireSelector) Selector() Selector {
	switch w.Scope {
	case scopeAll:
		return All()
	case scopeUser:
		return ToUser(w.UserID)
	case scopeRole:
		return ToRole(w.Role)
	case scopeTopic:
		return ToTopic(w.Topic)
	default:
		return Selector{scope: scopeTopic}
	}
}

// ConnectionStats is a point-in-time view of the registry for the
// system_stats response and the health broadcast.
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	UsersOnline        int            `json:"users_online"`
	ConnectionsByRole  map[string]int `json:"connections_by_role"`
	TopicSubscriptions map[string]int `json:"channel_subscriptions"`
}

type clientSet map[*Client]struct{}

// Registry tracks every live connection under three mutually consistent
// indexes: by user id, by role, and by subscribed topic. Each operation is a
// single critical section; snapshots copy the matching set so delivery never
// iterates the live maps. A connection is present in the user and role
// indexes iff it is registered, and in a topic index iff it holds an active
// subscription.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[int]clientSet
	byRole   map[string]clientSet
	byTopic  map[string]clientSet
	topicsOf map[*Client]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[int]clientSet),
		byRole:   make(map[string]clientSet),
		byTopic:  make(map[string]clientSet),
		topicsOf: make(map[*Client]map[string]struct{}),
	}
}

// Register inserts the client into the user and role indexes. Registering the
// same client twice is a programmer error.
func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.topicsOf[c]; exists {
		return fmt.Errorf("client %s already registered", c.ID())
	}

	if r.byUser[c.UserID] == nil {
		r.byUser[c.UserID] = make(clientSet)
	}
	r.byUser[c.UserID][c] = struct{}{}

	if r.byRole[c.Role] == nil {
		r.byRole[c.Role] = make(clientSet)
	}
	r.byRole[c.Role][c] = struct{}{}

	r.topicsOf[c] = make(map[string]struct{})

	metrics.ActiveConnections.Inc()
	return nil
}

// Unregister removes the client from every index, deleting entries whose
// sets become empty. It is idempotent: disconnects race with send-failure
// cleanup, so unregistering an absent client is a no-op. Returns whether the
// client was present, so exactly one caller tears the connection down.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics, exists := r.topicsOf[c]
	if !exists {
		return false
	}

	if set := r.byUser[c.UserID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	if set := r.byRole[c.Role]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(r.byRole, c.Role)
		}
	}
	for topic := range topics {
		r.removeSubscriptionLocked(c, topic)
	}
	delete(r.topicsOf, c)

	metrics.ActiveConnections.Dec()
	return true
}

// Subscribe adds the client to a topic index. Topics are created implicitly
// on first subscription. Subscribing an unregistered client is ignored;
// membership is per (client, topic), not reference-counted.
func (r *Registry) Subscribe(c *Client, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics, exists := r.topicsOf[c]
	if !exists {
		return
	}
	topics[topic] = struct{}{}

	if r.byTopic[topic] == nil {
		r.byTopic[topic] = make(clientSet)
	}
	r.byTopic[topic][c] = struct{}{}
}

// Unsubscribe removes the client from a topic index; a no-op if it was not
// subscribed. Empty topics are garbage-collected.
func (r *Registry) Unsubscribe(c *Client, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics, exists := r.topicsOf[c]
	if !exists {
		return
	}
	delete(topics, topic)
	r.removeSubscriptionLocked(c, topic)
}

func (r *Registry) removeSubscriptionLocked(c *Client, topic string) {
	set := r.byTopic[topic]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.byTopic, topic)
	}
}

// Snapshot returns a copy of the connections matching the selector. Delivery
// iterates the copy, so a disconnect during a broadcast only fails its own
// send.
func (r *Registry) Snapshot(sel Selector) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch sel.scope {
	case scopeUser:
		return copySet(r.byUser[sel.userID])
	case scopeRole:
		return copySet(r.byRole[sel.role])
	case scopeTopic:
		return copySet(r.byTopic[sel.topic])
	default:
		all := make([]*Client, 0, len(r.topicsOf))
		for c := range r.topicsOf {
			all = append(all, c)
		}
		return all
	}
}

func copySet(set clientSet) []*Client {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Stats reports connection counts across all three indexes.
func (r *Registry) Stats() ConnectionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections:   len(r.topicsOf),
		UsersOnline:        len(r.byUser),
		ConnectionsByRole:  make(map[string]int, len(r.byRole)),
		TopicSubscriptions: make(map[string]int, len(r.byTopic)),
	}
	for role, set := range r.byRole {
		stats.ConnectionsByRole[role] = len(set)
	}
	for topic, set := range r.byTopic {
		stats.TopicSubscriptions[topic] = len(set)
	}
	return stats
}
