// Registry of the live connections served by this process.

package broadcast

import (
	"sync"
	"time"
)

// Registry owns every Connection. Each connection is served on its own goroutine,
// so all per-connection bookkeeping goes through the registry lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// RegistryStats counts what the registry holds right now.
type RegistryStats struct {
	Connected     int
	Authenticated int
	Subscriptions int
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

// Remove returns the connection if it was still registered. Only the first caller gets true.
func (r *Registry) Remove(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Subscribe adds entityIDs to the connection and returns them without duplicates.
func (r *Registry) Subscribe(id string, entityIDs []string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	ids := dedupe(entityIDs)
	for _, e := range ids {
		c.subscriptions[e] = struct{}{}
	}
	return ids, true
}

// Unsubscribe removes entityIDs from the connection and returns them without duplicates.
func (r *Registry) Unsubscribe(id string, entityIDs []string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	ids := dedupe(entityIDs)
	for _, e := range ids {
		delete(c.subscriptions, e)
	}
	return ids, true
}

// subscriptionsOf lists the entity ids a connection follows.
func (r *Registry) subscriptionsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(c.subscriptions))
	for e := range c.subscriptions {
		ids = append(ids, e)
	}
	return ids
}

// Touch records inbound activity.
func (r *Registry) Touch(id string, now time.Time) {
	r.mu.Lock()
	if c, ok := r.conns[id]; ok {
		c.lastActivity = now
	}
	r.mu.Unlock()
}

// MarkValidated records a successful session re-check.
func (r *Registry) MarkValidated(id string, now time.Time) {
	r.mu.Lock()
	if c, ok := r.conns[id]; ok {
		c.lastSessionValidation = now
	}
	r.mu.Unlock()
}

// Subscribers returns the connections following entityID. With requireAuth only authenticated ones.
func (r *Registry) Subscribers(entityID string, requireAuth bool) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, c := range r.conns {
		if requireAuth && !c.Authenticated {
			continue
		}
		if _, ok := c.subscriptions[entityID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Authenticated returns every authenticated connection.
func (r *Registry) Authenticated() []*Connection {
	return r.filter(func(c *Connection) bool { return c.Authenticated })
}

func (r *Registry) All() []*Connection {
	return r.filter(func(*Connection) bool { return true })
}

// Idle returns connections without inbound activity for longer than timeout.
func (r *Registry) Idle(now time.Time, timeout time.Duration) []*Connection {
	return r.filter(func(c *Connection) bool { return now.Sub(c.lastActivity) > timeout })
}

// DueForRevalidation returns authenticated connections whose session was last checked at least interval ago.
func (r *Registry) DueForRevalidation(now time.Time, interval time.Duration) []*Connection {
	return r.filter(func(c *Connection) bool {
		return c.Authenticated && c.SessionID != "" && now.Sub(c.lastSessionValidation) >= interval
	})
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := RegistryStats{Connected: len(r.conns)}
	for _, c := range r.conns {
		if c.Authenticated {
			stats.Authenticated++
		}
		stats.Subscriptions += len(c.subscriptions)
	}
	return stats
}

func (r *Registry) filter(keep func(*Connection) bool) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, c := range r.conns {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
