package realtime

import (
	"sync"

	"github.com/samber/lo"
)

// Registry is the room membership table shared by every connection. All
// methods are safe for concurrent use; readers get snapshots so fan-out never
// holds the lock while writing to clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]map[string]struct{} // client -> joined rooms
	rooms   map[string]map[*Client]struct{} // room -> members
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*Client]map[string]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Register adds a connected client with no room memberships.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		r.clients[c] = make(map[string]struct{})
	}
}

// Join adds a registered client to room. It reports whether the membership
// is new; unregistered (or already removed) clients are ignored.
func (r *Registry) Join(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.clients[c]
	if !ok {
		return false
	}
	if _, ok := joined[room]; ok {
		return false
	}
	joined[room] = struct{}{}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
	return true
}

// Leave removes c from room. It reports whether c was a member.
func (r *Registry) Leave(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.clients[c]
	if !ok {
		return false
	}
	if _, ok := joined[room]; !ok {
		return false
	}
	delete(joined, room)
	r.removeMemberLocked(room, c)
	return true
}

// Remove drops c from every room and forgets it, returning the rooms it left.
// ok is false when c was not registered.
func (r *Registry) Remove(c *Client) (left []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.clients[c]
	if !ok {
		return nil, false
	}
	left = lo.Keys(joined)
	for _, room := range left {
		r.removeMemberLocked(room, c)
	}
	delete(r.clients, c)
	return left, true
}

func (r *Registry) removeMemberLocked(room string, c *Client) {
	members := r.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns a snapshot of the clients joined to room.
func (r *Registry) Members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.rooms[room])
}

// Clients returns a snapshot of every registered client.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.clients)
}

// Rooms returns a snapshot of the rooms c has joined.
func (r *Registry) Rooms(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.clients[c])
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
