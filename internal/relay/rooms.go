package relay

import "sync"

// Rooms tracks room membership for presence and typing broadcasts. Delivery
// is fire-and-forget through each member's outbound queue: no acknowledgement,
// no retry, frames drop when a member's queue is full.
type Rooms struct {
	mu      sync.Mutex
	members map[string]map[*Conn]struct{}
	joined  map[*Conn]map[string]struct{}
}

// NewRooms creates an empty membership map.
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[*Conn]struct{}),
		joined:  make(map[*Conn]map[string]struct{}),
	}
}

// Join adds a connection to a room. Joining twice is a no-op.
func (r *Rooms) Join(c *Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[roomID] == nil {
		r.members[roomID] = make(map[*Conn]struct{})
	}
	r.members[roomID][c] = struct{}{}
	if r.joined[c] == nil {
		r.joined[c] = make(map[string]struct{})
	}
	r.joined[c][roomID] = struct{}{}
}

// Leave removes a connection from a room.
func (r *Rooms) Leave(c *Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(c, roomID)
}

// LeaveAll removes a connection from every room it joined. Called on
// disconnect so no orphaned membership survives the session.
func (r *Rooms) LeaveAll(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID := range r.joined[c] {
		r.removeLocked(c, roomID)
	}
}

func (r *Rooms) removeLocked(c *Conn, roomID string) {
	if conns, ok := r.members[roomID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.members, roomID)
		}
	}
	if rooms, ok := r.joined[c]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, c)
		}
	}
}

// EmitToRoom broadcasts a frame to every member except the sender. Pass a nil
// sender to include everyone.
func (r *Rooms) EmitToRoom(roomID string, f Frame, except *Conn) {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.members[roomID]))
	for c := range r.members[roomID] {
		if c != except {
			conns = append(conns, c)
		}
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.Send(f)
	}
}

// MemberCount reports how many connections are in a room.
func (r *Rooms) MemberCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members[roomID])
}
