package websocket

import "sync"

// roomRegistry tracks the many-to-many membership between connections and
// named rooms. Both directions are kept under one lock so that no reader can
// observe a half-applied join or leave: a connection id is in a room's member
// set exactly when the room is in that connection's room set.
type roomRegistry struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]struct{}
	byConn map[string]map[string]struct{}
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{
		byRoom: make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to room. Joining a room twice is a no-op.
func (r *roomRegistry) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.byRoom[room]
	if !ok {
		members = make(map[string]struct{})
		r.byRoom[room] = members
	}
	members[connID] = struct{}{}

	rooms, ok := r.byConn[connID]
	if !ok {
		rooms = make(map[string]struct{})
		r.byConn[connID] = rooms
	}
	rooms[room] = struct{}{}
}

// Leave removes connID from room. Leaving a room the connection is not in is
// a no-op. Empty rooms are deleted.
func (r *roomRegistry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, room)
}

func (r *roomRegistry) leaveLocked(connID, room string) {
	if members, ok := r.byRoom[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.byRoom, room)
		}
	}
	if rooms, ok := r.byConn[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// LeaveAll removes connID from every room it belongs to. Used on disconnect.
func (r *roomRegistry) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.byConn[connID] {
		r.leaveLocked(connID, room)
	}
	delete(r.byConn, connID)
}

// Members returns a snapshot of the member connection ids of room.
func (r *roomRegistry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byRoom[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Rooms returns a snapshot of the rooms connID belongs to.
func (r *roomRegistry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := r.byConn[connID]
	out := make([]string, 0, len(rooms))
	for room := range rooms {
		out = append(out, room)
	}
	return out
}
