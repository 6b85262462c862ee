package registry

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/gradscan/scan-relay/pkg/ws"
)

// Record is the server-side metadata tracked per live connection. A
// connection has at most one record at a time; re-registration overwrites
// the record but keeps the same handle.
type Record struct {
	Handle       string
	Role         string
	ClientID     string
	Device       map[string]string
	RegisteredAt time.Time
	Peer         ws.Conn
}

// Registry maps connection handles to Connection Records. Each connection
// gets its own reader goroutine and the sweep walks the map from a ticker
// goroutine, so the backing map is concurrent.
type Registry struct {
	records cmap.ConcurrentMap[string, *Record]
}

// New creates an empty registry owned by a single relay server instance.
func New() *Registry {
	return &Registry{records: cmap.New[*Record]()}
}

// Upsert creates or replaces the record for the given connection handle.
func (r *Registry) Upsert(handle, role, clientID string, device map[string]string, peer ws.Conn) *Record {
	rec := &Record{
		Handle:       handle,
		Role:         role,
		ClientID:     clientID,
		Device:       device,
		RegisteredAt: time.Now(),
		Peer:         peer,
	}
	r.records.Set(handle, rec)
	return rec
}

// Get returns the record for a handle, if any.
func (r *Registry) Get(handle string) (*Record, bool) {
	return r.records.Get(handle)
}

// Remove deletes the record for a handle and reports whether one existed.
// Remove-if-present keeps close handling and the sweep idempotent.
func (r *Registry) Remove(handle string) (*Record, bool) {
	rec, ok := r.records.Pop(handle)
	return rec, ok
}

// ByRole returns all records currently registered with the given role.
func (r *Registry) ByRole(role string) []*Record {
	var out []*Record
	for _, rec := range r.records.Items() {
		if rec.Role == role {
			out = append(out, rec)
		}
	}
	return out
}

// All returns a snapshot of every live record.
func (r *Registry) All() []*Record {
	var out []*Record
	for _, rec := range r.records.Items() {
		out = append(out, rec)
	}
	return out
}

// CountByRole returns the number of live connections per role.
func (r *Registry) CountByRole() map[string]int {
	counts := make(map[string]int)
	for _, rec := range r.records.Items() {
		counts[rec.Role]++
	}
	return counts
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	return r.records.Count()
}
