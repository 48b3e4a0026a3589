package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog/log"
)

// PresenceEntry is one identity with its live connections in join order.
type PresenceEntry struct {
	Identity    domain.Identity
	Connections []domain.Connection
}

// Snapshot is the presence of every online identity, sorted by name.
type Snapshot []PresenceEntry

// Registry maps identities to their live connections. Each identity's list is
// an immutable slice replaced under its shard lock, so readers never see a
// partial update. An identity is present only while it has a connection.
type Registry struct {
	entries cmap.ConcurrentMap[domain.IdentityName, []core.MemberSession]
	owners  cmap.ConcurrentMap[domain.ConnectionID, domain.IdentityName]

	dirty chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

func NewRegistry() *Registry {
	return &Registry{
		entries: cmap.NewStringer[domain.IdentityName, []core.MemberSession](),
		owners:  cmap.NewStringer[domain.ConnectionID, domain.IdentityName](),
		dirty:   make(chan struct{}, 1),
		subs:    make(map[int]chan Snapshot),
	}
}

// Register appends the connection to its identity's list.
func (r *Registry) Register(m core.MemberSession) error {
	meta := m.Meta()
	name := meta.Identity.Name
	if !r.owners.SetIfAbsent(meta.ID, name) {
		return ErrDuplicateConnection
	}
	r.entries.Upsert(name, nil, func(_ bool, cur, _ []core.MemberSession) []core.MemberSession {
		next := make([]core.MemberSession, len(cur), len(cur)+1)
		copy(next, cur)
		return append(next, m)
	})
	log.Info().Str("module", "app.registry").Str("identity", name.String()).Str("conn", meta.ID.String()).Str("client", string(meta.Class)).Msg("registered connection")
	r.markDirty()
	return nil
}

// Unregister removes the connection. emptied is true when it was the
// identity's last one and the identity went offline.
func (r *Registry) Unregister(name domain.IdentityName, id domain.ConnectionID) (emptied bool, ok bool) {
	r.entries.Upsert(name, nil, func(exist bool, cur, _ []core.MemberSession) []core.MemberSession {
		if !exist {
			return nil
		}
		next := make([]core.MemberSession, 0, len(cur))
		for _, m := range cur {
			if m.Meta().ID == id {
				ok = true
				continue
			}
			next = append(next, m)
		}
		return next
	})
	// an empty list is never observable: every reader treats it as absent,
	// and a concurrent Register in between makes it non-empty again
	emptied = r.entries.RemoveCb(name, func(_ domain.IdentityName, cur []core.MemberSession, exists bool) bool {
		return exists && len(cur) == 0
	})
	if !ok {
		return false, false
	}
	r.owners.RemoveCb(id, func(_ domain.ConnectionID, owner domain.IdentityName, exists bool) bool {
		return exists && owner == name
	})
	log.Info().Str("module", "app.registry").Str("identity", name.String()).Str("conn", id.String()).Bool("offline", emptied).Msg("unregistered connection")
	r.markDirty()
	return emptied, true
}

// ListConnections returns the identity's connections in join order.
func (r *Registry) ListConnections(name domain.IdentityName) []core.MemberSession {
	cur, _ := r.entries.Get(name)
	return slices.Clone(cur)
}

// Lookup resolves one connection of an identity.
func (r *Registry) Lookup(name domain.IdentityName, id domain.ConnectionID) (core.MemberSession, error) {
	cur, _ := r.entries.Get(name)
	if len(cur) == 0 {
		return nil, ErrUnknownTarget
	}
	for _, m := range cur {
		if m.Meta().ID == id {
			return m, nil
		}
	}
	return nil, ErrStaleConnection
}

// Online reports whether the identity has at least one connection.
func (r *Registry) Online(name domain.IdentityName) bool {
	cur, _ := r.entries.Get(name)
	return len(cur) > 0
}

// All returns every live connection.
func (r *Registry) All() []core.MemberSession {
	var out []core.MemberSession
	r.entries.IterCb(func(_ domain.IdentityName, cur []core.MemberSession) {
		out = append(out, cur...)
	})
	return out
}

func (r *Registry) Snapshot() Snapshot {
	snap := make(Snapshot, 0, r.entries.Count())
	r.entries.IterCb(func(_ domain.IdentityName, cur []core.MemberSession) {
		if len(cur) == 0 {
			return
		}
		e := PresenceEntry{
			Identity:    cur[0].Meta().Identity,
			Connections: make([]domain.Connection, 0, len(cur)),
		}
		for _, m := range cur {
			e.Connections = append(e.Connections, m.Meta())
		}
		snap = append(snap, e)
	})
	slices.SortFunc(snap, func(a, b PresenceEntry) int {
		switch {
		case a.Identity.Name < b.Identity.Name:
			return -1
		case a.Identity.Name > b.Identity.Name:
			return 1
		}
		return 0
	})
	return snap
}

// Subscribe returns a channel receiving presence snapshots. Only the latest
// undelivered snapshot is kept for a slow subscriber.
func (r *Registry) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

// Run publishes a snapshot to subscribers after membership changes until ctx
// is done. Bursts of changes collapse into one publication.
func (r *Registry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.registry").Msg("presence publisher stopped")
			return
		case <-r.dirty:
			r.publish(r.Snapshot())
		}
	}
}

func (r *Registry) markDirty() {
	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

func (r *Registry) publish(snap Snapshot) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// replace the stale snapshot
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
