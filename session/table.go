package session

import (
	"sort"
	"time"
)

// Entry is the bookkeeping for one scene: who is interested in it and which worker serves it.
type Entry struct {
	SceneID  string
	LaunchID string
	clients  map[string]struct{}

	// Rendering is the last status reported for the scene, nil until the first report.
	Rendering *bool
	CreatedAt time.Time
}

// Add adds a client to the session set. Adding a present client is a no-op.
func (e *Entry) Add(clientID string) {
	e.clients[clientID] = struct{}{}
}

// Remove removes a client from the session set, reporting whether it was a member.
func (e *Entry) Remove(clientID string) bool {
	if _, ok := e.clients[clientID]; !ok {
		return false
	}
	delete(e.clients, clientID)
	return true
}

func (e *Entry) Has(clientID string) bool {
	_, ok := e.clients[clientID]
	return ok
}

func (e *Entry) Len() int { return len(e.clients) }

// Clients returns the session set in sorted order.
func (e *Entry) Clients() []string {
	ids := make([]string, 0, len(e.clients))
	for id := range e.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot is a read-only copy of an Entry.
type Snapshot struct {
	SceneID   string
	LaunchID  string
	Clients   []string
	Rendering *bool
	CreatedAt time.Time
}

func (e *Entry) Snapshot() Snapshot {
	s := Snapshot{
		SceneID:   e.SceneID,
		LaunchID:  e.LaunchID,
		Clients:   e.Clients(),
		CreatedAt: e.CreatedAt,
	}
	if e.Rendering != nil {
		r := *e.Rendering
		s.Rendering = &r
	}
	return s
}

// Table maps scene identities to their entries.
// It is not goroutine-safe; the lifecycle controller is its only writer.
type Table struct {
	entries map[string]*Entry
}

func NewTable() *Table {
	return &Table{entries: map[string]*Entry{}}
}

func (t *Table) Get(sceneID string) (*Entry, bool) {
	e, ok := t.entries[sceneID]
	return e, ok
}

// Create adds an entry with an empty session set. It overwrites any existing entry for the scene.
func (t *Table) Create(sceneID string, now time.Time) *Entry {
	e := &Entry{
		SceneID:   sceneID,
		clients:   map[string]struct{}{},
		CreatedAt: now,
	}
	t.entries[sceneID] = e
	return e
}

func (t *Table) Delete(sceneID string) {
	delete(t.entries, sceneID)
}

// ByLaunch finds the entry served by the worker with the given launch identifier.
func (t *Table) ByLaunch(launchID string) (*Entry, bool) {
	for _, e := range t.entries {
		if e.LaunchID == launchID {
			return e, true
		}
	}
	return nil, false
}

func (t *Table) Len() int { return len(t.entries) }

// Entries returns every entry, ordered by scene identity.
func (t *Table) Entries() []*Entry {
	es := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].SceneID < es[j].SceneID })
	return es
}

func (t *Table) Snapshots() []Snapshot {
	var ss []Snapshot
	for _, e := range t.Entries() {
		ss = append(ss, e.Snapshot())
	}
	return ss
}
