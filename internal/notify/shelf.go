package notify

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
)

// Entry is a record as currently held by a surface.
type Entry struct {
	Record  Record    `json:"record"`
	ShownAt time.Time `json:"shown_at"`
	Hidden  bool      `json:"hidden"`
}

type slot struct {
	Entry
	timer *time.Timer
}

// shelf holds the timed entries of one surface. When keep is set, expired
// entries are hidden rather than removed.
type shelf struct {
	name  string
	ttl   time.Duration
	limit int
	keep  bool
	bus   *bus.Bus

	mu    sync.Mutex
	slots []*slot // oldest first
}

func newShelf(name string, ttl time.Duration, limit int, keep bool, b *bus.Bus) *shelf {
	return &shelf{name: name, ttl: ttl, limit: limit, keep: keep, bus: b}
}

func (s *shelf) add(rec Record) bool {
	var evicted []Cleared
	s.mu.Lock()
	if s.indexLocked(rec.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	sl := &slot{Entry: Entry{Record: rec, ShownAt: time.Now()}}
	sl.timer = time.AfterFunc(s.ttl, func() { s.expire(sl) })
	s.slots = append(s.slots, sl)
	for s.limit > 0 && len(s.slots) > s.limit {
		oldest := s.slots[0]
		oldest.timer.Stop()
		s.slots = s.slots[1:]
		evicted = append(evicted, Cleared{Surface: s.name, ID: oldest.Record.ID, Reason: ReasonEvicted})
	}
	s.mu.Unlock()

	ShownTopic.Publish(s.bus, Shown{Surface: s.name, Record: rec})
	for _, c := range evicted {
		ClearedTopic.Publish(s.bus, c)
	}
	return true
}

func (s *shelf) expire(sl *slot) {
	s.mu.Lock()
	i := slices.Index(s.slots, sl)
	if i < 0 || sl.Hidden {
		s.mu.Unlock()
		return
	}
	reason := ReasonExpired
	if s.keep {
		sl.Hidden = true
		reason = ReasonHidden
	} else {
		s.slots = slices.Delete(s.slots, i, i+1)
	}
	s.mu.Unlock()

	ClearedTopic.Publish(s.bus, Cleared{Surface: s.name, ID: sl.Record.ID, Reason: reason})
}

func (s *shelf) remove(id, reason string) (Record, bool) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return Record{}, false
	}
	sl := s.slots[i]
	sl.timer.Stop()
	s.slots = slices.Delete(s.slots, i, i+1)
	s.mu.Unlock()

	ClearedTopic.Publish(s.bus, Cleared{Surface: s.name, ID: id, Reason: reason})
	return sl.Record, true
}

func (s *shelf) clear(reason string) int {
	s.mu.Lock()
	slots := s.slots
	s.slots = nil
	for _, sl := range slots {
		sl.timer.Stop()
	}
	s.mu.Unlock()

	for _, sl := range slots {
		ClearedTopic.Publish(s.bus, Cleared{Surface: s.name, ID: sl.Record.ID, Reason: reason})
	}
	return len(slots)
}

// entries lists held entries, newest first.
func (s *shelf) entries(includeHidden bool) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.slots))
	for i := len(s.slots) - 1; i >= 0; i-- {
		if s.slots[i].Hidden && !includeHidden {
			continue
		}
		out = append(out, s.slots[i].Entry)
	}
	return out
}

func (s *shelf) indexLocked(id string) int {
	return slices.IndexFunc(s.slots, func(sl *slot) bool { return sl.Record.ID == id })
}
