package boxstate

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/uivlisievoicroc/escalada-scoreboard/internal/protocol"
)

// Update is pushed to subscribers after every accepted write. Box is a
// deep copy; subscribers may keep it.
type Update struct {
	BoxID int
	Box   Box
}

// Store holds the local view of every box, keyed by id. It is the single
// source of truth for display surfaces and the dispatcher's concurrency
// tokens. Authoritative snapshots replace whole records unconditionally;
// optimistic local writes are provisional and last only until the next
// snapshot for that box arrives.
type Store struct {
	mu    sync.RWMutex
	boxes map[int]*Box
	subs  map[chan Update]struct{}
}

func NewStore() *Store {
	return &Store{
		boxes: make(map[int]*Box),
		subs:  make(map[chan Update]struct{}),
	}
}

// ApplySnapshot installs an authoritative snapshot. The whole record is
// replaced; there is no field-level merge with optimistic state.
func (s *Store) ApplySnapshot(snap *protocol.BoxSnapshot) {
	box := boxFromSnapshot(snap)

	s.mu.Lock()
	s.boxes[box.ID] = box
	dup := cloneBox(box)
	s.mu.Unlock()

	log.Debug().
		Int("box_id", box.ID).
		Int64("version", box.Version).
		Msg("applied authoritative snapshot")

	s.notify(Update{BoxID: box.ID, Box: dup})
}

// ApplyLocal runs an optimistic mutation against a box, before the
// authority has confirmed the command that caused it. Version and session
// token are restored afterwards: they belong to the authority. Returns
// false when the box is unknown.
func (s *Store) ApplyLocal(boxID int, mutate func(*Box)) bool {
	s.mu.Lock()
	box, ok := s.boxes[boxID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	version, token := box.Version, box.SessionToken
	mutate(box)
	box.ID = boxID
	box.Version, box.SessionToken = version, token
	dup := cloneBox(box)
	s.mu.Unlock()

	s.notify(Update{BoxID: boxID, Box: dup})
	return true
}

// Get returns a deep copy of a box record.
func (s *Store) Get(boxID int) (Box, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	box, ok := s.boxes[boxID]
	if !ok {
		return Box{}, false
	}
	return cloneBox(box), true
}

// List returns deep copies of all boxes, ordered by id.
func (s *Store) List() []Box {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Box, 0, len(s.boxes))
	for _, box := range s.boxes {
		out = append(out, cloneBox(box))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Credentials returns the concurrency tokens the dispatcher attaches to
// commands targeting the box.
func (s *Store) Credentials(boxID int) (version int64, sessionToken string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	box, found := s.boxes[boxID]
	if !found {
		return 0, "", false
	}
	return box.Version, box.SessionToken, true
}

// Subscribe registers an update channel. Delivery is best-effort: when a
// subscriber falls behind its buffer the update is dropped, not queued.
func (s *Store) Subscribe(buffer int) chan Update {
	ch := make(chan Update, buffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (s *Store) Unsubscribe(ch chan Update) {
	s.mu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *Store) notify(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- u:
		default:
			log.Warn().Int("box_id", u.BoxID).Msg("subscriber buffer full, dropping update")
		}
	}
}
