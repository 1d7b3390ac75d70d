// Package chatcache holds the client-side mirror of the server message store.
//
// A Store is the single writer for cached messages and unread counters. It is
// created when the messaging feature mounts and dropped when it unmounts; every
// component that needs it receives it explicitly.
package chatcache

import (
	"sort"
	"sync"

	"github.com/tOgg1/casechat/internal/models"
)

// Change describes one mutation, delivered to listeners after the store lock
// is released.
type Change struct {
	Upserted []models.MessageID
	Removed  []models.MessageID
	// Replaced maps placeholder ids to the server ids that superseded them.
	Replaced map[models.MessageID]models.MessageID
	// Unread is set when unread counters changed.
	Unread bool
}

// Empty reports whether the change carries nothing.
func (c Change) Empty() bool {
	return len(c.Upserted) == 0 && len(c.Removed) == 0 && len(c.Replaced) == 0 && !c.Unread
}

// Listener observes store changes.
type Listener func(Change)

// Store maps message ids to records and derives per-conversation views.
type Store struct {
	selfID int64

	mu        sync.RWMutex
	messages  map[models.MessageID]models.Message
	unread    models.UnreadCounts
	listeners map[int]Listener
	nextSub   int
}

// New creates an empty store for the viewing user.
func New(selfID int64) *Store {
	return &Store{
		selfID:    selfID,
		messages:  make(map[models.MessageID]models.Message),
		unread:    make(models.UnreadCounts),
		listeners: make(map[int]Listener),
	}
}

// SelfID returns the viewing user.
func (s *Store) SelfID() int64 { return s.selfID }

// Upsert merges messages by id. On collision the later record wins, whether
// the collision is with the cache or inside msgs.
func (s *Store) Upsert(msgs ...models.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	ids := make([]models.MessageID, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID.IsZero() {
			continue
		}
		s.messages[msg.ID] = msg.Clone()
		ids = append(ids, msg.ID)
	}
	s.mu.Unlock()

	s.notify(Change{Upserted: ids})
}

// MergeResult counts what Merge did.
type MergeResult struct {
	Added   int
	Updated int
	Dropped int
}

// Merge applies a poll batch under one lock. A modified record replaces its
// cached copy and is dropped when the id is not loaded. A fresh record is
// inserted unless already cached, taking the modified version when the batch
// carries both. Ids must be unique within each slice.
func (s *Store) Merge(modified, fresh []models.Message) MergeResult {
	var res MergeResult
	latest := make(map[models.MessageID]models.Message, len(modified))
	for _, msg := range modified {
		latest[msg.ID] = msg
	}
	consumed := make(map[models.MessageID]bool, len(modified))

	s.mu.Lock()
	ids := make([]models.MessageID, 0, len(modified)+len(fresh))
	for _, msg := range modified {
		if msg.ID.IsZero() {
			continue
		}
		if _, ok := s.messages[msg.ID]; ok {
			s.messages[msg.ID] = msg.Clone()
			consumed[msg.ID] = true
			ids = append(ids, msg.ID)
			res.Updated++
		}
	}
	for _, msg := range fresh {
		if msg.ID.IsZero() {
			continue
		}
		if _, ok := s.messages[msg.ID]; ok {
			continue
		}
		if newer, ok := latest[msg.ID]; ok {
			msg = newer
			consumed[msg.ID] = true
		}
		s.messages[msg.ID] = msg.Clone()
		ids = append(ids, msg.ID)
		res.Added++
	}
	s.mu.Unlock()

	for id := range latest {
		if !consumed[id] {
			res.Dropped++
		}
	}
	if len(ids) > 0 {
		s.notify(Change{Upserted: ids})
	}
	return res
}

// Remove deletes a message. It reports whether the id was present.
func (s *Store) Remove(id models.MessageID) bool {
	s.mu.Lock()
	_, ok := s.messages[id]
	delete(s.messages, id)
	s.mu.Unlock()

	if ok {
		s.notify(Change{Removed: []models.MessageID{id}})
	}
	return ok
}

// ReplaceLocal swaps the placeholder local for msg. Presentation order is
// derived from ids, so the acknowledged record takes the slot the placeholder
// held. If msg.ID was already merged by a poll, the placeholder is dropped and
// the record overwritten; the store never holds both. It reports whether the
// placeholder was still present.
func (s *Store) ReplaceLocal(local models.MessageID, msg models.Message) bool {
	if msg.ID.IsZero() || msg.ID.IsLocal() {
		return false
	}
	s.mu.Lock()
	_, ok := s.messages[local]
	delete(s.messages, local)
	s.messages[msg.ID] = msg.Clone()
	s.mu.Unlock()

	change := Change{Upserted: []models.MessageID{msg.ID}}
	if ok {
		change.Replaced = map[models.MessageID]models.MessageID{local: msg.ID}
	}
	s.notify(change)
	return ok
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id models.MessageID) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return models.Message{}, false
	}
	return msg.Clone(), true
}

// Has reports whether id is cached.
func (s *Store) Has(id models.MessageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[id]
	return ok
}

// Parent resolves a reply's parent. A parent outside the loaded window is
// reported as not found, never as an error.
func (s *Store) Parent(msg models.Message) (models.Message, bool) {
	if msg.ParentID == nil {
		return models.Message{}, false
	}
	return s.Get(models.ServerID(*msg.ParentID))
}

// Len returns the number of cached messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// IDs returns every cached id in presentation order.
func (s *Store) IDs() []models.MessageID {
	s.mu.RLock()
	ids := make([]models.MessageID, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sortIDs(ids)
	return ids
}

// All returns every cached message in presentation order.
func (s *Store) All() []models.Message {
	s.mu.RLock()
	out := make([]models.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, msg.Clone())
	}
	s.mu.RUnlock()
	sortMessages(out)
	return out
}

// SelectConversation returns the messages of one conversation sorted
// ascending by id.
func (s *Store) SelectConversation(key models.ConversationKey) []models.Message {
	s.mu.RLock()
	out := make([]models.Message, 0)
	for _, msg := range s.messages {
		if models.KeyFor(msg, s.selfID) == key {
			out = append(out, msg.Clone())
		}
	}
	s.mu.RUnlock()
	sortMessages(out)
	return out
}

// OldestServerID returns the smallest server id loaded for a conversation.
func (s *Store) OldestServerID(key models.ConversationKey) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var oldest int64
	for _, msg := range s.messages {
		n, ok := msg.ID.Server()
		if !ok || models.KeyFor(msg, s.selfID) != key {
			continue
		}
		if oldest == 0 || n < oldest {
			oldest = n
		}
	}
	return oldest, oldest > 0
}

// NewestServerID returns the largest server id cached across conversations.
func (s *Store) NewestServerID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest int64
	for id := range s.messages {
		if n, ok := id.Server(); ok && n > newest {
			newest = n
		}
	}
	return newest
}

// SetUnreadCounts replaces the unread index with an authoritative snapshot.
func (s *Store) SetUnreadCounts(counts models.UnreadCounts) {
	s.mu.Lock()
	s.unread = counts.Clone()
	s.mu.Unlock()
	s.notify(Change{Unread: true})
}

// ZeroUnread clears one conversation's counter. It reports whether the
// counter was non-zero.
func (s *Store) ZeroUnread(key models.ConversationKey) bool {
	s.mu.Lock()
	had := s.unread[key] > 0
	delete(s.unread, key)
	s.mu.Unlock()
	if had {
		s.notify(Change{Unread: true})
	}
	return had
}

// Unread returns one conversation's counter.
func (s *Store) Unread(key models.ConversationKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[key]
}

// UnreadCounts returns a snapshot of all counters.
func (s *Store) UnreadCounts() models.UnreadCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread.Clone()
}

// TotalUnread sums all counters.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread.Total()
}

// Subscribe registers a listener and returns its cancel function.
func (s *Store) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(change Change) {
	if change.Empty() {
		return
	}
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}

func sortMessages(msgs []models.Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID.Less(msgs[j].ID) })
}

func sortIDs(ids []models.MessageID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
