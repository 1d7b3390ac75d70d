// Package session persists small per-user client state across restarts: the
// last active conversation and unsent compose drafts. It never stores message
// content received from the collaborator.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tOgg1/casechat/internal/models"
)

const (
	CurrentVersion = 1

	defaultDebounce = 1 * time.Second
	draftMaxAge     = 14 * 24 * time.Hour
)

// State is the on-disk document.
type State struct {
	Version          int                              `json:"version"`
	UserID           int64                            `json:"user_id,omitempty"`
	LastConversation models.ConversationKey           `json:"last_conversation,omitempty"`
	Drafts           map[models.ConversationKey]Draft `json:"drafts,omitempty"`
}

// Draft is an unsent message for one conversation.
type Draft struct {
	Content   string             `json:"content"`
	Type      models.MessageType `json:"message_type,omitempty"`
	ParentID  *int64             `json:"parent_id,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Manager owns the state file of one user. Writes are debounced; Close
// flushes pending changes.
type Manager struct {
	path     string
	lockPath string
	userID   int64

	mu       sync.Mutex
	state    State
	dirty    bool
	timer    *time.Timer
	debounce time.Duration
	now      func() time.Time
}

// New creates a manager for userID backed by path. An empty path keeps state
// in memory only.
func New(path string, userID int64) *Manager {
	path = strings.TrimSpace(path)
	return &Manager{
		path:     path,
		lockPath: path + ".lock",
		userID:   userID,
		state:    emptyState(userID),
		debounce: defaultDebounce,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func emptyState(userID int64) State {
	return State{
		Version: CurrentVersion,
		UserID:  userID,
		Drafts:  make(map[models.ConversationKey]Draft),
	}
}

// Path returns the backing file.
func (m *Manager) Path() string { return m.path }

// Load reads the state file. A missing or empty file, or a file written for
// another user, yields empty state.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return nil
	}

	var loaded State
	err := withFileLock(m.lockPath, func() error {
		payload, err := os.ReadFile(m.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if len(payload) == 0 {
			return nil
		}
		return json.Unmarshal(payload, &loaded)
	})
	if err != nil {
		return fmt.Errorf("load session state %s: %w", m.path, err)
	}

	if loaded.UserID != m.userID {
		loaded = emptyState(m.userID)
	}
	m.state = normalize(loaded, m.now())
	m.dirty = false
	return nil
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.state)
}

// LastConversation returns the remembered default selection.
func (m *Manager) LastConversation() (models.ConversationKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.state.LastConversation
	return key, key != ""
}

// SetLastConversation remembers key as the default selection.
func (m *Manager) SetLastConversation(key models.ConversationKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" || key == m.state.LastConversation {
		return
	}
	m.state.LastConversation = key
	m.markDirtyLocked()
}

// Draft returns the unsent draft for key.
func (m *Manager) Draft(key models.ConversationKey) (Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft, ok := m.state.Drafts[key]
	return draft, ok
}

// SetDraft stores a draft. Blank content deletes it.
func (m *Manager) SetDraft(key models.ConversationKey, draft Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		return
	}
	if strings.TrimSpace(draft.Content) == "" {
		if _, ok := m.state.Drafts[key]; ok {
			delete(m.state.Drafts, key)
			m.markDirtyLocked()
		}
		return
	}
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = m.now()
	}
	m.state.Drafts[key] = draft
	m.markDirtyLocked()
}

// DeleteDraft drops the draft for key.
func (m *Manager) DeleteDraft(key models.ConversationKey) {
	m.SetDraft(key, Draft{})
}

// Close stops the debounce timer and flushes pending changes.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	needsSave := m.dirty
	m.mu.Unlock()
	if !needsSave {
		return nil
	}
	return m.SaveNow()
}

// SaveNow writes the state file immediately.
func (m *Manager) SaveNow() error {
	m.mu.Lock()
	if m.path == "" {
		m.dirty = false
		m.mu.Unlock()
		return nil
	}
	state := normalize(clone(m.state), m.now())
	m.dirty = false
	m.mu.Unlock()

	if err := withFileLock(m.lockPath, func() error {
		return writeAtomicJSON(m.path, state)
	}); err != nil {
		m.mu.Lock()
		m.dirty = true
		m.mu.Unlock()
		return fmt.Errorf("save session state %s: %w", m.path, err)
	}
	return nil
}

func (m *Manager) markDirtyLocked() {
	m.dirty = true
	if m.path == "" {
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(m.debounce, func() {
			_ = m.SaveNow()
		})
		return
	}
	_ = m.timer.Reset(m.debounce)
}

func withFileLock(lockPath string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()
	return fn()
}

func writeAtomicJSON(path string, state State) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// normalize drops invalid keys and stale drafts.
func normalize(state State, now time.Time) State {
	state.Version = CurrentVersion
	if _, err := models.ParseConversationKey(string(state.LastConversation)); err != nil {
		state.LastConversation = ""
	}
	drafts := make(map[models.ConversationKey]Draft, len(state.Drafts))
	for key, draft := range state.Drafts {
		if _, err := models.ParseConversationKey(string(key)); err != nil {
			continue
		}
		if strings.TrimSpace(draft.Content) == "" {
			continue
		}
		if !draft.UpdatedAt.IsZero() && now.Sub(draft.UpdatedAt) > draftMaxAge {
			continue
		}
		drafts[key] = draft
	}
	state.Drafts = drafts
	return state
}

func clone(state State) State {
	out := state
	out.Drafts = make(map[models.ConversationKey]Draft, len(state.Drafts))
	for key, draft := range state.Drafts {
		if draft.ParentID != nil {
			parent := *draft.ParentID
			draft.ParentID = &parent
		}
		out.Drafts[key] = draft
	}
	return out
}
