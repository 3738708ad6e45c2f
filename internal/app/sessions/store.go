// Package sessions owns the persisted chat sessions and the active-session
// pointer. Every mutation replaces whole lists; nothing is edited in place.
package sessions

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/niallgpt/niallgpt/internal/app/profile"
	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

const (
	keySessions      = "niallgpt_sessions"
	keyActiveSession = "niallgpt_active_session"
	// keyCorruptSessions keeps the last unreadable session list for recovery.
	keyCorruptSessions = keySessions + ".corrupt"

	DefaultSessionName = "New Chat"
)

// SettingsSource supplies the global persona defaults new sessions inherit.
type SettingsSource interface {
	Settings() profile.Settings
}

type Store struct {
	kv       domain.KVStore
	settings SettingsSource
	now      func() time.Time
	alert    func(error)

	mu       sync.RWMutex
	sessions []*domain.Session
	activeID domain.SessionID
	// alerted is set after a failed write and cleared by the next success
	alerted bool
}

type Option func(*Store)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithAlert registers the user-visible alert raised once when persisting
// fails (e.g. quota exceeded). In-memory state stays authoritative.
func WithAlert(fn func(error)) Option {
	return func(s *Store) { s.alert = fn }
}

func NewStore(kv domain.KVStore, settings SettingsSource, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		settings: settings,
		now:      time.Now,
		alert:    func(error) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads persisted sessions and bootstraps a default session when none
// exist, so that afterwards exactly one session is active.
func (s *Store) Load(ctx context.Context) error {
	log := observability.LoggerFromContext(ctx)

	loaded, err := s.readSessions(ctx)
	if err != nil {
		return err
	}

	activeID := domain.SessionID("")
	if v, err := s.kv.Get(ctx, keyActiveSession); err == nil {
		activeID = domain.SessionID(v)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("sessions: load active id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = loaded
	s.activeID = activeID

	if len(s.sessions) == 0 {
		sess := s.newSessionLocked(DefaultSessionName)
		s.sessions = []*domain.Session{sess}
		s.activeID = sess.ID
		log.Info("bootstrapped default session", "session_id", sess.ID)
		s.persistLocked(ctx)
		return nil
	}

	if s.indexLocked(s.activeID) < 0 {
		s.activeID = s.mostRecentLocked().ID
		s.persistLocked(ctx)
	}

	log.Info("sessions loaded", "count", len(s.sessions), "active_session", s.activeID)
	return nil
}

// CreateSession appends a new empty session and makes it active.
func (s *Store) CreateSession(ctx context.Context, name string) *domain.Session {
	if name == "" {
		name = DefaultSessionName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.newSessionLocked(name)
	s.sessions = append(append([]*domain.Session(nil), s.sessions...), sess)
	s.activeID = sess.ID
	s.persistLocked(ctx)

	observability.LoggerFromContext(ctx).Info("session created", "session_id", sess.ID)
	return sess.Clone()
}

// DeleteSession removes a session. Deleting the last one synthesizes a fresh
// default session; deleting the active one activates the most recent survivor.
func (s *Store) DeleteSession(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.ErrSessionNotFound
	}

	next := make([]*domain.Session, 0, len(s.sessions))
	next = append(next, s.sessions[:idx]...)
	next = append(next, s.sessions[idx+1:]...)
	s.sessions = next

	switch {
	case len(s.sessions) == 0:
		sess := s.newSessionLocked(DefaultSessionName)
		s.sessions = []*domain.Session{sess}
		s.activeID = sess.ID
	case s.activeID == id:
		s.activeID = s.mostRecentLocked().ID
	}

	s.persistLocked(ctx)
	observability.LoggerFromContext(ctx).Info("session deleted", "session_id", id, "active_session", s.activeID)
	return nil
}

// ReplaceMessages swaps a session's message list and bumps its timestamp.
func (s *Store) ReplaceMessages(ctx context.Context, id domain.SessionID, msgs []*domain.Message) error {
	return s.update(ctx, id, func(sess *domain.Session) {
		sess.Messages = domain.CloneMessages(msgs)
	})
}

// Rename changes a session's display name.
func (s *Store) Rename(ctx context.Context, id domain.SessionID, name string) error {
	if name == "" {
		name = DefaultSessionName
	}
	return s.update(ctx, id, func(sess *domain.Session) {
		sess.Name = name
	})
}

// UpdatePersona sets the per-session user name and AI behaviour overrides.
func (s *Store) UpdatePersona(ctx context.Context, id domain.SessionID, userName, aiBehavior string) error {
	return s.update(ctx, id, func(sess *domain.Session) {
		sess.SessionUserName = userName
		sess.SessionAIBehavior = aiBehavior
	})
}

func (s *Store) update(ctx context.Context, id domain.SessionID, fn func(*domain.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.ErrSessionNotFound
	}

	sess := *s.sessions[idx]
	fn(&sess)
	sess.Timestamp = s.now()

	next := append([]*domain.Session(nil), s.sessions...)
	next[idx] = &sess
	s.sessions = next

	s.persistLocked(ctx)
	return nil
}

// SetActive flags the given session as the active one.
func (s *Store) SetActive(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return domain.ErrSessionNotFound
	}
	s.activeID = id
	s.persistLocked(ctx)
	return nil
}

// Active returns a copy of the active session. ok is false only before Load.
func (s *Store) Active() (*domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(s.activeID)
	if idx < 0 {
		return nil, false
	}
	return s.sessions[idx].Clone(), true
}

func (s *Store) ActiveID() domain.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

func (s *Store) Get(id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, domain.ErrSessionNotFound
	}
	return s.sessions[idx].Clone(), nil
}

// List returns copies of all sessions, most recent first.
func (s *Store) List() []*domain.Session {
	s.mu.RLock()
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) newSessionLocked(name string) *domain.Session {
	var defaults profile.Settings
	if s.settings != nil {
		defaults = s.settings.Settings()
	}
	return &domain.Session{
		ID:                domain.SessionID(uuid.NewString()),
		Name:              name,
		Messages:          []*domain.Message{},
		Timestamp:         s.now(),
		SessionUserName:   defaults.UserName,
		SessionAIBehavior: defaults.AIBehavior,
	}
}

func (s *Store) indexLocked(id domain.SessionID) int {
	if id == "" {
		return -1
	}
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) mostRecentLocked() *domain.Session {
	best := s.sessions[0]
	for _, sess := range s.sessions[1:] {
		if sess.Timestamp.After(best.Timestamp) {
			best = sess
		}
	}
	return best
}

// persistLocked writes the full snapshot. Failures are logged and alerted
// once per failure streak; they never roll back in-memory state.
func (s *Store) persistLocked(ctx context.Context) {
	err := s.writeLocked(ctx)
	if err == nil {
		s.alerted = false
		return
	}

	observability.LoggerFromContext(ctx).Error("failed to persist sessions", "error", err)
	if !s.alerted {
		s.alerted = true
		s.alert(err)
	}
}

func (s *Store) writeLocked(ctx context.Context) error {
	blob, err := encodeSessions(s.sessions)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, keySessions, blob); err != nil {
		return fmt.Errorf("sessions: save list: %w", err)
	}
	if err := s.kv.Put(ctx, keyActiveSession, []byte(s.activeID)); err != nil {
		return fmt.Errorf("sessions: save active id: %w", err)
	}
	return nil
}

func (s *Store) readSessions(ctx context.Context) ([]*domain.Session, error) {
	blob, err := s.kv.Get(ctx, keySessions)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: load list: %w", err)
	}

	list, err := decodeSessions(blob)
	if err != nil {
		// unreadable history is moved aside so the app can still start
		s.quarantine(ctx, blob, err)
		return nil, nil
	}
	return list, nil
}

// quarantine copies an unreadable session list under keyCorruptSessions and
// removes it from keySessions. The copy is best effort.
func (s *Store) quarantine(ctx context.Context, blob []byte, cause error) {
	log := observability.LoggerFromContext(ctx).With("error", cause)

	if err := s.kv.Put(ctx, keyCorruptSessions, blob); err != nil {
		log.Error("failed to keep unreadable session list", "key", keyCorruptSessions, "put_error", err)
	} else {
		log.Warn("moved unreadable session list aside", "key", keyCorruptSessions, "bytes", len(blob))
	}

	if err := s.kv.Delete(ctx, keySessions); err != nil {
		log.Error("failed to clear unreadable session list", "delete_error", err)
	}
}

func encodeSessions(list []*domain.Session) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(list); err != nil {
		return nil, fmt.Errorf("sessions: encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("sessions: compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSessions(blob []byte) ([]*domain.Session, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("sessions: decompress: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("sessions: decompress: %w", err)
	}

	var list []*domain.Session
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("sessions: decode: %w", err)
	}
	for _, sess := range list {
		if sess.Messages == nil {
			sess.Messages = []*domain.Message{}
		}
		// a turn still streaming when the process died can never complete
		for _, m := range sess.Messages {
			if m.IsLoading {
				m.IsLoading = false
				if m.Text == "" || m.Text == domain.PlaceholderText || m.Text == domain.GeneratingImage {
					m.Text = domain.StoppedText
				}
			}
		}
	}
	return list, nil
}
