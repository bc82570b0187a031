package devserver

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type QueueEntry struct {
	UID       string    `gorm:"primaryKey"`
	FirstName string    `gorm:"not null"`
	JoinedAt  time.Time `gorm:"index;not null"`
	ExpiresAt time.Time
}

type Session struct {
	ID        string `gorm:"primaryKey"`
	Status    string `gorm:"index;not null"`
	HostUID   string `gorm:"index;not null"`
	HostName  string
	GuestUID  *string `gorm:"index"`
	GuestName *string
	ChatID    *string
	CreatedAt time.Time `gorm:"index"`
	ClosedAt  *time.Time
}

func (s *Session) Has(uid string) bool {
	return s.HostUID == uid || (s.GuestUID != nil && *s.GuestUID == uid)
}

type Like struct {
	SessionID string `gorm:"primaryKey"`
	UID       string `gorm:"primaryKey"`
	Liked     bool
}

type Message struct {
	ID        string    `gorm:"primaryKey"`
	SessionID string    `gorm:"index;not null"`
	AuthorUID string    `gorm:"not null"`
	Content   string    `gorm:"not null"`
	IsSystem  bool      `gorm:"default:false"`
	CreatedAt time.Time `gorm:"index"`
}

// Store persists queue entries, sessions, likes and chat. Lookups that find
// nothing return ErrNotFound.
type Store interface {
	Enqueue(ctx context.Context, e *QueueEntry) error
	QueueEntry(ctx context.Context, uid string) (*QueueEntry, error)
	Dequeue(ctx context.Context, uid string) error

	CreateSession(ctx context.Context, s *Session) error
	SaveSession(ctx context.Context, s *Session) error
	Session(ctx context.Context, id string) (*Session, error)
	ActiveSession(ctx context.Context, uid string) (*Session, error)
	OldestWaitingSession(ctx context.Context, excludeUID string) (*Session, error)

	SetLike(ctx context.Context, sessionID, uid string, liked bool) error
	Likes(ctx context.Context, sessionID string) (map[string]bool, error)

	SaveMessage(ctx context.Context, m *Message) error
	Messages(ctx context.Context, sessionID string) ([]Message, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	queue    map[string]QueueEntry
	sessions map[string]Session
	likes    map[string]map[string]bool
	messages map[string][]Message
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queue:    make(map[string]QueueEntry),
		sessions: make(map[string]Session),
		likes:    make(map[string]map[string]bool),
		messages: make(map[string][]Message),
	}
}

func (m *MemoryStore) Enqueue(ctx context.Context, e *QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queue[e.UID]; ok {
		return ErrConflict
	}
	m.queue[e.UID] = *e
	return nil
}

func (m *MemoryStore) QueueEntry(ctx context.Context, uid string) (*QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.queue[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryStore) Dequeue(ctx context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queue[uid]; !ok {
		return ErrNotFound
	}
	delete(m.queue, uid)
	return nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if _, ok := m.sessions[s.ID]; ok {
		return ErrConflict
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) Session(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) ActiveSession(ctx context.Context, uid string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Status == statusOpen && s.Has(uid) {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) OldestWaitingSession(ctx context.Context, excludeUID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Session
	for _, s := range m.sessions {
		if s.Status != statusOpen || s.GuestUID != nil || s.HostUID == excludeUID {
			continue
		}
		if best == nil || s.CreatedAt.Before(best.CreatedAt) {
			best = &s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (m *MemoryStore) SetLike(ctx context.Context, sessionID, uid string, liked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.likes[sessionID] == nil {
		m.likes[sessionID] = make(map[string]bool)
	}
	m.likes[sessionID][uid] = liked
	return nil
}

func (m *MemoryStore) Likes(ctx context.Context, sessionID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.likes[sessionID]))
	for uid, liked := range m.likes[sessionID] {
		out[uid] = liked
	}
	return out, nil
}

func (m *MemoryStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return nil
}

func (m *MemoryStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.messages[sessionID]), nil
}
