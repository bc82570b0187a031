package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/DoyleJ11/spark-client/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	statusOpen      = string(types.SessionOpen)
	statusClosed    = string(types.SessionClosed)
	statusAbandoned = string(types.SessionAbandoned)

	queueTTL = 5 * time.Minute
)

// Problem is an error with an HTTP status and a FastAPI style detail.
type Problem struct {
	Status int
	Detail string
}

func (p *Problem) Error() string { return p.Detail }

func problem(status int, format string, args ...any) *Problem {
	return &Problem{Status: status, Detail: fmt.Sprintf(format, args...)}
}

// Notifier delivers realtime events. *Hub satisfies it.
type Notifier interface {
	Notify(uid, event string, payload any)
	Publish(sessionID, event string, payload any)
}

// Matchmaker pairs queued users into sessions. One mutex covers every
// check-then-write so two polls can never claim the same host.
type Matchmaker struct {
	mu     sync.Mutex
	store  Store
	notify Notifier
	cfg    types.Config
	now    func() time.Time
	log    *zap.Logger
}

func NewMatchmaker(store Store, notify Notifier, cfg types.Config, log *zap.Logger) *Matchmaker {
	return &Matchmaker{store: store, notify: notify, cfg: cfg, now: time.Now, log: log}
}

func (m *Matchmaker) Config() types.Config { return m.cfg }

func (m *Matchmaker) Join(ctx context.Context, u User) (*types.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.ActiveSession(ctx, u.UID); err == nil {
		return nil, problem(http.StatusConflict, "User with uid '%s' is already in a session!", u.UID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := m.now()
	e := &QueueEntry{UID: u.UID, FirstName: u.FirstName, JoinedAt: now, ExpiresAt: now.Add(queueTTL)}
	if err := m.store.Enqueue(ctx, e); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, problem(http.StatusConflict, "User with uid '%s' is already in the queue!", u.UID)
		}
		return nil, err
	}
	m.log.Info("queued", zap.String("uid", u.UID))
	return queueView(e), nil
}

func (m *Matchmaker) Queue(ctx context.Context, u User) (*types.QueueEntry, error) {
	e, err := m.store.QueueEntry(ctx, u.UID)
	if errors.Is(err, ErrNotFound) {
		return nil, problem(http.StatusNotFound, "User with uid '%s' is not currently in the queue!", u.UID)
	}
	if err != nil {
		return nil, err
	}
	return queueView(e), nil
}

func (m *Matchmaker) LeaveQueue(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.Dequeue(ctx, u.UID)
	if errors.Is(err, ErrNotFound) {
		return problem(http.StatusNotFound, "User with uid '%s' is not in the queue!", u.UID)
	}
	if err == nil {
		m.log.Info("left queue", zap.String("uid", u.UID))
	}
	return err
}

func (m *Matchmaker) Poll(ctx context.Context, u User) (types.PollResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.ActiveSession(ctx, u.UID)
	switch {
	case err == nil:
		status := types.PollMatched
		if s.GuestUID == nil {
			status = types.PollTimeout
		}
		return types.PollResponse{Status: status, Session: sessionView(s, u.UID), Role: roleOf(s, u.UID)}, nil
	case !errors.Is(err, ErrNotFound):
		return types.PollResponse{}, err
	}

	entry, err := m.store.QueueEntry(ctx, u.UID)
	if errors.Is(err, ErrNotFound) {
		return types.PollResponse{Status: types.PollCancelled, Message: types.NotQueuedMessage}, nil
	}
	if err != nil {
		return types.PollResponse{}, err
	}

	now := m.now()
	elapsed := int(now.Sub(entry.JoinedAt).Seconds())
	remaining := max(m.cfg.TimeoutSeconds-elapsed, 0)

	host, err := m.store.OldestWaitingSession(ctx, u.UID)
	switch {
	case err == nil:
		return m.joinAsGuest(ctx, host, entry, elapsed)
	case !errors.Is(err, ErrNotFound):
		return types.PollResponse{}, err
	}

	if remaining == 0 {
		return m.becomeHost(ctx, entry, elapsed)
	}
	return types.PollResponse{Status: types.PollSearching, TimeElapsed: &elapsed, TimeRemaining: &remaining}, nil
}

func (m *Matchmaker) joinAsGuest(ctx context.Context, s *Session, e *QueueEntry, elapsed int) (types.PollResponse, error) {
	s.GuestUID = &e.UID
	s.GuestName = &e.FirstName
	if err := m.store.SaveSession(ctx, s); err != nil {
		return types.PollResponse{}, err
	}
	if err := m.store.Dequeue(ctx, e.UID); err != nil && !errors.Is(err, ErrNotFound) {
		return types.PollResponse{}, err
	}
	m.log.Info("matched", zap.String("session_id", s.ID), zap.String("host", s.HostUID), zap.String("guest", e.UID))

	hostView := sessionView(s, s.HostUID)
	hostView.PartnerFirstName = hostView.OtherUserFirstName
	m.notify.Notify(s.HostUID, types.EventSessionFound, types.SessionFound{Session: hostView, Role: types.RoleHost})

	remaining := 0
	return types.PollResponse{
		Status:        types.PollMatched,
		Session:       sessionView(s, e.UID),
		Role:          types.RoleGuest,
		TimeElapsed:   &elapsed,
		TimeRemaining: &remaining,
	}, nil
}

func (m *Matchmaker) becomeHost(ctx context.Context, e *QueueEntry, elapsed int) (types.PollResponse, error) {
	s := &Session{Status: statusOpen, HostUID: e.UID, HostName: e.FirstName, CreatedAt: m.now()}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return types.PollResponse{}, err
	}
	if err := m.store.Dequeue(ctx, e.UID); err != nil && !errors.Is(err, ErrNotFound) {
		return types.PollResponse{}, err
	}
	m.log.Info("hosting", zap.String("session_id", s.ID), zap.String("host", e.UID))

	remaining := 0
	return types.PollResponse{
		Status:        types.PollTimeout,
		Session:       sessionView(s, e.UID),
		Role:          types.RoleHost,
		TimeElapsed:   &elapsed,
		TimeRemaining: &remaining,
	}, nil
}

func (m *Matchmaker) Current(ctx context.Context, u User) (types.CurrentSession, error) {
	s, err := m.store.ActiveSession(ctx, u.UID)
	if errors.Is(err, ErrNotFound) {
		return types.CurrentSession{}, nil
	}
	if err != nil {
		return types.CurrentSession{}, err
	}
	return types.CurrentSession{Session: sessionView(s, u.UID), Role: roleOf(s, u.UID)}, nil
}

// LeaveSession: a host alone closes the session, a host with a guest
// abandons it and the guest goes back in the queue, a guest leaving just
// frees the seat.
func (m *Matchmaker) LeaveSession(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.ActiveSession(ctx, u.UID)
	if errors.Is(err, ErrNotFound) {
		return problem(http.StatusNotFound, "User with uid '%s' is not in a session!", u.UID)
	}
	if err != nil {
		return err
	}

	now := m.now()
	var requeue *QueueEntry
	switch {
	case s.HostUID == u.UID && s.GuestUID == nil:
		s.Status = statusClosed
		s.ClosedAt = &now
	case s.HostUID == u.UID:
		s.Status = statusAbandoned
		s.ClosedAt = &now
		requeue = &QueueEntry{UID: *s.GuestUID, FirstName: deref(s.GuestName), JoinedAt: now, ExpiresAt: now.Add(queueTTL)}
	default:
		s.GuestUID = nil
		s.GuestName = nil
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		return err
	}
	m.log.Info("left session", zap.String("session_id", s.ID), zap.String("uid", u.UID), zap.String("status", s.Status))

	if requeue != nil {
		if err := m.store.Enqueue(ctx, requeue); err != nil && !errors.Is(err, ErrConflict) {
			m.log.Warn("requeue guest", zap.String("uid", requeue.UID), zap.Error(err))
		}
	}
	if s.Status != statusClosed {
		m.system(ctx, s.ID, fmt.Sprintf("%s left the session", u.FirstName))
	}
	return nil
}

func (m *Matchmaker) MatchStatus(ctx context.Context, u User, sessionID string) (types.MatchStatus, error) {
	s, err := m.member(ctx, u, sessionID)
	if err != nil {
		return types.MatchStatus{}, err
	}
	likes, err := m.store.Likes(ctx, s.ID)
	if err != nil {
		return types.MatchStatus{}, err
	}
	return statusFor(s, likes, u.UID), nil
}

func (m *Matchmaker) SetMatch(ctx context.Context, u User, sessionID string, liked bool) (types.MatchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.member(ctx, u, sessionID)
	if err != nil {
		return types.MatchStatus{}, err
	}
	if s.Status != statusOpen {
		return types.MatchStatus{}, problem(http.StatusConflict, "Session '%s' is no longer open", s.ID)
	}
	if err := m.store.SetLike(ctx, s.ID, u.UID, liked); err != nil {
		return types.MatchStatus{}, err
	}
	likes, err := m.store.Likes(ctx, s.ID)
	if err != nil {
		return types.MatchStatus{}, err
	}

	mine := statusFor(s, likes, u.UID)
	newlyMutual := mine.Mutual && s.ChatID == nil
	if newlyMutual {
		id := uuid.NewString()
		s.ChatID = &id
		if err := m.store.SaveSession(ctx, s); err != nil {
			return types.MatchStatus{}, err
		}
		mine.ChatID = id
	}

	partner := partnerOf(s, u.UID)
	if partner != "" {
		theirs := statusFor(s, likes, partner)
		m.notify.Notify(partner, types.EventMatchInteraction, types.MatchInteraction{
			SessionID:    s.ID,
			UserLiked:    theirs.UserLiked,
			PartnerLiked: theirs.PartnerLiked,
			Mutual:       theirs.Mutual,
		})
	}
	if newlyMutual {
		m.log.Info("mutual match", zap.String("session_id", s.ID), zap.String("chat_id", *s.ChatID))
		mutual := types.MutualMatch{SessionID: s.ID, ChatID: *s.ChatID}
		m.notify.Notify(u.UID, types.EventMutualMatch, mutual)
		m.notify.Notify(partner, types.EventMutualMatch, mutual)
	}
	return mine, nil
}

func (m *Matchmaker) Chats(ctx context.Context, u User, sessionID string) ([]types.ChatMessage, error) {
	s, err := m.member(ctx, u, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.Messages(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	out := make([]types.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageView(msg))
	}
	return out, nil
}

// PostMessage stores a chat line and fans it out to the session room.
func (m *Matchmaker) PostMessage(ctx context.Context, u User, sessionID, content string) (types.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return types.ChatMessage{}, problem(http.StatusBadRequest, "message is empty")
	}
	s, err := m.member(ctx, u, sessionID)
	if err != nil {
		return types.ChatMessage{}, err
	}
	if s.Status != statusOpen {
		return types.ChatMessage{}, problem(http.StatusConflict, "Session '%s' is no longer open", s.ID)
	}

	msg := &Message{SessionID: s.ID, AuthorUID: u.UID, Content: content, CreatedAt: m.now()}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		return types.ChatMessage{}, err
	}
	view := messageView(*msg)
	m.notify.Publish(s.ID, types.EventChatReceived, view)
	return view, nil
}

// CanJoinRoom reports whether u may listen to the session's room.
func (m *Matchmaker) CanJoinRoom(ctx context.Context, u User, sessionID string) error {
	_, err := m.member(ctx, u, sessionID)
	return err
}

func (m *Matchmaker) member(ctx context.Context, u User, sessionID string) (*Session, error) {
	s, err := m.store.Session(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, problem(http.StatusNotFound, "Session '%s' not found", sessionID)
	}
	if err != nil {
		return nil, err
	}
	if !s.Has(u.UID) {
		return nil, problem(http.StatusForbidden, "User with uid '%s' is not part of session '%s'", u.UID, sessionID)
	}
	return s, nil
}

func (m *Matchmaker) system(ctx context.Context, sessionID, text string) {
	msg := &Message{SessionID: sessionID, AuthorUID: "system", Content: text, IsSystem: true, CreatedAt: m.now()}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		m.log.Warn("system message", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	m.notify.Publish(sessionID, types.EventChatReceived, messageView(*msg))
}

func roleOf(s *Session, uid string) types.Role {
	if s.HostUID == uid {
		return types.RoleHost
	}
	return types.RoleGuest
}

func partnerOf(s *Session, uid string) string {
	if s.HostUID == uid {
		return deref(s.GuestUID)
	}
	return s.HostUID
}

func sessionView(s *Session, viewer string) *types.MatchSession {
	out := &types.MatchSession{
		ID:        s.ID,
		Status:    types.SessionStatus(s.Status),
		HostUID:   s.HostUID,
		GuestUID:  s.GuestUID,
		CreatedAt: s.CreatedAt,
	}
	if s.HostUID == viewer {
		out.OtherUserFirstName = s.GuestName
	} else {
		name := s.HostName
		out.OtherUserFirstName = &name
	}
	return out
}

func statusFor(s *Session, likes map[string]bool, uid string) types.MatchStatus {
	st := types.MatchStatus{
		UserLiked:    likes[uid],
		PartnerLiked: likes[partnerOf(s, uid)],
	}
	st.Mutual = st.UserLiked && st.PartnerLiked
	if s.ChatID != nil {
		st.ChatID = *s.ChatID
	}
	return st
}

func queueView(e *QueueEntry) *types.QueueEntry {
	exp := e.ExpiresAt
	return &types.QueueEntry{UID: e.UID, JoinedAt: e.JoinedAt, ExpiresAt: &exp}
}

func messageView(m Message) types.ChatMessage {
	return types.ChatMessage{
		ID:        m.ID,
		SessionID: m.SessionID,
		AuthorUID: m.AuthorUID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		IsSystem:  m.IsSystem,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
