package types

import "time"

// Realtime event names.
//
// Client -> Server: join_session, leave_session, chat_message
// Server -> Client: chat_received, session_found, match_interaction, mutual_match
const (
	EventJoinSession  = "join_session"
	EventLeaveSession = "leave_session"
	EventChatMessage  = "chat_message"

	EventChatReceived     = "chat_received"
	EventSessionFound     = "session_found"
	EventMatchInteraction = "match_interaction"
	EventMutualMatch      = "mutual_match"
)

type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	AuthorUID string    `json:"author_uid"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsSystem  bool      `json:"is_system,omitempty"`
}

// join_session / leave_session
type SessionRef struct {
	SessionID string `json:"session_id"`
}

// chat_message
type OutgoingChat struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// session_found
type SessionFound struct {
	Session *MatchSession `json:"session"`
	Role    Role          `json:"role,omitempty"`
}

// match_interaction
type MatchInteraction struct {
	SessionID    string `json:"session_id"`
	UserLiked    bool   `json:"user_liked"`
	PartnerLiked bool   `json:"partner_liked"`
	Mutual       bool   `json:"mutual"`
}

// mutual_match
type MutualMatch struct {
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id"`
}

// POST /session/{id}/match
type LikeRequest struct {
	Liked bool `json:"liked"`
}
