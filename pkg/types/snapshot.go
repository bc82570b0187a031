package types

import "time"

// Server-side state as seen by the client. None of these are authoritative
// on this side; they are whatever the backend last told us.

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type PollStatus string

const (
	PollSearching PollStatus = "searching"
	PollMatched   PollStatus = "matched"
	PollTimeout   PollStatus = "timeout"
	PollCancelled PollStatus = "cancelled"
)

// NotQueuedMessage is what the backend says on a poll when the user has
// neither a queue entry nor a session. It is benign and not shown to users.
const NotQueuedMessage = "User not in queue and not in session"

type QueueEntry struct {
	UID       string     `json:"uid"`
	JoinedAt  time.Time  `json:"joined_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionClosed    SessionStatus = "closed"
	SessionAbandoned SessionStatus = "abandoned"
)

type MatchSession struct {
	ID                 string        `json:"id"`
	Status             SessionStatus `json:"status,omitempty"`
	HostUID            string        `json:"host_uid"`
	GuestUID           *string       `json:"guest_uid"`
	OtherUserFirstName *string       `json:"other_user_first_name"`
	PartnerFirstName   *string       `json:"partner_first_name,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// PartnerName returns the partner's display name, or "" while the session is
// still a host-waiting placeholder.
func (s *MatchSession) PartnerName() string {
	if s == nil {
		return ""
	}
	if s.PartnerFirstName != nil && *s.PartnerFirstName != "" {
		return *s.PartnerFirstName
	}
	if s.OtherUserFirstName != nil {
		return *s.OtherUserFirstName
	}
	return ""
}

type Config struct {
	TimeoutSeconds      int `json:"timeout_seconds"`
	PollIntervalSeconds int `json:"poll_interval_seconds"`
}

func DefaultConfig() Config {
	return Config{TimeoutSeconds: 15, PollIntervalSeconds: 3}
}

type PollResponse struct {
	Status        PollStatus    `json:"status"`
	Session       *MatchSession `json:"session,omitempty"`
	Role          Role          `json:"role,omitempty"`
	TimeElapsed   *int          `json:"time_elapsed,omitempty"`
	TimeRemaining *int          `json:"time_remaining,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// CurrentSession is the body of GET /session/me. Session is nil when the
// user holds no open session.
type CurrentSession struct {
	Session *MatchSession `json:"session"`
	Role    Role          `json:"role,omitempty"`
}

type MatchStatus struct {
	UserLiked    bool   `json:"user_liked"`
	PartnerLiked bool   `json:"partner_liked"`
	Mutual       bool   `json:"mutual"`
	ChatID       string `json:"chat_id,omitempty"`
}
