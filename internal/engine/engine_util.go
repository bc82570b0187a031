package engine

import (
	"errors"

	"github.com/DoyleJ11/spark-client/pkg/types"
)

func NewIdleState() State {
	cfg := types.DefaultConfig()
	return State{
		Phase:         PhaseIdle,
		Config:        cfg,
		TimeRemaining: cfg.TimeoutSeconds,
	}
}

func ContainsEffect(effects []Effect, effectType EffectType) bool {
	for _, effect := range effects {
		if effect.Type == effectType {
			return true
		}
	}
	return false
}

func CountEffect(effects []Effect, effectType EffectType) int {
	n := 0
	for _, effect := range effects {
		if effect.Type == effectType {
			n++
		}
	}
	return n
}

// IsQuiet reports whether err is one the controller drops without telling
// the user: duplicates and late arrivals.
func IsQuiet(err error) bool {
	return errors.Is(err, ErrStaleEvent)
}

func currentSearch(s State, gen int) bool {
	return s.Phase == PhaseSearching && s.PollGen == gen
}

func holdsSession(s State, sessionID string) bool {
	return s.Session != nil && sessionID != "" && s.Session.ID == sessionID
}

func hasMessage(msgs []types.ChatMessage, id string) bool {
	if id == "" {
		return false
	}
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// mergeMessages keeps the fetched history order and appends live messages
// that arrived before the history did.
func mergeMessages(history, live []types.ChatMessage) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(history)+len(live))
	out = append(out, history...)
	for _, m := range live {
		if !hasMessage(out, m.ID) {
			out = append(out, m)
		}
	}
	return out
}

// matched reports whether a mutual match already produced a chat. Mutual is
// never lowered after that.
func matched(s State) bool {
	return s.Interaction.ChatID != "" || s.PendingChatID != ""
}

func mergeStatus(cur, upd types.MatchStatus) types.MatchStatus {
	out := cur
	out.UserLiked = upd.UserLiked
	out.PartnerLiked = upd.PartnerLiked
	out.Mutual = upd.Mutual || (upd.UserLiked && upd.PartnerLiked)
	if upd.ChatID != "" {
		out.ChatID = upd.ChatID
	}
	return out
}

func mergeSession(cur, upd *types.MatchSession) *types.MatchSession {
	out := *cur
	if upd.Status != "" {
		out.Status = upd.Status
	}
	if upd.HostUID != "" {
		out.HostUID = upd.HostUID
	}
	if upd.GuestUID != nil {
		out.GuestUID = upd.GuestUID
	}
	if upd.OtherUserFirstName != nil {
		out.OtherUserFirstName = upd.OtherUserFirstName
	}
	if upd.PartnerFirstName != nil {
		out.PartnerFirstName = upd.PartnerFirstName
	}
	if !upd.CreatedAt.IsZero() {
		out.CreatedAt = upd.CreatedAt
	}
	return &out
}

func failureText(evt Event) string {
	var prefix string
	switch evt.Type {
	case EvtJoinFailed:
		prefix = "Failed to join matchmaking"
	case EvtPollFailed:
		prefix = "Failed to poll for match"
	case EvtLikeFailed:
		prefix = "Failed to update like"
	default:
		prefix = "Request failed"
	}
	if evt.Err == nil {
		return prefix
	}
	return prefix + ": " + evt.Err.Error()
}
