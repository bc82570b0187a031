package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/spark-client/pkg/types"
)

var ErrStaleEvent = errors.New("stale event")
var ErrInvalidTransition = errors.New("invalid transition")
var ErrNoSession = errors.New("no active session")
var ErrEmptyMessage = errors.New("empty message")
var ErrUnsupportedEvent = errors.New("unsupported event")

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSearching Phase = "searching"
	PhaseMatched   Phase = "matched"
	PhaseInSession Phase = "in_session"
)

type State struct {
	Phase         Phase
	Session       *types.MatchSession
	Role          types.Role
	Messages      []types.ChatMessage
	Interaction   types.MatchStatus
	TimeElapsed   int
	TimeRemaining int
	Config        types.Config
	Error         string

	// PollGen identifies the live poll loop. Every join and every exit bumps
	// it, so results from an older loop can be told apart from current ones.
	PollGen int
	Polling bool

	PendingChatID string // mutual match prompt is open while set
	Navigate      string
}

type EventType string

const (
	EvtRecovered         EventType = "Recovered"
	EvtConfigLoaded      EventType = "ConfigLoaded"
	EvtJoinRequested     EventType = "JoinRequested"
	EvtJoinSucceeded     EventType = "JoinSucceeded"
	EvtJoinFailed        EventType = "JoinFailed"
	EvtPollResult        EventType = "PollResult"
	EvtPollFailed        EventType = "PollFailed"
	EvtSessionFound      EventType = "SessionFound"
	EvtChatHistoryLoaded EventType = "ChatHistoryLoaded"
	EvtChatReceived      EventType = "ChatReceived"
	EvtMatchStatusLoaded EventType = "MatchStatusLoaded"
	EvtMatchInteraction  EventType = "MatchInteraction"
	EvtMutualMatch       EventType = "MutualMatch"
	EvtSendMessage       EventType = "SendMessage"
	EvtLikeRequested     EventType = "LikeRequested"
	EvtLikeFailed        EventType = "LikeFailed"
	EvtRequestFailed     EventType = "RequestFailed"
	EvtExitRequested     EventType = "ExitRequested"
	EvtSkipRequested     EventType = "SkipRequested"
	EvtContinueChat      EventType = "ContinueChat"
	EvtKeepMatching      EventType = "KeepMatching"
)

/*
	UI actions and what they produce:

	JoinRequested  -> JoinQueue                      (then JoinSucceeded -> Poll, StartPolling)
	ExitRequested  -> StopPolling, LeaveQueue | LeaveSession, EmitLeaveSession
	SkipRequested  -> exit effects, JoinQueue
	ContinueChat   -> exit effects, Navigate
	KeepMatching   -> exit effects, JoinQueue
	SendMessage    -> EmitChatMessage
	LikeRequested  -> SendLike                       (LikeFailed restores the prior flags)

	Everything else is a result coming back from the backend, either from a
	request we made or pushed over the realtime channel.
*/

type Event struct {
	Type      EventType
	Gen       int
	Poll      *types.PollResponse
	Session   *types.MatchSession
	Role      types.Role
	Queue     *types.QueueEntry
	Messages  []types.ChatMessage
	Message   *types.ChatMessage
	Status    *types.MatchStatus
	Config    *types.Config
	SessionID string
	ChatID    string
	Content   string
	Liked     bool
	Err       error
}

type EffectType string

const (
	EffJoinQueue        EffectType = "JoinQueue"
	EffPoll             EffectType = "Poll"
	EffStartPolling     EffectType = "StartPolling"
	EffStopPolling      EffectType = "StopPolling"
	EffLeaveQueue       EffectType = "LeaveQueue"
	EffLeaveSession     EffectType = "LeaveSession"
	EffEmitJoinSession  EffectType = "EmitJoinSession"
	EffEmitLeaveSession EffectType = "EmitLeaveSession"
	EffEmitChatMessage  EffectType = "EmitChatMessage"
	EffLoadChatHistory  EffectType = "LoadChatHistory"
	EffLoadMatchStatus  EffectType = "LoadMatchStatus"
	EffSendLike         EffectType = "SendLike"
	EffNavigate         EffectType = "Navigate"
)

type Effect struct {
	Type      EffectType
	Gen       int
	Interval  time.Duration
	SessionID string
	Content   string
	Liked     bool
	Path      string
	// Prior is the interaction before an optimistic like.
	Prior *types.MatchStatus
}

func Apply(s State, evt Event) ([]Effect, State, error) {
	if !allowed(s.Phase, evt.Type) {
		return nil, s, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, evt.Type, s.Phase)
	}

	switch evt.Type {
	case EvtConfigLoaded:
		if evt.Config == nil {
			return nil, s, ErrUnsupportedEvent
		}
		next := s
		if evt.Config.TimeoutSeconds > 0 {
			next.Config.TimeoutSeconds = evt.Config.TimeoutSeconds
		}
		if evt.Config.PollIntervalSeconds > 0 {
			next.Config.PollIntervalSeconds = evt.Config.PollIntervalSeconds
		}
		if next.Phase == PhaseIdle {
			next.TimeRemaining = next.Config.TimeoutSeconds
		}
		return nil, next, nil

	case EvtRecovered:
		if s.Phase != PhaseIdle {
			return nil, s, ErrStaleEvent
		}
		if evt.Session != nil && evt.Session.ID != "" {
			return adopt(s, evt.Session, evt.Role)
		}
		if evt.Queue != nil {
			next := startSearching(s)
			next.Polling = true
			return []Effect{{Type: EffPoll, Gen: next.PollGen}, startPolling(next)}, next, nil
		}
		return nil, s, nil

	case EvtJoinRequested:
		next := startSearching(s)
		return []Effect{{Type: EffJoinQueue, Gen: next.PollGen}}, next, nil

	case EvtJoinSucceeded:
		if !currentSearch(s, evt.Gen) {
			return nil, s, ErrStaleEvent
		}
		next := s
		next.Polling = true
		return []Effect{{Type: EffPoll, Gen: next.PollGen}, startPolling(next)}, next, nil

	case EvtJoinFailed, EvtPollFailed:
		if !currentSearch(s, evt.Gen) {
			return nil, s, ErrStaleEvent
		}
		next := s
		next.Phase = PhaseIdle
		next.Polling = false
		next.Error = failureText(evt)
		return []Effect{{Type: EffStopPolling}}, next, nil

	case EvtPollResult:
		return applyPoll(s, evt)

	case EvtSessionFound:
		return applySessionFound(s, evt)

	case EvtChatHistoryLoaded:
		if !holdsSession(s, evt.SessionID) {
			return nil, s, ErrStaleEvent
		}
		next := s
		next.Messages = mergeMessages(evt.Messages, s.Messages)
		return nil, next, nil

	case EvtChatReceived:
		if evt.Message == nil || !holdsSession(s, evt.Message.SessionID) {
			return nil, s, ErrStaleEvent
		}
		if hasMessage(s.Messages, evt.Message.ID) {
			return nil, s, ErrStaleEvent
		}
		next := s
		next.Messages = append(slices.Clip(s.Messages), *evt.Message)
		return nil, next, nil

	case EvtMatchStatusLoaded, EvtMatchInteraction:
		if evt.Status == nil || !holdsSession(s, evt.SessionID) {
			return nil, s, ErrStaleEvent
		}
		next := s
		next.Interaction = mergeStatus(s.Interaction, *evt.Status)
		if matched(s) {
			next.Interaction.Mutual = true
		}
		return nil, next, nil

	case EvtMutualMatch:
		if !holdsSession(s, evt.SessionID) || evt.ChatID == "" {
			return nil, s, ErrStaleEvent
		}
		next := s
		next.Interaction.Mutual = true
		next.Interaction.UserLiked = true
		next.Interaction.PartnerLiked = true
		next.Interaction.ChatID = evt.ChatID
		next.PendingChatID = evt.ChatID
		return nil, next, nil

	case EvtSendMessage:
		if s.Session == nil {
			return nil, s, ErrNoSession
		}
		content := strings.TrimSpace(evt.Content)
		if content == "" {
			return nil, s, ErrEmptyMessage
		}
		return []Effect{{Type: EffEmitChatMessage, SessionID: s.Session.ID, Content: content}}, s, nil

	case EvtLikeRequested:
		if s.Session == nil {
			return nil, s, ErrNoSession
		}
		prior := s.Interaction
		next := s
		next.Interaction.UserLiked = evt.Liked
		next.Interaction.Mutual = matched(s) || (evt.Liked && next.Interaction.PartnerLiked)
		return []Effect{{Type: EffSendLike, SessionID: s.Session.ID, Liked: evt.Liked, Prior: &prior}}, next, nil

	case EvtLikeFailed:
		if !holdsSession(s, evt.SessionID) {
			return nil, s, ErrStaleEvent
		}
		next := s
		if evt.Status != nil {
			// Partner flags may have moved since; only our own like is undone.
			next.Interaction.UserLiked = evt.Status.UserLiked
			next.Interaction.Mutual = matched(s) || (next.Interaction.UserLiked && next.Interaction.PartnerLiked)
		}
		next.Error = failureText(evt)
		return nil, next, nil

	case EvtRequestFailed:
		next := s
		next.Error = failureText(evt)
		return nil, next, nil

	case EvtExitRequested:
		return leaveEffects(s), idleFrom(s), nil

	case EvtSkipRequested, EvtKeepMatching:
		if evt.Type == EvtKeepMatching && s.PendingChatID == "" {
			return nil, s, ErrInvalidTransition
		}
		effects := leaveEffects(s)
		next := startSearching(idleFrom(s))
		effects = append(effects, Effect{Type: EffJoinQueue, Gen: next.PollGen})
		return effects, next, nil

	case EvtContinueChat:
		if s.PendingChatID == "" {
			return nil, s, ErrInvalidTransition
		}
		path := "/chats/" + s.PendingChatID
		effects := append(leaveEffects(s), Effect{Type: EffNavigate, Path: path})
		next := idleFrom(s)
		next.Navigate = path
		return effects, next, nil

	default:
		return nil, s, ErrUnsupportedEvent
	}
}

func applyPoll(s State, evt Event) ([]Effect, State, error) {
	if !currentSearch(s, evt.Gen) || evt.Poll == nil {
		return nil, s, ErrStaleEvent
	}
	p := evt.Poll
	next := s
	if p.TimeElapsed != nil {
		next.TimeElapsed = *p.TimeElapsed
	}
	if p.TimeRemaining != nil {
		next.TimeRemaining = *p.TimeRemaining
	}

	switch p.Status {
	case types.PollSearching:
		return nil, next, nil

	case types.PollMatched, types.PollTimeout:
		// No session object yet means the backend is still setting us up.
		if p.Session == nil || p.Session.ID == "" {
			return nil, next, nil
		}
		effects, adopted, err := adopt(next, p.Session, p.Role)
		return append([]Effect{{Type: EffStopPolling}}, effects...), adopted, err

	case types.PollCancelled:
		next.Phase = PhaseIdle
		next.Polling = false
		next.TimeElapsed = 0
		next.TimeRemaining = next.Config.TimeoutSeconds
		switch p.Message {
		case types.NotQueuedMessage:
			next.Error = ""
		case "":
			next.Error = "Matchmaking was cancelled"
		default:
			next.Error = p.Message
		}
		return []Effect{{Type: EffStopPolling}}, next, nil

	default:
		return nil, s, fmt.Errorf("%w: poll status %q", ErrUnsupportedEvent, p.Status)
	}
}

func applySessionFound(s State, evt Event) ([]Effect, State, error) {
	if evt.Session == nil || evt.Session.ID == "" {
		return nil, s, ErrStaleEvent
	}

	switch s.Phase {
	case PhaseSearching:
		effects, next, err := adopt(s, evt.Session, evt.Role)
		return append([]Effect{{Type: EffStopPolling}}, effects...), next, err

	case PhaseMatched, PhaseInSession:
		if s.Session != nil && s.Session.ID == evt.Session.ID {
			if s.Phase == PhaseInSession {
				return nil, s, ErrStaleEvent
			}
			next := s
			next.Session = mergeSession(s.Session, evt.Session)
			if next.Role == "" {
				next.Role = evt.Role
			}
			if next.Session.PartnerName() != "" {
				next.Phase = PhaseInSession
			}
			return nil, next, nil
		}
		// A different session supersedes ours: last writer wins.
		var effects []Effect
		if s.Session != nil {
			effects = append(effects, Effect{Type: EffEmitLeaveSession, SessionID: s.Session.ID})
		}
		adoptEffects, next, err := adopt(s, evt.Session, evt.Role)
		return append(effects, adoptEffects...), next, err

	default:
		return nil, s, ErrStaleEvent
	}
}

func adopt(s State, session *types.MatchSession, role types.Role) ([]Effect, State, error) {
	next := s
	copied := *session
	next.Session = &copied
	next.Role = role
	next.Phase = PhaseMatched
	if copied.PartnerName() != "" {
		next.Phase = PhaseInSession
	}
	next.Polling = false
	next.Messages = nil
	next.Interaction = types.MatchStatus{}
	next.PendingChatID = ""
	next.Error = ""

	return []Effect{
		{Type: EffEmitJoinSession, SessionID: copied.ID},
		{Type: EffLoadChatHistory, SessionID: copied.ID},
		{Type: EffLoadMatchStatus, SessionID: copied.ID},
	}, next, nil
}

func startSearching(s State) State {
	next := s
	next.Phase = PhaseSearching
	next.Session = nil
	next.Role = ""
	next.Messages = nil
	next.Interaction = types.MatchStatus{}
	next.Error = ""
	next.Navigate = ""
	next.PendingChatID = ""
	next.TimeElapsed = 0
	next.TimeRemaining = s.Config.TimeoutSeconds
	next.PollGen = s.PollGen + 1
	next.Polling = false
	return next
}

func startPolling(s State) Effect {
	interval := s.Config.PollIntervalSeconds
	if interval <= 0 {
		interval = types.DefaultConfig().PollIntervalSeconds
	}
	return Effect{Type: EffStartPolling, Gen: s.PollGen, Interval: time.Duration(interval) * time.Second}
}

// leaveEffects always stops the timer first; the REST calls after it are
// best effort.
func leaveEffects(s State) []Effect {
	effects := []Effect{{Type: EffStopPolling}}
	if s.Phase == PhaseSearching {
		effects = append(effects, Effect{Type: EffLeaveQueue})
	}
	if s.Session != nil {
		effects = append(effects,
			Effect{Type: EffLeaveSession, SessionID: s.Session.ID},
			Effect{Type: EffEmitLeaveSession, SessionID: s.Session.ID},
		)
	}
	return effects
}

func idleFrom(s State) State {
	return State{
		Phase:         PhaseIdle,
		Config:        s.Config,
		TimeRemaining: s.Config.TimeoutSeconds,
		PollGen:       s.PollGen + 1,
	}
}

func Reduce(events []Event) State {
	s := NewIdleState()
	for _, event := range events {
		_, next, err := Apply(s, event)
		if err != nil {
			continue
		}
		s = next
	}
	return s
}
