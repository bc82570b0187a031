package controller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/spark-client/internal/engine"
	"github.com/DoyleJ11/spark-client/internal/realtime"
	"github.com/DoyleJ11/spark-client/pkg/types"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("controller stopped")

// API is the backend surface the controller calls. *api.Client satisfies it.
type API interface {
	Config(ctx context.Context) (types.Config, error)
	JoinQueue(ctx context.Context) (*types.QueueEntry, error)
	Poll(ctx context.Context) (*types.PollResponse, error)
	Queue(ctx context.Context) (*types.QueueEntry, error)
	LeaveQueue(ctx context.Context) error
	CurrentSession(ctx context.Context) (types.CurrentSession, error)
	LeaveSession(ctx context.Context) error
	MatchStatus(ctx context.Context, sessionID string) (types.MatchStatus, error)
	SetMatch(ctx context.Context, sessionID string, liked bool) (types.MatchStatus, error)
	Chats(ctx context.Context, sessionID string) ([]types.ChatMessage, error)
}

type Msg interface{ isControllerMsg() }

// Dispatch feeds one event to the transition function.
type Dispatch struct {
	Event engine.Event
}

func (Dispatch) isControllerMsg() {}

type Watch struct {
	ID     string
	Outbox chan Snapshot // where this watcher wants to receive snapshots
}

func (Watch) isControllerMsg() {}

type Unwatch struct{ ID string }

func (Unwatch) isControllerMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isControllerMsg() {}

// stopMsg is queued behind any pending messages so a dispatched exit still runs.
type stopMsg struct{}

func (stopMsg) isControllerMsg() {}

type pollTick struct{ Gen int }

func (pollTick) isControllerMsg() {}

type Snapshot struct {
	Version int
	State   engine.State
}

type View struct {
	Version      int
	NumWatchers  int
	Polling      bool
	PollInFlight bool
	State        engine.State
}

type Controller struct {
	inbox    chan Msg
	state    engine.State
	version  int
	watchers map[string]chan Snapshot

	api     API
	channel realtime.Channel
	subs    []*realtime.Subscription
	log     *zap.Logger

	pollGen      int
	pollStop     chan struct{}
	pollInFlight bool

	// lastBatch closes when the most recent batch of I/O effects is done.
	// Batches run one after another so a leave always lands before the
	// join that follows it.
	lastBatch chan struct{}

	pollInterval   time.Duration // overrides the backend's interval when set
	requestTimeout time.Duration
	drainTimeout   time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) { c.requestTimeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

func WithInboxSize(n int) Option {
	return func(c *Controller) { c.inbox = make(chan Msg, n) }
}

func New(api API, ch realtime.Channel, opts ...Option) *Controller {
	c := &Controller{
		inbox:          make(chan Msg, 64),
		state:          engine.NewIdleState(),
		watchers:       make(map[string]chan Snapshot),
		api:            api,
		channel:        ch,
		log:            zap.NewNop(),
		requestTimeout: 10 * time.Second,
		drainTimeout:   5 * time.Second,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to realtime events, starts the event loop and asks the
// backend where we left off. Calling it more than once does nothing.
func (c *Controller) Start(parent context.Context) {
	c.startOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(parent)
		c.subscribe()
		c.enqueueBatch(func() { c.recoverState() })
		go c.loop()
	})
}

// Stop tears everything down: timer, our own subscriptions, watchers. Messages
// already queued are handled first. It waits for the loop to exit and gives
// queued leave calls a moment to land.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		// Never started: nothing to tear down.
		c.startOnce.Do(func() { close(c.done) })
		c.send(stopMsg{})
	})
	<-c.done

	if c.lastBatch != nil {
		select {
		case <-c.lastBatch:
		case <-time.After(c.drainTimeout):
			c.log.Warn("gave up waiting for pending requests")
		}
	}
}

func (c *Controller) Join() error { return c.dispatch(engine.Event{Type: engine.EvtJoinRequested}) }
func (c *Controller) Exit() error { return c.dispatch(engine.Event{Type: engine.EvtExitRequested}) }
func (c *Controller) Skip() error { return c.dispatch(engine.Event{Type: engine.EvtSkipRequested}) }
func (c *Controller) ContinueChat() error {
	return c.dispatch(engine.Event{Type: engine.EvtContinueChat})
}
func (c *Controller) KeepMatching() error {
	return c.dispatch(engine.Event{Type: engine.EvtKeepMatching})
}

func (c *Controller) Send(text string) error {
	return c.dispatch(engine.Event{Type: engine.EvtSendMessage, Content: text})
}

func (c *Controller) Like(liked bool) error {
	return c.dispatch(engine.Event{Type: engine.EvtLikeRequested, Liked: liked})
}

// Watch registers a snapshot receiver. The current snapshot is delivered
// right away; watchers that fall behind are dropped and their channel closed.
func (c *Controller) Watch(id string, buffer int) <-chan Snapshot {
	out := make(chan Snapshot, max(buffer, 1))
	if !c.send(Watch{ID: id, Outbox: out}) {
		close(out)
	}
	return out
}

func (c *Controller) Unwatch(id string) {
	c.send(Unwatch{ID: id})
}

func (c *Controller) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if !c.send(GetState{Reply: reply}) {
		return View{}, ErrStopped
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return View{}, ErrStopped
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (c *Controller) dispatch(evt engine.Event) error {
	if !c.send(Dispatch{Event: evt}) {
		return ErrStopped
	}
	return nil
}

func (c *Controller) send(m Msg) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- m:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Dispatch:
				c.apply(msg.Event)

			case pollTick:
				c.onTick(msg.Gen)

			case Watch:
				if old, ok := c.watchers[msg.ID]; ok {
					close(old)
				}
				c.watchers[msg.ID] = msg.Outbox
				select {
				case msg.Outbox <- c.snapshot():
				default:
				}

			case Unwatch:
				if ch, ok := c.watchers[msg.ID]; ok {
					close(ch)
					delete(c.watchers, msg.ID)
				}

			case GetState:
				msg.Reply <- View{
					Version:      c.version,
					NumWatchers:  len(c.watchers),
					Polling:      c.pollStop != nil,
					PollInFlight: c.pollInFlight,
					State:        c.state,
				}

			case stopMsg:
				c.shutdown()
				c.cancel()
				return
			}
		}
	}
}

func (c *Controller) apply(evt engine.Event) {
	// Only the live poll loop's own answer may clear the in-flight flag.
	if (evt.Type == engine.EvtPollResult || evt.Type == engine.EvtPollFailed) && evt.Gen == c.pollGen {
		c.pollInFlight = false
	}

	effects, next, err := engine.Apply(c.state, evt)
	if err != nil {
		if engine.IsQuiet(err) {
			c.log.Debug("ignored event", zap.String("event", string(evt.Type)), zap.Error(err))
		} else {
			c.log.Info("rejected event", zap.String("event", string(evt.Type)), zap.Error(err))
		}
		return
	}

	// The timer goes before the state changes so a tick from the old loop
	// can never be read against the new state.
	if engine.ContainsEffect(effects, engine.EffStopPolling) {
		c.stopPolling()
	}

	if next.Phase != c.state.Phase {
		c.log.Info("matchmaking state",
			zap.String("from", string(c.state.Phase)),
			zap.String("to", string(next.Phase)),
			zap.String("event", string(evt.Type)))
	}
	c.state = next
	c.version++

	c.runEffects(effects)
	c.broadcast(c.snapshot())
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{Version: c.version, State: c.state}
}

func (c *Controller) broadcast(snap Snapshot) {
	for id, ch := range c.watchers {
		select {
		case ch <- snap:
			//ok
		default:
			// Watcher is slow/full - drop them.
			close(ch)
			delete(c.watchers, id)
		}
	}
}

func (c *Controller) shutdown() {
	c.stopPolling()
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	for id, ch := range c.watchers {
		close(ch) // Tell watcher no more snapshots
		delete(c.watchers, id)
	}
}

func (c *Controller) subscribe() {
	c.subs = append(c.subs,
		c.channel.Subscribe(types.EventChatReceived, func(data json.RawMessage) {
			var m types.ChatMessage
			if c.decode(types.EventChatReceived, data, &m) {
				_ = c.dispatch(engine.Event{Type: engine.EvtChatReceived, Message: &m})
			}
		}),
		c.channel.Subscribe(types.EventSessionFound, func(data json.RawMessage) {
			var p types.SessionFound
			if c.decode(types.EventSessionFound, data, &p) {
				_ = c.dispatch(engine.Event{Type: engine.EvtSessionFound, Session: p.Session, Role: p.Role})
			}
		}),
		c.channel.Subscribe(types.EventMatchInteraction, func(data json.RawMessage) {
			var p types.MatchInteraction
			if c.decode(types.EventMatchInteraction, data, &p) {
				_ = c.dispatch(engine.Event{
					Type:      engine.EvtMatchInteraction,
					SessionID: p.SessionID,
					Status:    &types.MatchStatus{UserLiked: p.UserLiked, PartnerLiked: p.PartnerLiked, Mutual: p.Mutual},
				})
			}
		}),
		c.channel.Subscribe(types.EventMutualMatch, func(data json.RawMessage) {
			var p types.MutualMatch
			if c.decode(types.EventMutualMatch, data, &p) {
				_ = c.dispatch(engine.Event{Type: engine.EvtMutualMatch, SessionID: p.SessionID, ChatID: p.ChatID})
			}
		}),
	)
}

func (c *Controller) decode(event string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.log.Warn("bad realtime payload", zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}
