package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DoyleJ11/spark-client/internal/api"
	"github.com/DoyleJ11/spark-client/internal/engine"
	"github.com/DoyleJ11/spark-client/internal/realtime"
	"github.com/DoyleJ11/spark-client/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runEffects handles the timer effects inline and hands everything that
// touches the network to a batch goroutine.
func (c *Controller) runEffects(effects []engine.Effect) {
	var io []engine.Effect
	for _, eff := range effects {
		switch eff.Type {
		case engine.EffStopPolling:
			c.stopPolling()
		case engine.EffStartPolling:
			c.startPolling(eff.Gen, eff.Interval)
		case engine.EffPoll:
			c.pollNow(eff.Gen)
		case engine.EffNavigate:
			c.log.Info("navigate", zap.String("path", eff.Path))
		default:
			io = append(io, eff)
		}
	}
	if len(io) > 0 {
		c.enqueueBatch(func() { c.perform(io) })
	}
}

// enqueueBatch chains fn behind the previous batch. Only the loop (or Start,
// before the loop runs) touches lastBatch.
func (c *Controller) enqueueBatch(fn func()) {
	prev := c.lastBatch
	done := make(chan struct{})
	c.lastBatch = done
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		fn()
	}()
}

func (c *Controller) perform(batch []engine.Effect) {
	var leaveErr error
	var loads []engine.Effect

	for _, eff := range batch {
		switch eff.Type {
		case engine.EffJoinQueue:
			c.joinQueue(eff.Gen)

		case engine.EffLeaveQueue:
			leaveErr = multierr.Append(leaveErr, c.cleanup(func(ctx context.Context) error {
				return c.api.LeaveQueue(ctx)
			}))

		case engine.EffLeaveSession:
			leaveErr = multierr.Append(leaveErr, c.cleanup(func(ctx context.Context) error {
				return c.api.LeaveSession(ctx)
			}))

		case engine.EffEmitLeaveSession:
			leaveErr = multierr.Append(leaveErr,
				c.emit(types.EventLeaveSession, types.SessionRef{SessionID: eff.SessionID}))

		case engine.EffEmitJoinSession:
			if err := c.emit(types.EventJoinSession, types.SessionRef{SessionID: eff.SessionID}); err != nil {
				c.log.Info("join_session not sent", zap.String("session_id", eff.SessionID), zap.Error(err))
			}

		case engine.EffEmitChatMessage:
			err := c.emit(types.EventChatMessage, types.OutgoingChat{SessionID: eff.SessionID, Content: eff.Content})
			if err != nil {
				c.fail(fmt.Errorf("send message: %w", err))
			}

		case engine.EffSendLike:
			ctx, cancel := c.requestCtx()
			status, err := c.api.SetMatch(ctx, eff.SessionID, eff.Liked)
			cancel()
			if err != nil {
				c.log.Warn("like failed", zap.String("session_id", eff.SessionID), zap.Error(err))
				_ = c.dispatch(engine.Event{Type: engine.EvtLikeFailed, SessionID: eff.SessionID, Status: eff.Prior, Err: err})
				continue
			}
			_ = c.dispatch(engine.Event{Type: engine.EvtMatchStatusLoaded, SessionID: eff.SessionID, Status: &status})

		case engine.EffLoadChatHistory, engine.EffLoadMatchStatus:
			loads = append(loads, eff)

		default:
			c.log.Warn("unhandled effect", zap.String("effect", string(eff.Type)))
		}
	}

	if leaveErr != nil {
		// Best effort: the local state is already idle.
		c.log.Warn("leave cleanup incomplete", zap.Error(leaveErr))
	}
	if len(loads) > 0 {
		c.load(loads)
	}
}

func (c *Controller) joinQueue(gen int) {
	ctx, cancel := c.requestCtx()
	defer cancel()

	_, err := c.api.JoinQueue(ctx)
	var se *api.StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		// Already queued or already in a session server side: polling
		// will tell us which.
		c.log.Info("join conflict, resuming poll", zap.String("detail", se.Detail))
		err = nil
	}
	if err != nil {
		_ = c.dispatch(engine.Event{Type: engine.EvtJoinFailed, Gen: gen, Err: err})
		return
	}
	_ = c.dispatch(engine.Event{Type: engine.EvtJoinSucceeded, Gen: gen})
}

// load fetches chat history and like status side by side. One failing does
// not cancel the other.
func (c *Controller) load(effects []engine.Effect) {
	ctx, cancel := c.requestCtx()
	defer cancel()

	var g errgroup.Group
	for _, eff := range effects {
		sessionID := eff.SessionID
		switch eff.Type {
		case engine.EffLoadChatHistory:
			g.Go(func() error {
				msgs, err := c.api.Chats(ctx, sessionID)
				if err != nil {
					return fmt.Errorf("load chat history: %w", err)
				}
				return c.dispatch(engine.Event{Type: engine.EvtChatHistoryLoaded, SessionID: sessionID, Messages: msgs})
			})
		case engine.EffLoadMatchStatus:
			g.Go(func() error {
				status, err := c.api.MatchStatus(ctx, sessionID)
				if err != nil {
					return fmt.Errorf("load match status: %w", err)
				}
				return c.dispatch(engine.Event{Type: engine.EvtMatchStatusLoaded, SessionID: sessionID, Status: &status})
			})
		}
	}
	if err := g.Wait(); err != nil && !errors.Is(err, ErrStopped) {
		c.fail(err)
	}
}

func (c *Controller) recoverState() {
	ctx, cancel := c.requestCtx()
	defer cancel()

	cfg, err := c.api.Config(ctx)
	if err != nil {
		c.log.Warn("using default matchmaking config", zap.Error(err))
	} else {
		_ = c.dispatch(engine.Event{Type: engine.EvtConfigLoaded, Config: &cfg})
	}

	cur, err := c.api.CurrentSession(ctx)
	if err != nil && !api.IsNotFound(err) {
		c.fail(fmt.Errorf("restore session: %w", err))
		return
	}
	if cur.Session != nil {
		_ = c.dispatch(engine.Event{Type: engine.EvtRecovered, Session: cur.Session, Role: cur.Role})
		return
	}

	entry, err := c.api.Queue(ctx)
	if err != nil {
		c.fail(fmt.Errorf("restore queue: %w", err))
		return
	}
	if entry != nil {
		_ = c.dispatch(engine.Event{Type: engine.EvtRecovered, Queue: entry})
	}
}

// cleanup runs a best-effort leave call. It survives Stop so quitting right
// after exit still tells the backend.
func (c *Controller) cleanup(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.requestTimeout)
	defer cancel()
	return fn(ctx)
}

func (c *Controller) emit(event string, payload any) error {
	if !c.channel.Connected() {
		return fmt.Errorf("%s: %w", event, realtime.ErrNotConnected)
	}
	ctx, cancel := c.requestCtx()
	defer cancel()
	return c.channel.Emit(ctx, event, payload)
}

func (c *Controller) fail(err error) {
	c.log.Warn("request failed", zap.Error(err))
	_ = c.dispatch(engine.Event{Type: engine.EvtRequestFailed, Err: err})
}

func (c *Controller) requestCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.requestTimeout)
}

func (c *Controller) startPolling(gen int, interval time.Duration) {
	c.stopPolling()
	if gen != c.pollGen {
		c.pollGen = gen
		c.pollInFlight = false
	}
	if c.pollInterval > 0 {
		interval = c.pollInterval
	}
	if interval <= 0 {
		interval = time.Duration(types.DefaultConfig().PollIntervalSeconds) * time.Second
	}

	stop := make(chan struct{})
	c.pollStop = stop
	ctx := c.ctx
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case c.inbox <- pollTick{Gen: gen}:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (c *Controller) stopPolling() {
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
}

func (c *Controller) onTick(gen int) {
	if c.pollStop == nil || gen != c.pollGen {
		return
	}
	if c.state.Phase != engine.PhaseSearching || c.state.PollGen != gen {
		return
	}
	c.pollNow(gen)
}

// pollNow fires one poll unless the previous one for this loop is still out.
func (c *Controller) pollNow(gen int) {
	if gen != c.pollGen {
		c.pollGen = gen
		c.pollInFlight = false
	}
	if c.pollInFlight {
		c.log.Debug("poll still in flight, skipping tick", zap.Int("gen", gen))
		return
	}
	c.pollInFlight = true

	go func() {
		ctx, cancel := c.requestCtx()
		defer cancel()
		res, err := c.api.Poll(ctx)
		if err != nil {
			_ = c.dispatch(engine.Event{Type: engine.EvtPollFailed, Gen: gen, Err: err})
			return
		}
		_ = c.dispatch(engine.Event{Type: engine.EvtPollResult, Gen: gen, Poll: res})
	}()
}
