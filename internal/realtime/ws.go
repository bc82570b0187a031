package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	itypes "github.com/DoyleJ11/spark-client/internal/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

type TokenSource interface {
	Token() (string, error)
}

// WS is a Channel over a single websocket that redials on its own.
type WS struct {
	*Registry

	url        string
	auth       TokenSource
	log        *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ Channel = (*WS)(nil)

type WSOption func(*WS)

func WithLogger(l *zap.Logger) WSOption {
	return func(w *WS) { w.log = l }
}

func WithBackoff(lo, hi time.Duration) WSOption {
	return func(w *WS) {
		w.minBackoff = lo
		w.maxBackoff = hi
	}
}

func NewWS(url string, auth TokenSource, opts ...WSOption) *WS {
	w := &WS{
		Registry:   NewRegistry(),
		url:        url,
		auth:       auth,
		log:        zap.NewNop(),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WS) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

func (w *WS) Emit(ctx context.Context, event string, payload any) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := itypes.NewFrame(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Run keeps the socket up until ctx is done.
func (w *WS) Run(ctx context.Context) error {
	backoff := w.minBackoff
	for {
		connected, err := w.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = w.minBackoff
		}
		w.log.Warn("realtime disconnected", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, w.maxBackoff)
	}
}

func (w *WS) session(ctx context.Context) (bool, error) {
	token, err := w.auth.Token()
	if err != nil {
		return false, err
	}

	conn, _, err := websocket.Dial(ctx, w.url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	w.setConn(conn)
	defer w.setConn(nil)
	w.log.Info("realtime connected", zap.String("url", w.url))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return true, errors.New("closed by server")
			}
			return true, err
		}

		var f itypes.Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			w.log.Debug("dropping malformed frame", zap.ByteString("data", data))
			continue
		}
		if n := w.Dispatch(f.Event, f.Data); n == 0 {
			w.log.Debug("no subscribers", zap.String("event", f.Event))
		}
	}
}

func (w *WS) setConn(c *websocket.Conn) {
	w.mu.Lock()
	w.conn = c
	w.mu.Unlock()
}
