package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	itypes "github.com/DoyleJ11/spark-client/internal/types"
	"github.com/DoyleJ11/spark-client/pkg/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func WSHandler(h *Hub, mm *Matchmaker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := mustUser(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Dev only: any origin may connect.
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan itypes.Frame, 32)
		connID := uuid.NewString()
		log := log.With(zap.String("uid", u.UID), zap.String("conn_id", connID))

		h.send(Register{ConnID: connID, UID: u.UID, Outbox: out})
		defer h.send(Unregister{ConnID: connID})
		log.Info("ws connected")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			defer writeCancel()
			for {
				select {
				case <-writeCtx.Done():
					return
				case f, ok := <-out:
					if !ok {
						// Hub let go of us.
						conn.Close(websocket.StatusPolicyViolation, "too slow")
						return
					}
					if err := writeFrame(writeCtx, conn, f); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(writeCtx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						log.Debug("ws read", zap.Error(err))
					}
				}
				return
			}

			var f itypes.Frame
			if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
				reply(writeCtx, conn, "bad json")
				continue
			}
			if err := handleFrame(writeCtx, h, mm, u, connID, f); err != nil {
				reply(writeCtx, conn, f.Event+": "+err.Error())
			}
		}
	}
}

func handleFrame(ctx context.Context, h *Hub, mm *Matchmaker, u User, connID string, f itypes.Frame) error {
	switch f.Event {
	case types.EventJoinSession:
		var ref types.SessionRef
		if err := json.Unmarshal(f.Data, &ref); err != nil {
			return err
		}
		if err := mm.CanJoinRoom(ctx, u, ref.SessionID); err != nil {
			return err
		}
		h.send(JoinRoom{ConnID: connID, SessionID: ref.SessionID})

	case types.EventLeaveSession:
		var ref types.SessionRef
		if err := json.Unmarshal(f.Data, &ref); err != nil {
			return err
		}
		h.send(LeaveRoom{ConnID: connID, SessionID: ref.SessionID})

	case types.EventChatMessage:
		var msg types.OutgoingChat
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			return err
		}
		if _, err := mm.PostMessage(ctx, u, msg.SessionID, msg.Content); err != nil {
			return err
		}

	default:
		return errors.New("unknown event")
	}
	return nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

func reply(ctx context.Context, conn *websocket.Conn, msg string) {
	_ = writeFrame(ctx, conn, itypes.ErrorFrame{Event: "error", Error: msg})
}
