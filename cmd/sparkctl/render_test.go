package main

import (
	"testing"

	"github.com/DoyleJ11/spark-client/internal/engine"
	"github.com/DoyleJ11/spark-client/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	name := "Alex"
	session := &types.MatchSession{ID: "s1", OtherUserFirstName: &name}

	tests := []struct {
		name      string
		prev, cur engine.State
		want      []string
	}{
		{
			name: "no change",
			want: nil,
		},
		{
			name: "partner arrives",
			prev: engine.State{Phase: engine.PhaseMatched, Session: &types.MatchSession{ID: "s1"}, Role: types.RoleHost},
			cur:  engine.State{Phase: engine.PhaseInSession, Session: session, Role: types.RoleHost},
			want: []string{"* chatting with Alex"},
		},
		{
			name: "new message",
			prev: engine.State{Phase: engine.PhaseInSession, Session: session},
			cur: engine.State{Phase: engine.PhaseInSession, Session: session, Messages: []types.ChatMessage{
				{ID: "m1", AuthorUID: "alex", Content: "hey"},
			}},
			want: []string{"  <alex> hey"},
		},
		{
			name: "navigate",
			prev: engine.State{Phase: engine.PhaseInSession, Session: session, PendingChatID: "c1"},
			cur:  engine.State{Phase: engine.PhaseIdle, Navigate: "/chats/c1"},
			want: []string{"* idle", "-> /chats/c1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, diff(tt.prev, tt.cur))
		})
	}
}
