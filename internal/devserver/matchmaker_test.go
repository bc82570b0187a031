package devserver

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/spark-client/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type note struct {
	to      string // uid or session id
	event   string
	payload any
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (r *recordingNotifier) Notify(uid, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note{uid, event, payload})
}

func (r *recordingNotifier) Publish(sessionID, event string, payload any) {
	r.Notify(sessionID, event, payload)
}

func (r *recordingNotifier) find(to, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, n := range r.notes {
		if n.to == to && n.event == event {
			out = append(out, n.payload)
		}
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

var (
	alice = User{UID: "alice", FirstName: "Alice"}
	bob   = User{UID: "bob", FirstName: "Bob"}
	carol = User{UID: "carol", FirstName: "Carol"}
)

func newTestMatchmaker() (*Matchmaker, *recordingNotifier, *clock) {
	n := &recordingNotifier{}
	c := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	mm := NewMatchmaker(NewMemoryStore(), n, types.Config{TimeoutSeconds: 15, PollIntervalSeconds: 3}, zap.NewNop())
	mm.now = c.now
	return mm, n, c
}

func requireProblem(t *testing.T, err error, status int) {
	t.Helper()
	var p *Problem
	require.ErrorAs(t, err, &p)
	assert.Equal(t, status, p.Status)
}

// hostSession queues u, lets the timeout pass and returns the hosted session.
func hostSession(t *testing.T, mm *Matchmaker, c *clock, u User) *types.MatchSession {
	t.Helper()
	ctx := context.Background()
	_, err := mm.Join(ctx, u)
	require.NoError(t, err)
	c.advance(16 * time.Second)
	res, err := mm.Poll(ctx, u)
	require.NoError(t, err)
	require.Equal(t, types.PollTimeout, res.Status)
	return res.Session
}

func TestMatchmaker_JoinTwiceConflicts(t *testing.T) {
	mm, _, _ := newTestMatchmaker()
	ctx := context.Background()

	_, err := mm.Join(ctx, alice)
	require.NoError(t, err)
	_, err = mm.Join(ctx, alice)
	requireProblem(t, err, http.StatusConflict)
	assert.Contains(t, err.Error(), "already in the queue")
}

func TestMatchmaker_PollNotQueuedIsCancelled(t *testing.T) {
	mm, _, _ := newTestMatchmaker()
	res, err := mm.Poll(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, types.PollCancelled, res.Status)
	assert.Equal(t, types.NotQueuedMessage, res.Message)
}

func TestMatchmaker_SearchingCountsDownThenHosts(t *testing.T) {
	mm, _, c := newTestMatchmaker()
	ctx := context.Background()

	_, err := mm.Join(ctx, alice)
	require.NoError(t, err)

	c.advance(4 * time.Second)
	res, err := mm.Poll(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, types.PollSearching, res.Status)
	assert.Equal(t, 4, *res.TimeElapsed)
	assert.Equal(t, 11, *res.TimeRemaining)

	c.advance(11 * time.Second)
	res, err = mm.Poll(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, types.PollTimeout, res.Status)
	assert.Equal(t, types.RoleHost, res.Role)
	require.NotNil(t, res.Session)
	assert.Empty(t, res.Session.PartnerName())

	_, err = mm.Queue(ctx, alice)
	requireProblem(t, err, http.StatusNotFound)
}

func TestMatchmaker_GuestJoinsWaitingHost(t *testing.T) {
	mm, n, c := newTestMatchmaker()
	ctx := context.Background()

	first := hostSession(t, mm, c, alice)

	_, err := mm.Join(ctx, bob)
	require.NoError(t, err)
	res, err := mm.Poll(ctx, bob)
	require.NoError(t, err)

	assert.Equal(t, types.PollMatched, res.Status)
	assert.Equal(t, types.RoleGuest, res.Role)
	assert.Equal(t, first.ID, res.Session.ID)
	assert.Equal(t, "Alice", res.Session.PartnerName())

	found := n.find("alice", types.EventSessionFound)
	require.Len(t, found, 1)
	sf := found[0].(types.SessionFound)
	assert.Equal(t, types.RoleHost, sf.Role)
	assert.Equal(t, "Bob", sf.Session.PartnerName())
	assert.Equal(t, "Bob", *sf.Session.PartnerFirstName)

	res, err = mm.Poll(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, types.PollMatched, res.Status)

	_, err = mm.Join(ctx, bob)
	requireProblem(t, err, http.StatusConflict)
}

func TestMatchmaker_LeaveSession(t *testing.T) {
	tests := []struct {
		name       string
		withGuest  bool
		leaver     User
		wantStatus string
		wantGuest  bool
		requeued   string
	}{
		{name: "host alone closes", leaver: alice, wantStatus: statusClosed},
		{name: "host with guest abandons", withGuest: true, leaver: alice, wantStatus: statusAbandoned, wantGuest: true, requeued: "bob"},
		{name: "guest leaves", withGuest: true, leaver: bob, wantStatus: statusOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mm, _, c := newTestMatchmaker()
			ctx := context.Background()
			sess := hostSession(t, mm, c, alice)
			if tt.withGuest {
				_, err := mm.Join(ctx, bob)
				require.NoError(t, err)
				_, err = mm.Poll(ctx, bob)
				require.NoError(t, err)
			}

			require.NoError(t, mm.LeaveSession(ctx, tt.leaver))

			stored, err := mm.store.Session(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, tt.wantGuest, stored.GuestUID != nil)

			if tt.requeued != "" {
				_, err := mm.store.QueueEntry(ctx, tt.requeued)
				assert.NoError(t, err, "guest should be back in the queue")
			}

			requireProblem(t, mm.LeaveSession(ctx, tt.leaver), http.StatusNotFound)
		})
	}
}

func TestMatchmaker_LikesBecomeMutual(t *testing.T) {
	mm, n, c := newTestMatchmaker()
	ctx := context.Background()
	sess := hostSession(t, mm, c, alice)
	_, err := mm.Join(ctx, bob)
	require.NoError(t, err)
	_, err = mm.Poll(ctx, bob)
	require.NoError(t, err)

	st, err := mm.SetMatch(ctx, alice, sess.ID, true)
	require.NoError(t, err)
	assert.True(t, st.UserLiked)
	assert.False(t, st.Mutual)

	seen := n.find("bob", types.EventMatchInteraction)
	require.Len(t, seen, 1)
	assert.True(t, seen[0].(types.MatchInteraction).PartnerLiked)

	st, err = mm.SetMatch(ctx, bob, sess.ID, true)
	require.NoError(t, err)
	assert.True(t, st.Mutual)
	require.NotEmpty(t, st.ChatID)

	for _, uid := range []string{"alice", "bob"} {
		got := n.find(uid, types.EventMutualMatch)
		require.Len(t, got, 1, uid)
		assert.Equal(t, st.ChatID, got[0].(types.MutualMatch).ChatID)
	}

	again, err := mm.MatchStatus(ctx, alice, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ChatID, again.ChatID)
	assert.True(t, again.Mutual)
}

func TestMatchmaker_Messages(t *testing.T) {
	mm, n, c := newTestMatchmaker()
	ctx := context.Background()
	sess := hostSession(t, mm, c, alice)

	_, err := mm.PostMessage(ctx, alice, sess.ID, "   ")
	requireProblem(t, err, http.StatusBadRequest)

	_, err = mm.PostMessage(ctx, carol, sess.ID, "hi")
	requireProblem(t, err, http.StatusForbidden)

	msg, err := mm.PostMessage(ctx, alice, sess.ID, " hello ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.NotEmpty(t, msg.ID)
	assert.Len(t, n.find(sess.ID, types.EventChatReceived), 1)

	msgs, err := mm.Chats(ctx, alice, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)

	_, err = mm.Chats(ctx, alice, "missing")
	requireProblem(t, err, http.StatusNotFound)
}
