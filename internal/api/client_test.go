package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DoyleJ11/spark-client/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	token    string
	err      error
	signOuts int
}

func (f *fakeAuth) Token() (string, error) { return f.token, f.err }
func (f *fakeAuth) SignOut()               { f.signOuts++ }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T, r chi.Router) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_SendsBearerAndDecodes(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/matchmaking/me/poll", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		elapsed, remaining := 3, 12
		writeJSON(w, http.StatusOK, types.PollResponse{
			Status: types.PollSearching, TimeElapsed: &elapsed, TimeRemaining: &remaining,
		})
	})
	ts := newTestServer(t, r)

	c := NewClient(ts.URL+"/", &fakeAuth{token: "tok"})
	res, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.PollSearching, res.Status)
	assert.Equal(t, 12, *res.TimeRemaining)
}

func TestClient_UnauthorizedSignsOut(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		r := chi.NewRouter()
		calls := 0
		r.Post("/matchmaking/me/join", func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(code)
		})
		ts := newTestServer(t, r)

		auth := &fakeAuth{token: "tok"}
		_, err := NewClient(ts.URL, auth).JoinQueue(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, 1, auth.signOuts)
		assert.Equal(t, 1, calls, "must not retry")
	}
}

func TestClient_MissingTokenNeverHitsNetwork(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/session/me", func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})
	ts := newTestServer(t, r)

	_, err := NewClient(ts.URL, &fakeAuth{err: errors.New("no token")}).CurrentSession(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_StatusErrorCarriesDetail(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/matchmaking/me/join", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "User with uid 'u1' is already in the queue!"})
	})
	ts := newTestServer(t, r)

	_, err := NewClient(ts.URL, &fakeAuth{token: "tok"}).JoinQueue(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Contains(t, se.Detail, "already in the queue")
}

func TestClient_QueueNotFoundIsNil(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/matchmaking/me/queue", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not in queue"})
	})
	ts := newTestServer(t, r)

	entry, err := NewClient(ts.URL, &fakeAuth{token: "tok"}).Queue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestClient_SessionEndpoints(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/session/{id}", func(r chi.Router) {
		r.Get("/chats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []types.ChatMessage{{ID: "m1", SessionID: chi.URLParam(r, "id")}})
		})
		r.Post("/match", func(w http.ResponseWriter, r *http.Request) {
			var body types.LikeRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, http.StatusOK, types.MatchStatus{UserLiked: body.Liked})
		})
	})
	r.Delete("/session/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ts := newTestServer(t, r)
	c := NewClient(ts.URL, &fakeAuth{token: "tok"})
	ctx := context.Background()

	msgs, err := c.Chats(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "s1", msgs[0].SessionID)

	st, err := c.SetMatch(ctx, "s1", true)
	require.NoError(t, err)
	assert.True(t, st.UserLiked)

	assert.NoError(t, c.LeaveSession(ctx))
}
