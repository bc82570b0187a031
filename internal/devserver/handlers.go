package devserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DoyleJ11/spark-client/pkg/types"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type handlers struct {
	mm  *Matchmaker
	log *zap.Logger
}

func (h *handlers) config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mm.Config())
}

func (h *handlers) join(w http.ResponseWriter, r *http.Request) {
	entry, err := h.mm.Join(r.Context(), mustUser(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handlers) poll(w http.ResponseWriter, r *http.Request) {
	res, err := h.mm.Poll(r.Context(), mustUser(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) queue(w http.ResponseWriter, r *http.Request) {
	entry, err := h.mm.Queue(r.Context(), mustUser(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handlers) leaveQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.mm.LeaveQueue(r.Context(), mustUser(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) currentSession(w http.ResponseWriter, r *http.Request) {
	cur, err := h.mm.Current(r.Context(), mustUser(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (h *handlers) leaveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.mm.LeaveSession(r.Context(), mustUser(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) matchStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.mm.MatchStatus(r.Context(), mustUser(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) setMatch(w http.ResponseWriter, r *http.Request) {
	var body types.LikeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "bad json")
		return
	}
	st, err := h.mm.SetMatch(r.Context(), mustUser(r), chi.URLParam(r, "id"), body.Liked)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) chats(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.mm.Chats(r.Context(), mustUser(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var p *Problem
	if errors.As(err, &p) {
		writeDetail(w, p.Status, p.Detail)
		return
	}
	h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeDetail(w, http.StatusInternalServerError, "internal error")
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// mustUser is only called behind the auth middleware.
func mustUser(r *http.Request) User {
	u, _ := UserFrom(r.Context())
	return u
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, struct {
		Detail string `json:"detail"`
	}{Detail: detail})
}
