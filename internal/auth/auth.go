package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// ExpiryMargin is how long before the token's exp the session signs itself
// out.
const ExpiryMargin = 30 * time.Second

// Session holds the bearer credential for the signed-in user. It never
// verifies signatures; that is the backend's job.
type Session struct {
	mu        sync.Mutex
	token     string
	timer     *time.Timer
	callbacks []func()
	now       func() time.Time
	log       *zap.Logger
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithClock is for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func NewSession(opts ...Option) *Session {
	s := &Session{now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetToken stores the token and schedules a sign-out shortly before it
// expires. A token that is already expired signs out immediately.
func (s *Session) SetToken(token string) error {
	exp, err := expiry(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stopTimerLocked()
	s.token = token
	wait := exp.Sub(s.now()) - ExpiryMargin
	if !exp.IsZero() && wait <= 0 {
		s.mu.Unlock()
		s.SignOut()
		return ErrNotAuthenticated
	}
	if !exp.IsZero() {
		s.timer = time.AfterFunc(wait, func() {
			s.log.Info("token about to expire, signing out")
			s.SignOut()
		})
	}
	s.mu.Unlock()
	return nil
}

// Token returns the current bearer token. A missing or expired token signs
// the session out.
func (s *Session) Token() (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	if token == "" || !s.valid(token) {
		s.SignOut()
		return "", ErrNotAuthenticated
	}
	return token, nil
}

func (s *Session) SignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// OnSignOut registers fn to run every time the session goes from signed in
// to signed out.
func (s *Session) OnSignOut(fn func()) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

func (s *Session) SignOut() {
	s.mu.Lock()
	wasSignedIn := s.token != ""
	s.token = ""
	s.stopTimerLocked()
	callbacks := append([]func(){}, s.callbacks...)
	s.mu.Unlock()

	if !wasSignedIn {
		return
	}
	s.log.Info("signed out")
	for _, fn := range callbacks {
		fn()
	}
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) valid(token string) bool {
	exp, err := expiry(token)
	if err != nil {
		return false
	}
	return exp.IsZero() || exp.After(s.now())
}

// expiry reads the exp claim without verifying the signature. A token
// without exp has a zero expiry.
func expiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, errors.Join(ErrNotAuthenticated, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, errors.Join(ErrNotAuthenticated, err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
