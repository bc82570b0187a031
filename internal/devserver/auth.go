package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type User struct {
	UID       string
	FirstName string
}

type Claims struct {
	FirstName string `json:"first_name"`
	jwt.RegisteredClaims
}

// Issuer signs and checks the HS256 tokens handed out by the dev backend.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(u User) (string, time.Time, error) {
	if u.UID == "" {
		return "", time.Time{}, errors.New("uid required")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		FirstName: u.FirstName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (i *Issuer) Verify(token string) (User, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return User{}, err
	}
	if claims.Subject == "" {
		return User{}, errors.New("token has no subject")
	}
	return User{UID: claims.Subject, FirstName: claims.FirstName}, nil
}

type userKey struct{}

func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}

// Middleware accepts "Authorization: Bearer <token>" or, for websocket
// upgrades from browsers, a ?token= query parameter.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		u, err := i.Verify(token)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	})
}

type devTokenRequest struct {
	UID       string `json:"uid"`
	FirstName string `json:"first_name"`
}

type devTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DevToken hands out a token for any uid. Never mount it outside dev.
func DevToken(i *Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req devTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "bad json")
			return
		}
		req.UID = strings.TrimSpace(req.UID)
		if req.UID == "" {
			writeDetail(w, http.StatusBadRequest, "uid required")
			return
		}
		if req.FirstName == "" {
			req.FirstName = req.UID
		}
		token, exp, err := i.Issue(User{UID: req.UID, FirstName: req.FirstName})
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("issue token: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, devTokenResponse{Token: token, ExpiresAt: exp})
	}
}
