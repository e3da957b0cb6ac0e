package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const AnonymousOwner = "anonymous"

type ctxKey int

const (
	credentialKey ctxKey = iota
	ownerKey
)

var (
	errMissingSubject = errors.New("token has no subject")
	errInvalidToken   = errors.New("invalid token")
)

// Authenticator verifies HMAC-signed bearer tokens and derives the owner
// from their "sub" claim.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Middleware puts the credential and owner on the request context. A request
// without a credential passes as AnonymousOwner; a credential that fails
// verification is rejected with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		credential := bearerToken(header)

		owner := AnonymousOwner
		if header != "" {
			if credential == "" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			sub, err := a.owner(credential)
			if err != nil {
				writeError(w, http.StatusUnauthorized, errInvalidToken.Error())
				return
			}
			owner = sub
		}

		ctx := context.WithValue(r.Context(), credentialKey, credential)
		ctx = context.WithValue(ctx, ownerKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) owner(credential string) (string, error) {
	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" || sub == AnonymousOwner {
		return "", errMissingSubject
	}
	return sub, nil
}

// RequireOwner rejects anonymous requests.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if OwnerFrom(r.Context()) == AnonymousOwner {
			writeError(w, http.StatusUnauthorized, "missing authorization")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func CredentialFrom(ctx context.Context) string {
	v, _ := ctx.Value(credentialKey).(string)
	return v
}

func OwnerFrom(ctx context.Context) string {
	v, ok := ctx.Value(ownerKey).(string)
	if !ok || v == "" {
		return AnonymousOwner
	}
	return v
}

type ownerLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// RateLimiter throttles payment pushes per owner.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ownerLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

// NewRateLimiter allows perMinute requests per owner per minute. A
// non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{limit: rate.Inf}
	}
	return &RateLimiter{
		limiters: make(map[string]*ownerLimiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idle:     30 * time.Minute,
	}
}

func (l *RateLimiter) Allow(owner string) bool {
	if l.limit == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, v := range l.limiters {
		if now.Sub(v.last) > l.idle {
			delete(l.limiters, k)
		}
	}

	ol, ok := l.limiters[owner]
	if !ok {
		ol = &ownerLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[owner] = ol
	}
	ol.last = now
	return ol.limiter.Allow()
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(OwnerFrom(r.Context())) {
			writeError(w, http.StatusTooManyRequests, "too many payment requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
