package handler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Roles carried in access tokens.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

const tokenIssuer = "mutuelle-ledger"

// ============================================================
// Bearer tokens
// ============================================================

// Claims are the custom claims in access tokens. Subject is the member id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 access tokens. Tokens are issued by the
// membership front office; Sign exists for tooling and tests.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Validate parses and verifies a token string.
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Subject == "" || (claims.Role != RoleAdmin && claims.Role != RoleMember) {
		return nil, &domain.ErrUnauthorized{Message: "invalid token claims"}
	}
	return claims, nil
}

// Sign issues a token for subject with the given role.
func (a *Authenticator) Sign(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

type contextKey string

const claimsKey contextKey = "claims"

// JWTAuthMiddleware validates Bearer tokens and injects the claims into the
// request context.
func JWTAuthMiddleware(auth *Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := auth.Validate(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext extracts the authenticated claims from context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// RequireAdmin rejects callers whose token does not carry the admin role.
func RequireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || claims.Role != RoleAdmin {
				handleServiceError(w, &domain.ErrForbidden{Action: r.Method + " " + r.URL.Path}, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSelfOrAdmin lets members act only on the account named by the
// {memberId} route parameter. Admins act on any account.
func RequireSelfOrAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				handleServiceError(w, &domain.ErrUnauthorized{}, logger)
				return
			}
			if claims.Role != RoleAdmin && claims.Subject != chi.URLParam(r, "memberId") {
				handleServiceError(w, &domain.ErrForbidden{Action: "act on another member's account"}, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================
// Rate limiting
// ============================================================

// RateLimiter keeps one token bucket per client address. A background
// sweeper forgets idle clients until Close is called.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int
	idleTTL   time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond requests per client
// with the given burst. Clients idle for five minutes are forgotten.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		idleTTL:   5 * time.Minute,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	go rl.sweep(time.Minute)
	return rl
}

// Close stops the sweeper. The limiter keeps serving requests.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := clientID(r)
			if !rl.obtainLimiter(id).Allow() {
				logger.Warn("rate limit exceeded", zap.String("client", id), zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) obtainLimiter(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.visitors[id] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

func (rl *RateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.forgetIdle()
		}
	}
}

// forgetIdle drops clients not seen for idleTTL.
func (rl *RateLimiter) forgetIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, key)
		}
	}
}

// clientID identifies the caller by address. middleware.RealIP has already
// folded X-Real-IP / X-Forwarded-For into RemoteAddr.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
