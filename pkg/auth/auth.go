// Package auth declares the external collaborators the session layer consumes:
// token verification, rate limiting, hosted quota accounting, conversation
// memory, and the device-command relay registry. The gateway treats all of
// them as black boxes; the implementations here are the defaults used for
// local development and tests.
package auth

import (
	"context"
	"sync"

	"github.com/harun/kawan/pkg/wire"
)

// User is a verified identity.
type User struct {
	UserID string
	Phone  string
}

// TokenVerifier resolves an auth token to a user, or nil when invalid.
type TokenVerifier interface {
	Verify(token string) *User
}

// RateDecision is the outcome of a rate-limit check.
type RateDecision struct {
	Allowed   bool
	Remaining int
}

// RateLimiter gates chat requests per identity and mode.
type RateLimiter interface {
	Check(id string, mode string, registered bool) RateDecision
}

// QuotaDecision is the outcome of a hosted-quota check.
type QuotaDecision struct {
	Allowed bool
	Used    int
	Total   int
}

// QuotaChecker gates hosted-mode usage per user.
type QuotaChecker interface {
	Check(userID string) QuotaDecision
}

// MemoryStore provides long-term conversation memory. ExtractAndUpdate is a
// fire-and-forget side effect and must not block the chat turn.
type MemoryStore interface {
	Get(id string) string
	ExtractAndUpdate(ctx context.Context, id string, messages []wire.Message)
}

// StaticVerifier verifies tokens against a fixed map.
type StaticVerifier struct {
	Tokens map[string]User
}

// Verify implements TokenVerifier.
func (v *StaticVerifier) Verify(token string) *User {
	if token == "" {
		return nil
	}
	u, ok := v.Tokens[token]
	if !ok {
		return nil
	}
	return &u
}

// AllowAllLimiter permits every request.
type AllowAllLimiter struct{}

// Check implements RateLimiter.
func (AllowAllLimiter) Check(string, string, bool) RateDecision {
	return RateDecision{Allowed: true, Remaining: -1}
}

// FixedQuotaChecker allows up to TotalPerUser uses per user, counted in memory.
type FixedQuotaChecker struct {
	TotalPerUser int

	mu   sync.Mutex
	used map[string]int
}

// Check implements QuotaChecker and counts one use per call.
func (q *FixedQuotaChecker) Check(userID string) QuotaDecision {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.used == nil {
		q.used = make(map[string]int)
	}
	used := q.used[userID]
	if q.TotalPerUser > 0 && used >= q.TotalPerUser {
		return QuotaDecision{Allowed: false, Used: used, Total: q.TotalPerUser}
	}
	q.used[userID] = used + 1
	return QuotaDecision{Allowed: true, Used: used + 1, Total: q.TotalPerUser}
}

// NopMemory is a MemoryStore that remembers nothing.
type NopMemory struct{}

// Get implements MemoryStore.
func (NopMemory) Get(string) string { return "" }

// ExtractAndUpdate implements MemoryStore.
func (NopMemory) ExtractAndUpdate(context.Context, string, []wire.Message) {}
