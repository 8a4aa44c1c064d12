package auth

import (
	"fmt"
	"sync"
)

// RelayTarget is a connection that can receive device commands.
type RelayTarget interface {
	SendCommand(functionName string, args map[string]interface{}) error
}

// RelayRegistry tracks device-relay targets keyed by user identity, so that
// commands addressed to a user can be routed to their connected device.
type RelayRegistry struct {
	mu      sync.RWMutex
	targets map[string]RelayTarget
}

// NewRelayRegistry creates an empty relay registry.
func NewRelayRegistry() *RelayRegistry {
	return &RelayRegistry{targets: make(map[string]RelayTarget)}
}

// Register binds a relay target to a user. A later registration for the same
// user replaces the earlier one.
func (r *RelayRegistry) Register(user User, target RelayTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[user.UserID] = target
	if user.Phone != "" {
		r.targets[user.Phone] = target
	}
}

// Unregister removes a user's relay target, but only if it is still the given
// target. A newer registration from another connection is left in place.
func (r *RelayRegistry) Unregister(user User, target RelayTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.targets[user.UserID] == target {
		delete(r.targets, user.UserID)
	}
	if user.Phone != "" && r.targets[user.Phone] == target {
		delete(r.targets, user.Phone)
	}
}

// Lookup finds the relay target for a user id or phone handle.
func (r *RelayRegistry) Lookup(identity string) (RelayTarget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, ok := r.targets[identity]
	if !ok {
		return nil, fmt.Errorf("no relay target registered for %q", identity)
	}
	return target, nil
}
