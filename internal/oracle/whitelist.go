// Package oracle provides the identity and randomness collaborators.
package oracle

import (
	"context"
	"sort"
	"sync"

	"github.com/fairstake/tickets/internal/domain"
)

// Whitelist is a static in-memory identity oracle.
type Whitelist struct {
	mu    sync.RWMutex
	users map[domain.Address]struct{}
}

var _ domain.IdentityOracle = (*Whitelist)(nil)

// NewWhitelist seeds the list with users.
func NewWhitelist(users ...domain.Address) *Whitelist {
	w := &Whitelist{users: make(map[domain.Address]struct{}, len(users))}
	for _, u := range users {
		w.users[u] = struct{}{}
	}
	return w
}

func (w *Whitelist) IsVerified(_ context.Context, user domain.Address) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.users[user]
	return ok, nil
}

// Add verifies users.
func (w *Whitelist) Add(_ context.Context, users ...domain.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, u := range users {
		w.users[u] = struct{}{}
	}
	return nil
}

// Remove revokes users.
func (w *Whitelist) Remove(_ context.Context, users ...domain.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, u := range users {
		delete(w.users, u)
	}
	return nil
}

// Members lists verified users in address order.
func (w *Whitelist) Members(_ context.Context) ([]domain.Address, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]domain.Address, 0, len(w.users))
	for u := range w.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out, nil
}
