package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fairstake/tickets/internal/domain"
)

// Whitelist is an identity oracle backed by a Redis set of checksummed
// addresses, shared by every replica.
type Whitelist struct {
	client *Client
	key    string
}

var _ domain.IdentityOracle = (*Whitelist)(nil)

// NewWhitelist uses the set "<prefix>identity:verified".
func NewWhitelist(c *Client) *Whitelist {
	return &Whitelist{client: c, key: c.Key("identity", "verified")}
}

func (w *Whitelist) IsVerified(ctx context.Context, user domain.Address) (bool, error) {
	ok, err := w.client.rdb.SIsMember(ctx, w.key, user.Hex()).Result()
	if err != nil {
		return false, fmt.Errorf("redis: whitelist lookup %s: %w", user.Hex(), domain.ErrOracleUnavailable)
	}
	return ok, nil
}

func (w *Whitelist) Add(ctx context.Context, users ...domain.Address) error {
	if len(users) == 0 {
		return nil
	}
	if err := w.client.rdb.SAdd(ctx, w.key, members(users)...).Err(); err != nil {
		return fmt.Errorf("redis: whitelist add: %w", err)
	}
	return nil
}

func (w *Whitelist) Remove(ctx context.Context, users ...domain.Address) error {
	if len(users) == 0 {
		return nil
	}
	if err := w.client.rdb.SRem(ctx, w.key, members(users)...).Err(); err != nil {
		return fmt.Errorf("redis: whitelist remove: %w", err)
	}
	return nil
}

// Members lists verified users in address order.
func (w *Whitelist) Members(ctx context.Context) ([]domain.Address, error) {
	raw, err := w.client.rdb.SMembers(ctx, w.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: whitelist members: %w", err)
	}
	out := make([]domain.Address, 0, len(raw))
	for _, s := range raw {
		if common.IsHexAddress(s) {
			out = append(out, common.HexToAddress(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out, nil
}

func members(users []domain.Address) []any {
	out := make([]any, len(users))
	for i, u := range users {
		out[i] = u.Hex()
	}
	return out
}
