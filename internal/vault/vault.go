// Package vault implements the settlement-token ledger: integer balances of
// a 6-decimal stable token with all-or-nothing transfers.
package vault

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/fairstake/tickets/internal/domain"
)

// EscrowAccount is the deterministic account that holds a pool's stakes.
func EscrowAccount(key domain.PoolKey) domain.Address {
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(key.EventID))
	buf[8] = byte(key.Class)
	h := ethcrypto.Keccak256([]byte("fairstake.escrow"), buf[:])
	return domain.Address(h[12:])
}

// Vault is an in-memory token ledger. It is safe for concurrent use.
type Vault struct {
	mu       sync.RWMutex
	balances map[domain.Address]domain.Amount
	supply   domain.Amount
	logger   *slog.Logger
}

var _ domain.Vault = (*Vault)(nil)

// New creates an empty Vault.
func New(logger *slog.Logger) *Vault {
	return &Vault{
		balances: make(map[domain.Address]domain.Amount),
		logger:   logger.With(slog.String("component", "vault")),
	}
}

// Mint credits newly issued tokens to account. Used by faucets and tests.
func (v *Vault) Mint(account domain.Address, amount domain.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	supply, err := v.supply.Add(amount)
	if err != nil {
		return fmt.Errorf("vault: mint: %w", err)
	}
	bal, err := v.balances[account].Add(amount)
	if err != nil {
		return fmt.Errorf("vault: mint: %w", err)
	}
	v.supply = supply
	v.balances[account] = bal
	return nil
}

// Transfer moves amount from one account to another. Either both balances
// change or neither does.
func (v *Vault) Transfer(ctx context.Context, from, to domain.Address, amount domain.Amount) error {
	if amount == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	have := v.balances[from]
	if have < amount {
		return fmt.Errorf("vault: transfer %s from %s: have %s: %w",
			amount, from.Hex(), have, domain.ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	credited, err := v.balances[to].Add(amount)
	if err != nil {
		return fmt.Errorf("vault: transfer: %w", err)
	}
	v.balances[from] = have - amount
	v.balances[to] = credited

	v.logger.DebugContext(ctx, "transfer",
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// BalanceOf returns the balance of account.
func (v *Vault) BalanceOf(account domain.Address) domain.Amount {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[account]
}

// Supply returns the total minted amount. Transfers never change it.
func (v *Vault) Supply() domain.Amount {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.supply
}
