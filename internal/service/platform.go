// Package service assembles the FairStake components into one platform and
// runs the keeper that drives draws forward.
package service

import (
	"context"
	"fmt"
	"log/slog"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/journal"
	"github.com/fairstake/tickets/internal/lock"
	"github.com/fairstake/tickets/internal/lottery"
	"github.com/fairstake/tickets/internal/rebate"
	"github.com/fairstake/tickets/internal/registry"
	"github.com/fairstake/tickets/internal/staking"
	"github.com/fairstake/tickets/internal/store/memory"
	"github.com/fairstake/tickets/internal/ticket"
	"github.com/fairstake/tickets/internal/vault"
)

// System identities the components use to authorise each other.
var (
	LedgerAddress = systemAddress("fairstake.ledger")
	EngineAddress = systemAddress("fairstake.engine")
)

func systemAddress(name string) domain.Address {
	return domain.Address(ethcrypto.Keccak256Hash([]byte(name)).Bytes()[12:])
}

// IdentityRegistry is an identity oracle whose membership operators manage.
type IdentityRegistry interface {
	domain.IdentityOracle
	Add(ctx context.Context, users ...domain.Address) error
	Remove(ctx context.Context, users ...domain.Address) error
	Members(ctx context.Context) ([]domain.Address, error)
}

// Config holds the platform's configured accounts.
type Config struct {
	Admin    domain.Address
	Treasury domain.Address
	// FeePayer funds oracle requests; defaults to Treasury.
	FeePayer      domain.Address
	OracleAccount domain.Address
	// Resale is the only account allowed to move tickets. Zero disables it.
	Resale domain.Address
}

// Deps are the pluggable collaborators. Locks, Clock and Outbox default to
// in-process implementations.
type Deps struct {
	Identity   IdentityRegistry
	Randomness domain.RandomnessOracle
	URIs       domain.TicketURIProvider
	Locks      domain.LockManager
	Clock      domain.Clock
	Outbox     *journal.Outbox
}

// Platform owns one instance of every core component.
type Platform struct {
	Config   Config
	Registry *registry.Registry
	Ledger   *staking.Ledger
	Engine   *lottery.Engine
	Issuer   *ticket.Issuer
	Rebates  *rebate.Pool
	Vault    *vault.Vault
	Stakes   *memory.StakeBook
	Identity IdentityRegistry
	Outbox   *journal.Outbox
	Clock    domain.Clock

	logger *slog.Logger
}

// NewPlatform wires the components together.
func NewPlatform(cfg Config, deps Deps, logger *slog.Logger) *Platform {
	if cfg.FeePayer == (domain.Address{}) {
		cfg.FeePayer = cfg.Treasury
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Locks == nil {
		deps.Locks = lock.NewKeyed()
	}
	if deps.Outbox == nil {
		deps.Outbox = journal.NewOutbox(0, deps.Clock)
	}

	out := deps.Outbox
	reg := registry.New(cfg.Admin, deps.Clock, out, logger)
	book := memory.NewStakeBook()
	v := vault.New(logger)
	rebates := rebate.New(v, out, logger)
	issuer := ticket.New(ticket.Config{
		Minters: []domain.Address{LedgerAddress, cfg.Admin},
		Resale:  cfg.Resale,
	}, book, reg, deps.Clock, out, logger)

	ledger := staking.New(staking.Config{
		Address:  LedgerAddress,
		Engine:   EngineAddress,
		Treasury: cfg.Treasury,
	}, staking.Deps{
		Events:   reg,
		Stakes:   book,
		Vault:    v,
		Identity: deps.Identity,
		Rebates:  rebates,
		Minter:   issuer,
		URIs:     deps.URIs,
		Locks:    deps.Locks,
		Clock:    deps.Clock,
		Journal:  out,
	}, logger)

	engine := lottery.New(lottery.Config{
		Address:       EngineAddress,
		Admin:         cfg.Admin,
		FeePayer:      cfg.FeePayer,
		OracleAccount: cfg.OracleAccount,
	}, lottery.Deps{
		Events:   reg,
		Stakes:   book,
		Recorder: ledger,
		Oracle:   deps.Randomness,
		Vault:    v,
		Locks:    deps.Locks,
		Clock:    deps.Clock,
		Journal:  out,
	}, logger)

	return &Platform{
		Config:   cfg,
		Registry: reg,
		Ledger:   ledger,
		Engine:   engine,
		Issuer:   issuer,
		Rebates:  rebates,
		Vault:    v,
		Stakes:   book,
		Identity: deps.Identity,
		Outbox:   out,
		Clock:    deps.Clock,
		logger:   logger.With(slog.String("component", "platform")),
	}
}

// Faucet mints settlement tokens to account. It is an operator tool for
// test networks and demos.
func (p *Platform) Faucet(ctx context.Context, account domain.Address, amount domain.Amount) (domain.Amount, error) {
	if amount == 0 {
		return 0, fmt.Errorf("service: faucet: %w", domain.ErrInvalidAmount)
	}
	if err := p.Vault.Mint(account, amount); err != nil {
		return 0, err
	}
	p.logger.InfoContext(ctx, "faucet mint",
		slog.String("account", account.Hex()),
		slog.String("amount", amount.String()),
	)
	return p.Vault.BalanceOf(account), nil
}

// PoolView summarises one pool for API clients.
type PoolView struct {
	Pool         domain.Pool          `json:"pool"`
	ActiveStakes int                  `json:"active_stakes"`
	DrawStatus   domain.DrawStatus    `json:"draw_status"`
	Minted       uint32               `json:"minted"`
	Rebate       domain.RebateAccount `json:"rebate"`
	Escrow       domain.Amount        `json:"escrow"`
}

// EventView is an event with its pools.
type EventView struct {
	Event domain.Event `json:"event"`
	Pools []PoolView   `json:"pools"`
}

// Pool returns the live view of one pool.
func (p *Platform) Pool(ctx context.Context, key domain.PoolKey) (PoolView, error) {
	pool, err := p.Registry.Pool(ctx, key)
	if err != nil {
		return PoolView{}, err
	}
	stakes, err := p.Stakes.ByPool(ctx, key)
	if err != nil {
		return PoolView{}, err
	}
	active := 0
	for _, s := range stakes {
		if s.Active() {
			active++
		}
	}
	return PoolView{
		Pool:         pool,
		ActiveStakes: active,
		DrawStatus:   p.Engine.DrawStatus(key),
		Minted:       p.Issuer.Minted(key),
		Rebate:       p.Ledger.Rebate(key),
		Escrow:       p.Vault.BalanceOf(vault.EscrowAccount(key)),
	}, nil
}

// Event returns an event with the live view of each pool.
func (p *Platform) Event(ctx context.Context, id domain.EventID) (EventView, error) {
	ev, err := p.Registry.Event(ctx, id)
	if err != nil {
		return EventView{}, err
	}
	pools, err := p.Registry.Pools(ctx, id)
	if err != nil {
		return EventView{}, err
	}
	view := EventView{Event: ev, Pools: make([]PoolView, 0, len(pools))}
	for _, pool := range pools {
		pv, err := p.Pool(ctx, pool.Key())
		if err != nil {
			return EventView{}, err
		}
		view.Pools = append(view.Pools, pv)
	}
	return view, nil
}
