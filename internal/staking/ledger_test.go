package staking

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/journal"
	"github.com/fairstake/tickets/internal/lock"
	"github.com/fairstake/tickets/internal/lottery"
	"github.com/fairstake/tickets/internal/oracle"
	"github.com/fairstake/tickets/internal/rebate"
	"github.com/fairstake/tickets/internal/registry"
	"github.com/fairstake/tickets/internal/store/memory"
	"github.com/fairstake/tickets/internal/ticket"
	"github.com/fairstake/tickets/internal/vault"
)

var (
	ledgerAddr = common.HexToAddress("0x000000000000000000000000000000000001ed01")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000e0001")
	adminAddr  = common.HexToAddress("0x00000000000000000000000000000000000ad001")
	treasury   = common.HexToAddress("0x0000000000000000000000000000000000007777")
	organizer  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	t0         = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
)

type harness struct {
	ledger   *Ledger
	engine   *lottery.Engine
	issuer   *ticket.Issuer
	reg      *registry.Registry
	vault    *vault.Vault
	identity *oracle.Whitelist
	clock    *domain.ManualClock
	outbox   *journal.Outbox
	event    domain.Event
	key      domain.PoolKey
	users    []domain.Address
}

func user(i int) domain.Address { return common.BigToAddress(big.NewInt(int64(0x1000 + i))) }

// newHarness builds an event with one pool whose registration is open and
// funds n verified users with exactly one stake each.
func newHarness(t *testing.T, quantity uint32, n int) *harness {
	t.Helper()
	return newHarnessAlpha(t, quantity, n, 3000)
}

func newHarnessAlpha(t *testing.T, quantity uint32, n int, alphaBps uint16) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := domain.NewManualClock(t0)
	out := journal.NewOutbox(0, clock)
	reg := registry.New(adminAddr, clock, out, logger)
	book := memory.NewStakeBook()
	v := vault.New(logger)
	ids := oracle.NewWhitelist()
	locks := lock.NewKeyed()
	issuer := ticket.New(ticket.Config{Minters: []domain.Address{ledgerAddr, adminAddr}}, book, reg, clock, out, logger)

	l := New(Config{Address: ledgerAddr, Engine: engineAddr, Treasury: treasury}, Deps{
		Events:   reg,
		Stakes:   book,
		Vault:    v,
		Identity: ids,
		Rebates:  rebate.New(v, out, logger),
		Minter:   issuer,
		Locks:    locks,
		Clock:    clock,
		Journal:  out,
	}, logger)
	eng := lottery.New(lottery.Config{Address: engineAddr, Admin: adminAddr}, lottery.Deps{
		Events:   reg,
		Stakes:   book,
		Recorder: l,
		Oracle:   oracle.NewDeterministic(common.HexToHash("0xfa17"), 0, false),
		Vault:    v,
		Locks:    locks,
		Clock:    clock,
		Journal:  out,
	}, logger)

	ev, err := reg.CreateEvent(ctx, organizer, registry.EventParams{
		Name:              "Example",
		MetadataURI:       "ipfs://event",
		RegistrationStart: t0.Add(time.Minute),
		RegistrationEnd:   t0.Add(time.Hour),
		RevealDeadline:    t0.Add(2 * time.Hour),
		PlatformFeeBps:    250,
		RebateAlphaBps:    alphaBps,
	})
	require.NoError(t, err)
	_, err = reg.ConfigurePool(ctx, organizer, ev.ID, domain.PoolA, domain.Tokens(500), quantity)
	require.NoError(t, err)
	clock.Set(ev.RegistrationStart)
	_, err = reg.OpenRegistration(ctx, organizer, ev.ID)
	require.NoError(t, err)

	h := &harness{
		ledger: l, engine: eng, issuer: issuer, reg: reg, vault: v, identity: ids,
		clock: clock, outbox: out, event: ev,
		key: domain.PoolKey{EventID: ev.ID, Class: domain.PoolA},
	}
	for i := 0; i < n; i++ {
		u := user(i)
		require.NoError(t, ids.Add(ctx, u))
		require.NoError(t, v.Mint(u, 512_500000))
		h.users = append(h.users, u)
	}
	return h
}

func (h *harness) stakeAll(t *testing.T) []domain.Stake {
	t.Helper()
	var out []domain.Stake
	for _, u := range h.users {
		s, err := h.ledger.EnterPool(context.Background(), u, h.key.EventID, h.key.Class)
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

func (h *harness) draw(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	h.clock.Set(h.event.RegistrationEnd)
	_, err := h.reg.CloseRegistration(ctx, h.key.EventID)
	require.NoError(t, err)
	_, err = h.engine.RequestDraw(ctx, h.key)
	require.NoError(t, err)
	_, err = h.engine.RevealAndSelectWinners(ctx, h.key)
	require.NoError(t, err)
	_, err = h.engine.CompleteEventDraw(ctx, h.key.EventID)
	require.NoError(t, err)
}

func (h *harness) split(t *testing.T) (winners, losers []domain.Stake) {
	t.Helper()
	stakes, err := h.ledger.PoolStakes(context.Background(), h.key)
	require.NoError(t, err)
	for _, s := range stakes {
		switch s.Outcome {
		case domain.OutcomeWinner:
			winners = append(winners, s)
		case domain.OutcomeLoser:
			losers = append(losers, s)
		}
	}
	return winners, losers
}

func TestExampleScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, 3)
	supply := h.vault.Supply()

	stakes := h.stakeAll(t)
	for _, s := range stakes {
		assert.Equal(t, domain.Amount(512_500000), s.StakeAmount)
		assert.Zero(t, h.vault.BalanceOf(s.User))
	}
	escrow := vault.EscrowAccount(h.key)
	assert.Equal(t, domain.Amount(3*512_500000), h.vault.BalanceOf(escrow))

	h.draw(t)
	winners, losers := h.split(t)
	require.Len(t, winners, 2)
	require.Len(t, losers, 1)

	payout, err := h.ledger.ClaimRefund(ctx, losers[0].User, losers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(512_500000), payout.Refund)
	assert.Equal(t, domain.Amount(11_250000), payout.Rebate)
	assert.Equal(t, domain.Amount(523_750000), h.vault.BalanceOf(losers[0].User))

	for _, w := range winners {
		tk, err := h.ledger.ClaimTicket(ctx, w.User, w.ID)
		require.NoError(t, err)
		assert.Equal(t, w.User, tk.Owner)
		assert.Equal(t, "ipfs://event", tk.MetadataURI)
	}
	assert.Equal(t, uint32(2), h.issuer.Minted(h.key))
	assert.Equal(t, domain.Tokens(1000), h.vault.BalanceOf(organizer))

	_, err = h.ledger.SweepRemainder(ctx, h.key)
	require.ErrorIs(t, err, domain.ErrTooEarly)
	h.clock.Set(h.event.RevealDeadline)
	swept, err := h.ledger.SweepRemainder(ctx, h.key)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(13_750000), swept)
	again, err := h.ledger.SweepRemainder(ctx, h.key)
	require.NoError(t, err)
	assert.Zero(t, again)

	assert.Zero(t, h.vault.BalanceOf(escrow))
	assert.Equal(t, supply, h.vault.Supply())
}

func TestExampleScenarioAtFullAlphaIsCapped(t *testing.T) {
	ctx := context.Background()
	h := newHarnessAlpha(t, 2, 3, 10_000)
	supply := h.vault.Supply()
	h.stakeAll(t)
	h.draw(t)
	winners, losers := h.split(t)
	require.Len(t, winners, 2)
	require.Len(t, losers, 1)

	// 37.5 of fees at 100% exceeds the 25 the two winners' fees leave in
	// escrow once the loser's own fee is refunded.
	payout, err := h.ledger.ClaimRefund(ctx, losers[0].User, losers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(512_500000), payout.Refund)
	assert.Equal(t, domain.Amount(25_000000), payout.Rebate)

	acct := h.ledger.Rebate(h.key)
	assert.True(t, acct.Capped)
	assert.Equal(t, domain.Amount(37_500000), acct.Distributable)
	assert.Equal(t, domain.Amount(25_000000), acct.Budget)
	assert.Equal(t, domain.Amount(25_000000), acct.PerLoser)

	for _, w := range winners {
		_, err := h.ledger.ClaimTicket(ctx, w.User, w.ID)
		require.NoError(t, err)
	}
	h.clock.Set(h.event.RevealDeadline)
	swept, err := h.ledger.SweepRemainder(ctx, h.key)
	require.NoError(t, err)
	assert.Zero(t, swept)
	assert.Zero(t, h.vault.BalanceOf(vault.EscrowAccount(h.key)))
	assert.Equal(t, supply, h.vault.Supply())
}

func TestEnterPoolExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, 1)
	u := h.users[0]
	require.NoError(t, h.vault.Mint(u, 10*512_500000))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, dup int
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.EnterPool(ctx, u, h.key.EventID, h.key.Class)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, domain.ErrAlreadyStaked):
				dup++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 15, dup)
	assert.Equal(t, domain.Amount(10*512_500000), h.vault.BalanceOf(u), "only one stake escrowed")
}

func TestEnterPoolPreconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, 2)

	stranger := user(99)
	require.NoError(t, h.vault.Mint(stranger, domain.Tokens(1000)))
	_, err := h.ledger.EnterPool(ctx, stranger, h.key.EventID, h.key.Class)
	require.ErrorIs(t, err, domain.ErrNotVerified)

	poor := h.users[1]
	require.NoError(t, h.vault.Transfer(ctx, poor, treasury, 1))
	_, err = h.ledger.EnterPool(ctx, poor, h.key.EventID, h.key.Class)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, err = h.ledger.IsWinner(ctx, poor, h.key)
	require.ErrorIs(t, err, domain.ErrNotFound, "failed transfer leaves no stake")

	_, err = h.ledger.EnterPool(ctx, h.users[0], h.key.EventID, domain.PoolB)
	require.ErrorIs(t, err, domain.ErrNotFound)

	h.clock.Set(h.event.RegistrationEnd)
	_, err = h.ledger.EnterPool(ctx, h.users[0], h.key.EventID, h.key.Class)
	require.ErrorIs(t, err, domain.ErrTooLate)
}

func TestWithdrawStake(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 2)
	stakes := h.stakeAll(t)

	_, err := h.ledger.WithdrawStake(ctx, h.users[1], stakes[0].ID)
	require.ErrorIs(t, err, domain.ErrNotOwner)

	s, err := h.ledger.WithdrawStake(ctx, h.users[0], stakes[0].ID)
	require.NoError(t, err)
	assert.True(t, s.Withdrawn)
	assert.Equal(t, domain.Amount(512_500000), h.vault.BalanceOf(h.users[0]))
	assert.Equal(t, domain.Amount(12_500000), h.ledger.Rebate(h.key).SurplusCollected)

	_, err = h.ledger.WithdrawStake(ctx, h.users[0], stakes[0].ID)
	require.ErrorIs(t, err, domain.ErrWithdrawn)
	_, err = h.ledger.EnterPool(ctx, h.users[0], h.key.EventID, h.key.Class)
	require.ErrorIs(t, err, domain.ErrAlreadyStaked)
	assert.Equal(t, domain.Amount(512_500000), h.vault.BalanceOf(h.users[0]))

	h.draw(t)
	winners, losers := h.split(t)
	require.Len(t, winners, 1)
	assert.Empty(t, losers)
	assert.Equal(t, stakes[1].ID, winners[0].ID, "withdrawn stake is not a candidate")
}

func TestClaimsAreExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 3)
	h.stakeAll(t)
	h.draw(t)
	winners, losers := h.split(t)
	require.Len(t, winners, 1)
	require.Len(t, losers, 2)

	w, lo := winners[0], losers[0]

	_, err := h.ledger.ClaimRefund(ctx, w.User, w.ID)
	require.ErrorIs(t, err, domain.ErrNotLoser)
	_, err = h.ledger.ClaimTicket(ctx, lo.User, lo.ID)
	require.ErrorIs(t, err, domain.ErrNotWinner)
	_, err = h.ledger.ClaimRefund(ctx, w.User, lo.ID)
	require.ErrorIs(t, err, domain.ErrNotOwner)

	first, err := h.ledger.ClaimRefund(ctx, lo.User, lo.ID)
	require.NoError(t, err)
	balance := h.vault.BalanceOf(lo.User)
	_, err = h.ledger.ClaimRefund(ctx, lo.User, lo.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, balance, h.vault.BalanceOf(lo.User), "no double payment")
	assert.Equal(t, first.Total(), balance)

	_, err = h.ledger.ClaimTicket(ctx, w.User, w.ID)
	require.NoError(t, err)
	_, err = h.ledger.ClaimTicket(ctx, w.User, w.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, uint32(1), h.issuer.Minted(h.key))

	_, err = h.issuer.Mint(ctx, adminAddr, w.User, w.EventID, w.Class, "x")
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed, "unique index holds for admin mints too")
}

func TestConcurrentRefundsShareOneRebate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5, 40)
	h.stakeAll(t)
	h.draw(t)
	_, losers := h.split(t)
	require.Len(t, losers, 35)

	var wg sync.WaitGroup
	rebates := make([]domain.Amount, len(losers))
	for i, s := range losers {
		wg.Add(1)
		go func(i int, s domain.Stake) {
			defer wg.Done()
			p, err := h.ledger.ClaimRefund(ctx, s.User, s.ID)
			if assert.NoError(t, err) {
				rebates[i] = p.Rebate
			}
		}(i, s)
	}
	wg.Wait()

	acct := h.ledger.Rebate(h.key)
	assert.True(t, acct.Fixed)
	assert.Equal(t, uint32(35), acct.Claims)
	for _, r := range rebates {
		assert.Equal(t, acct.PerLoser, r)
	}
	// 40 fees of 12.5 at 30% is 150, capped by the five winners' fees.
	assert.True(t, acct.Capped)
	assert.Equal(t, domain.Amount(62_500000), acct.Budget)
	assert.Equal(t, domain.Amount(62_500000/35), acct.PerLoser)
	assert.LessOrEqual(t, acct.Paid, acct.Budget)
}

func TestMarkWinnersGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 3)
	stakes := h.stakeAll(t)
	h.clock.Set(h.event.RegistrationEnd)
	_, err := h.reg.CloseRegistration(ctx, h.key.EventID)
	require.NoError(t, err)

	err = h.ledger.MarkWinners(ctx, adminAddr, h.key, []domain.StakeID{stakes[0].ID})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = h.ledger.MarkWinners(ctx, engineAddr, h.key, []domain.StakeID{stakes[0].ID, stakes[1].ID})
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.ErrorIs(t, h.reg.EnsureActive(h.key), domain.ErrPoolHalted)

	_, err = h.ledger.ClaimRefund(ctx, stakes[2].User, stakes[2].ID)
	require.ErrorIs(t, err, domain.ErrPoolHalted)
}

func TestMarkWinnersOnlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 2)
	stakes := h.stakeAll(t)
	h.clock.Set(h.event.RegistrationEnd)
	_, err := h.reg.CloseRegistration(ctx, h.key.EventID)
	require.NoError(t, err)

	require.NoError(t, h.ledger.MarkWinners(ctx, engineAddr, h.key, []domain.StakeID{stakes[1].ID}))
	err = h.ledger.MarkWinners(ctx, engineAddr, h.key, []domain.StakeID{stakes[0].ID})
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	won, err := h.ledger.IsWinner(ctx, stakes[1].User, h.key)
	require.NoError(t, err)
	assert.True(t, won)
	require.NoError(t, h.reg.EnsureActive(h.key))
}

func TestFundedRebateRaisesBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 3)
	h.stakeAll(t)
	sponsor := user(500)
	require.NoError(t, h.vault.Mint(sponsor, domain.Tokens(100)))
	_, err := h.ledger.FundRebate(ctx, sponsor, h.key, domain.Tokens(100))
	require.NoError(t, err)
	h.draw(t)

	_, losers := h.split(t)
	p, err := h.ledger.ClaimRefund(ctx, losers[0].User, losers[0].ID)
	require.NoError(t, err)
	// (37.5 fees + 100 funding) * 30% / 2 losers.
	assert.Equal(t, domain.Amount(20_625000), p.Rebate)
	assert.False(t, h.ledger.Rebate(h.key).Capped)

	_, err = h.ledger.FundRebate(ctx, sponsor, h.key, 1)
	require.Error(t, err)
}

// organizerBlocked rejects every transfer to one account.
type organizerBlocked struct {
	domain.Vault
	to domain.Address
}

func (v organizerBlocked) Transfer(ctx context.Context, from, to domain.Address, amount domain.Amount) error {
	if to == v.to {
		return domain.ErrInsufficientFunds
	}
	return v.Vault.Transfer(ctx, from, to, amount)
}

func TestClaimTicketJournalsClaimWhenReleaseFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 2)
	h.stakeAll(t)
	h.draw(t)
	winners, _ := h.split(t)
	require.Len(t, winners, 1)
	w := winners[0]

	h.ledger.vault = organizerBlocked{Vault: h.vault, to: organizer}
	_, err := h.ledger.ClaimTicket(ctx, w.User, w.ID)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.ErrorIs(t, h.reg.EnsureActive(h.key), domain.ErrPoolHalted)

	var kinds []domain.LedgerEventKind
	var claim domain.LedgerEvent
	for _, ev := range h.outbox.Events() {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == domain.KindTicketClaimed {
			claim = ev
		}
	}
	assert.Contains(t, kinds, domain.KindTicketMinted)
	require.Equal(t, domain.KindTicketClaimed, claim.Kind)
	assert.Equal(t, w.ID, claim.StakeID)
	assert.True(t, claim.Stake.Claimed)
	assert.Zero(t, claim.Amount)
	assert.Zero(t, h.vault.BalanceOf(organizer))

	s, err := h.ledger.Stake(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, s.Claimed)
}
