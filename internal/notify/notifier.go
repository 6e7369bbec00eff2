// Package notify pushes operator alerts for selected ledger events (draw
// reveals, pool halts, sweeps) to Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairstake/tickets/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultKinds are alerted when no filter is configured.
var DefaultKinds = []domain.LedgerEventKind{
	domain.KindDrawRevealed,
	domain.KindPoolHalted,
}

// Notifier fans a message out to every sender, filtering ledger events by
// kind.
type Notifier struct {
	senders []Sender
	kinds   map[domain.LedgerEventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Names in kinds are ledger event kinds such
// as "DrawRevealed"; an empty list means DefaultKinds.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.LedgerEventKind]bool)
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.LedgerEventKind(k)] = true
		}
	}
	if len(allowed) == 0 {
		for _, k := range DefaultKinds {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Wants reports whether events of kind are alerted.
func (n *Notifier) Wants(kind domain.LedgerEventKind) bool { return n.kinds[kind] }

// NotifyAll sends to every sender. A failing sender does not stop the rest.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (n *Notifier) Name() string { return "notify" }

// Consume alerts on the wanted events of a batch. Delivery is best effort:
// failures are logged and the batch is acknowledged so a flaky webhook
// cannot stall the pump or cause duplicate alerts.
func (n *Notifier) Consume(ctx context.Context, events []domain.LedgerEvent) error {
	if len(n.senders) == 0 {
		return nil
	}
	for _, ev := range events {
		if !n.kinds[ev.Kind] {
			continue
		}
		title, msg := Format(ev)
		if err := n.NotifyAll(ctx, title, msg); err != nil {
			n.logger.WarnContext(ctx, "alert dropped",
				slog.Uint64("seq", ev.Seq),
				slog.String("kind", string(ev.Kind)),
			)
		}
	}
	return nil
}

// Format renders a ledger event as an alert title and body.
func Format(ev domain.LedgerEvent) (string, string) {
	key := domain.PoolKey{EventID: ev.EventID, Class: ev.Class}
	switch ev.Kind {
	case domain.KindDrawRevealed:
		if d := ev.Draw; d != nil {
			mode := "verifiable random"
			if d.Trivial {
				mode = "undersubscribed, all candidates win"
			}
			return "Draw revealed " + key.String(),
				fmt.Sprintf("%d winner(s) from %d candidate(s) (%s), seed %s", len(d.Winners), d.CandidateCount, mode, d.Seed.Hex())
		}
		return "Draw revealed " + key.String(), ev.Note
	case domain.KindPoolHalted:
		return "Pool halted " + key.String(), ev.Note
	case domain.KindRemainderSwept:
		return "Remainder swept " + key.String(), fmt.Sprintf("%s tokens to treasury", ev.Amount)
	}
	return fmt.Sprintf("%s %s", ev.Kind, key), ev.Note
}
