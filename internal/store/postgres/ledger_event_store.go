package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairstake/tickets/internal/domain"
)

// LedgerEventStore implements domain.LedgerEventStore. The payload column is
// authoritative; the other columns exist for indexing and ad-hoc queries.
type LedgerEventStore struct {
	pool *pgxpool.Pool
}

// NewLedgerEventStore creates a store backed by pool.
func NewLedgerEventStore(pool *pgxpool.Pool) *LedgerEventStore {
	return &LedgerEventStore{pool: pool}
}

// AppendBatch inserts events in one round trip. Rows whose seq already exists
// are skipped, so a retried batch is harmless.
func (s *LedgerEventStore) AppendBatch(ctx context.Context, events []domain.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}

	const query = `
		INSERT INTO ledger_events (
			seq, kind, event_id, pool_class, stake_id, token_id,
			user_addr, amount, note, at, payload
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8::text::numeric, $9, $10, $11
		) ON CONFLICT (seq) DO NOTHING`

	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("postgres: marshal ledger event %d: %w", ev.Seq, err)
		}
		batch.Queue(query,
			int64(ev.Seq), string(ev.Kind), int64(ev.EventID), int16(ev.Class),
			int64(ev.StakeID), int64(ev.TokenID),
			ev.User.Hex(), strconv.FormatUint(uint64(ev.Amount), 10), ev.Note, ev.At, payload,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, ev := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert ledger event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

// LastSeq returns the highest stored sequence number, or 0 when empty.
func (s *LedgerEventStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`).Scan(&seq)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: last ledger seq: %w", err)
	}
	return uint64(seq), nil
}

// List returns up to limit events with seq greater than afterSeq, in order.
func (s *LedgerEventStore) List(ctx context.Context, afterSeq uint64, limit int) ([]domain.LedgerEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM ledger_events WHERE seq > $1 ORDER BY seq LIMIT $2`,
		int64(afterSeq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger events: %w", err)
	}
	return scanPayloads(rows)
}

// ListBefore returns every event recorded strictly before the cutoff.
func (s *LedgerEventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM ledger_events WHERE at < $1 ORDER BY seq`, before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger events before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanPayloads(rows)
}

func scanPayloads(rows pgx.Rows) ([]domain.LedgerEvent, error) {
	defer rows.Close()

	var events []domain.LedgerEvent
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger event: %w", err)
		}
		var ev domain.LedgerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode ledger event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ledger event rows: %w", err)
	}
	return events, nil
}
