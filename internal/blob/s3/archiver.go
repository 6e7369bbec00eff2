package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fairstake/tickets/internal/domain"
)

// LedgerSource is the slice of the event store the archiver reads.
type LedgerSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEvent, error)
}

// Archiver exports ledger events older than a cutoff to JSONL objects. It
// never deletes from the source; pruning is a separate operator step.
type Archiver struct {
	writer domain.BlobWriter
	events LedgerSource
	audit  domain.AuditStore
	// multipartOver is the payload size above which uploads are split into
	// parts.
	multipartOver int
}

const (
	multipartThreshold = 16 << 20
	archivePartSize    = 8 << 20
)

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, events LedgerSource, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, events: events, audit: audit, multipartOver: multipartThreshold}
}

// ArchiveLedger uploads every event before the cutoff to
// archive/ledger/YYYY-MM.jsonl and returns how many were written.
func (a *Archiver) ArchiveLedger(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger marshal: %w", err)
	}
	path := archivePath("ledger", before)
	if len(buf) > a.multipartOver {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archivePartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger upload: %w", err)
	}

	count := int64(len(events))
	if a.audit != nil {
		err := a.audit.Log(ctx, "archive.ledger", map[string]any{
			"path":      path,
			"count":     count,
			"first_seq": events[0].Seq,
			"last_seq":  events[len(events)-1].Seq,
			"before":    before.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return count, fmt.Errorf("s3blob: archive ledger audit: %w", err)
		}
	}
	return count, nil
}

// archivePath partitions archives by the cutoff's month:
//
//	archive/ledger/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
