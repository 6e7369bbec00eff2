package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/server/middleware"
	"github.com/fairstake/tickets/internal/service"
)

// AdminHandler serves operator endpoints. Every route it backs sits behind
// the API key.
type AdminHandler struct {
	p        *service.Platform
	events   domain.LedgerEventStore
	audit    domain.AuditStore
	archiver domain.Archiver
	archives domain.BlobReader
	tickCh   chan<- struct{}
	logger   *slog.Logger
}

func NewAdminHandler(p *service.Platform, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{p: p, logger: logger}
}

// WithStores attaches the persistent event log and audit trail. Either may
// be nil.
func (h *AdminHandler) WithStores(events domain.LedgerEventStore, audit domain.AuditStore) *AdminHandler {
	h.events = events
	h.audit = audit
	return h
}

const archivePrefix = "archive/"

// WithArchive attaches the cold-storage archiver and its bucket reader.
// Either may be nil.
func (h *AdminHandler) WithArchive(a domain.Archiver, r domain.BlobReader) *AdminHandler {
	h.archiver = a
	h.archives = r
	return h
}

// WithKeeperTrigger sets the channel that wakes the draw keeper.
func (h *AdminHandler) WithKeeperTrigger(ch chan<- struct{}) *AdminHandler {
	h.tickCh = ch
	return h
}

func (h *AdminHandler) unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" not configured")
}

// record writes an audit row for an operator action. Failures are logged
// and do not fail the request.
func (h *AdminHandler) record(r *http.Request, event string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	if id := middleware.RequestID(r.Context()); id != "" {
		detail["request_id"] = id
	}
	if err := h.audit.Log(r.Context(), event, detail); err != nil {
		h.logger.WarnContext(r.Context(), "audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

type usersRequest struct {
	Users []string `json:"users"`
}

func (u usersRequest) addresses() ([]domain.Address, error) {
	out := make([]domain.Address, 0, len(u.Users))
	for _, s := range u.Users {
		a, err := parseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Whitelist lists verified identities.
// GET /api/admin/whitelist
func (h *AdminHandler) Whitelist(w http.ResponseWriter, r *http.Request) {
	members, err := h.p.Identity.Members(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list whitelist", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": orEmpty(members)})
}

// WhitelistAdd verifies identities.
// POST /api/admin/whitelist
func (h *AdminHandler) WhitelistAdd(w http.ResponseWriter, r *http.Request) {
	h.whitelistUpdate(w, r, "whitelist.add", h.p.Identity.Add)
}

// WhitelistRemove revokes identities.
// DELETE /api/admin/whitelist
func (h *AdminHandler) WhitelistRemove(w http.ResponseWriter, r *http.Request) {
	h.whitelistUpdate(w, r, "whitelist.remove", h.p.Identity.Remove)
}

func (h *AdminHandler) whitelistUpdate(w http.ResponseWriter, r *http.Request, op string, apply func(ctx context.Context, users ...domain.Address) error) {
	var req usersRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	users, err := req.addresses()
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	if err := apply(r.Context(), users...); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: "+op, slog.Int("users", len(users)))
	h.record(r, "admin."+op, map[string]any{"users": users})
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(users)})
}

type faucetRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Faucet mints settlement tokens.
// POST /api/admin/faucet
func (h *AdminHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "faucet", err)
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeDomainError(w, r, h.logger, "faucet", err)
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "faucet", err)
		return
	}
	balance, err := h.p.Faucet(r.Context(), account, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "faucet", err)
		return
	}
	h.record(r, "admin.faucet", map[string]any{"account": account.Hex(), "amount": amount})
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "balance": balance})
}

// Balance returns an account's settlement token balance.
// GET /api/accounts/{addr}/balance
func (h *AdminHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(r.PathValue("addr"))
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	bal := h.p.Vault.BalanceOf(account)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": bal,
		"tokens":  bal.String(),
	})
}

type haltRequest struct {
	Reason string `json:"reason"`
}

// Halt stops every further mutation on a pool.
// POST /api/admin/events/{id}/pools/{class}/halt
func (h *AdminHandler) Halt(w http.ResponseWriter, r *http.Request) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "halt pool", err)
		return
	}
	var req haltRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "halt pool", err)
		return
	}
	if _, err := h.p.Registry.Pool(r.Context(), key); err != nil {
		writeDomainError(w, r, h.logger, "halt pool", err)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator halt"
	}
	h.p.Registry.HaltPool(r.Context(), key, req.Reason)
	h.record(r, "admin.halt", map[string]any{"pool": key.String(), "reason": req.Reason})
	view, err := h.p.Pool(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, "halt pool", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Verify rebuilds state from the journal and reports any drift.
// GET /api/admin/verify
func (h *AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	st, err := h.p.VerifyProjection(r.Context())
	switch {
	case errors.Is(err, service.ErrProjectionDrift):
		writeJSON(w, http.StatusOK, map[string]any{"consistent": false, "drift": err.Error()})
	case err != nil:
		writeDomainError(w, r, h.logger, "verify projection", err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"consistent": true,
			"events":     len(st.Events),
			"stakes":     len(st.Stakes),
			"last_seq":   h.p.Outbox.LastSeq(),
		})
	}
}

// Ledger lists journal events after a sequence number, from the persistent
// store when one is attached.
// GET /api/admin/ledger?after=&limit=
func (h *AdminHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	if h.events == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"source": "outbox",
			"events": orEmpty(h.p.Outbox.After(after, limit)),
		})
		return
	}
	events, err := h.events.List(r.Context(), after, limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": "postgres", "events": orEmpty(events)})
}

// Audit lists operational audit entries, newest first.
// GET /api/admin/audit?limit=&offset=
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		h.unavailable(w, "audit store")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	entries, err := h.audit.List(r.Context(), domain.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		writeDomainError(w, r, h.logger, "list audit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": orEmpty(entries)})
}

type archiveRequest struct {
	Before time.Time `json:"before"`
}

// Archive exports ledger events older than the cutoff to object storage.
// POST /api/admin/archive
func (h *AdminHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		h.unavailable(w, "archiver")
		return
	}
	var req archiveRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "archive ledger", err)
		return
	}
	if req.Before.IsZero() {
		req.Before = h.p.Clock.Now()
	}
	n, err := h.archiver.ArchiveLedger(r.Context(), req.Before)
	if err != nil {
		writeDomainError(w, r, h.logger, "archive ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": n, "before": req.Before})
}

// Archives lists archived objects.
// GET /api/admin/archives
func (h *AdminHandler) Archives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		h.unavailable(w, "blob store")
		return
	}
	objects, err := h.archives.List(r.Context(), archivePrefix)
	if err != nil {
		writeDomainError(w, r, h.logger, "list archives", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": orEmpty(objects)})
}

// ArchiveFile streams one archived JSONL file.
// GET /api/admin/archives/{path...}
func (h *AdminHandler) ArchiveFile(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		h.unavailable(w, "blob store")
		return
	}
	rel := r.PathValue("path")
	if rel == "" || strings.Contains(rel, "..") {
		writeDomainError(w, r, h.logger, "get archive", domain.ErrNotFound)
		return
	}
	body, err := h.archives.Get(r.Context(), archivePrefix+rel)
	if err != nil {
		writeDomainError(w, r, h.logger, "get archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("path", rel),
			slog.String("error", err.Error()),
		)
	}
}

// KeeperTick wakes the draw keeper for one extra pass.
// POST /api/admin/keeper/tick
func (h *AdminHandler) KeeperTick(w http.ResponseWriter, r *http.Request) {
	if h.tickCh == nil {
		h.unavailable(w, "keeper")
		return
	}
	select {
	case h.tickCh <- struct{}{}:
	default:
		// a tick is already pending
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": h.p.Clock.Now().Format(time.RFC3339),
	})
}
