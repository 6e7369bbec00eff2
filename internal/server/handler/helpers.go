// Package handler serves the FairStake HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fairstake/tickets/internal/domain"
)

// WalletHeader carries the caller's address.
const WalletHeader = "X-Wallet-Address"

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorBody struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// StatusFor maps an error to its HTTP status by category.
func StatusFor(err error) int {
	if errors.Is(err, domain.ErrNotFound) {
		return http.StatusNotFound
	}
	switch domain.Category(err) {
	case domain.CategoryValidation:
		return http.StatusBadRequest
	case domain.CategoryPrecondition:
		return http.StatusConflict
	case domain.CategoryAuthorization:
		return http.StatusForbidden
	case domain.CategoryOracle:
		return http.StatusTooEarly
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError reports err with its category. Unknown and invariant
// failures are logged and hidden from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := StatusFor(err)
	cat := domain.Category(err)
	body := errorBody{Error: err.Error(), Category: cat.String()}
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("category", cat.String()),
			slog.String("error", err.Error()),
		)
		body.Error = op + " failed"
	}
	writeJSON(w, status, body)
}

// caller reads the wallet header.
func caller(r *http.Request) (domain.Address, error) {
	raw := strings.TrimSpace(r.Header.Get(WalletHeader))
	if raw == "" {
		return domain.Address{}, fmt.Errorf("missing %s header: %w", WalletHeader, domain.ErrUnauthorized)
	}
	return parseAddress(raw)
}

func parseAddress(s string) (domain.Address, error) {
	if !common.IsHexAddress(s) {
		return domain.Address{}, fmt.Errorf("address %q: %w", s, domain.ErrInvalidInput)
	}
	return common.HexToAddress(s), nil
}

func pathUint(r *http.Request, name string) (uint64, error) {
	n, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("path %s %q: %w", name, r.PathValue(name), domain.ErrNotFound)
	}
	return n, nil
}

func eventID(r *http.Request) (domain.EventID, error) {
	n, err := pathUint(r, "id")
	return domain.EventID(n), err
}

func stakeID(r *http.Request) (domain.StakeID, error) {
	n, err := pathUint(r, "id")
	return domain.StakeID(n), err
}

func poolKey(r *http.Request) (domain.PoolKey, error) {
	id, err := eventID(r)
	if err != nil {
		return domain.PoolKey{}, err
	}
	class, err := domain.ParsePoolClass(r.PathValue("class"))
	if err != nil {
		return domain.PoolKey{}, err
	}
	return domain.PoolKey{EventID: id, Class: class}, nil
}

// errBadBody marks an undecodable request body.
var errBadBody = fmt.Errorf("malformed request body: %w", domain.ErrInvalidInput)

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}
