package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/domain"
)

type captureSender struct {
	titles []string
	err    error
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.titles = append(c.titles, title)
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestConsumeFiltersKinds(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier([]Sender{s}, nil, quietLogger())

	events := []domain.LedgerEvent{
		{Seq: 1, Kind: domain.KindStaked, EventID: 1},
		{Seq: 2, Kind: domain.KindDrawRevealed, EventID: 1, Class: domain.PoolB,
			Draw: &domain.DrawRequest{CandidateCount: 10, Winners: []domain.StakeID{1, 2}}},
		{Seq: 3, Kind: domain.KindPoolHalted, EventID: 2, Note: "conservation"},
	}
	require.NoError(t, n.Consume(context.Background(), events))
	assert.Equal(t, []string{"Draw revealed 1:B", "Pool halted 2:A"}, s.titles)
}

func TestConsumeIsBestEffort(t *testing.T) {
	bad := &captureSender{err: errors.New("down")}
	good := &captureSender{}
	n := NewNotifier([]Sender{bad, good}, []string{"RemainderSwept"}, quietLogger())

	err := n.Consume(context.Background(), []domain.LedgerEvent{{Kind: domain.KindRemainderSwept, Amount: domain.Tokens(3)}})
	require.NoError(t, err)
	assert.Len(t, bad.titles, 1)
	assert.Len(t, good.titles, 1)
	assert.False(t, n.Wants(domain.KindDrawRevealed))
}

func TestFormatDraw(t *testing.T) {
	title, body := Format(domain.LedgerEvent{
		Kind: domain.KindDrawRevealed, EventID: 3,
		Draw: &domain.DrawRequest{Trivial: true, CandidateCount: 2, Winners: []domain.StakeID{4, 5}},
	})
	assert.Equal(t, "Draw revealed 3:A", title)
	assert.Contains(t, body, "2 winner(s) from 2 candidate(s)")
	assert.Contains(t, body, "all candidates win")
}

func TestSendersPostJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, d.Send(context.Background(), "T", "body"))
	assert.Equal(t, "**T**\nbody", got["content"])

	tg := NewTelegramSender("tok", "chat")
	tg.baseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), "T", "body"))
	assert.Equal(t, "chat", got["chat_id"])

	err := NewDiscordSender(srv.URL + "/fail").Send(context.Background(), "T", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
