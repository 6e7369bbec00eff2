package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fairstake/tickets/internal/domain"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, "", Config{Mode: "test"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestTopics(t *testing.T) {
	stake := domain.Stake{ID: 3}
	tests := []struct {
		name string
		ev   domain.LedgerEvent
		want []string
	}{
		{"global", domain.LedgerEvent{Kind: domain.KindPoolHalted}, []string{"ledger"}},
		{"event", domain.LedgerEvent{EventID: 7, Event: &domain.Event{ID: 7}}, []string{"ledger", "event:7"}},
		{"pool", domain.LedgerEvent{EventID: 7, Class: domain.PoolC, Stake: &stake}, []string{"ledger", "event:7", "pool:7:C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Topics(tt.ev))
		})
	}
}

func TestHubRoutesByTopic(t *testing.T) {
	hub, url := startHub(t)

	all := dial(t, url+"?format=json")
	hello := readJSON(t, all)
	assert.Equal(t, "hello", hello["type"])

	scoped := dial(t, url+"?format=json&topics=event:2")
	readJSON(t, scoped)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	events := []domain.LedgerEvent{
		{Seq: 1, Kind: domain.KindEventCreated, EventID: 1, Event: &domain.Event{ID: 1}},
		{Seq: 2, Kind: domain.KindEventCreated, EventID: 2, Event: &domain.Event{ID: 2}},
	}
	require.NoError(t, hub.Consume(context.Background(), events))

	first := readJSON(t, all)
	assert.Equal(t, "ledger_event", first["type"])
	assert.EqualValues(t, 1, first["payload"].(map[string]any)["seq"])
	readJSON(t, all)

	got := readJSON(t, scoped)
	assert.Equal(t, "event:2", got["topic"])
	assert.EqualValues(t, 2, got["payload"].(map[string]any)["event_id"])
}

func TestHubSkipsReplayedEvents(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"?format=json")
	readJSON(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := domain.LedgerEvent{Seq: 5, Kind: domain.KindEventCreated, EventID: 1}
	require.NoError(t, hub.Consume(context.Background(), []domain.LedgerEvent{ev}))
	require.NoError(t, hub.Consume(context.Background(), []domain.LedgerEvent{ev, {Seq: 6, Kind: domain.KindRegistrationOpened, EventID: 1}}))

	assert.EqualValues(t, 5, readJSON(t, conn)["payload"].(map[string]any)["seq"])
	assert.EqualValues(t, 6, readJSON(t, conn)["payload"].(map[string]any)["seq"])
}

func TestHubBinaryFrames(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	m := st.AsMap()
	assert.Equal(t, "hello", m["type"])
	assert.Equal(t, "test", m["payload"].(map[string]any)["mode"])
}

type streamBus struct {
	entries []domain.StreamMessage
}

func (b *streamBus) Publish(context.Context, string, []byte) error { return nil }

func (b *streamBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *streamBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *streamBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := 0
	if lastID != "0" {
		for i, m := range b.entries {
			if m.ID == lastID {
				start = i + 1
			}
		}
	}
	end := min(start+count, len(b.entries))
	return b.entries[start:end], nil
}

func TestHubReplaysFromStream(t *testing.T) {
	bus := &streamBus{}
	for seq := uint64(1); seq <= 200; seq++ {
		ev := domain.LedgerEvent{Seq: seq, Kind: domain.KindEventCreated, EventID: domain.EventID(seq%2 + 1)}
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		bus.entries = append(bus.entries, domain.StreamMessage{ID: strconv.FormatUint(seq, 10) + "-0", Payload: raw})
	}
	hub := NewHub(bus, "ch", Config{Mode: "test", Stream: "stream"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"?format=json&topics=event:2&since=190")
	assert.Equal(t, "hello", readJSON(t, conn)["type"])

	// Event 2 holds the odd sequence numbers.
	for _, want := range []float64{191, 193, 195, 197, 199} {
		msg := readJSON(t, conn)
		require.Equal(t, "ledger_event", msg["type"])
		assert.Equal(t, want, msg["payload"].(map[string]any)["seq"])
	}
	done := readJSON(t, conn)
	assert.Equal(t, "replay_done", done["type"])
	assert.Equal(t, map[string]any{"since": 190.0, "last_seq": 199.0, "truncated": false}, done["payload"])
}
