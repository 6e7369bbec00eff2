// Package ws streams ledger events to browser clients over websockets.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fairstake/tickets/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayPage     = 128
)

// TopicLedger receives every ledger event.
const TopicLedger = "ledger"

// Topics returns the topics an event is published on: the full ledger, its
// event and, for pool-scoped kinds, its pool.
func Topics(ev domain.LedgerEvent) []string {
	topics := []string{TopicLedger}
	if ev.EventID == 0 {
		return topics
	}
	topics = append(topics, fmt.Sprintf("event:%d", ev.EventID))
	if ev.Pool != nil || ev.Stake != nil || ev.Draw != nil || ev.Ticket != nil || ev.Rebate != nil || ev.Payout != nil {
		topics = append(topics, fmt.Sprintf("pool:%d:%s", ev.EventID, ev.Class))
	}
	return topics
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type format int

const (
	formatProto format = iota
	formatJSON
)

// frame holds one message in both wire encodings.
type frame struct {
	topics []string
	binary []byte
	text   []byte
}

func (f frame) encoded(fm format) (int, []byte) {
	if fm == formatJSON {
		return websocket.TextMessage, f.text
	}
	return websocket.BinaryMessage, f.binary
}

// newFrame builds a {"type", "topic", "payload"} envelope. Binary clients get
// it as a protobuf Struct, JSON clients as plain JSON.
func newFrame(kind string, topics []string, payload any) (frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return frame{}, err
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return frame{}, err
	}
	env := map[string]any{"type": kind, "payload": body}
	if len(topics) > 0 {
		env["topic"] = topics[len(topics)-1]
	}

	st, err := structpb.NewStruct(env)
	if err != nil {
		return frame{}, fmt.Errorf("ws: build struct: %w", err)
	}
	bin, err := proto.Marshal(st)
	if err != nil {
		return frame{}, fmt.Errorf("ws: marshal proto: %w", err)
	}
	text, err := json.Marshal(env)
	if err != nil {
		return frame{}, err
	}
	return frame{topics: topics, binary: bin, text: text}, nil
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	format format
	send   chan frame
	mu     sync.RWMutex
	subs   map[string]bool
}

type subscribeMsg struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Config carries metadata for the hello frame and the durable stream that
// reconnecting clients replay from.
type Config struct {
	Mode      string
	StartedAt time.Time
	Stream    string
}

// Hub fans ledger events out to websocket clients. It is a journal sink,
// and can also follow the Redis ledger channel when the pump runs in another
// process.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	channel    string
	mu         sync.RWMutex
	lastSeq    uint64
	cfg        Config
	logger     *slog.Logger
}

// NewHub creates a hub. When bus is non-nil Run also subscribes to channel.
func NewHub(bus domain.SignalBus, channel string, cfg Config, logger *slog.Logger) *Hub {
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		channel:    channel,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws")),
	}
}

func (h *Hub) Name() string { return "ws" }

// Consume queues events for broadcast. Events at or below the last seen
// sequence are skipped, so a replayed batch is delivered once.
func (h *Hub) Consume(ctx context.Context, events []domain.LedgerEvent) error {
	for _, ev := range events {
		if !h.advance(ev.Seq) {
			continue
		}
		f, err := newFrame("ledger_event", Topics(ev), ev)
		if err != nil {
			h.logger.WarnContext(ctx, "ws: encode event", slog.Uint64("seq", ev.Seq), slog.String("error", err.Error()))
			continue
		}
		select {
		case h.broadcast <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) advance(seq uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if seq != 0 && seq <= h.lastSeq {
		return false
	}
	h.lastSeq = max(h.lastSeq, seq)
	return true
}

// Run routes frames to clients until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.follow(ctx)
	}
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case f := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(f.topics) {
					continue
				}
				select {
				case c.send <- f:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) follow(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed", slog.String("channel", h.channel), slog.String("error", err.Error()))
		return
	}
	h.logger.Info("ws: following channel", slog.String("channel", h.channel))
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", h.channel))
				return
			}
			var ev domain.LedgerEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("ws: undecodable ledger message", slog.String("error", err.Error()))
				continue
			}
			if err := h.Consume(ctx, []domain.LedgerEvent{ev}); err != nil {
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client, subscribed to the
// topics in ?topics= (comma separated, default "ledger"). ?format=json
// selects text frames. ?since=<seq> first replays newer events from the
// stream when one is configured.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan frame, sendBufferSize),
		subs: make(map[string]bool),
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		c.format = formatJSON
	}
	topics := strings.Split(r.URL.Query().Get("topics"), ",")
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			c.subs[t] = true
		}
	}
	if len(c.subs) == 0 {
		c.subs[TopicLedger] = true
	}

	c.hello()
	if since, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64); err == nil {
		h.replay(r.Context(), c, since)
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// replay queues stream events after since that c subscribes to, then a
// "replay_done" frame. Clients dedupe on seq against the live feed.
func (h *Hub) replay(ctx context.Context, c *client, since uint64) {
	if h.bus == nil || h.cfg.Stream == "" {
		return
	}
	last, truncated := since, false
	lastID := "0"
pages:
	for {
		msgs, err := h.bus.StreamRead(ctx, h.cfg.Stream, lastID, replayPage)
		if err != nil {
			h.logger.Warn("ws: replay read failed", slog.String("error", err.Error()))
			break
		}
		for _, m := range msgs {
			var ev domain.LedgerEvent
			if json.Unmarshal(m.Payload, &ev) != nil || ev.Seq <= since {
				continue
			}
			f, err := newFrame("ledger_event", Topics(ev), ev)
			if err != nil || !c.wants(f.topics) {
				continue
			}
			// Keep one slot for replay_done.
			if len(c.send) >= cap(c.send)-1 {
				truncated = true
				break pages
			}
			c.send <- f
			last = ev.Seq
		}
		if len(msgs) < replayPage {
			break
		}
		lastID = msgs[len(msgs)-1].ID
	}

	f, err := newFrame("replay_done", nil, map[string]any{
		"since":     since,
		"last_seq":  last,
		"truncated": truncated,
	})
	if err == nil {
		c.send <- f
	}
}

func (c *client) hello() {
	c.mu.RLock()
	subs := make([]string, 0, len(c.subs))
	for t := range c.subs {
		subs = append(subs, t)
	}
	c.mu.RUnlock()

	c.hub.mu.RLock()
	last := c.hub.lastSeq
	c.hub.mu.RUnlock()

	f, err := newFrame("hello", nil, map[string]any{
		"mode":           c.hub.cfg.Mode,
		"uptime_seconds": int64(max(time.Since(c.hub.cfg.StartedAt), 0).Seconds()),
		"last_seq":       last,
		"topics":         subs,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

func (c *client) wants(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range topics {
		if c.subs[t] {
			return true
		}
	}
	return false
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) != nil {
			continue
		}
		c.mu.Lock()
		for _, t := range sub.Topics {
			switch sub.Action {
			case "subscribe":
				c.subs[t] = true
			case "unsubscribe":
				delete(c.subs, t)
			}
		}
		c.mu.Unlock()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind, data := f.encoded(c.format)
			if err := c.conn.WriteMessage(kind, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
