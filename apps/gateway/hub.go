package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/snowflake"
)

const (
	noticeThrottled   = "You are sending messages too fast. Please slow down."
	noticeNotSent     = "Message could not be delivered. Please try again."
	presenceOpTimeout = 2 * time.Second
	roomQueueSize     = 64
)

// Presence records room membership. Failures are logged, never fatal.
type Presence interface {
	Join(ctx context.Context, customerID int64, userID string) error
	Leave(ctx context.Context, customerID int64, userID string) error
}

// inbound is a chat line read from a socket.
type inbound struct {
	from      *Client
	text      string
	throttled bool
}

// outbound is a stamped message waiting for its room's publisher.
type outbound struct {
	from *Client
	env  model.Envelope
}

type Hub struct {
	rooms      map[int64]map[*Client]bool // customer id -> sockets
	inbound    chan inbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	queues     map[int64]chan outbound // owned by Run
	publishers sync.WaitGroup
	mu         sync.RWMutex
	broker     Broker
	presence   Presence
	snowflake  *snowflake.Node
	logger     *slog.Logger
	now        func() time.Time
}

func NewHub(broker Broker, presence Presence, node *snowflake.Node, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[int64]map[*Client]bool),
		inbound:    make(chan inbound),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		queues:     make(map[int64]chan outbound),
		broker:     broker,
		presence:   presence,
		snowflake:  node,
		logger:     logger,
		now:        time.Now,
	}
}

// Run owns room membership until ctx is done. Publishing runs on one
// goroutine per active room and fan-out from the broker on another, so a
// slow broker never holds up joins or leaves.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	go func() {
		if err := h.broker.Subscribe(ctx, h.deliver); err != nil {
			h.logger.Error("fan-out subscription stopped", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.Room] == nil {
				h.rooms[client.Room] = make(map[*Client]bool)
			}
			h.rooms[client.Room][client] = true
			setRooms(len(h.rooms))
			h.mu.Unlock()
			incConnections()

			h.presenceOp(ctx, true, client)
			h.logger.Info("client registered", "user", client.Sender.ID, "room", client.Room)

		case client := <-h.unregister:
			h.mu.Lock()
			clients, ok := h.rooms[client.Room]
			if ok && clients[client] {
				delete(clients, client)
				close(client.send)
				if len(clients) == 0 {
					delete(h.rooms, client.Room)
					h.stopPublisher(client.Room)
				}
				setRooms(len(h.rooms))
			} else {
				ok = false
			}
			h.mu.Unlock()
			if !ok {
				continue
			}
			decConnections()

			h.presenceOp(ctx, false, client)
			h.logger.Info("client unregistered", "user", client.Sender.ID, "room", client.Room)

		case in := <-h.inbound:
			if !h.rooms[in.from.Room][in.from] {
				continue // dropped as a slow client
			}
			if in.throttled {
				wsThrottled.Inc()
				h.notify(in.from, noticeThrottled)
				continue
			}
			env := model.Envelope{
				ID:         h.snowflake.Generate(),
				CustomerID: in.from.Room,
				From:       in.from.Sender,
				Text:       in.text,
				Timestamp:  h.now().UTC(),
			}
			h.enqueue(ctx, outbound{from: in.from, env: env})
		}
	}
}

// enqueue hands a message to its room's publisher, starting one if needed.
// A full queue rejects the message rather than block Run.
func (h *Hub) enqueue(ctx context.Context, out outbound) {
	room := out.env.CustomerID
	q, ok := h.queues[room]
	if !ok {
		q = make(chan outbound, roomQueueSize)
		h.queues[room] = q
		h.publishers.Add(1)
		go h.publish(ctx, q)
	}
	select {
	case q <- out:
	default:
		h.logger.Warn("publish queue full", "room", room)
		h.notify(out.from, noticeNotSent)
	}
}

// publish drains one room's queue in order until the queue is closed.
func (h *Hub) publish(ctx context.Context, q <-chan outbound) {
	defer h.publishers.Done()
	for out := range q {
		env := out.env
		if err := h.broker.Publish(ctx, env); err != nil {
			h.logger.Error("failed to publish message", "room", env.CustomerID, "err", err)
			h.notify(out.from, noticeNotSent)
			continue
		}
		wsPublished.Inc()
		h.logger.Debug("message published", "id", env.ID, "room", env.CustomerID)
	}
}

// stopPublisher lets a room's publisher finish what is queued and exit.
func (h *Hub) stopPublisher(room int64) {
	if q, ok := h.queues[room]; ok {
		close(q)
		delete(h.queues, room)
	}
}

func (h *Hub) presenceOp(ctx context.Context, join bool, c *Client) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, presenceOpTimeout)
	defer cancel()
	op, fn := "leave", h.presence.Leave
	if join {
		op, fn = "join", h.presence.Join
	}
	if err := fn(ctx, c.Room, c.Sender.ID.String()); err != nil {
		h.logger.Warn("presence update failed", "op", op, "user", c.Sender.ID, "room", c.Room, "err", err)
	}
}

// deliver queues a message to every socket of its room on this gateway,
// the sender's included. Sockets that cannot keep up are dropped.
func (h *Hub) deliver(env model.Envelope) {
	frame, err := json.Marshal(env.Frame())
	if err != nil {
		h.logger.Error("failed to marshal frame", "id", env.ID, "err", err)
		return
	}

	var slow []*Client
	n := 0
	h.mu.RLock()
	for client := range h.rooms[env.CustomerID] {
		select {
		case client.send <- frame:
			n++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()
	addDelivered(n)

	for _, c := range slow {
		h.logger.Warn("dropping slow client", "user", c.Sender.ID, "room", c.Room)
		go h.leave(c)
	}
}

// notify sends a system frame to one socket if it is still registered. The
// read lock keeps Run from closing client.send underneath it.
func (h *Hub) notify(c *Client, text string) {
	frame, err := json.Marshal(model.SystemFrame(text))
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.rooms[c.Room][c] {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) closeAll() {
	var gone []*Client
	h.mu.Lock()
	for room, clients := range h.rooms {
		for c := range clients {
			close(c.send)
			gone = append(gone, c)
		}
		delete(h.rooms, room)
	}
	setRooms(0)
	h.mu.Unlock()

	for room := range h.queues {
		h.stopPublisher(room)
	}
	h.publishers.Wait()

	// ctx is already done here
	for _, c := range gone {
		decConnections()
		h.presenceOp(context.Background(), false, c)
	}
}

// roomSize reports how many sockets this gateway holds for a room.
func (h *Hub) roomSize(customerID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[customerID])
}
