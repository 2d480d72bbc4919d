package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mahaj/venue-support/pkg/auth"
	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	lookupTimeout = 3 * time.Second
)

// Policy close codes, mirrored by the chat client.
const (
	closeInvalidSession = 4401
	closeForbidden      = 4403
)

const (
	noticeInvalidSession   = "Session is invalid. Please sign in again."
	noticeUnknownUser      = "User not found."
	noticeNoCustomer       = "No customer (uid) selected for this chat."
	noticeBadCustomer      = "Customer uid is invalid."
	noticeCustomerNotFound = "Customer profile not found."
	noticeUnavailable      = "Support chat is temporarily unavailable."
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Accounts resolves user ids. The account, not the token, is the authority
// on name and role.
type Accounts interface {
	ByID(ctx context.Context, id int64) (store.User, error)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Sender is stamped on everything this socket writes.
	Sender model.Sender

	// Room is the customer id of the support thread.
	Room int64

	limiter *rate.Limiter
	logger  *slog.Logger
}

// readPump pumps chat lines from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", "user", c.Sender.ID, "err", err)
			}
			return
		}

		var frame model.OutboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.logger.Debug("ignoring malformed frame", "user", c.Sender.ID, "err", err)
			continue
		}
		text := strings.TrimSpace(frame.Text)
		if text == "" {
			continue
		}

		if !c.hub.submit(inbound{from: c, text: text, throttled: !c.limiter.Allow()}) {
			return
		}
	}
}

// writePump pumps frames from the hub to the websocket connection, one
// websocket message per frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Gateway upgrades support chat requests and places each socket in its
// customer's room.
type Gateway struct {
	hub       *Hub
	issuer    *auth.Issuer
	accounts  Accounts
	sendRate  rate.Limit
	sendBurst int
	logger    *slog.Logger
}

func NewGateway(hub *Hub, issuer *auth.Issuer, accounts Accounts, sendRate float64, sendBurst int, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if sendRate <= 0 {
		sendRate = 5
	}
	if sendBurst <= 0 {
		sendBurst = 10
	}
	return &Gateway{
		hub:       hub,
		issuer:    issuer,
		accounts:  accounts,
		sendRate:  rate.Limit(sendRate),
		sendBurst: sendBurst,
		logger:    logger,
	}
}

// admission is the outcome of checking a socket request. A non-zero code
// means the socket is closed with that code after a system frame.
type admission struct {
	sender model.Sender
	room   int64
	code   int
	notice string
}

func deny(code int, notice string) admission {
	return admission{code: code, notice: notice}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", "err", err)
		return
	}

	adm := g.admit(r)
	if adm.code != 0 {
		g.reject(conn, adm)
		return
	}

	client := &Client{
		hub:     g.hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		Sender:  adm.sender,
		Room:    adm.room,
		limiter: rate.NewLimiter(g.sendRate, g.sendBurst),
		logger:  g.logger,
	}
	if !g.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// admit resolves who is connecting and which room they may join. Customers
// always join their own room; staff name the customer with uid.
func (g *Gateway) admit(r *http.Request) admission {
	tokenString := auth.BearerToken(r)
	if tokenString == "" {
		return deny(closeInvalidSession, noticeInvalidSession)
	}
	claims, err := g.issuer.ValidateToken(tokenString)
	if err != nil {
		g.logger.Info("rejecting socket", "reason", "invalid token", "err", err)
		return deny(closeInvalidSession, noticeInvalidSession)
	}
	uid, err := claims.UserID.Int64()
	if err != nil || uid <= 0 {
		return deny(closeInvalidSession, noticeInvalidSession)
	}

	sender := claims.Sender()
	if g.accounts != nil {
		me, err := g.lookup(r.Context(), uid)
		if errors.Is(err, store.ErrNotFound) {
			return deny(closeInvalidSession, noticeUnknownUser)
		}
		if err != nil {
			g.logger.Error("account lookup failed", "user", uid, "err", err)
			return deny(websocket.CloseTryAgainLater, noticeUnavailable)
		}
		sender = model.Sender{ID: model.IdentityFromInt(me.ID), Name: me.Username, Role: me.Role}
	}

	if !sender.Role.IsStaff() {
		return admission{sender: sender, room: uid}
	}

	raw := strings.TrimSpace(r.URL.Query().Get("uid"))
	if raw == "" {
		return deny(closeForbidden, noticeNoCustomer)
	}
	room, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || room <= 0 {
		return deny(closeForbidden, noticeBadCustomer)
	}
	if g.accounts != nil {
		customer, err := g.lookup(r.Context(), room)
		if errors.Is(err, store.ErrNotFound) || (err == nil && customer.Role != model.RoleCustomer) {
			return deny(closeForbidden, noticeCustomerNotFound)
		}
		if err != nil {
			g.logger.Error("customer lookup failed", "customer", room, "err", err)
			return deny(websocket.CloseTryAgainLater, noticeUnavailable)
		}
	}
	return admission{sender: sender, room: room}
}

func (g *Gateway) lookup(ctx context.Context, id int64) (store.User, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	return g.accounts.ByID(ctx, id)
}

// reject tells the peer why before closing, so the client can show it.
func (g *Gateway) reject(conn *websocket.Conn, adm admission) {
	defer conn.Close()
	wsRejected.WithLabelValues(strconv.Itoa(adm.code)).Inc()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(model.SystemFrame(adm.notice)); err != nil {
		return
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(adm.code, adm.notice))
}
