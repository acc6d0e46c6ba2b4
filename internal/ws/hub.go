// Package ws implements the real-time fan-out hub: a process-local
// connection registry keyed by user id, per-dialog subscription
// groups, and heartbeat-driven liveness. Generalized from the classic
// gorilla/websocket register/unregister/broadcast pattern to route
// events by dialog subscription rather than broadcast-to-all.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 10 * time.Second
	pongWait       = 2 * pingInterval
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// Event is a flat, tagged server-to-client payload. Every field beyond
// Type is event-specific and optional.
type Event struct {
	Type                string  `json:"type"`
	DialogID            string  `json:"dialog_id,omitempty"`
	MessageID           string  `json:"message_id,omitempty"`
	UserID              string  `json:"user_id,omitempty"`
	LastReadMessageID   *string `json:"last_read_message_id,omitempty"`
	IsOnline            *bool   `json:"is_online,omitempty"`
	Data                any     `json:"data,omitempty"`
}

// MembershipChecker answers whether a user is currently a participant
// of a dialog, so fan-out can filter stale subscriptions cheaply
// without a hub-side write.
type MembershipChecker interface {
	IsParticipant(dialogID, userID string) bool
}

// PresenceRefresher lets the hub poke the presence TTL on a client
// heartbeat without importing internal/presence directly.
type PresenceRefresher interface {
	Refresh(ctx context.Context, userID string)
}

type registerMsg struct {
	client *Client
}

type unregisterMsg struct {
	client *Client
}

type subscribeMsg struct {
	client   *Client
	dialogID string
}

type publishMsg struct {
	dialogID string
	event    Event
}

// Hub owns the connection registry and subscription map. All mutation
// happens on the Run goroutine; fan-out only takes a read lock.
type Hub struct {
	logger     *zap.Logger
	membership MembershipChecker
	presence   PresenceRefresher

	mu            sync.RWMutex
	connsByUser   map[string]map[*Client]struct{}
	subscriptions map[string]map[*Client]struct{}

	register   chan registerMsg
	unregister chan unregisterMsg
	subscribe  chan subscribeMsg
	unsub      chan subscribeMsg
	publish    chan publishMsg

	// OnDisconnectLast fires when a user's last connection drops, with
	// the dialogs that connection was subscribed to at the time — used
	// to mark presence offline and broadcast it to the right groups.
	OnDisconnectLast func(userID string, dialogIDs []string)
}

func NewHub(logger *zap.Logger, membership MembershipChecker, presence PresenceRefresher) *Hub {
	return &Hub{
		logger:        logger,
		membership:    membership,
		presence:      presence,
		connsByUser:   make(map[string]map[*Client]struct{}),
		subscriptions: make(map[string]map[*Client]struct{}),
		register:      make(chan registerMsg),
		unregister:    make(chan unregisterMsg),
		subscribe:     make(chan subscribeMsg),
		unsub:         make(chan subscribeMsg),
		publish:       make(chan publishMsg, 256),
	}
}

// Run owns the hub's internal tables; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case m := <-h.register:
			h.mu.Lock()
			set := h.connsByUser[m.client.UserID]
			if set == nil {
				set = make(map[*Client]struct{})
				h.connsByUser[m.client.UserID] = set
			}
			set[m.client] = struct{}{}
			h.mu.Unlock()

		case m := <-h.unregister:
			h.mu.Lock()
			if _, registered := h.connsByUser[m.client.UserID][m.client]; !registered {
				// Already unregistered: a client dropped by fan-out is
				// unregistered again by its own read pump, and its send
				// channel is already closed.
				h.mu.Unlock()
				continue
			}
			wasLast := false
			if set, ok := h.connsByUser[m.client.UserID]; ok {
				delete(set, m.client)
				if len(set) == 0 {
					delete(h.connsByUser, m.client.UserID)
					wasLast = true
				}
			}
			var dialogIDs []string
			for dialogID, subs := range h.subscriptions {
				if _, ok := subs[m.client]; ok {
					dialogIDs = append(dialogIDs, dialogID)
					delete(subs, m.client)
					if len(subs) == 0 {
						delete(h.subscriptions, dialogID)
					}
				}
			}
			h.mu.Unlock()
			close(m.client.send)
			if wasLast && h.OnDisconnectLast != nil {
				h.OnDisconnectLast(m.client.UserID, dialogIDs)
			}

		case m := <-h.subscribe:
			h.mu.Lock()
			set := h.subscriptions[m.dialogID]
			if set == nil {
				set = make(map[*Client]struct{})
				h.subscriptions[m.dialogID] = set
			}
			set[m.client] = struct{}{}
			h.mu.Unlock()

		case m := <-h.unsub:
			h.mu.Lock()
			if set, ok := h.subscriptions[m.dialogID]; ok {
				delete(set, m.client)
				if len(set) == 0 {
					delete(h.subscriptions, m.dialogID)
				}
			}
			h.mu.Unlock()

		case m := <-h.publish:
			h.fanOut(m.dialogID, m.event)
		}
	}
}

// fanOut writes event to every connection subscribed to dialogID whose
// user is currently a participant. A connection whose outbound buffer
// is full is dropped rather than allowed to stall the broadcaster.
func (h *Hub) fanOut(dialogID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	subs := h.subscriptions[dialogID]
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if h.membership != nil && !h.membership.IsParticipant(dialogID, c.UserID) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			go func(c *Client) { h.unregister <- unregisterMsg{client: c} }(c)
		}
	}
}

// Publish enqueues a fan-out event for a dialog's subscription group.
func (h *Hub) Publish(dialogID string, event Event) {
	select {
	case h.publish <- publishMsg{dialogID: dialogID, event: event}:
	default:
		h.logger.Warn("hub publish queue full, dropping event", zap.String("dialog_id", dialogID), zap.String("type", event.Type))
	}
}

// PublishToUser delivers an event to every connection of one user
// (used for per-user flag changes: "broadcast to the same user's other
// connected devices"), regardless of dialog subscription.
func (h *Hub) PublishToUser(userID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}
	h.mu.RLock()
	conns := h.connsByUser[userID]
	targets := make([]*Client, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			go func(c *Client) { h.unregister <- unregisterMsg{client: c} }(c)
		}
	}
}

// HasConnection reports whether a user currently holds any open
// connection.
func (h *Hub) HasConnection(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connsByUser[userID]
	return ok
}

// BroadcastPresence publishes a presence.update event for userID to
// every dialog subscription group that currently holds a connection of
// that user.
func (h *Hub) BroadcastPresence(userID string, online bool) {
	h.mu.RLock()
	dialogIDs := make([]string, 0)
	for dialogID, subs := range h.subscriptions {
		for c := range subs {
			if c.UserID == userID {
				dialogIDs = append(dialogIDs, dialogID)
				break
			}
		}
	}
	h.mu.RUnlock()

	isOnline := online
	for _, dialogID := range dialogIDs {
		h.Publish(dialogID, Event{Type: "presence.update", DialogID: dialogID, UserID: userID, IsOnline: &isOnline})
	}
}

// HandlePing answers a client's application-level ping: it refreshes
// the presence TTL, replies with a pong, and on the connection's first
// ping broadcasts presence.update{is_online:true} — turning online is
// reported on first heartbeat, not at raw connect.
func (h *Hub) HandlePing(c *Client) {
	if h.presence != nil {
		h.presence.Refresh(context.Background(), c.UserID)
	}
	c.Send(Event{Type: "pong"})

	if !c.pinged {
		c.pinged = true
		h.BroadcastPresence(c.UserID, true)
	}
}
