// ABOUTME: WebSocket hub that pushes dispatch events to connected agent consoles.
// ABOUTME: One live socket per agent; a dropped socket logs the agent out of the pool.

package console

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/donafarma/dispatch/internal/dispatch"
	"github.com/donafarma/dispatch/internal/identity"
)

// Event types pushed over the agent socket.
const (
	EventNewAssignment      = "new_assignment"
	EventCustomerMessage    = "customer_message"
	EventConversationClosed = "conversation_closed"
	EventQueueDepth         = "queue_depth"
)

// Event is one console notification frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type customerMessageData struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type conversationClosedData struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
}

type queueDepthData struct {
	Depth int `json:"depth"`
}

const (
	writeWait   = 10 * time.Second
	pingPeriod  = 30 * time.Second
	sendBacklog = 32
)

// client is one connected agent console. Writes are serialized through the
// send channel; the reader exists only to observe the close.
type client struct {
	agentID string
	conn    *websocket.Conn
	send    chan Event
	done    chan struct{}
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) writeLoop(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				logger.Debug("console write failed", "agent", c.agentID, "error", err)
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

// readLoop discards inbound frames; commands arrive over the HTTP API. Its
// only job is to notice the socket dying.
func (c *client) readLoop() {
	defer c.close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Hub fans dispatch notifications out to agent consoles and implements
// dispatch.Notifier. At most one socket per agent; a newer connection
// replaces the old one.
type Hub struct {
	mu           sync.Mutex
	clients      map[string]*client
	onDisconnect func(agentID string)
	logger       *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger.With("component", "console-hub"),
	}
}

// SetDisconnectHandler registers the callback fired when an agent's socket
// drops. The server wires this to an automatic logout.
func (h *Hub) SetDisconnectHandler(f func(agentID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = f
}

// Attach takes ownership of an upgraded connection for an agent and blocks
// until the socket closes.
func (h *Hub) Attach(agentID string, conn *websocket.Conn) {
	c := &client{
		agentID: agentID,
		conn:    conn,
		send:    make(chan Event, sendBacklog),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if old, ok := h.clients[agentID]; ok {
		old.close()
	}
	h.clients[agentID] = c
	h.mu.Unlock()

	h.logger.Info("agent console connected", "agent", agentID)
	go c.writeLoop(h.logger)
	c.readLoop()

	h.mu.Lock()
	var disconnect func(string)
	if h.clients[agentID] == c {
		delete(h.clients, agentID)
		disconnect = h.onDisconnect
	}
	h.mu.Unlock()

	h.logger.Info("agent console disconnected", "agent", agentID)
	if disconnect != nil {
		disconnect(agentID)
	}
}

// deliver pushes an event to one agent, dropping it if the console's backlog
// is full rather than blocking the dispatcher.
func (h *Hub) deliver(agentID string, ev Event) {
	h.mu.Lock()
	c, ok := h.clients[agentID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case c.send <- ev:
	default:
		h.logger.Warn("dropping console event, backlog full", "agent", agentID, "type", ev.Type)
	}
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- ev:
		default:
		}
	}
}

// NewAssignment implements dispatch.Notifier.
func (h *Hub) NewAssignment(agentID string, conv dispatch.ConversationSummary) {
	h.deliver(agentID, Event{Type: EventNewAssignment, Data: conversationView(conv)})
}

// CustomerMessage implements dispatch.Notifier.
func (h *Hub) CustomerMessage(agentID string, conversationID identity.ID, text string) {
	h.deliver(agentID, Event{Type: EventCustomerMessage, Data: customerMessageData{
		ConversationID: string(conversationID),
		Text:           text,
	}})
}

// ConversationClosed implements dispatch.Notifier.
func (h *Hub) ConversationClosed(agentID string, conversationID identity.ID, reason string) {
	h.deliver(agentID, Event{Type: EventConversationClosed, Data: conversationClosedData{
		ConversationID: string(conversationID),
		Reason:         reason,
	}})
}

// QueueDepthChanged implements dispatch.Notifier.
func (h *Hub) QueueDepthChanged(depth int) {
	h.broadcast(Event{Type: EventQueueDepth, Data: queueDepthData{Depth: depth}})
}
