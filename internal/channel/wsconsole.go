package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

func init() {
	Register("wsconsole", func(cfg map[string]string) (Channel, error) {
		return NewWSConsole(), nil
	})
}

// wireMessage is the JSON frame exchanged over the websocket: prompts
// flow server->client, replies flow client->server.
type wireMessage struct {
	Type       string `json:"type"` // "prompt" or "reply"
	PromptID   string `json:"prompt_id"`
	SessionID  string `json:"session_id,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	Excerpt    string `json:"excerpt,omitempty"`
	PromptType string `json:"prompt_type,omitempty"`
	Identity   string `json:"identity,omitempty"`
	ReplyValue string `json:"reply_value,omitempty"`
}

// wsClient is one connected human operator.
type wsClient struct {
	identity string
	conn     *websocket.Conn
	send     chan wireMessage
}

// WSConsole is a websocket-based Channel: connected operators each
// identify themselves on connect (via a query parameter), prompts are
// broadcast to every allowlisted, currently-connected client, and
// replies arrive as JSON frames read back off the same connection.
// Grounded on rcourtman-Pulse's internal/websocket.Hub: a
// register/unregister channel pair guarding a client map, and a
// broadcast channel fanning out to every client's own send queue so
// one slow client can never block delivery to the others.
type WSConsole struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	clients   map[*wsClient]bool
	delivered map[string]string // promptID -> deliverToken, for restart re-attach
	cb        ReplyCallback
	deliverer BaseDeliverer
	seq       int64
}

// NewWSConsole constructs an empty WSConsole channel. Call
// HandleWebSocket from an http.Handler to accept operator connections.
func NewWSConsole() *WSConsole {
	return &WSConsole{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:   make(map[*wsClient]bool),
		delivered: make(map[string]string),
		deliverer: NewBaseDeliverer(0),
	}
}

func (w *WSConsole) Name() string { return "wsconsole" }

// HandleWebSocket upgrades an HTTP request to a websocket connection
// and registers the connecting identity as an operator.
func (w *WSConsole) HandleWebSocket(rw http.ResponseWriter, r *http.Request) error {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		http.Error(rw, "identity query parameter required", http.StatusBadRequest)
		return fmt.Errorf("wsconsole: connection missing identity")
	}

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return fmt.Errorf("wsconsole: upgrade: %w", err)
	}

	c := &wsClient{identity: identity, conn: conn, send: make(chan wireMessage, 32)}
	w.mu.Lock()
	w.clients[c] = true
	w.mu.Unlock()

	go w.writePump(c)
	go w.readPump(c)
	return nil
}

func (w *WSConsole) writePump(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (w *WSConsole) readPump(c *wsClient) {
	defer func() {
		w.mu.Lock()
		delete(w.clients, c)
		close(c.send)
		w.mu.Unlock()
	}()
	for {
		var msg wireMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "reply" {
			continue
		}
		w.mu.Lock()
		cb := w.cb
		w.mu.Unlock()
		if cb != nil {
			cb(msg.PromptID, msg.Nonce, c.identity, msg.ReplyValue)
		}
	}
}

// Deliver broadcasts the prompt to every connected client whose
// identity is in allowlist (or every client, if allowlist is empty).
func (w *WSConsole) Deliver(ctx context.Context, event domain.PromptEvent, allowlist []string) (string, error) {
	w.mu.Lock()
	w.seq++
	token := fmt.Sprintf("wsconsole-%d", w.seq)
	w.delivered[event.PromptID] = token

	msg := wireMessage{
		Type:       "prompt",
		PromptID:   event.PromptID,
		SessionID:  event.SessionID,
		Nonce:      event.Nonce,
		Excerpt:    event.Excerpt,
		PromptType: string(event.Type),
	}

	var targets []*wsClient
	for c := range w.clients {
		if len(allowlist) == 0 || IsAllowed(c.identity, allowlist) {
			targets = append(targets, c)
		}
	}
	w.mu.Unlock()

	if len(targets) == 0 {
		return "", &domain.ChannelPermanentError{Channel: "wsconsole", Err: fmt.Errorf("no allowlisted operator currently connected")}
	}

	err := w.deliverer.Do(ctx, func() error {
		var sendErr error
		for _, c := range targets {
			select {
			case c.send <- msg:
			default:
				sendErr = fmt.Errorf("client %s send queue full", c.identity)
			}
		}
		return sendErr
	})
	if err != nil {
		return "", &domain.ChannelPermanentError{Channel: "wsconsole", Err: err}
	}
	return token, nil
}

func (w *WSConsole) OnReply(cb ReplyCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cb = cb
}

// deliverToken returns the delivery token Deliver recorded for
// promptID, if any.
func (w *WSConsole) deliverToken(promptID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.delivered[promptID]
	return t, ok
}
