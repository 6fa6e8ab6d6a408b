// Package streaming broadcasts audit records to connected WebSocket
// operators in real time. Grounded on internal/market/feed.go's
// subscriber map + broadcast loop; a symbol-keyed quote feed becomes
// a single global audit-record feed, and msgClient.Subscribe on
// "trades.executed" becomes a subscribe on pkg/messaging.SubjectAudit.
package streaming

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/notifyhub/prioritycore/pkg/messaging"
)

// Subscriber is one connected operator tailing the audit stream.
type Subscriber struct {
	ID      uuid.UUID
	Conn    *websocket.Conn
	Updates chan messaging.AuditEnvelope
	Done    chan struct{}
}

// Hub fans out audit envelopes published to pkg/messaging.SubjectAudit
// to every connected Subscriber.
type Hub struct {
	bus         *messaging.Client
	subscribers map[uuid.UUID]*Subscriber
	mu          sync.RWMutex
	updates     chan messaging.AuditEnvelope
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// NewHub wires a Hub over an already-connected messaging client.
func NewHub(bus *messaging.Client) *Hub {
	return &Hub{
		bus:         bus,
		subscribers: make(map[uuid.UUID]*Subscriber),
		updates:     make(chan messaging.AuditEnvelope, 64),
		shutdown:    make(chan struct{}),
	}
}

// Start subscribes to the audit subject and begins the broadcast loop.
func (h *Hub) Start() error {
	if err := h.bus.Subscribe(messaging.SubjectAudit, h.handleAuditMessage); err != nil {
		return err
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case env := <-h.updates:
				h.broadcast(env)
			case <-h.shutdown:
				return
			}
		}
	}()
	return nil
}

// Stop ends the broadcast loop and waits for it to exit.
func (h *Hub) Stop() {
	close(h.shutdown)
	h.wg.Wait()
}

func (h *Hub) handleAuditMessage(msg *nats.Msg) {
	var env messaging.AuditEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Printf("streaming: malformed audit envelope, dropping: %v", err)
		return
	}

	select {
	case h.updates <- env:
	default:
		log.Printf("streaming: update buffer full, dropping envelope for audit %s", env.AuditID)
	}
}

// Subscribe registers conn to receive every subsequent audit envelope.
func (h *Hub) Subscribe(conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.New(),
		Conn:    conn,
		Updates: make(chan messaging.AuditEnvelope, 16),
		Done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber and closes its channels.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		close(sub.Done)
		close(sub.Updates)
		delete(h.subscribers, id)
	}
}

func (h *Hub) broadcast(env messaging.AuditEnvelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub.Updates <- env:
		case <-sub.Done:
		default:
			log.Printf("streaming: subscriber %s lagging, dropping envelope", sub.ID)
		}
	}
}

// SubscriberCount reports how many operators are currently attached.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
