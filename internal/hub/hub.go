// Package hub tracks live client connections per broadcast channel and fans
// messages out to them.
package hub

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/errs"
	"github.com/good-yellow-bee/sentinel/internal/metrics"
)

// Conn is a connected client that can receive broadcasts.
//
// Send must not block: implementations enqueue and return. A Send error
// removes the connection from the hub.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

type registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// Hub is the registry of connections. Each channel has its own lock so a
// broadcast on one channel never waits on another.
type Hub struct {
	channels map[Channel]*registry

	// mu guards members. Lock order is mu, then a registry lock.
	mu      sync.Mutex
	members map[string]Channel

	logger *zap.Logger
}

// New creates an empty hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		channels: make(map[Channel]*registry, len(Channels)),
		members:  make(map[string]Channel),
		logger:   logger.With(zap.String("component", "hub")),
	}
	for _, ch := range Channels {
		h.channels[ch] = &registry{conns: make(map[string]Conn)}
	}
	return h
}

// Subscribe adds conn to ch. A connection belongs to at most one channel;
// subscribing to a new channel moves it. Subscribing twice is a no-op.
func (h *Hub) Subscribe(conn Conn, ch Channel) error {
	reg, ok := h.channels[ch]
	if !ok {
		return errs.Validation("channel", "unknown channel %q", ch)
	}

	id := conn.ID()

	h.mu.Lock()
	defer h.mu.Unlock()

	prev, had := h.members[id]
	if had && prev == ch {
		return nil
	}
	if had {
		h.removeLocked(prev, id)
	}

	reg.mu.Lock()
	reg.conns[id] = conn
	reg.mu.Unlock()
	h.members[id] = ch
	metrics.HubConnections.WithLabelValues(string(ch)).Inc()

	h.logger.Debug("connection subscribed",
		zap.String("conn_id", id),
		zap.String("channel", string(ch)))
	return nil
}

// Unsubscribe removes conn from ch. It waits for any broadcast in progress
// on ch to finish enqueueing; once it returns no further message reaches
// conn through this hub. Removing an absent connection is a no-op.
func (h *Hub) Unsubscribe(conn Conn, ch Channel) {
	id := conn.ID()

	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.members[id]; !ok || cur != ch {
		return
	}
	h.removeLocked(ch, id)
}

func (h *Hub) removeLocked(ch Channel, id string) {
	reg := h.channels[ch]
	reg.mu.Lock()
	_, present := reg.conns[id]
	delete(reg.conns, id)
	reg.mu.Unlock()

	delete(h.members, id)
	if present {
		metrics.HubConnections.WithLabelValues(string(ch)).Dec()
	}
}

// Broadcast sends payload to every connection subscribed to ch at the time
// of the call and returns the number of connections that accepted it.
// Connections whose Send fails are removed and closed.
func (h *Hub) Broadcast(ch Channel, payload []byte) int {
	reg, ok := h.channels[ch]
	if !ok {
		return 0
	}

	var failed []*errs.DeliveryError
	var failedConns []Conn
	delivered := 0

	reg.mu.RLock()
	for id, conn := range reg.conns {
		if err := conn.Send(payload); err != nil {
			failed = append(failed, &errs.DeliveryError{ConnID: id, Err: err})
			failedConns = append(failedConns, conn)
			continue
		}
		delivered++
	}
	reg.mu.RUnlock()

	if delivered > 0 {
		metrics.HubMessagesSentTotal.WithLabelValues(string(ch)).Add(float64(delivered))
	}

	for i, conn := range failedConns {
		// A client mid-Close unsubscribes itself; not a delivery failure.
		if errors.Is(failed[i].Err, ErrClientClosed) {
			h.logger.Debug("skipping closing connection", zap.String("channel", string(ch)), zap.String("conn_id", failed[i].ConnID))
		} else {
			h.logger.Warn("removing connection after failed delivery",
				zap.String("channel", string(ch)),
				zap.Error(failed[i]))
			metrics.HubDeliveryFailuresTotal.WithLabelValues(string(ch)).Inc()
		}
		h.Unsubscribe(conn, ch)
		_ = conn.Close()
	}

	return delivered
}

// Count returns the number of connections subscribed to ch.
func (h *Hub) Count(ch Channel) int {
	reg, ok := h.channels[ch]
	if !ok {
		return 0
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.conns)
}

// Total returns the number of connections across all channels.
func (h *Hub) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

// CloseAll removes and closes every connection.
func (h *Hub) CloseAll() {
	var conns []Conn

	h.mu.Lock()
	for _, ch := range Channels {
		reg := h.channels[ch]
		reg.mu.Lock()
		for id, conn := range reg.conns {
			conns = append(conns, conn)
			delete(reg.conns, id)
		}
		reg.mu.Unlock()
		metrics.HubConnections.WithLabelValues(string(ch)).Set(0)
	}
	h.members = make(map[string]Channel)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	if len(conns) > 0 {
		h.logger.Info("closed all connections", zap.Int("count", len(conns)))
	}
}
