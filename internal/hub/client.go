package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/sentinel/internal/metrics"
)

// ErrClientClosed is returned by Send after the client has been closed.
var ErrClientClosed = errors.New("client closed")

// ClientConfig tunes a websocket client.
type ClientConfig struct {
	// SendBuffer is the outbound queue size. When full the oldest queued
	// message is dropped.
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// ReadIdleTimeout closes the connection when nothing (including pongs)
	// arrives for this long. Zero disables it.
	ReadIdleTimeout time.Duration
	ReadLimit       int64
	// InboundRate limits client messages per second; excess messages are
	// ignored.
	InboundRate  rate.Limit
	InboundBurst int
}

// DefaultClientConfig returns the default client settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		ReadLimit:    4096,
		InboundRate:  10,
		InboundBurst: 20,
	}
}

func (c *ClientConfig) setDefaults() {
	d := DefaultClientConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.InboundRate <= 0 {
		c.InboundRate = d.InboundRate
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = d.InboundBurst
	}
}

// Client is a websocket connection subscribed to one channel.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	channel  Channel
	cameraID string
	cfg      ClientConfig
	limiter  *rate.Limiter
	logger   *zap.Logger

	// mu serializes producers and guards closed.
	mu     sync.Mutex
	closed bool
	// wmu is held across each data frame write so Close can wait it out.
	wmu    sync.Mutex
	send   chan []byte
	done   chan struct{}
	once   sync.Once

	dropped int64
}

// NewClient wraps an upgraded websocket connection. cameraID filters the
// detections channel and is echoed in acks on the cameras channel; it may
// be empty.
func NewClient(h *Hub, conn *websocket.Conn, ch Channel, cameraID string, cfg ClientConfig, logger *zap.Logger) *Client {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	return &Client{
		id:       id,
		hub:      h,
		conn:     conn,
		channel:  ch,
		cameraID: cameraID,
		cfg:      cfg,
		limiter:  rate.NewLimiter(cfg.InboundRate, cfg.InboundBurst),
		logger: logger.With(
			zap.String("component", "ws_client"),
			zap.String("conn_id", id),
			zap.String("channel", string(ch))),
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Channel returns the channel the client is subscribed to.
func (c *Client) Channel() Channel { return c.channel }

// Start subscribes the client and starts its read and write pumps.
func (c *Client) Start() error {
	if err := c.hub.Subscribe(c, c.channel); err != nil {
		return err
	}
	go c.writePump()
	go c.readPump()
	c.logger.Info("client connected", zap.String("remote_addr", c.conn.RemoteAddr().String()))
	return nil
}

// Send queues payload for delivery. It never blocks. On the detections
// channel, messages for other cameras are skipped when a camera filter is
// set.
func (c *Client) Send(payload []byte) error {
	if !c.accepts(payload) {
		return nil
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	for {
		select {
		case c.send <- payload:
			return nil
		default:
		}
		// Queue full: evict the oldest message.
		select {
		case <-c.send:
			c.dropped++
			metrics.HubMessagesDroppedTotal.Inc()
		default:
		}
	}
}

func (c *Client) accepts(payload []byte) bool {
	if c.channel != ChannelDetections || c.cameraID == "" {
		return true
	}
	var msg struct {
		Data struct {
			CameraID string `json:"camera_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return false
	}
	return msg.Data.CameraID == c.cameraID
}

// Dropped returns how many queued messages were evicted.
func (c *Client) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close stops delivery, discards queued messages, unsubscribes the client
// from the hub and closes the socket. Nothing is written to the client once
// its unsubscribe has completed, and Send fails after Close returns.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		for {
			select {
			case <-c.send:
				continue
			default:
			}
			break
		}

		// Abort a write stuck on a slow peer, then wait for it to return.
		_ = c.conn.UnderlyingConn().SetWriteDeadline(time.Now())
		c.wmu.Lock()
		c.wmu.Unlock()

		c.hub.Unsubscribe(c, c.channel)

		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		err = c.conn.Close()
		c.logger.Info("client disconnected")
	})
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			if err := c.writeText(message); err != nil {
				if !errors.Is(err, ErrClientClosed) {
					c.logger.Debug("write failed", zap.Error(err))
				}
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// writeText writes one data frame unless the client has been closed.
func (c *Client) writeText(message []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.isClosed() {
		return ErrClientClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

func (c *Client) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(c.cfg.ReadLimit)
	// Clear any deadline inherited from the HTTP server.
	_ = c.conn.SetReadDeadline(time.Time{})
	if c.cfg.ReadIdleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
		})
	}

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		if c.cfg.ReadIdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
		}
		if !c.limiter.Allow() {
			continue
		}
		c.handleInbound(message)
	}
}

func (c *Client) handleInbound(message []byte) {
	if string(message) == "ping" {
		_ = c.enqueue([]byte("pong"))
		return
	}
	if c.channel != ChannelCameras {
		return
	}

	ack, err := json.Marshal(map[string]any{
		"type": "ack",
		"data": map[string]string{"camera_id": c.cameraID},
	})
	if err != nil {
		return
	}
	_ = c.enqueue(ack)
}
