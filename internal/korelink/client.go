package korelink

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/arkanrelay/internal/hexlog"
	"github.com/ehrlich-b/arkanrelay/internal/logger"
)

const keepAliveInterval = 5 * time.Second

// FrameHandler is invoked once per fully-assembled inbound frame.
type FrameHandler func(kind byte, payload []byte)

// StateHandler is invoked on every connection state transition:
// "connecting", "connected", "disconnected".
type StateHandler func(state string, err error)

// Client is a reconnecting TCP client speaking the 3-byte framed protocol.
type Client struct {
	Host  string
	Ports []int
	Policy ReconnectPolicy
	Codec  Codec

	OnFrame FrameHandler
	OnState StateHandler

	mu      sync.Mutex
	conn    net.Conn
	queue   *sendQueue
	limiter *rate.Limiter

	recon *reconnectState
}

// New returns a client. Codec defaults to NoopCodec.
func New(host string, ports []int, policy ReconnectPolicy) *Client {
	return &Client{
		Host:   host,
		Ports:  ports,
		Policy: policy,
		Codec:  NoopCodec{},
		queue:  newSendQueue(),
		// Caps reconnect attempts to 5/sec even if something about the
		// controller keeps bouncing the connection instantly.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// SetOnFrame sets the inbound frame handler. Must be called before Run.
func (c *Client) SetOnFrame(h FrameHandler) { c.OnFrame = h }

func (c *Client) notify(state string, err error) {
	if c.OnState != nil {
		c.OnState(state, err)
	}
}

// Run dials and serves the link until ctx is cancelled, reconnecting with
// backoff-with-jitter and round-robin candidate ports on every failure.
func (c *Client) Run(ctx context.Context) error {
	c.recon = newReconnectState(c.Policy, c.Ports, time.Now().UnixNano())

	c.notify("connecting", nil)
	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notify("disconnected", ctx.Err())
			return ctx.Err()
		}
		c.notify("disconnected", err)
		delay := c.recon.scheduleReconnect()
		logger.App.Warn("korelink disconnected, reconnecting", "err", err, "delay", delay, "next_port", c.recon.currentPort())

		if err := c.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			c.notify("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.notify("connecting", nil)
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	port := c.recon.currentPort()
	addr := fmt.Sprintf("%s:%d", c.Host, port)
	connID := uuid.NewString()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.recon.onConnected()
	c.notify("connected", nil)
	logger.App.Info("korelink connected", "addr", addr, "conn_id", connID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- c.writerLoop(ctx, conn) }()
	go func() { errCh <- c.keepAliveLoop(ctx) }()

	readErr := c.readLoop(conn)
	cancel()
	<-errCh // drain one of the two background goroutines before returning
	return readErr
}

func (c *Client) readLoop(conn net.Conn) error {
	for {
		var hdr [HeaderSize]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		kind, length := DecodeHeader(hdr)

		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
		}
		payload = c.Codec.Decode(payload)
		if c.OnFrame != nil {
			c.OnFrame(kind, payload)
		}
	}
}

func (c *Client) writerLoop(ctx context.Context, conn net.Conn) error {
	for {
		buf, ok := c.queue.pop(ctx)
		if !ok {
			return ctx.Err()
		}
		if _, err := conn.Write(buf); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}

func (c *Client) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = c.SendFrame(KindKeepAlive, nil)
		}
	}
}

// SendFrame composes and enqueues a frame for delivery. It is safe to call
// from any goroutine; the write itself happens serially on the link's
// writer goroutine. A write failure is discovered by the writer loop, not
// here — the buffer is already queued and not replayed on failure.
func (c *Client) SendFrame(kind byte, payload []byte) error {
	encoded := c.Codec.Encode(payload)
	buf, err := EncodeFrame(kind, encoded)
	if err != nil {
		logger.App.Warn("dropped oversize frame", "kind", kind, "len", len(payload))
		return err
	}
	logger.Sock.Debug("korelink send", "kind", kind, "payload", hexlog.Dump(payload, 32))
	c.queue.push(buf)
	return nil
}

// sendQueue is a FIFO of already-encoded wire buffers with at most one
// consumer (the writer goroutine) draining it.
type sendQueue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

func newSendQueue() *sendQueue {
	return &sendQueue{notify: make(chan struct{}, 1)}
}

func (q *sendQueue) push(buf []byte) {
	q.mu.Lock()
	q.items = append(q.items, buf)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *sendQueue) pop(ctx context.Context) ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			buf := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return buf, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}
