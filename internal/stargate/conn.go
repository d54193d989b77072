// Package stargate is the websocket transport behind the Kahla event
// channel. A Stream turns one websocket session into an ordered sequence of
// notifications; it never reconnects on its own once established.
package stargate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"
	"github.com/gorilla/websocket"

	"github.com/tgifai/kahlabot/internal/pkg/logs"
)

type Kind int

const (
	// KindFrame carries one inbound text frame.
	KindFrame Kind = iota
	// KindReconnecting reports a failed dial attempt that will be retried.
	KindReconnecting
	// KindDisconnected is the last notification of a stream that was not
	// closed locally.
	KindDisconnected
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindReconnecting:
		return "reconnecting"
	case KindDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Notification struct {
	Kind    Kind
	Frame   []byte
	Attempt int
	Err     error
}

// Stream is one channel session. Notifications is closed after the final
// notification; Close is idempotent and suppresses KindDisconnected.
type Stream interface {
	Notifications() <-chan Notification
	Close() error
}

var ErrAttemptsExhausted = errors.New("stargate dial attempts exhausted")

const (
	defaultAttempts     = 5
	defaultBaseDelay    = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultPingInterval = 25 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultReadLimit    = 1 << 20
	closeGrace          = time.Second
	notificationBuffer  = 64
)

type Dialer struct {
	Attempts     int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	Header       http.Header

	ws *websocket.Dialer
}

func NewDialer(attempts int, handshakeTimeout time.Duration) *Dialer {
	ws := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		ws.HandshakeTimeout = handshakeTimeout
	}
	return &Dialer{
		Attempts:     attempts,
		BaseDelay:    defaultBaseDelay,
		MaxDelay:     defaultMaxDelay,
		PingInterval: defaultPingInterval,
		PongWait:     defaultPongWait,
		ws:           &ws,
	}
}

// Open starts a stream towards address and returns immediately. Dial
// failures are reported as KindReconnecting until the attempts run out, then
// as KindDisconnected.
func (d *Dialer) Open(ctx context.Context, address string) Stream {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &conn{
		dialer:  d,
		address: address,
		notes:   make(chan Notification, notificationBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.run()
	return c
}

func (d *Dialer) attempts() int {
	if d.Attempts <= 0 {
		return defaultAttempts
	}
	return d.Attempts
}

// backoff doubles per attempt up to MaxDelay, plus up to half of it as jitter.
func (d *Dialer) backoff(attempt int) time.Duration {
	base, limit := d.BaseDelay, d.MaxDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	if limit <= 0 {
		limit = defaultMaxDelay
	}
	delay := base
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	delay = min(delay, limit)

	half := uint32(delay / time.Millisecond / 2)
	return delay + time.Duration(fastrand.Uint32n(half+1))*time.Millisecond
}

type conn struct {
	dialer  *Dialer
	address string
	notes   chan Notification

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	ws        *websocket.Conn
	closeOnce sync.Once
}

func (c *conn) Notifications() <-chan Notification {
	return c.notes
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = ws.Close()
	})
	return err
}

func (c *conn) closed() bool {
	return c.ctx.Err() != nil
}

func (c *conn) emit(n Notification) {
	select {
	case c.notes <- n:
	case <-c.ctx.Done():
	}
}

func (c *conn) run() {
	defer close(c.notes)

	ws, err := c.dial()
	if err != nil {
		if !c.closed() {
			c.emit(Notification{Kind: KindDisconnected, Err: err})
		}
		return
	}
	defer ws.Close()

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	// Close may have run between dial and publishing ws.
	if c.closed() {
		return
	}

	ws.SetReadLimit(defaultReadLimit)
	if wait := c.dialer.PongWait; wait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(wait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})
	}
	go c.keepalive(ws)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.closed() {
				return
			}
			logs.CtxDebug(c.ctx, "[stargate] read from %s stopped: %v", c.address, err)
			c.emit(Notification{Kind: KindDisconnected, Err: err})
			return
		}
		c.emit(Notification{Kind: KindFrame, Frame: data})
	}
}

func (c *conn) dial() (*websocket.Conn, error) {
	total := c.dialer.attempts()
	var lastErr error
	for attempt := 1; attempt <= total; attempt++ {
		ws, resp, err := c.dialer.ws.DialContext(c.ctx, c.address, c.dialer.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			return ws, nil
		}
		lastErr = err
		if c.closed() {
			return nil, c.ctx.Err()
		}
		if attempt == total {
			break
		}

		c.emit(Notification{Kind: KindReconnecting, Attempt: attempt, Err: err})
		timer := time.NewTimer(c.dialer.backoff(attempt))
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, c.ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w after %d tries: %v", ErrAttemptsExhausted, total, lastErr)
}

func (c *conn) keepalive(ws *websocket.Conn) {
	interval := c.dialer.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGrace)); err != nil {
				return
			}
		}
	}
}
