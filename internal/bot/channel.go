package bot

import (
	"context"
	"errors"
	"sync"

	"github.com/tgifai/kahlabot/internal/pkg/logs"
	"github.com/tgifai/kahlabot/internal/pkg/prometheus"
	"github.com/tgifai/kahlabot/internal/stargate"
)

var ErrChannelAlive = errors.New("event channel is already alive")

// Transport opens channel streams; *stargate.Dialer is the production one.
type Transport interface {
	Open(ctx context.Context, address string) stargate.Stream
}

// ShutdownSignal is the one-shot close request of one channel generation.
// A set signal marks its channel as superseded.
type ShutdownSignal struct {
	generation uint64
	once       sync.Once
	done       chan struct{}
}

func newShutdownSignal(generation uint64) *ShutdownSignal {
	return &ShutdownSignal{generation: generation, done: make(chan struct{})}
}

func (s *ShutdownSignal) Set() {
	s.once.Do(func() { close(s.done) })
}

func (s *ShutdownSignal) IsSet() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *ShutdownSignal) Done() <-chan struct{} {
	return s.done
}

func (s *ShutdownSignal) Generation() uint64 {
	return s.generation
}

// EventChannel owns the single persistent connection of a bot.
type EventChannel struct {
	transport  Transport
	session    *Session
	dispatcher *Dispatcher
	// reconnect is called from a detached goroutine when a generation is
	// lost without being shut down.
	reconnect func(ctx context.Context, generation uint64) error

	mu         sync.Mutex
	signal     *ShutdownSignal
	generation uint64
}

func NewEventChannel(transport Transport, session *Session, dispatcher *Dispatcher,
	reconnect func(ctx context.Context, generation uint64) error) *EventChannel {
	return &EventChannel{
		transport:  transport,
		session:    session,
		dispatcher: dispatcher,
		reconnect:  reconnect,
	}
}

// Open connects to address and blocks for the lifetime of the channel. It
// returns ErrChannelAlive without side effects when a channel is already
// live; transport failures are never returned.
func (c *EventChannel) Open(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.signal != nil && !c.signal.IsSet() {
		gen := c.signal.generation
		c.mu.Unlock()
		logs.CtxWarn(ctx, "[channel] generation %d is still alive, refuse to open %s", gen, address)
		return ErrChannelAlive
	}
	c.generation++
	signal := newShutdownSignal(c.generation)
	c.signal = signal
	c.mu.Unlock()

	logs.CtxInfo(ctx, "[channel] listening to account channel (generation %d): %s", signal.generation, address)
	stream := c.transport.Open(ctx, address)
	prometheus.ChannelOpens.Inc()
	c.session.advance(StateConnected)

	c.lifecycle(ctx, signal, stream)

	c.mu.Lock()
	// The address of a closed channel is not reused.
	if c.generation == signal.generation {
		c.session.demote(StateConnected, StateProfileLoaded)
	}
	c.mu.Unlock()
	return nil
}

func (c *EventChannel) lifecycle(ctx context.Context, signal *ShutdownSignal, stream stargate.Stream) {
	defer func() {
		if err := stream.Close(); err != nil {
			logs.CtxDebug(ctx, "[channel] close generation %d: %v", signal.generation, err)
		}
		logs.CtxInfo(ctx, "[channel] generation %d closed", signal.generation)
	}()

	notes := stream.Notifications()
	triggered := false
	lost := func(err error) {
		if signal.IsSet() || triggered {
			return
		}
		triggered = true
		logs.CtxWarn(ctx, "[channel] generation %d disconnected: %v", signal.generation, err)
		go c.triggerReconnect(ctx, signal.generation)
	}

	for {
		select {
		case <-signal.Done():
			return
		case <-ctx.Done():
			c.shutdown(signal.generation)
			return
		case n, ok := <-notes:
			if !ok {
				lost(errors.New("notification stream ended"))
				notes = nil
				continue
			}
			switch n.Kind {
			case stargate.KindReconnecting:
				logs.CtxWarn(ctx, "[channel] dial attempt %d failed, retrying: %v", n.Attempt, n.Err)
			case stargate.KindFrame:
				frameCtx := logs.WithNewLogID(ctx)
				if err := c.dispatcher.Dispatch(frameCtx, n.Frame); err != nil {
					logs.CtxError(frameCtx, "[channel] dispatch frame: %v", err)
				}
			case stargate.KindDisconnected:
				lost(n.Err)
			}
		}
	}
}

func (c *EventChannel) triggerReconnect(ctx context.Context, generation uint64) {
	if c.reconnect == nil {
		return
	}
	if err := c.reconnect(ctx, generation); err != nil {
		logs.CtxError(ctx, "[channel] reconnect after generation %d failed: %v", generation, err)
	}
}

// RequestShutdown sets and clears the current signal. Calling it without a
// live channel is a no-op.
func (c *EventChannel) RequestShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signal != nil {
		c.signal.Set()
		c.signal = nil
	}
}

// shutdown is RequestShutdown restricted to one generation. It reports
// whether that generation was live.
func (c *EventChannel) shutdown(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signal == nil || c.signal.generation != generation || c.signal.IsSet() {
		return false
	}
	c.signal.Set()
	c.signal = nil
	return true
}

func (c *EventChannel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signal != nil && !c.signal.IsSet()
}

// Generation is the number of the most recently opened channel.
func (c *EventChannel) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}
