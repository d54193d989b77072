package bot

import "context"

// ConnectGate is a binary permit serializing handshakes.
type ConnectGate struct {
	permit chan struct{}
}

func NewConnectGate() *ConnectGate {
	return &ConnectGate{permit: make(chan struct{}, 1)}
}

func (g *ConnectGate) Acquire(ctx context.Context) error {
	select {
	case g.permit <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *ConnectGate) Release() {
	select {
	case <-g.permit:
	default:
	}
}
