package bot

import (
	"fmt"
	"sync"

	"github.com/tgifai/kahlabot/internal/kahla"
)

// State is the handshake progress of a Session. States are ordered; a step
// is skipped when the session already reached its state.
type State int32

const (
	StateIdle State = iota
	StateServerSelected
	StateReachable
	StateAuthenticated
	StateProfileLoaded
	StateChannelAddressed
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateServerSelected:
		return "server_selected"
	case StateReachable:
		return "reachable"
	case StateAuthenticated:
		return "authenticated"
	case StateProfileLoaded:
		return "profile_loaded"
	case StateChannelAddressed:
		return "channel_addressed"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is the in-memory state of one running bot. Only the handshake
// writes to it, and only while holding the ConnectGate.
type Session struct {
	mu      sync.RWMutex
	state   State
	server  string
	profile *kahla.User
	address string
	pending []kahla.Request
}

type SessionSnapshot struct {
	State          State
	Server         string
	Profile        *kahla.User
	ChannelAddress string
	Pending        []kahla.Request
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := SessionSnapshot{
		State:          s.state,
		Server:         s.server,
		ChannelAddress: s.address,
		Pending:        append([]kahla.Request(nil), s.pending...),
	}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	return snap
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Profile returns a copy of the signed-in user, or nil before the profile
// was loaded.
func (s *Session) Profile() *kahla.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	return &p
}

func (s *Session) Server() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

func (s *Session) ChannelAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

func (s *Session) Pending() []kahla.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]kahla.Request(nil), s.pending...)
}

// Reset rewinds the session to StateIdle. Cached values stay readable until
// the next handshake overwrites them.
func (s *Session) Reset() {
	s.mu.Lock()
	s.state = StateIdle
	s.address = ""
	s.pending = nil
	s.mu.Unlock()
}

func (s *Session) reached(state State) bool {
	return s.State() >= state
}

func (s *Session) advance(state State) {
	s.mu.Lock()
	if state > s.state {
		s.state = state
	}
	s.mu.Unlock()
}

// fallback moves the state back without touching cached values.
func (s *Session) fallback(state State) {
	s.mu.Lock()
	if state < s.state {
		s.state = state
	}
	s.mu.Unlock()
}

// demote moves the state from one value to a lower one, and does nothing if
// the state changed in the meantime.
func (s *Session) demote(from, to State) {
	s.mu.Lock()
	if s.state == from {
		s.state = to
	}
	s.mu.Unlock()
}

func (s *Session) setServer(address string) {
	s.mu.Lock()
	s.server = address
	s.mu.Unlock()
}

func (s *Session) setProfile(u *kahla.User) {
	s.mu.Lock()
	s.profile = u
	s.mu.Unlock()
}

func (s *Session) setAddress(address string) {
	s.mu.Lock()
	s.address = address
	s.mu.Unlock()
}

func (s *Session) setPending(reqs []kahla.Request) {
	s.mu.Lock()
	s.pending = reqs
	s.mu.Unlock()
}
