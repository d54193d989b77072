package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/gg/gslice"

	"github.com/tgifai/kahlabot/internal/config"
	"github.com/tgifai/kahlabot/internal/kahla"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
	"github.com/tgifai/kahlabot/internal/pkg/prometheus"
	"github.com/tgifai/kahlabot/internal/pkg/version"
)

const (
	// SettingServerAddress caches the chosen server between runs.
	SettingServerAddress = "server_address"

	OfficialServer = "https://server.kahla.app"
	StagingServer  = "https://staging.server.kahla.app"

	oauthRedirect = "redirect_uri=https%3A%2F%2Flocalhost%3A5000"
)

type Options struct {
	Service   Service
	Settings  config.Settings
	Prompter  Prompter
	Policy    Policy
	Transport Transport
	// APIVersion is the server API version this client was built against.
	APIVersion string
}

// SessionManager drives the handshake and owns the event channel of one bot.
type SessionManager struct {
	session    *Session
	gate       *ConnectGate
	service    Service
	settings   config.Settings
	prompter   Prompter
	dispatcher *Dispatcher
	channel    *EventChannel
	toolkit    *Toolkit
	apiVersion string

	// initialized is guarded by gate.
	initialized bool
}

func NewSessionManager(opts Options) (*SessionManager, error) {
	switch {
	case opts.Service == nil:
		return nil, errors.New("session manager requires a service")
	case opts.Settings == nil:
		return nil, errors.New("session manager requires settings")
	case opts.Prompter == nil:
		return nil, errors.New("session manager requires a prompter")
	case opts.Policy == nil:
		return nil, errors.New("session manager requires a policy")
	case opts.Transport == nil:
		return nil, errors.New("session manager requires a transport")
	}

	sm := &SessionManager{
		session:    &Session{},
		gate:       NewConnectGate(),
		service:    opts.Service,
		settings:   opts.Settings,
		prompter:   opts.Prompter,
		apiVersion: opts.APIVersion,
	}
	sm.dispatcher = NewDispatcher(sm.session, opts.Service, opts.Policy)
	sm.channel = NewEventChannel(opts.Transport, sm.session, sm.dispatcher, sm.Reconnect)
	sm.toolkit = &Toolkit{
		session: sm.session,
		service: opts.Service,
		joined:  sm.dispatcher.GroupConnected,
	}
	return sm, nil
}

func (sm *SessionManager) Session() *Session         { return sm.session }
func (sm *SessionManager) Channel() *EventChannel    { return sm.channel }
func (sm *SessionManager) Toolkit() *Toolkit         { return sm.toolkit }
func (sm *SessionManager) Dispatcher() *Dispatcher   { return sm.dispatcher }
func (sm *SessionManager) Service() Service          { return sm.service }
func (sm *SessionManager) Settings() config.Settings { return sm.settings }

// Connect runs the handshake and then blocks on the event channel.
func (sm *SessionManager) Connect(ctx context.Context) error {
	address, err := sm.RunHandshake(ctx)
	if err != nil {
		return err
	}
	return sm.channel.Open(ctx, address)
}

// Reconnect replaces a lost channel generation. It does nothing when that
// generation was shut down or superseded in the meantime.
func (sm *SessionManager) Reconnect(ctx context.Context, generation uint64) error {
	if err := sm.gate.Acquire(ctx); err != nil {
		return err
	}
	if !sm.channel.shutdown(generation) {
		sm.gate.Release()
		logs.CtxDebug(ctx, "[session] generation %d already superseded, skip reconnect", generation)
		return nil
	}

	prometheus.Reconnects.Inc()
	logs.CtxInfo(ctx, "[session] reconnecting after generation %d", generation)
	sm.session.Reset()
	address, err := sm.handshake(ctx)
	sm.gate.Release()
	if err != nil {
		return err
	}
	return sm.channel.Open(ctx, address)
}

// RunHandshake brings the session to StateChannelAddressed and returns the
// channel address. Callers that find the session already there get the
// address back without any network call.
func (sm *SessionManager) RunHandshake(ctx context.Context) (string, error) {
	if err := sm.gate.Acquire(ctx); err != nil {
		return "", err
	}
	defer sm.gate.Release()
	return sm.handshake(ctx)
}

func (sm *SessionManager) handshake(ctx context.Context) (string, error) {
	if sm.session.reached(StateChannelAddressed) {
		return sm.session.ChannelAddress(), nil
	}

	ctx = logs.WithNewLogID(ctx)
	start := time.Now()
	address, err := sm.steps(ctx)
	if err != nil {
		prometheus.Handshakes.WithLabelValues("error").Inc()
		logs.CtxError(ctx, "[session] handshake stopped at %s: %v", sm.session.State(), err)
		return "", err
	}
	prometheus.Handshakes.WithLabelValues("ok").Inc()
	logs.CtxInfo(ctx, "[session] handshake finished in %s", time.Since(start).Round(time.Millisecond))

	sm.replay(ctx)
	return address, nil
}

func (sm *SessionManager) steps(ctx context.Context) (string, error) {
	if !sm.session.reached(StateServerSelected) {
		server, err := sm.SelectServer(ctx)
		if err != nil {
			return "", err
		}
		if err := sm.service.UseServer(server); err != nil {
			return "", fmt.Errorf("use server %s: %w", server, err)
		}
		sm.session.setServer(server)
		sm.session.advance(StateServerSelected)
	}

	if !sm.session.reached(StateReachable) {
		if err := sm.ProbeServer(ctx, sm.session.Server()); err != nil {
			return "", err
		}
		sm.session.advance(StateReachable)
	}

	if !sm.session.reached(StateAuthenticated) {
		if err := sm.EnsureAuthenticated(ctx); err != nil {
			return "", err
		}
		sm.session.advance(StateAuthenticated)
	}

	if !sm.session.reached(StateProfileLoaded) {
		profile, err := sm.LoadProfile(ctx)
		if err != nil {
			return "", err
		}
		sm.session.setProfile(profile)
		if !sm.initialized {
			if err := sm.dispatcher.Init(ctx, sm.toolkit); err != nil {
				return "", err
			}
			sm.initialized = true
		}
		sm.session.advance(StateProfileLoaded)
	}

	address, err := sm.ResolveChannelAddress(ctx)
	if err != nil {
		return "", err
	}
	sm.session.setAddress(address)
	sm.session.advance(StateChannelAddressed)
	return address, nil
}

// SelectServer returns the cached server address, asking the operator when
// there is none.
func (sm *SessionManager) SelectServer(ctx context.Context) (string, error) {
	if cached, ok := sm.settings.Get(SettingServerAddress); ok && strings.TrimSpace(cached) != "" {
		return strings.TrimSpace(cached), nil
	}

	var address string
	for address == "" {
		answer, err := sm.prompter.Ask(ctx, fmt.Sprintf(
			"Where is your Kahla server?\n  1. %s\n  2. %s\nOr type the server root address", OfficialServer, StagingServer))
		if err != nil {
			return "", fmt.Errorf("ask server address: %w", err)
		}
		address = ResolveServerChoice(answer)
	}

	if err := sm.settings.Set(SettingServerAddress, address); err != nil {
		logs.CtxWarn(ctx, "[session] cache server address failed: %v", err)
	}
	return address, nil
}

// ResolveServerChoice maps the operator's menu answer to a server address.
func ResolveServerChoice(answer string) string {
	switch answer = strings.TrimSpace(answer); answer {
	case "1":
		return OfficialServer
	case "2":
		return StagingServer
	default:
		return answer
	}
}

// ProbeServer checks the server is alive and compares API versions.
// A version mismatch is only a warning.
func (sm *SessionManager) ProbeServer(ctx context.Context, address string) error {
	logs.CtxInfo(ctx, "[session] probing kahla server %s", address)
	index, err := sm.service.Index(ctx)
	if err != nil {
		return fmt.Errorf("probe server %s: %w", address, err)
	}

	logs.CtxInfo(ctx, "[session] server time %s, local time %s",
		index.UTCTime.Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	match, err := version.Compare(sm.apiVersion, index.APIVersion)
	switch {
	case err != nil:
		logs.CtxWarn(ctx, "[session] cannot compare api versions (local %q, server %q): %v", sm.apiVersion, index.APIVersion, err)
	case match == version.Mismatch:
		logs.CtxWarn(ctx, "[session] api version mismatch: local %s, server %s; things may break", sm.apiVersion, index.APIVersion)
	case match == version.Compatible:
		logs.CtxInfo(ctx, "[session] api version %s is compatible with server %s", sm.apiVersion, index.APIVersion)
	default:
		logs.CtxInfo(ctx, "[session] api version %s", index.APIVersion)
	}
	return nil
}

// EnsureAuthenticated signs in through the OAuth code flow when needed. It
// keeps asking for a code until the server accepts one or ctx ends.
func (sm *SessionManager) EnsureAuthenticated(ctx context.Context) error {
	signed, err := sm.service.SignInStatus(ctx)
	if err != nil {
		return fmt.Errorf("query sign in status: %w", err)
	}
	if signed {
		logs.CtxInfo(ctx, "[session] already signed in")
		return nil
	}

	location, err := sm.service.OAuthURL(ctx)
	if err != nil {
		return fmt.Errorf("get oauth address: %w", err)
	}
	logs.CtxWarn(ctx, "[session] please open this address in your browser to sign in:\n%s", SignInAddress(location))

	for {
		code, err := sm.askCode(ctx)
		if err != nil {
			return err
		}
		logs.CtxInfo(ctx, "[session] signing in with code %d", code)
		err = sm.service.SignIn(ctx, code)
		if err == nil {
			logs.CtxInfo(ctx, "[session] signed in")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs.CtxError(ctx, "[session] sign in rejected: %v", err)
	}
}

// SignInAddress trims the server's OAuth address to its first query
// parameter and points the redirect at localhost, where the operator reads
// the code from the address bar.
func SignInAddress(location string) string {
	base, _, _ := strings.Cut(location, "&")
	return base + "&" + oauthRedirect
}

func (sm *SessionManager) askCode(ctx context.Context) (int, error) {
	for {
		answer, err := sm.prompter.Ask(ctx, "Please enter the `code` from the address bar after signing in")
		if err != nil {
			return 0, fmt.Errorf("ask sign in code: %w", err)
		}
		code, err := strconv.Atoi(strings.TrimSpace(answer))
		if err != nil {
			logs.CtxError(ctx, "[session] invalid code %q, the code is a number in the address bar", answer)
			continue
		}
		return code, nil
	}
}

func (sm *SessionManager) LoadProfile(ctx context.Context) (*kahla.User, error) {
	profile, err := sm.service.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	logs.CtxInfo(ctx, "[session] signed in as %s (%s)", profile.NickName, profile.ID)
	return profile, nil
}

func (sm *SessionManager) ResolveChannelAddress(ctx context.Context) (string, error) {
	pusher, err := sm.service.InitPusher(ctx)
	if err != nil {
		return "", fmt.Errorf("init pusher: %w", err)
	}
	if pusher.ServerPath == "" {
		return "", errors.New("init pusher: empty channel address")
	}
	return pusher.ServerPath, nil
}

// replay pushes what happened while the bot was offline through the
// dispatcher: open friend requests, then every joined group.
func (sm *SessionManager) replay(ctx context.Context) {
	requests, err := sm.service.MyRequests(ctx)
	if err != nil {
		logs.CtxWarn(ctx, "[session] load pending friend requests: %v", err)
	} else {
		pending := gslice.Filter(requests, func(r kahla.Request) bool { return !r.Completed })
		sm.session.setPending(pending)
		for _, req := range pending {
			if err := sm.dispatcher.FriendRequest(ctx, replayRequest(req)); err != nil {
				logs.CtxError(ctx, "[session] replay friend request %d: %v", req.ID, err)
			}
		}
	}

	mine, err := sm.service.Mine(ctx)
	if err != nil {
		logs.CtxWarn(ctx, "[session] load joined groups: %v", err)
		return
	}
	for _, group := range mine.Groups {
		if err := sm.dispatcher.GroupConnected(ctx, group); err != nil {
			logs.CtxError(ctx, "[session] replay group %d: %v", group.ID, err)
		}
	}
}

// LogOff closes the channel and signs the account out. It does not take the
// connect gate: a handshake holding the gate may be waiting on the console
// that issued the logout.
func (sm *SessionManager) LogOff(ctx context.Context) error {
	sm.channel.RequestShutdown()
	if err := sm.service.LogOff(ctx); err != nil {
		return fmt.Errorf("log off: %w", err)
	}
	sm.session.fallback(StateReachable)
	logs.CtxInfo(ctx, "[session] logged off")
	return nil
}
