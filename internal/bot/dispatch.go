package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/tgifai/kahlabot/internal/cipher"
	"github.com/tgifai/kahlabot/internal/kahla"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
	"github.com/tgifai/kahlabot/internal/pkg/prometheus"
	"github.com/tgifai/kahlabot/internal/pkg/utils"
)

// groupDirective prefixes a message that invites the bot into a group.
const groupDirective = "[group]"

// Dispatcher decodes channel frames and routes them into the policy. Live
// frames and connect-time replay go through the same entry points and are
// serialized by mu.
type Dispatcher struct {
	session *Session
	service Service
	policy  Policy

	mu sync.Mutex
}

func NewDispatcher(session *Session, service Service, policy Policy) *Dispatcher {
	return &Dispatcher{
		session: session,
		service: service,
		policy:  policy,
	}
}

// Dispatch handles one raw frame. Frames that cannot be used are dropped and
// reported through logs and metrics; only policy and completion failures
// are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) error {
	prometheus.FramesReceived.Inc()

	var env kahla.Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		prometheus.FramesDropped.WithLabelValues("malformed").Inc()
		logs.CtxWarn(ctx, "[dispatch] drop malformed frame %q: %v", utils.Truncate80(string(raw)), err)
		return nil
	}

	switch env.Type {
	case kahla.NewMessage:
		var ev kahla.NewMessageEvent
		if err := sonic.Unmarshal(raw, &ev); err != nil {
			prometheus.FramesDropped.WithLabelValues("malformed").Inc()
			logs.CtxWarn(ctx, "[dispatch] drop malformed message event: %v", err)
			return nil
		}
		return d.Message(ctx, &ev)
	case kahla.NewFriendRequest:
		var ev kahla.NewFriendRequestEvent
		if err := sonic.Unmarshal(raw, &ev); err != nil {
			prometheus.FramesDropped.WithLabelValues("malformed").Inc()
			logs.CtxWarn(ctx, "[dispatch] drop malformed friend request event: %v", err)
			return nil
		}
		return d.FriendRequest(ctx, &ev)
	case kahla.Unrecognized:
		prometheus.FramesDropped.WithLabelValues("unknown").Inc()
		return nil
	default:
		prometheus.FramesDropped.WithLabelValues("ignored").Inc()
		logs.CtxDebug(ctx, "[dispatch] ignore %s event", env.Type)
		return nil
	}
}

// Message decrypts an inbound message and routes it either to the group
// invitation hook or to the plain message hook.
func (d *Dispatcher) Message(ctx context.Context, ev *kahla.NewMessageEvent) error {
	text, err := cipher.Decrypt(ev.Message.Content, ev.AESKey)
	if err != nil {
		prometheus.DecryptFailures.Inc()
		prometheus.FramesDropped.WithLabelValues("decrypt").Inc()
		logs.CtxWarn(ctx, "[dispatch] drop message %d in conversation %d: decrypt: %v",
			ev.Message.ID, ev.Message.ConversationID, err)
		return nil
	}

	if profile := d.session.Profile(); profile != nil && ev.Message.SenderID == profile.ID {
		prometheus.FramesDropped.WithLabelValues("self").Inc()
		return nil
	}

	ctx, unlock := d.enter(ctx)
	defer unlock()

	if rest, ok := strings.CutPrefix(text, groupDirective); ok {
		if groupID, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
			logs.CtxInfo(ctx, "[dispatch] group invitation to %d from %s", groupID, ev.Message.SenderID)
			if err := d.policy.OnGroupInvitation(ctx, groupID, ev); err != nil {
				return fmt.Errorf("group invitation hook: %w", err)
			}
			return nil
		}
	}

	logs.CtxDebug(ctx, "[dispatch] message in conversation %d from %s: %s",
		ev.Message.ConversationID, ev.Message.SenderID, utils.Truncate80(text))
	if err := d.policy.OnMessage(ctx, text, ev); err != nil {
		return fmt.Errorf("message hook: %w", err)
	}
	return nil
}

// FriendRequest asks the policy about a request and completes it with the
// answer.
func (d *Dispatcher) FriendRequest(ctx context.Context, ev *kahla.NewFriendRequestEvent) error {
	hookCtx, unlock := d.enter(ctx)
	accept, err := d.policy.OnFriendRequest(hookCtx, ev)
	unlock()
	if err != nil {
		return fmt.Errorf("friend request hook for %d: %w", ev.RequestID, err)
	}

	if err := d.service.CompleteRequest(ctx, ev.RequestID, accept); err != nil {
		return fmt.Errorf("complete request %d: %w", ev.RequestID, err)
	}
	logs.CtxInfo(ctx, "[dispatch] friend request %d from %s completed, accept=%v", ev.RequestID, ev.RequesterID, accept)
	return nil
}

func (d *Dispatcher) GroupConnected(ctx context.Context, group kahla.Group) error {
	ctx, unlock := d.enter(ctx)
	defer unlock()
	if err := d.policy.OnGroupConnected(ctx, group); err != nil {
		return fmt.Errorf("group connected hook for %d: %w", group.ID, err)
	}
	return nil
}

func (d *Dispatcher) Init(ctx context.Context, kit *Toolkit) error {
	ctx, unlock := d.enter(ctx)
	defer unlock()
	if err := d.policy.OnInit(ctx, kit); err != nil {
		return fmt.Errorf("init hook: %w", err)
	}
	return nil
}

type hookScope struct{}

// enter takes the hook lock unless ctx already runs inside a hook of this
// dispatcher, as when a policy joins a group from OnGroupInvitation.
func (d *Dispatcher) enter(ctx context.Context) (context.Context, func()) {
	if owner, _ := ctx.Value(hookScope{}).(*Dispatcher); owner == d {
		return ctx, func() {}
	}
	d.mu.Lock()
	return context.WithValue(ctx, hookScope{}, d), d.mu.Unlock
}

// replayRequest turns a pending request snapshot into the live event shape.
func replayRequest(req kahla.Request) *kahla.NewFriendRequestEvent {
	return &kahla.NewFriendRequestEvent{
		Envelope:    kahla.Envelope{Type: kahla.NewFriendRequest},
		RequestID:   req.ID,
		RequesterID: req.CreatorID,
		Requester:   req.Creator,
	}
}
