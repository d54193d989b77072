// Package echo is a bot that answers every message with a lightly edited
// copy of it.
package echo

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/gg/gconv"
	"github.com/bytedance/sonic"

	"github.com/tgifai/kahlabot/internal/bot"
	"github.com/tgifai/kahlabot/internal/kahla"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
)

const defaultDelay = 700 * time.Millisecond

type Config struct {
	Delay           time.Duration
	AcceptFriends   bool
	JoinInvitations bool
	ReplyWhenMuted  bool
}

// ParseConfig reads the bot.config section. Unknown keys are ignored.
func ParseConfig(configMap map[string]any) Config {
	cfg := Config{Delay: defaultDelay, AcceptFriends: true, JoinInvitations: true}
	if v, ok := configMap["delay_ms"]; ok {
		if ms := gconv.To[int](v); ms >= 0 {
			cfg.Delay = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := configMap["accept_friends"]; ok {
		cfg.AcceptFriends = gconv.To[bool](v)
	}
	if v, ok := configMap["join_invitations"]; ok {
		cfg.JoinInvitations = gconv.To[bool](v)
	}
	cfg.ReplyWhenMuted = gconv.To[bool](configMap["reply_when_muted"])
	return cfg
}

type Bot struct {
	cfg Config
	kit *bot.Toolkit
}

func New(configMap map[string]any) (bot.Policy, error) {
	return &Bot{cfg: ParseConfig(configMap)}, nil
}

func (b *Bot) OnInit(ctx context.Context, kit *bot.Toolkit) error {
	b.kit = kit
	raw, err := sonic.ConfigDefault.MarshalIndent(kit.Profile(), "", "  ")
	if err == nil {
		logs.CtxInfo(ctx, "[echo] running as:\n%s", raw)
	}
	return nil
}

func (b *Bot) OnFriendRequest(ctx context.Context, ev *kahla.NewFriendRequestEvent) (bool, error) {
	logs.CtxInfo(ctx, "[echo] friend request %d from %s, accept=%v", ev.RequestID, ev.Requester.NickName, b.cfg.AcceptFriends)
	return b.cfg.AcceptFriends, nil
}

func (b *Bot) OnGroupConnected(ctx context.Context, group kahla.Group) error {
	logs.CtxInfo(ctx, "[echo] connected to group %d %s", group.ID, group.GroupName)
	return nil
}

// OnMessage echoes text back to its conversation. The dispatcher never
// delivers the bot's own messages here.
func (b *Bot) OnMessage(ctx context.Context, text string, ev *kahla.NewMessageEvent) error {
	if ev.Muted && !b.cfg.ReplyWhenMuted {
		return nil
	}

	reply := Reply(text, ev, b.kit.Profile())
	if b.cfg.Delay > 0 {
		timer := time.NewTimer(b.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return b.kit.SendMessage(ctx, reply, ev.Message.ConversationID, ev.AESKey)
}

func (b *Bot) OnGroupInvitation(ctx context.Context, groupID int, ev *kahla.NewMessageEvent) error {
	if !b.cfg.JoinInvitations {
		return nil
	}
	group, err := b.kit.GroupSummary(ctx, groupID)
	if err != nil {
		return err
	}
	if group.HasPassword {
		logs.CtxWarn(ctx, "[echo] group %s needs a password, invitation from %s ignored", group.GroupName, ev.Message.SenderID)
		return nil
	}
	return b.kit.JoinGroup(ctx, group.GroupName, "")
}

// Reply turns a question into an exclamation: "吗" is dropped and question
// marks become exclamation marks. The bot's own mention is removed, and the
// sender is mentioned back when the bot was mentioned.
func Reply(text string, ev *kahla.NewMessageEvent, self *kahla.User) string {
	reply := strings.ReplaceAll(text, "吗", "")
	reply = strings.ReplaceAll(reply, "？", "！")
	reply = strings.ReplaceAll(reply, "?", "!")
	if self != nil {
		reply = bot.RemoveMention(reply, *self)
	}
	if ev.Mentioned {
		reply = bot.AddMention(reply, ev.Message.Sender)
	}
	return reply
}
