package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bytedance/gg/gslice"
	"github.com/fatih/color"

	"github.com/tgifai/kahlabot/internal/bot"
	"github.com/tgifai/kahlabot/internal/kahla"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
)

// RegisterBuiltins installs the operator commands for sm. Order matters:
// the first matching predicate wins.
func RegisterBuiltins(r *Router, sm *bot.SessionManager, out io.Writer) {
	b := &builtins{router: r, sm: sm, out: out}

	r.Handle("help", "Show available commands", Word("help"), b.help)
	r.Handle("clear", "Clear the screen", Prefix("clear"), b.clear)
	r.Handle("req", "List friend requests", Prefix("req"), b.requests)
	r.Handle("conv", "List conversations", Word("conv"), b.conversations)
	r.Handle("say", "say <conversationId> <text>: send a message", Word("say"), b.say)
	r.Handle("mute", "mute <group>: mute a group", Word("mute"), b.mute(true))
	r.Handle("unmute", "unmute <group>: unmute a group", Word("unmute"), b.mute(false))
	r.Handle("join", "join <group> [password]: join a group", Word("join"), b.join)
	r.Handle("reconnect", "Re-run the handshake and reopen the event channel", Word("reconnect"), b.reconnect)
	r.Handle("logout", "Close the event channel and sign out", Word("logout"), b.logout)
	r.Handle("exit", "Stop the bot", Word("exit"), func(context.Context, string) error { return ErrExit })
}

type builtins struct {
	router *Router
	sm     *bot.SessionManager
	out    io.Writer
}

func (b *builtins) help(context.Context, string) error {
	fmt.Fprintln(b.out, "Available commands:")
	for _, h := range b.router.List() {
		fmt.Fprintf(b.out, "  %-10s %s\n", h.Name, h.Description)
	}
	return nil
}

func (b *builtins) clear(context.Context, string) error {
	fmt.Fprint(b.out, "\033[H\033[2J")
	return nil
}

func (b *builtins) requests(ctx context.Context, _ string) error {
	requests, err := b.sm.Service().MyRequests(ctx)
	if err != nil {
		logs.CtxWarn(ctx, "[console] fetch friend requests failed, showing last snapshot: %v", err)
		requests = b.sm.Session().Pending()
	}
	if len(requests) == 0 {
		fmt.Fprintln(b.out, "No friend requests.")
		return nil
	}

	for _, req := range requests {
		fmt.Fprintf(b.out, "Name:\t%s\n", req.Creator.NickName)
		fmt.Fprintf(b.out, "Time:\t%s\n", req.CreateTime.Local().Format("2006-01-02 15:04:05"))
		if req.Completed {
			fmt.Fprintf(b.out, "\t%s\n\n", color.GreenString("Completed."))
		} else {
			fmt.Fprintf(b.out, "\t%s\n\n", color.YellowString("Pending."))
		}
	}
	return nil
}

func (b *builtins) conversations(ctx context.Context, _ string) error {
	contacts, err := b.sm.Service().Conversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	for _, one := range contacts {
		flags := make([]string, 0, 2)
		if one.Muted {
			flags = append(flags, "muted")
		}
		if one.SomeoneAtMe {
			flags = append(flags, color.MagentaString("@me"))
		}
		fmt.Fprintf(b.out, "%6d  %-24s unread=%d %s\n", one.ConversationID, one.DisplayName, one.UnReadAmount, strings.Join(flags, " "))
	}
	return nil
}

func (b *builtins) say(ctx context.Context, args string) error {
	idText, text, _ := strings.Cut(args, " ")
	text = strings.TrimSpace(text)
	conversationID, err := strconv.Atoi(idText)
	if err != nil || text == "" {
		return fmt.Errorf("usage: say <conversationId> <text>")
	}

	contacts, err := b.sm.Service().Conversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	contact, ok := gslice.Find(contacts, func(c kahla.Contact) bool { return c.ConversationID == conversationID }).Get()
	if !ok {
		return fmt.Errorf("conversation %d not found", conversationID)
	}
	return b.sm.Toolkit().SendMessage(ctx, text, conversationID, contact.AESKey)
}

func (b *builtins) mute(muted bool) func(context.Context, string) error {
	return func(ctx context.Context, args string) error {
		if args == "" {
			return fmt.Errorf("a group name is required")
		}
		if err := b.sm.Toolkit().MuteGroup(ctx, args, muted); err != nil {
			return err
		}
		fmt.Fprintf(b.out, "group %s muted=%v\n", args, muted)
		return nil
	}
}

func (b *builtins) join(ctx context.Context, args string) error {
	name, password, _ := strings.Cut(args, " ")
	if name == "" {
		return fmt.Errorf("usage: join <group> [password]")
	}
	return b.sm.Toolkit().JoinGroup(ctx, name, strings.TrimSpace(password))
}

// reconnect never blocks the console: the channel lifecycle runs detached.
func (b *builtins) reconnect(ctx context.Context, _ string) error {
	ch := b.sm.Channel()
	if ch.Alive() {
		generation := ch.Generation()
		go func() {
			if err := b.sm.Reconnect(ctx, generation); err != nil {
				logs.CtxError(ctx, "[console] reconnect failed: %v", err)
			}
		}()
		return nil
	}
	go func() {
		if err := b.sm.Connect(ctx); err != nil {
			logs.CtxError(ctx, "[console] connect failed: %v", err)
		}
	}()
	return nil
}

func (b *builtins) logout(ctx context.Context, _ string) error {
	return b.sm.LogOff(ctx)
}
