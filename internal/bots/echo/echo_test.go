package echo

import (
	"context"
	"sync"
	"testing"

	"github.com/tgifai/kahlabot/internal/bot"
	"github.com/tgifai/kahlabot/internal/cipher"
	"github.com/tgifai/kahlabot/internal/kahla"
)

type sentMessage struct {
	conversationID int
	content        string
}

// stubService implements only what the echo bot calls; the embedded nil
// interface panics on anything else.
type stubService struct {
	bot.Service

	mu     sync.Mutex
	sent   []sentMessage
	joined []string
	group  kahla.Group
}

func (s *stubService) SendMessage(_ context.Context, conversationID int, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{conversationID: conversationID, content: content})
	return nil
}

func (s *stubService) GroupSummary(_ context.Context, groupID int) (*kahla.Group, error) {
	g := s.group
	g.ID = groupID
	return &g, nil
}

func (s *stubService) JoinGroup(_ context.Context, groupName, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, groupName)
	return s.group.ID, nil
}

var botProfile = kahla.User{ID: "bot-id", NickName: "Echo Bot"}

func newTestBot(t *testing.T, service *stubService) *Bot {
	t.Helper()
	policy, err := New(map[string]any{"delay_ms": 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := policy.(*Bot)
	if err := b.OnInit(context.Background(), bot.NewToolkit(service, botProfile)); err != nil {
		t.Fatalf("OnInit: %v", err)
	}
	return b
}

func message(senderID, nick string, muted, mentioned bool) *kahla.NewMessageEvent {
	return &kahla.NewMessageEvent{
		Envelope: kahla.Envelope{Type: kahla.NewMessage},
		Message: kahla.Message{
			ConversationID: 3,
			SenderID:       senderID,
			Sender:         kahla.User{ID: senderID, NickName: nick},
		},
		AESKey:    "conversation-key",
		Muted:     muted,
		Mentioned: mentioned,
	}
}

func TestOnMessage_EchoesQuestionAsExclamation(t *testing.T) {
	service := &stubService{}
	b := newTestBot(t, service)

	if err := b.OnMessage(context.Background(), "你好吗？", message("ann", "Ann Lee", false, false)); err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	if len(service.sent) != 1 || service.sent[0].conversationID != 3 {
		t.Fatalf("sent = %+v", service.sent)
	}
	plain, err := cipher.Decrypt(service.sent[0].content, "conversation-key")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "你好！" {
		t.Fatalf("reply = %q, want %q", plain, "你好！")
	}
}

func TestOnMessage_SkipsMuted(t *testing.T) {
	service := &stubService{}
	b := newTestBot(t, service)
	ctx := context.Background()

	if err := b.OnMessage(ctx, "hi?", message("ann", "Ann Lee", true, false)); err != nil {
		t.Fatalf("OnMessage muted: %v", err)
	}
	if len(service.sent) != 0 {
		t.Fatalf("sent = %+v, want nothing", service.sent)
	}
}

func TestReply(t *testing.T) {
	self := &botProfile
	tests := []struct {
		name string
		text string
		ev   *kahla.NewMessageEvent
		want string
	}{
		{"question", "are you ok?", message("ann", "Ann Lee", false, false), "are you ok!"},
		{"mentioned", "@EchoBot 在吗？", message("ann", "Ann Lee", false, true), " 在！ @AnnLee"},
		{"plain", "hello", message("ann", "Ann Lee", false, false), "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reply(tt.text, tt.ev, self); got != tt.want {
				t.Fatalf("Reply(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestOnGroupInvitation_Joins(t *testing.T) {
	service := &stubService{group: kahla.Group{GroupName: "gophers"}}
	b := newTestBot(t, service)

	if err := b.OnGroupInvitation(context.Background(), 12, message("ann", "Ann Lee", false, false)); err != nil {
		t.Fatalf("OnGroupInvitation: %v", err)
	}
	if len(service.joined) != 1 || service.joined[0] != "gophers" {
		t.Fatalf("joined = %v", service.joined)
	}

	locked := &stubService{group: kahla.Group{GroupName: "secret", HasPassword: true}}
	b = newTestBot(t, locked)
	if err := b.OnGroupInvitation(context.Background(), 13, message("ann", "Ann Lee", false, false)); err != nil {
		t.Fatalf("OnGroupInvitation: %v", err)
	}
	if len(locked.joined) != 0 {
		t.Fatalf("joined a password-protected group: %v", locked.joined)
	}
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig(nil)
	if cfg.Delay != defaultDelay || !cfg.AcceptFriends || !cfg.JoinInvitations {
		t.Fatalf("defaults = %+v", cfg)
	}

	cfg = ParseConfig(map[string]any{"delay_ms": float64(10), "accept_friends": false})
	if cfg.Delay.Milliseconds() != 10 || cfg.AcceptFriends {
		t.Fatalf("parsed = %+v", cfg)
	}
}
