package bot

import (
	"context"
	"testing"

	"github.com/tgifai/kahlabot/internal/cipher"
	"github.com/tgifai/kahlabot/internal/kahla"
)

func TestAddMention(t *testing.T) {
	got := AddMention("你好！", kahla.User{NickName: "Ann Lee"})
	if got != "你好！ @AnnLee" {
		t.Fatalf("AddMention = %q", got)
	}
}

func TestToolkit_RemoveMentionMe(t *testing.T) {
	session := &Session{}
	kit := &Toolkit{session: session}
	if got := kit.RemoveMentionMe("@EchoBot hi"); got != "@EchoBot hi" {
		t.Fatalf("without profile = %q", got)
	}

	session.setProfile(&kahla.User{ID: "bot-id", NickName: "Echo Bot"})
	if got := kit.RemoveMentionMe("@EchoBot hi"); got != " hi" {
		t.Fatalf("RemoveMentionMe = %q", got)
	}
}

func TestToolkit_SendMessageEncrypts(t *testing.T) {
	service := newFakeService()
	kit := &Toolkit{session: &Session{}, service: service}

	if err := kit.SendMessage(context.Background(), "你好！", 3, "conversation-key"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	sent := service.sent[3]
	if len(sent) != 1 {
		t.Fatalf("sent = %v", sent)
	}
	plain, err := cipher.Decrypt(sent[0], "conversation-key")
	if err != nil || plain != "你好！" {
		t.Fatalf("sent content decrypts to %q, %v", plain, err)
	}
}
