package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/tgifai/kahlabot/internal/cipher"
	"github.com/tgifai/kahlabot/internal/kahla"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
	"github.com/tgifai/kahlabot/internal/pkg/prometheus"
)

// Policy is implemented by concrete bots. Hooks are never invoked
// concurrently with each other.
type Policy interface {
	// OnInit runs once per process, after the profile is first loaded.
	OnInit(ctx context.Context, kit *Toolkit) error
	// OnFriendRequest decides whether a friend request is accepted.
	OnFriendRequest(ctx context.Context, ev *kahla.NewFriendRequestEvent) (bool, error)
	// OnGroupConnected runs for every joined group at connect time and for
	// every group joined afterwards.
	OnGroupConnected(ctx context.Context, group kahla.Group) error
	OnMessage(ctx context.Context, text string, ev *kahla.NewMessageEvent) error
	OnGroupInvitation(ctx context.Context, groupID int, ev *kahla.NewMessageEvent) error
}

// Service is the part of the Kahla API the runtime consumes.
type Service interface {
	UseServer(address string) error
	Index(ctx context.Context) (*kahla.IndexResponse, error)
	SignInStatus(ctx context.Context) (bool, error)
	OAuthURL(ctx context.Context) (string, error)
	SignIn(ctx context.Context, code int) error
	Me(ctx context.Context) (*kahla.User, error)
	InitPusher(ctx context.Context) (*kahla.PusherInfo, error)
	MyRequests(ctx context.Context) ([]kahla.Request, error)
	Mine(ctx context.Context) (*kahla.MineResponse, error)
	Conversations(ctx context.Context) ([]kahla.Contact, error)
	SendMessage(ctx context.Context, conversationID int, content string) error
	CompleteRequest(ctx context.Context, requestID int, accept bool) error
	SetGroupMuted(ctx context.Context, groupName string, muted bool) error
	JoinGroup(ctx context.Context, groupName, password string) (int, error)
	GroupSummary(ctx context.Context, groupID int) (*kahla.Group, error)
	LogOff(ctx context.Context) error
}

// Prompter asks the operator a question and returns the answered line.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Toolkit is what a policy can do against the server on behalf of the bot.
type Toolkit struct {
	session *Session
	service Service
	joined  func(ctx context.Context, group kahla.Group) error
}

// NewToolkit builds a toolkit for a fixed profile, outside a SessionManager.
// Groups it joins are not reported to any policy.
func NewToolkit(service Service, profile kahla.User) *Toolkit {
	session := &Session{}
	session.setProfile(&profile)
	return &Toolkit{session: session, service: service}
}

func (k *Toolkit) Profile() *kahla.User {
	return k.session.Profile()
}

// SendMessage encrypts text with the conversation key and sends it. The
// response code is the only delivery signal; nothing is retried.
func (k *Toolkit) SendMessage(ctx context.Context, text string, conversationID int, aesKey string) error {
	content, err := cipher.Encrypt(text, aesKey)
	if err != nil {
		prometheus.MessagesSent.WithLabelValues("encrypt_error").Inc()
		return fmt.Errorf("encrypt message for conversation %d: %w", conversationID, err)
	}
	if err := k.service.SendMessage(ctx, conversationID, content); err != nil {
		prometheus.MessagesSent.WithLabelValues("error").Inc()
		return fmt.Errorf("send message to conversation %d: %w", conversationID, err)
	}
	prometheus.MessagesSent.WithLabelValues("ok").Inc()
	return nil
}

func (k *Toolkit) CompleteRequest(ctx context.Context, requestID int, accept bool) error {
	if err := k.service.CompleteRequest(ctx, requestID, accept); err != nil {
		return fmt.Errorf("complete request %d: %w", requestID, err)
	}
	logs.CtxInfo(ctx, "[toolkit] completed friend request %d, accept=%v", requestID, accept)
	return nil
}

func (k *Toolkit) MuteGroup(ctx context.Context, groupName string, muted bool) error {
	if err := k.service.SetGroupMuted(ctx, groupName, muted); err != nil {
		return fmt.Errorf("set group %s muted=%v: %w", groupName, muted, err)
	}
	return nil
}

func (k *Toolkit) GroupSummary(ctx context.Context, groupID int) (*kahla.Group, error) {
	group, err := k.service.GroupSummary(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load summary of group %d: %w", groupID, err)
	}
	return group, nil
}

// JoinGroup joins a group and reports it to the policy through
// OnGroupConnected.
func (k *Toolkit) JoinGroup(ctx context.Context, groupName, password string) error {
	id, err := k.service.JoinGroup(ctx, groupName, password)
	if err != nil {
		return fmt.Errorf("join group %s: %w", groupName, err)
	}
	group, err := k.service.GroupSummary(ctx, id)
	if err != nil {
		return fmt.Errorf("load summary of group %d: %w", id, err)
	}
	if k.joined == nil {
		return nil
	}
	return k.joined(ctx, *group)
}

// AddMention appends a mention of user, whose nickname is written without
// spaces.
func (k *Toolkit) AddMention(text string, user kahla.User) string {
	return AddMention(text, user)
}

// RemoveMentionMe strips mentions of the signed-in user from text.
func (k *Toolkit) RemoveMentionMe(text string) string {
	profile := k.session.Profile()
	if profile == nil {
		return text
	}
	return RemoveMention(text, *profile)
}

func AddMention(text string, user kahla.User) string {
	return text + " @" + mentionName(user)
}

func RemoveMention(text string, user kahla.User) string {
	return strings.ReplaceAll(text, "@"+mentionName(user), "")
}

func mentionName(user kahla.User) string {
	return strings.ReplaceAll(user.NickName, " ", "")
}
