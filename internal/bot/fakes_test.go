package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tgifai/kahlabot/internal/cipher"
	"github.com/tgifai/kahlabot/internal/kahla"
	"github.com/tgifai/kahlabot/internal/stargate"
)

const testAddress = "wss://stargate.example.com/Listen/Channel?Id=1&Key=k"

type completion struct {
	id     int
	accept bool
}

type fakeService struct {
	mu sync.Mutex

	signedIn   bool
	validCode  int
	requests   []kahla.Request
	groups     []kahla.Group
	apiVersion string

	servers     []string
	calls       map[string]int
	completions []completion
	sent        map[int][]string
	joined      []string
}

func newFakeService() *fakeService {
	return &fakeService{
		validCode:  1234,
		apiVersion: "3.4.0",
		calls:      map[string]int{},
		sent:       map[int][]string{},
	}
}

func (f *fakeService) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeService) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeService) UseServer(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers = append(f.servers, address)
	return nil
}

func (f *fakeService) Index(context.Context) (*kahla.IndexResponse, error) {
	f.hit("Index")
	// Widen the window in which a second handshake could slip in.
	time.Sleep(10 * time.Millisecond)
	return &kahla.IndexResponse{APIVersion: f.apiVersion, UTCTime: kahla.Timestamp{Time: time.Now().UTC()}}, nil
}

func (f *fakeService) SignInStatus(context.Context) (bool, error) {
	f.hit("SignInStatus")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signedIn, nil
}

func (f *fakeService) OAuthURL(context.Context) (string, error) {
	f.hit("OAuthURL")
	return "https://gateway.example.com/oauth?appid=kahla&redirect_uri=https%3A%2F%2Fserver.kahla.app&state=1", nil
}

func (f *fakeService) SignIn(_ context.Context, code int) error {
	f.hit("SignIn")
	f.mu.Lock()
	defer f.mu.Unlock()
	if code != f.validCode {
		return &kahla.APIError{Status: 400, Code: -10, Message: "invalid code"}
	}
	f.signedIn = true
	return nil
}

func (f *fakeService) Me(context.Context) (*kahla.User, error) {
	f.hit("Me")
	return &kahla.User{ID: "bot-id", NickName: "Echo Bot"}, nil
}

func (f *fakeService) InitPusher(context.Context) (*kahla.PusherInfo, error) {
	f.hit("InitPusher")
	return &kahla.PusherInfo{ServerPath: testAddress}, nil
}

func (f *fakeService) MyRequests(context.Context) ([]kahla.Request, error) {
	f.hit("MyRequests")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kahla.Request(nil), f.requests...), nil
}

func (f *fakeService) Mine(context.Context) (*kahla.MineResponse, error) {
	f.hit("Mine")
	f.mu.Lock()
	defer f.mu.Unlock()
	return &kahla.MineResponse{Groups: append([]kahla.Group(nil), f.groups...)}, nil
}

func (f *fakeService) Conversations(context.Context) ([]kahla.Contact, error) {
	f.hit("Conversations")
	return nil, nil
}

func (f *fakeService) SendMessage(_ context.Context, conversationID int, content string) error {
	f.hit("SendMessage")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[conversationID] = append(f.sent[conversationID], content)
	return nil
}

func (f *fakeService) CompleteRequest(_ context.Context, requestID int, accept bool) error {
	f.hit("CompleteRequest")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, completion{id: requestID, accept: accept})
	return nil
}

func (f *fakeService) SetGroupMuted(context.Context, string, bool) error {
	f.hit("SetGroupMuted")
	return nil
}

func (f *fakeService) JoinGroup(_ context.Context, groupName, _ string) (int, error) {
	f.hit("JoinGroup")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, groupName)
	return 12, nil
}

func (f *fakeService) GroupSummary(_ context.Context, groupID int) (*kahla.Group, error) {
	f.hit("GroupSummary")
	return &kahla.Group{ID: groupID, GroupName: "gophers"}, nil
}

func (f *fakeService) LogOff(context.Context) error {
	f.hit("LogOff")
	f.mu.Lock()
	f.signedIn = false
	f.mu.Unlock()
	return nil
}

type fakeSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeSettings(kv ...string) *fakeSettings {
	s := &fakeSettings{values: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		s.values[kv[i]] = kv[i+1]
	}
	return s
}

func (s *fakeSettings) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *fakeSettings) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

// fakePrompter answers from a fixed script and fails once it runs dry.
type fakePrompter struct {
	mu      sync.Mutex
	answers []string
	asked   []string
}

func (p *fakePrompter) Ask(_ context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, question)
	if len(p.answers) == 0 {
		return "", errors.New("no more answers")
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

type invitation struct {
	groupID int
	sender  string
}

type recordingPolicy struct {
	mu sync.Mutex

	kit          *Toolkit
	inits        int
	messages     []string
	invitations  []invitation
	requests     []int
	groups       []int
	accept       bool
	joinOnInvite bool
}

func (p *recordingPolicy) OnInit(_ context.Context, kit *Toolkit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kit = kit
	p.inits++
	return nil
}

func (p *recordingPolicy) OnFriendRequest(_ context.Context, ev *kahla.NewFriendRequestEvent) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, ev.RequestID)
	return p.accept, nil
}

func (p *recordingPolicy) OnGroupConnected(_ context.Context, group kahla.Group) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups = append(p.groups, group.ID)
	return nil
}

func (p *recordingPolicy) OnMessage(_ context.Context, text string, _ *kahla.NewMessageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, text)
	return nil
}

func (p *recordingPolicy) OnGroupInvitation(ctx context.Context, groupID int, ev *kahla.NewMessageEvent) error {
	p.mu.Lock()
	p.invitations = append(p.invitations, invitation{groupID: groupID, sender: ev.Message.SenderID})
	kit, join := p.kit, p.joinOnInvite
	p.mu.Unlock()
	if join && kit != nil {
		return kit.JoinGroup(ctx, "gophers", "")
	}
	return nil
}

func (p *recordingPolicy) snapshot() recordingPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return recordingPolicy{
		inits:       p.inits,
		messages:    append([]string(nil), p.messages...),
		invitations: append([]invitation(nil), p.invitations...),
		requests:    append([]int(nil), p.requests...),
		groups:      append([]int(nil), p.groups...),
	}
}

type fakeStream struct {
	notes  chan stargate.Notification
	closed chan struct{}
	once   sync.Once
}

func (s *fakeStream) Notifications() <-chan stargate.Notification { return s.notes }

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeTransport struct {
	mu      sync.Mutex
	streams []*fakeStream
	opened  chan *fakeStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeStream, 8)}
}

func (t *fakeTransport) Open(context.Context, string) stargate.Stream {
	s := &fakeStream{notes: make(chan stargate.Notification, 8), closed: make(chan struct{})}
	t.mu.Lock()
	t.streams = append(t.streams, s)
	t.mu.Unlock()
	t.opened <- s
	return s
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

func (t *fakeTransport) waitOpen(tb testing.TB) *fakeStream {
	tb.Helper()
	select {
	case s := <-t.opened:
		return s
	case <-time.After(3 * time.Second):
		tb.Fatal("timed out waiting for the channel to open")
		return nil
	}
}

func eventually(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %s", what)
}

func messageFrame(tb testing.TB, senderID, text, key string) []byte {
	tb.Helper()
	content, err := cipher.Encrypt(text, key)
	if err != nil {
		tb.Fatalf("Encrypt: %v", err)
	}
	return []byte(`{"type":0,"aesKey":"` + key + `","muted":false,"mentioned":false,` +
		`"message":{"id":1,"conversationId":3,"senderId":"` + senderID + `",` +
		`"sender":{"id":"` + senderID + `","nickName":"Ann Lee"},"content":"` + content + `"}}`)
}

type harness struct {
	sm        *SessionManager
	service   *fakeService
	settings  *fakeSettings
	prompter  *fakePrompter
	policy    *recordingPolicy
	transport *fakeTransport
}

func newHarness(tb testing.TB) *harness {
	tb.Helper()
	h := &harness{
		service:   newFakeService(),
		settings:  newFakeSettings(SettingServerAddress, OfficialServer),
		prompter:  &fakePrompter{},
		policy:    &recordingPolicy{accept: true},
		transport: newFakeTransport(),
	}
	h.service.signedIn = true

	sm, err := NewSessionManager(Options{
		Service:    h.service,
		Settings:   h.settings,
		Prompter:   h.prompter,
		Policy:     h.policy,
		Transport:  h.transport,
		APIVersion: "3.4.0",
	})
	if err != nil {
		tb.Fatalf("NewSessionManager: %v", err)
	}
	h.sm = sm
	return h
}
