package gateway

import (
	"bytes"
	"context"
	"io"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	"github.com/tgifai/kahlabot/internal/bot"
	"github.com/tgifai/kahlabot/internal/config"
	"github.com/tgifai/kahlabot/internal/kahla"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
)

type staticStatus struct {
	snap       bot.SessionSnapshot
	alive      bool
	generation uint64
}

func (s staticStatus) Snapshot() bot.SessionSnapshot { return s.snap }
func (s staticStatus) Alive() bool                   { return s.alive }
func (s staticStatus) Generation() uint64            { return s.generation }

type eofReader struct{}

func (eofReader) Readline() (string, error) { return "", io.EOF }
func (eofReader) SetPrompt(string)          {}
func (eofReader) Refresh()                  {}
func (eofReader) Close() error              { return nil }

type memSettings map[string]string

func (m memSettings) Get(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

func (m memSettings) Set(name, value string) error {
	m[name] = value
	return nil
}

func testStatusServer(source statusSource) *hzServer.Hertz {
	h := hzServer.Default(hzServer.WithHostPorts("127.0.0.1:0"), hzServer.WithDisablePrintRoute(true))
	registerStatusRoutes(h, source)
	return h
}

func TestStatusServer_Health(t *testing.T) {
	h := testStatusServer(staticStatus{})

	w := ut.PerformRequest(h.Engine, "GET", "/health", nil)
	resp := w.Result()
	if resp.StatusCode() != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode())
	}
	if !bytes.Contains(resp.Body(), []byte(`"ok"`)) {
		t.Fatalf("body = %s", resp.Body())
	}
}

func TestStatusServer_Status(t *testing.T) {
	h := testStatusServer(staticStatus{
		snap: bot.SessionSnapshot{
			State:          bot.StateConnected,
			Server:         "https://server.kahla.app",
			Profile:        &kahla.User{ID: "bot-1", NickName: "Echo Bot"},
			ChannelAddress: "wss://stargate.example.com/Listen/1",
			Pending:        []kahla.Request{{ID: 1}, {ID: 2}},
		},
		alive:      true,
		generation: 3,
	})

	w := ut.PerformRequest(h.Engine, "GET", "/status", nil)
	resp := w.Result()
	if resp.StatusCode() != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode())
	}

	var got struct {
		State      string `json:"state"`
		Server     string `json:"server"`
		Channel    bool   `json:"channel"`
		Pending    int    `json:"pending"`
		Generation uint64 `json:"generation"`
		Alive      bool   `json:"alive"`
		UserID     string `json:"user_id"`
		Nickname   string `json:"nickname"`
	}
	if err := sonic.Unmarshal(resp.Body(), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v, body = %s", err, resp.Body())
	}
	if got.State != "connected" || got.Generation != 3 || !got.Alive || !got.Channel {
		t.Fatalf("status = %+v", got)
	}
	if got.Pending != 2 || got.Nickname != "Echo Bot" || got.UserID != "bot-1" {
		t.Fatalf("status = %+v", got)
	}
}

func TestStatusServer_StatusBeforeSignIn(t *testing.T) {
	h := testStatusServer(staticStatus{snap: bot.SessionSnapshot{State: bot.StateIdle}})

	w := ut.PerformRequest(h.Engine, "GET", "/status", nil)
	body := string(w.Result().Body())
	if !strings.Contains(body, `"idle"`) || strings.Contains(body, "nickname") {
		t.Fatalf("body = %s", body)
	}
}

func TestStatusServer_AccessLogCarriesLogID(t *testing.T) {
	var buf bytes.Buffer
	logs.RedirectStdout(&buf)
	defer logs.RedirectStdout(os.Stdout)
	prev := logs.DefaultLogger().GetLevel()
	logs.SetLogLevel(logs.DebugLevel)
	defer logs.SetLogLevel(prev)

	h := testStatusServer(staticStatus{})
	ut.PerformRequest(h.Engine, "GET", "/health", nil)

	line := regexp.MustCompile(`[0-9a-f-]{36} \[status\] GET /health 200 in `)
	if !line.MatchString(buf.String()) {
		t.Fatalf("access log = %q", buf.String())
	}
}

func TestNewGateway_UnknownBot(t *testing.T) {
	cfg := config.Default()
	cfg.Bot.Type = "parrot"

	_, err := NewGateway(Options{Config: cfg, Settings: memSettings{}, Reader: eofReader{}, Out: io.Discard})
	if err == nil || !strings.Contains(err.Error(), "parrot") {
		t.Fatalf("NewGateway() error = %v, want unknown bot error", err)
	}
}

func TestNewGateway_RequiresConsole(t *testing.T) {
	if _, err := NewGateway(Options{Config: config.Default(), Settings: memSettings{}}); err == nil {
		t.Fatal("NewGateway() without console expected error")
	}
	if _, err := NewGateway(Options{}); err == nil {
		t.Fatal("NewGateway() without config expected error")
	}
}

func TestGateway_StopIdempotent(t *testing.T) {
	gw, err := NewGateway(Options{Config: config.Default(), Settings: memSettings{}, Reader: eofReader{}, Out: io.Discard})
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	if gw.SessionManager() == nil {
		t.Fatal("SessionManager() = nil")
	}

	ctx := context.Background()
	if err := gw.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := gw.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if gw.SessionManager().Channel().Alive() {
		t.Fatal("channel alive after Stop")
	}
}
