// Package kahla is a thin HTTP client for the Kahla server API consumed by
// the bot runtime. Authentication is cookie based; the cookie jar lives for
// the lifetime of the Client.
package kahla

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tgifai/kahlabot/internal/pkg/logs"
	"github.com/tgifai/kahlabot/internal/pkg/utils"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodySize    = 4 * 1024 * 1024
)

var (
	ErrNoServer    = errors.New("kahla server address is not set")
	ErrNoOAuthURL  = errors.New("kahla server did not return an authorization address")
	ErrEmptyResult = errors.New("kahla server returned an empty response")
)

// APIError is returned when the server answers with a non-success protocol
// code, or with a non-2xx status that carries no protocol body.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("kahla api error: status=%d code=%d", e.Status, e.Code)
	}
	return fmt.Sprintf("kahla api error: status=%d code=%d: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	httpClient *http.Client

	mu     sync.RWMutex
	server *url.URL
}

type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying client. A cookie jar is attached if
// the given client has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		if hc.Jar == nil {
			jar, _ := cookiejar.New(nil)
			hc.Jar = jar
		}
		c.httpClient = hc
	}
}

func NewClient(opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UseServer points the client at a Kahla server root, e.g. https://server.kahla.app.
func (c *Client) UseServer(address string) error {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("parse server address %q: %w", address, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server address %q must be http(s)", address)
	}

	c.mu.Lock()
	c.server = u
	c.mu.Unlock()
	return nil
}

// Server returns the current server root, or an empty string.
func (c *Client) Server() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.server == nil {
		return ""
	}
	return c.server.String()
}

func (c *Client) Index(ctx context.Context) (*IndexResponse, error) {
	var resp IndexResponse
	if err := c.get(ctx, "/Home/Index", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SignInStatus(ctx context.Context) (bool, error) {
	var resp valueResponse[bool]
	if err := c.get(ctx, "/Auth/SignInStatus", nil, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}

// OAuthURL asks the server where the operator should sign in. The server
// answers with a redirect, which is not followed.
func (c *Client) OAuthURL(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/Auth/OAuth", nil, nil)
	if err != nil {
		return "", err
	}

	hc := *c.httpClient
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("request oauth address: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	location := resp.Header.Get("Location")
	if location == "" {
		return "", ErrNoOAuthURL
	}
	return location, nil
}

// SignIn exchanges an OAuth code for a session cookie. A rejected code comes
// back as an error.
func (c *Client) SignIn(ctx context.Context, code int) error {
	query := url.Values{"code": {strconv.Itoa(code)}}
	req, err := c.newRequest(ctx, http.MethodGet, "/Auth/AuthResult", query, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read sign in response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, body)
	}
	if strings.TrimSpace(string(body)) == "" {
		return ErrEmptyResult
	}
	return nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp valueResponse[User]
	if err := c.get(ctx, "/Auth/Me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Value, nil
}

func (c *Client) InitPusher(ctx context.Context) (*PusherInfo, error) {
	var resp PusherInfo
	if err := c.get(ctx, "/Auth/InitPusher", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) MyRequests(ctx context.Context) ([]Request, error) {
	var resp collectionResponse[Request]
	if err := c.get(ctx, "/Friendship/MyRequests", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) Mine(ctx context.Context) (*MineResponse, error) {
	var resp MineResponse
	if err := c.get(ctx, "/Friendship/Mine", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Conversations(ctx context.Context) ([]Contact, error) {
	var resp collectionResponse[Contact]
	if err := c.get(ctx, "/Conversation/All", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID int, content string) error {
	form := url.Values{
		"Id":      {strconv.Itoa(conversationID)},
		"Content": {content},
	}
	var resp Protocol
	return c.post(ctx, "/Conversation/SendMessage", form, &resp)
}

func (c *Client) CompleteRequest(ctx context.Context, requestID int, accept bool) error {
	form := url.Values{"accept": {strconv.FormatBool(accept)}}
	var resp Protocol
	return c.post(ctx, "/Friendship/CompleteRequest/"+strconv.Itoa(requestID), form, &resp)
}

func (c *Client) SetGroupMuted(ctx context.Context, groupName string, muted bool) error {
	form := url.Values{
		"groupName": {groupName},
		"setMuted":  {strconv.FormatBool(muted)},
	}
	var resp Protocol
	return c.post(ctx, "/Groups/SetGroupMuted", form, &resp)
}

// JoinGroup joins a group and returns its id.
func (c *Client) JoinGroup(ctx context.Context, groupName, password string) (int, error) {
	form := url.Values{
		"groupName":    {groupName},
		"joinPassword": {password},
	}
	var resp valueResponse[int]
	if err := c.post(ctx, "/Groups/JoinGroup", form, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

func (c *Client) GroupSummary(ctx context.Context, groupID int) (*Group, error) {
	var resp valueResponse[Group]
	if err := c.get(ctx, "/Groups/GroupSummary", url.Values{"id": {strconv.Itoa(groupID)}}, &resp); err != nil {
		return nil, err
	}
	return &resp.Value, nil
}

func (c *Client) LogOff(ctx context.Context) error {
	var resp Protocol
	return c.post(ctx, "/Auth/LogOff", url.Values{}, &resp)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out protocolCarrier) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out protocolCarrier) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server == nil {
		return nil, ErrNoServer
	}

	u := *server
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out protocolCarrier) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}

	if err := sonic.Unmarshal(body, out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return statusError(resp.StatusCode, body)
		}
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}

	p := out.protocol()
	if p.Code != Success || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Code: p.Code, Message: p.Message}
	}

	logs.CtxDebug(req.Context(), "[kahla] %s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)
	return nil
}

func statusError(status int, body []byte) error {
	var p Protocol
	if err := sonic.Unmarshal(body, &p); err == nil && p.Message != "" {
		return &APIError{Status: status, Code: p.Code, Message: p.Message}
	}
	return &APIError{Status: status, Code: -1, Message: utils.Truncate(strings.TrimSpace(string(body)), 200)}
}
