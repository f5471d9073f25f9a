package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsermcp/internal/config"
	"browsermcp/internal/domain"
	"browsermcp/internal/infra/chrome"
	"browsermcp/internal/infra/sessionstore"
	"browsermcp/internal/mcp"
	"browsermcp/internal/tokens"
	"browsermcp/internal/transport/sse"
)

type fakeBrowser struct {
	mu     sync.Mutex
	closed []string
}

func (f *fakeBrowser) Stats() chrome.Stats {
	return chrome.Stats{Enabled: true, Capacity: 10, Headless: true}
}
func (f *fakeBrowser) Sessions() []chrome.TabInfo { return []chrome.TabInfo{} }
func (f *fakeBrowser) Touch(string)               {}
func (f *fakeBrowser) CloseTab(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return domain.ErrSessionNotFound
}
func (f *fakeBrowser) closedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type testEnv struct {
	app      *fiber.App
	sessions *sse.Registry
	store    *sessionstore.MemoryStore
	browser  *fakeBrowser
}

func newEnv(t *testing.T, tok *tokens.Cache) *testEnv {
	t.Helper()
	return newEnvWithConfig(t, config.Defaults(), tok)
}

func newEnvWithConfig(t *testing.T, cfg config.Config, tok *tokens.Cache) *testEnv {
	t.Helper()
	env := &testEnv{
		sessions: sse.NewRegistry(sse.Options{KeepaliveInterval: 50 * time.Millisecond}),
		store:    sessionstore.NewMemoryStore(),
		browser:  &fakeBrowser{},
	}
	env.app = New(Deps{
		Config:   cfg,
		Sessions: env.sessions,
		MCP:      mcp.NewServer(cfg.Server.Name, "test", mcp.NewRegistry()),
		Store:    env.store,
		Browser:  env.browser,
		Tokens:   tok,
		Version:  "test",
	})
	t.Cleanup(func() {
		env.sessions.CloseAll()
		_ = env.app.Shutdown()
	})
	return env
}

func doReq(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestHealth(t *testing.T) {
	env := newEnv(t, nil)

	resp, body := doReq(t, env.app, httptestReq(http.MethodGet, "/health", "", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "healthy", got["status"])
	assert.Equal(t, "browser-mcp", got["server"])
	assert.Equal(t, "test", got["version"])
	assert.Equal(t, "sse", got["transport"])
	assert.EqualValues(t, 0, got["active_sessions"])
	assert.Contains(t, got, "uptime_seconds")
	assert.Equal(t, true, got["browser"].(map[string]any)["enabled"])
}

func httptestReq(method, path, contentType string, body io.Reader) *http.Request {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func TestJSON404AndCORS(t *testing.T) {
	env := newEnv(t, nil)

	req := httptestReq(http.MethodGet, "/invalid", "", nil)
	req.Header.Set("Origin", "http://somewhere.example")
	resp, body := doReq(t, env.app, req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Contains(t, body, `"code":404`)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMessages_Validation(t *testing.T) {
	env := newEnv(t, nil)
	sess := env.sessions.Open("test")

	tests := []struct {
		name   string
		path   string
		ctype  string
		body   string
		status int
		text   string
	}{
		{name: "missing id", path: "/messages", ctype: "application/json", body: `{}`, status: 400, text: "session_id is required"},
		{name: "bad id", path: "/messages?session_id=nope", ctype: "application/json", body: `{}`, status: 400, text: "Invalid session ID"},
		{name: "unknown id", path: "/messages?session_id=" + sse.NewSessionID(), ctype: "application/json", body: `{}`, status: 404, text: "Could not find session"},
		{name: "not json", path: "/messages?session_id=" + sess.ID, ctype: "application/json", body: `{nope`, status: 400, text: "Could not parse message"},
		{name: "accepted", path: "/messages?session_id=" + sess.ID, ctype: "application/json", body: `{"jsonrpc":"2.0","method":"ping","id":1}`, status: 202, text: "Accepted"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doReq(t, env.app, httptestReq(http.MethodPost, tc.path, tc.ctype, strings.NewReader(tc.body)))
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.text, body)
		})
	}
}

func TestMessages_Multipart(t *testing.T) {
	env := newEnv(t, nil)
	sess := env.sessions.Open("test")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("data", `{"jsonrpc":"2.0","method":"ping","id":2}`))
	require.NoError(t, mw.Close())
	resp, body := doReq(t, env.app, httptestReq(http.MethodPost, "/messages?session_id="+sess.ID, mw.FormDataContentType(), &buf))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	buf.Reset()
	mw = multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("data", "message.json")
	require.NoError(t, err)
	_, err = fw.Write([]byte(`{"jsonrpc":"2.0","method":"ping","id":3}`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	resp, body = doReq(t, env.app, httptestReq(http.MethodPost, "/messages?session_id="+sess.ID, mw.FormDataContentType(), &buf))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	// the form value and the file part are both dispatched
	var replies string
	for range 2 {
		select {
		case msg := <-sess.Outbound():
			replies += string(msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing reply, got %s", replies)
		}
	}
	assert.Contains(t, replies, `"id":2`)
	assert.Contains(t, replies, `"id":3`)

	buf.Reset()
	mw = multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())
	resp, body = doReq(t, env.app, httptestReq(http.MethodPost, "/messages?session_id="+sess.ID, mw.FormDataContentType(), &buf))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing 'data' field in form", body)
}

func TestAuthEnabled_HealthStaysPublic(t *testing.T) {
	tok := tokens.NewCache()
	tok.Replace(map[string]tokens.Entry{"good": {}})
	env := newEnv(t, tok)

	resp, _ := doReq(t, env.app, httptestReq(http.MethodGet, "/health", "", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptestReq(http.MethodGet, "/v1/sessions", "", nil)
	req.Header.Set("X-API-Key", "bad")
	resp, _ = doReq(t, env.app, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptestReq(http.MethodGet, "/v1/sessions", "", nil)
	req.Header.Set("X-API-Key", "good")
	resp, body := doReq(t, env.app, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"count":0`)
}

// sseReader parses "event:"/"data:" frames from a live stream.
type sseReader struct {
	r *bufio.Reader
}

type event struct {
	name string
	data string
}

func (s *sseReader) next(t *testing.T) event {
	t.Helper()
	var ev event
	for {
		line, err := s.r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if ev.name != "" || ev.data != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func listen(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	return "http://" + ln.Addr().String()
}

func TestSSE_RoundTripOverRealListener(t *testing.T) {
	env := newEnv(t, nil)
	base := listen(t, env.app)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	stream := &sseReader{r: bufio.NewReader(resp.Body)}
	ev := stream.next(t)
	require.Equal(t, "endpoint", ev.name)
	require.True(t, strings.HasPrefix(ev.data, "/messages?session_id="), ev.data)
	sid := strings.TrimPrefix(ev.data, "/messages?session_id=")
	assert.Len(t, sid, 32)

	require.Eventually(t, func() bool {
		n, _ := env.store.Count(context.Background())
		return n == 1
	}, time.Second, 10*time.Millisecond)

	post := func(body string) {
		r, err := http.Post(base+ev.data, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		r.Body.Close()
		require.Equal(t, http.StatusAccepted, r.StatusCode)
	}

	post(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
	msg := stream.next(t)
	require.Equal(t, "message", msg.name)
	var init map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.data), &init))
	assert.EqualValues(t, 1, init["id"])
	assert.Equal(t, "2024-11-05", init["result"].(map[string]any)["protocolVersion"])

	post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	post(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	msg = stream.next(t)
	assert.Contains(t, msg.data, `"id":2`)
	assert.Contains(t, msg.data, `"tools":[]`)

	// invalid JSON gets a 400 and a parse error on the stream
	r, err := http.Post(base+ev.data, "application/json", strings.NewReader("{bad"))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	msg = stream.next(t)
	require.Equal(t, "message", msg.name)
	var perr struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.data), &perr))
	assert.Equal(t, "2.0", perr.JSONRPC)
	assert.Equal(t, "null", string(perr.ID))
	assert.Equal(t, -32700, perr.Error.Code)

	// client disconnect tears the session down
	cancel()
	require.Eventually(t, func() bool {
		n, _ := env.store.Count(context.Background())
		return env.sessions.Count() == 0 && n == 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, env.browser.closedIDs(), sid)
}

func TestUserLimiterWithoutAuth(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimiter.EnableUserLimiter = true
	cfg.RateLimiter.UserLimit = 1
	cfg.RateLimiter.Interval = time.Minute
	env := newEnvWithConfig(t, cfg, nil)

	get := func(path string) int {
		req := httptestReq(http.MethodGet, path, "", nil)
		req.Header.Set("User-Agent", "limiter-test")
		resp, _ := doReq(t, env.app, req)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/v1/browser/stats"))
	assert.Equal(t, http.StatusTooManyRequests, get("/v1/browser/stats"))
	assert.Equal(t, http.StatusTooManyRequests, get("/v1/sessions"))
	assert.Equal(t, http.StatusOK, get("/health"))
}

func TestSSE_KeepaliveRestoresStoreEntry(t *testing.T) {
	env := newEnv(t, nil)
	base := listen(t, env.app)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	go func() { _, _ = io.Copy(io.Discard, resp.Body) }()

	var id string
	require.Eventually(t, func() bool {
		ids := env.sessions.IDs()
		if len(ids) != 1 {
			return false
		}
		id = ids[0]
		n, _ := env.store.Count(context.Background())
		return n == 1
	}, time.Second, 10*time.Millisecond)

	// drop the entry as an expiring backend would
	require.NoError(t, env.store.Delete(context.Background(), id))
	require.Eventually(t, func() bool {
		list, _ := env.store.List(context.Background())
		return len(list) == 1 && list[0].ID == id && !list[0].CreatedAt.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}
