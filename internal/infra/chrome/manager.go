package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"browsermcp/internal/config"
	"browsermcp/internal/domain"
	"browsermcp/internal/infra/logging"
)

// Tab is the browser tab owned by one MCP session.
type Tab struct {
	SessionID string
	CreatedAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	lastUsed time.Time

	// ready is closed once the target exists and downloads are configured.
	// readyErr is written before the close.
	ready    chan struct{}
	readyErr error
}

type TabInfo struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

type Stats struct {
	Enabled     bool      `json:"enabled"`
	Running     bool      `json:"running"`
	Headless    bool      `json:"headless"`
	Capacity    int       `json:"capacity"`
	Open        int       `json:"open"`
	Restarts    int       `json:"restarts"`
	LastRestart time.Time `json:"last_restart,omitempty"`
	ProfileDir  string    `json:"profile_dir"`
}

// Manager owns one Chrome process and hands out a tab per session. Chrome
// is started on the first tab request.
type Manager struct {
	cfg config.Config

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabs          map[string]*Tab
	profileDir    string
	restarts      int
	lastRestart   time.Time
	closed        bool
}

func NewManager(cfg config.Config) (*Manager, error) {
	if cfg.Browser.MaxSessions < 1 {
		return nil, errors.New("chrome: max_sessions must be at least 1")
	}
	return &Manager{cfg: cfg, tabs: make(map[string]*Tab)}, nil
}

// createProfileDir makes a fresh Chrome profile directory under the
// configured user data dir, or under data_dir/profiles when none is set.
func createProfileDir(cfg config.Config) (string, error) {
	base := cfg.Browser.UserDataDir
	if base == "" && cfg.Mounts.DataDir != "" {
		base = filepath.Join(cfg.Mounts.DataDir, "profiles")
	}
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create profile base %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, "profile-*")
	if err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	return dir, nil
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(m.profileDir),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	if !m.cfg.Browser.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if m.cfg.Browser.DebuggingPort > 0 {
		opts = append(opts,
			chromedp.Flag("remote-debugging-port", m.cfg.Browser.DebuggingPort),
			chromedp.Flag("remote-debugging-address", "0.0.0.0"),
		)
	}
	if m.cfg.Browser.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.Browser.ChromePath))
	}
	if m.cfg.Browser.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

// startLocked launches Chrome if it is not running. m.mu must be held.
func (m *Manager) startLocked() error {
	if m.browserCtx != nil && m.browserCtx.Err() == nil {
		return nil
	}
	if m.browserCancel != nil {
		// browser died underneath us
		m.browserCancel()
		if m.allocCancel != nil {
			m.allocCancel()
		}
	}
	if m.profileDir == "" {
		dir, err := createProfileDir(m.cfg)
		if err != nil {
			return err
		}
		m.profileDir = dir
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start chrome: %w", err)
	}

	m.allocCtx, m.allocCancel = allocCtx, allocCancel
	m.browserCtx, m.browserCancel = browserCtx, browserCancel
	logging.Info("chrome started",
		"headless", m.cfg.Browser.Headless,
		"debugging_port", m.cfg.Browser.DebuggingPort,
		"profile_dir", m.profileDir)
	return nil
}

// reserveTab returns the session's tab, creating its context when needed.
// The second result is true for the caller that created the entry and must
// prepare it.
func (m *Manager) reserveTab(sessionID string) (*Tab, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, errors.New("chrome: manager closed")
	}
	now := time.Now()
	if t, ok := m.tabs[sessionID]; ok {
		t.lastUsed = now
		return t, false, nil
	}
	if len(m.tabs) >= m.cfg.Browser.MaxSessions {
		return nil, false, domain.ErrTooManySessions
	}
	if err := m.startLocked(); err != nil {
		return nil, false, err
	}

	ctx, cancel := chromedp.NewContext(m.browserCtx)
	t := &Tab{SessionID: sessionID, CreatedAt: now, ctx: ctx, cancel: cancel, lastUsed: now, ready: make(chan struct{})}
	m.tabs[sessionID] = t
	logging.Debug("browser tab reserved", "session_id", sessionID, "open", len(m.tabs))
	return t, true, nil
}

// Tab returns the session's tab, opening one on first use. Concurrent first
// calls for one session share a single preparation.
func (m *Manager) Tab(ctx context.Context, sessionID string) (*Tab, error) {
	t, owner, err := m.reserveTab(sessionID)
	if err != nil {
		return nil, err
	}
	if owner {
		m.prepareTab(ctx, t)
	}

	select {
	case <-t.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if t.readyErr != nil {
		return nil, t.readyErr
	}
	return t, nil
}

// prepareTab creates the target and points downloads at the mounted dir.
// The first Run must get the tab's own context: chromedp ties the target's
// event loop to it, so a deadline there would end the tab with the call.
func (m *Manager) prepareTab(ctx context.Context, t *Tab) {
	timeout := m.actionTimeout()
	kill := time.AfterFunc(timeout, t.cancel)
	stop := context.AfterFunc(ctx, t.cancel)

	err := chromedp.Run(t.ctx)
	kill.Stop()
	stop()

	if err == nil {
		setupCtx, cancel := context.WithTimeout(t.ctx, timeout)
		err = chromedp.Run(setupCtx,
			browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(m.cfg.Mounts.DownloadsDir).
				WithEventsEnabled(true),
		)
		cancel()
	}
	m.finishTab(t, err)
}

// finishTab publishes the preparation result. A failed tab is removed so
// the next call starts over.
func (m *Manager) finishTab(t *Tab, err error) {
	if err != nil {
		t.readyErr = fmt.Errorf("open tab: %w", err)
		m.mu.Lock()
		if cur, ok := m.tabs[t.SessionID]; ok && cur == t {
			delete(m.tabs, t.SessionID)
		}
		m.mu.Unlock()
		t.cancel()
		logging.Warn("browser tab failed to open", "session_id", t.SessionID, "error", err)
	}
	close(t.ready)
}

func (m *Manager) actionTimeout() time.Duration {
	if d := m.cfg.ActionTimeout(); d > 0 {
		return d
	}
	return 30 * time.Second
}

func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	if t, ok := m.tabs[sessionID]; ok {
		t.lastUsed = time.Now()
	}
	m.mu.Unlock()
}

func (m *Manager) CloseTab(sessionID string) error {
	m.mu.Lock()
	t, ok := m.tabs[sessionID]
	if ok {
		delete(m.tabs, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	t.cancel()
	logging.Info("browser tab closed", "session_id", sessionID)
	return nil
}

// CloseAll closes every tab and returns how many were open.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	tabs := m.tabs
	m.tabs = make(map[string]*Tab)
	m.mu.Unlock()

	for _, t := range tabs {
		t.cancel()
	}
	return len(tabs)
}

func (m *Manager) Sessions() []TabInfo {
	m.mu.Lock()
	out := make([]TabInfo, 0, len(m.tabs))
	for _, t := range m.tabs {
		out = append(out, TabInfo{SessionID: t.SessionID, CreatedAt: t.CreatedAt, LastUsed: t.lastUsed})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ReapIdle closes tabs unused for longer than the session timeout.
func (m *Manager) ReapIdle(now time.Time) []string {
	timeout := m.cfg.SessionTimeout()
	var idle []*Tab

	m.mu.Lock()
	for id, t := range m.tabs {
		if now.Sub(t.lastUsed) > timeout {
			idle = append(idle, t)
			delete(m.tabs, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, t := range idle {
		t.cancel()
		ids = append(ids, t.SessionID)
	}
	if len(ids) > 0 {
		logging.Info("reaped idle browser sessions", "count", len(ids), "timeout", timeout.String())
	}
	return ids
}

// RunReaper calls ReapIdle every cleanup interval until ctx ends.
func (m *Manager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Session.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.ReapIdle(now)
		}
	}
}

// Recover repairs a session after an interrupted action. A dead browser is
// restarted; otherwise only the session's tab is dropped so the next call
// opens a fresh one.
func (m *Manager) Recover(sessionID string) error {
	m.mu.Lock()
	dead := m.browserCtx != nil && m.browserCtx.Err() != nil
	m.mu.Unlock()
	if dead {
		return m.Restart()
	}
	if err := m.CloseTab(sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	return nil
}

// Restart tears the browser down and prepares a fresh profile. Chrome
// starts again on the next tab request.
func (m *Manager) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("chrome: manager closed")
	}

	m.teardownLocked()
	dir, err := createProfileDir(m.cfg)
	if err != nil {
		return err
	}
	m.profileDir = dir
	m.restarts++
	m.lastRestart = time.Now()
	logging.Warn("chrome restarted", "restarts", m.restarts, "profile_dir", dir)
	return nil
}

func (m *Manager) teardownLocked() {
	for id, t := range m.tabs {
		t.cancel()
		delete(m.tabs, id)
	}
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.browserCtx, m.browserCancel = nil, nil
	m.allocCtx, m.allocCancel = nil, nil
	if m.profileDir != "" {
		_ = os.RemoveAll(m.profileDir)
		m.profileDir = ""
	}
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Enabled:     !m.closed,
		Running:     m.browserCtx != nil && m.browserCtx.Err() == nil,
		Headless:    m.cfg.Browser.Headless,
		Capacity:    m.cfg.Browser.MaxSessions,
		Open:        len(m.tabs),
		Restarts:    m.restarts,
		LastRestart: m.lastRestart,
		ProfileDir:  m.profileDir,
	}
}

// Close shuts Chrome down. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.teardownLocked()
}

// IsSessionInterrupted reports errors that mean the tab or browser went away
// rather than the page misbehaving.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "invalid context")
}
