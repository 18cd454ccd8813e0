package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ManagerConfig selects how the manager reaches a browser.
type ManagerConfig struct {
	// ControlURL connects to an already running CDP endpoint (Chrome,
	// Lightpanda, ...). When empty a local Chrome is launched.
	ControlURL string
	// ChromeBin is the browser binary used when launching. Empty lets rod
	// pick or download one.
	ChromeBin string
	Headless  bool
}

// Manager owns the browser connection and runs element operations through
// the resolver.
type Manager struct {
	cfg       ManagerConfig
	resolver  *resolver.Resolver
	logger    *slog.Logger
	mu        sync.Mutex
	restartMu sync.Mutex
	launcher  *launcher.Launcher
	browser   *rod.Browser
	endpoint  string
	running   bool
}

// NewManager creates a new browser manager
func NewManager(cfg ManagerConfig, res *resolver.Resolver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if res == nil {
		res = resolver.New(resolver.WithLogger(logger))
	}
	return &Manager{
		cfg:      cfg,
		resolver: res,
		logger:   logger.With("component", "browser"),
	}
}

// Start connects to the configured endpoint or launches Chrome.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	var (
		wsURL string
		l     *launcher.Launcher
		err   error
	)
	if m.cfg.ControlURL != "" {
		wsURL, err = launcher.ResolveURL(m.cfg.ControlURL)
		if err != nil {
			return fmt.Errorf("failed to resolve control url %s: %w", m.cfg.ControlURL, err)
		}
	} else {
		l = launcher.New().Headless(m.cfg.Headless)
		if m.cfg.ChromeBin != "" {
			l = l.Bin(m.cfg.ChromeBin)
		}
		wsURL, err = l.Launch()
		if err != nil {
			return fmt.Errorf("failed to launch chrome: %w", err)
		}
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
			l.Cleanup()
		}
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	m.launcher = l
	m.browser = browser
	m.endpoint = wsURL
	m.running = true

	m.logger.Info("browser connected", "endpoint", wsURL, "launched", l != nil)
	return nil
}

// Stop closes the connection and kills a launched browser.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Warn("failed to close browser", "error", err)
		}
	}
	if m.launcher != nil {
		m.launcher.Kill()
		m.launcher.Cleanup()
	}

	m.launcher = nil
	m.browser = nil
	m.endpoint = ""
	m.running = false

	m.logger.Info("browser stopped")
	return nil
}

// IsRunning reports whether the browser is connected.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetEndpoint returns the DevTools websocket endpoint.
func (m *Manager) GetEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Resolver returns the element resolver used by element operations.
func (m *Manager) Resolver() *resolver.Resolver {
	return m.resolver
}

// NewPage creates a blank page, reconnecting once on a dropped connection.
func (m *Manager) NewPage(ctx context.Context) (*rod.Page, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	page, err := m.currentBrowser().Context(ctx).Page(proto.TargetCreateTarget{})
	if err == nil {
		return page, nil
	}
	if !isConnectionError(err) {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	m.logger.Warn("browser connection lost, restarting", "error", err)
	if err := m.restart(); err != nil {
		return nil, fmt.Errorf("failed to restart browser after connection error: %w", err)
	}

	page, err = m.currentBrowser().Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	return page, nil
}

// OpenPage creates a page, applies options, and navigates to the URL.
func (m *Manager) OpenPage(ctx context.Context, url string, opts PageOptions) (*rod.Page, error) {
	page, err := m.NewPage(ctx)
	if err != nil {
		return nil, err
	}

	if err := applyPageOptions(page, url, opts); err != nil {
		page.Close()
		return nil, err
	}

	if err := page.Navigate(url); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	if opts.WaitForLoad {
		if err := page.WaitLoad(); err != nil {
			page.Close()
			return nil, fmt.Errorf("failed to wait for page load: %w", err)
		}
	}

	return page, nil
}

func (m *Manager) currentBrowser() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

func (m *Manager) ensureStarted() error {
	if m.IsRunning() {
		return nil
	}

	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if m.IsRunning() {
		return nil
	}
	return m.Start()
}

func (m *Manager) restart() error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if err := m.Stop(); err != nil {
		m.logger.Warn("failed to stop browser before restart", "error", err)
	}
	return m.Start()
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "eof")
}
