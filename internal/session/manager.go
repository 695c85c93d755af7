// Package session owns the authenticated HTTP session against the
// origin: one cookie-jarred transport per logical session, recreated on
// demand, with every request routed through the retry strategy that
// carries the shared circuit breaker.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/config"
	"github.com/aidosk/court-docket-crawler/internal/metrics"
	"github.com/aidosk/court-docket-crawler/internal/resilience"
)

// Manager holds one logical session. The origin keeps server-side form
// state per session, so a Manager must never be shared across workers;
// each partition owns its own.
type Manager struct {
	baseURL string
	cfg     config.HTTPConfig
	retry   *resilience.Strategy
	logger  *zap.Logger

	mu     sync.Mutex
	client *http.Client
}

// NewManager builds a Manager. retry must be the breaker-carrying
// strategy: this is the single layer that reports outcomes upstream.
func NewManager(baseURL string, cfg config.HTTPConfig, retry *resilience.Strategy, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		baseURL: strings.TrimRight(baseURL, "/"),
		cfg:     cfg,
		retry:   retry,
		logger:  logger,
	}
}

// BaseURL returns the origin base URL without a trailing slash.
func (m *Manager) BaseURL() string { return m.baseURL }

// Reset discards the current transport and cookie jar. The next request
// starts a fresh anonymous session.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.CloseIdleConnections()
	}
	m.client = nil
	m.logger.Debug("session transport reset")
}

// Close releases the transport. Safe to call on every exit path.
func (m *Manager) Close() {
	m.Reset()
}

// Get fetches a page relative to the base URL and returns its body.
func (m *Manager) Get(ctx context.Context, path string) (string, error) {
	return m.do(ctx, http.MethodGet, path, nil, false)
}

// PostForm submits a form POST. ajax selects the partial/ajax headers
// the origin's RichFaces endpoints require.
func (m *Manager) PostForm(ctx context.Context, path string, form url.Values, ajax bool) (string, error) {
	return m.do(ctx, http.MethodPost, path, form, ajax)
}

func (m *Manager) do(ctx context.Context, method, path string, form url.Values, ajax bool) (string, error) {
	opName := method + " " + path
	var body string
	err := m.retry.Execute(ctx, opName, func(ctx context.Context) error {
		var err error
		body, err = m.doOnce(ctx, method, path, form, ajax)
		return err
	})
	return body, err
}

func (m *Manager) doOnce(ctx context.Context, method, path string, form url.Values, ajax bool) (string, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reqBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	m.setHeaders(req, ajax, form != nil)

	start := time.Now()
	resp, err := m.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side owns the error
	metrics.ObserveRequestDuration(path, time.Since(start))

	if err := resilience.ClassifyStatus(resp.StatusCode); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return string(raw), nil
}

func (m *Manager) setHeaders(req *http.Request, ajax, hasBody bool) {
	req.Header.Set("User-Agent", m.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	if ajax {
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Faces-Request", "partial/ajax")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	}
}

func (m *Manager) httpClient() *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		m.client = m.newClient()
	}
	return m.client
}

// newClient builds the per-session transport. The origin presents an
// incomplete certificate chain, so TLS verification is relaxed when
// configured, matching how browsers are pointed at it in practice.
func (m *Manager) newClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: m.cfg.InsecureSkipVerify, //nolint:gosec // legacy origin
		},
		MaxIdleConns:        10,
		MaxConnsPerHost:     5,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}
	return &http.Client{
		Jar:       jar,
		Transport: transport,
		Timeout:   m.cfg.Timeout(),
	}
}
