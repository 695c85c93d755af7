package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/config"
	"github.com/aidosk/court-docket-crawler/internal/metrics"
	"github.com/aidosk/court-docket-crawler/internal/resilience"
)

// defaultSubmitSuffix is used when the login button cannot be located in
// the served markup; the origin has shipped this id for years.
const defaultSubmitSuffix = "j_idt89"

// authMarkers are the signals of an authenticated page. At least three
// must be present; individual markers come and go with origin redesigns.
var authMarkers = []string{
	"profile-context-menu",
	"Выйти",
	"logout()",
	"userInfo.xhtml",
}

// Authenticator drives the origin's four-step login sequence. Each
// attempt starts from a fresh transport so no half-established state
// leaks between tries. The outer retry strategy carries no breaker: the
// per-request layer inside Manager already reports every outcome.
type Authenticator struct {
	mgr    *Manager
	creds  config.AuthConfig
	retry  *resilience.Strategy
	pacing time.Duration
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewAuthenticator builds an Authenticator bound to one session Manager.
func NewAuthenticator(mgr *Manager, creds config.AuthConfig, retry *resilience.Strategy, pacing time.Duration, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		mgr:    mgr,
		creds:  creds,
		retry:  retry,
		pacing: pacing,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Authenticate runs the login sequence under the outer retry policy.
// Every attempt discards the transport and restarts from step 1.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	err := a.retry.Execute(ctx, "authentication", func(ctx context.Context) error {
		a.mgr.Reset()
		return a.loginOnce(ctx)
	})
	if err != nil {
		metrics.ObserveAuth("failure")
		var terminal *resilience.TerminalError
		if errors.As(err, &terminal) && (terminal.StatusCode == 401 || terminal.StatusCode == 403) {
			return &resilience.AuthError{Reason: "credentials rejected by origin", Err: err}
		}
		return &resilience.AuthError{Reason: "login sequence failed", Err: err}
	}
	metrics.ObserveAuth("success")
	return nil
}

func (a *Authenticator) loginOnce(ctx context.Context) error {
	a.logger.Info("starting login sequence")

	// Step 1: landing page establishes the session and yields a token.
	landing, err := a.mgr.Get(ctx, "/")
	if err != nil {
		return fmt.Errorf("load landing page: %w", err)
	}
	token := ExtractToken(landing)
	if err := a.sleep(ctx, a.pacing); err != nil {
		return err
	}

	// Step 2: switch locale. The origin serves two locales and only one
	// produces markup the downstream parser understands.
	if err := a.switchLocale(ctx, token); err != nil {
		return fmt.Errorf("switch locale: %w", err)
	}
	if err := a.sleep(ctx, a.pacing/2); err != nil {
		return err
	}

	// Step 3: submit credentials against freshly scraped form ids.
	if err := a.submitCredentials(ctx); err != nil {
		return fmt.Errorf("submit credentials: %w", err)
	}
	if err := a.sleep(ctx, a.pacing/2); err != nil {
		return err
	}

	// Step 4: verify against a protected page.
	return a.verify(ctx)
}

func (a *Authenticator) switchLocale(ctx context.Context, fallbackToken string) error {
	page, err := a.mgr.Get(ctx, "/index.xhtml")
	if err != nil {
		return err
	}
	token := ExtractToken(page)
	if token == "" {
		token = fallbackToken
	}

	form := url.Values{
		"f_l_temp":                     {"f_l_temp"},
		"javax.faces.ViewState":        {token},
		"javax.faces.source":           {"f_l_temp:js_temp_1"},
		"javax.faces.partial.execute":  {"f_l_temp:js_temp_1 @component"},
		"javax.faces.partial.render":   {"@component"},
		"param1":                       {a.mgr.BaseURL() + "/"},
		"org.richfaces.ajax.component": {"f_l_temp:js_temp_1"},
		"f_l_temp:js_temp_1":           {"f_l_temp:js_temp_1"},
		"rfExt":                        {"null"},
		"AJAX:EVENTS_COUNT":            {"1"},
		"javax.faces.partial.ajax":     {"true"},
	}
	_, err = a.mgr.PostForm(ctx, "/index.xhtml", form, true)
	return err
}

func (a *Authenticator) submitCredentials(ctx context.Context) error {
	page, err := a.mgr.Get(ctx, "/index.xhtml")
	if err != nil {
		return err
	}
	token := ExtractToken(page)
	loginForm := scrapeLoginForm(page)

	formBase := loginForm.FormBase
	if formBase == "" {
		formBase = "j_idt82:auth"
	}
	submit := loginForm.SubmitButton
	if submit == "" {
		submit = formBase + ":" + defaultSubmitSuffix
		a.logger.Warn("login button not found, using default id",
			zap.String("submit_button", submit),
		)
	}

	form := url.Values{
		formBase:                       {formBase},
		formBase + ":xin":              {a.creds.Login},
		formBase + ":password":         {a.creds.Password},
		"javax.faces.ViewState":        {token},
		"javax.faces.source":           {submit},
		"javax.faces.partial.event":    {"click"},
		"javax.faces.partial.execute":  {submit + " @component"},
		"javax.faces.partial.render":   {"@component"},
		"org.richfaces.ajax.component": {submit},
		submit:                         {submit},
		"rfExt":                        {"null"},
		"AJAX:EVENTS_COUNT":            {"1"},
		"javax.faces.partial.ajax":     {"true"},
	}
	_, err = a.mgr.PostForm(ctx, "/index.xhtml", form, true)
	return err
}

func (a *Authenticator) verify(ctx context.Context) error {
	page, err := a.mgr.Get(ctx, "/form/proceedings/services.xhtml")
	if err != nil {
		return err
	}

	passed := 0
	for _, marker := range authMarkers {
		if strings.Contains(page, marker) {
			passed++
		}
	}
	if passed >= 3 {
		a.logger.Info("login confirmed",
			zap.Int("markers", passed),
			zap.Int("required", 3),
		)
		return nil
	}
	a.logger.Warn("login not confirmed",
		zap.Int("markers", passed),
		zap.Int("required", 3),
	)
	// Below-threshold markers may mean a flaky render rather than bad
	// credentials, so this stays retriable.
	return fmt.Errorf("authenticated-page markers: %d of %d present", passed, len(authMarkers))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
