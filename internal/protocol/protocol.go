// Package protocol implements the stateful search exchange against the
// origin's RichFaces form: fresh continuation token per query, AJAX
// partial update, then a plain GET for the rendered results.
package protocol

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/session"
)

const (
	searchFormPath  = "/form/lawsuit/"
	searchPath      = "/form/lawsuit/index.xhtml"
	resultsPath     = "/lawsuit/lawsuitList.xhtml"
	defaultFormBase = "j_idt45:j_idt46"
	// The search button id is not rendered with a scrapeable label; this
	// suffix has been stable across origin deployments.
	searchButtonSuffix = "j_idt83"
)

// FormCapabilities is the typed record of scraped form identifiers. It
// is valid for the lifetime of one authenticated session: the origin
// regenerates ids when a session is re-established, so the record is
// versioned and invalidated on every re-authentication.
type FormCapabilities struct {
	FormBase  string
	FormID    string
	Version   int
	ScrapedAt time.Time
}

// SearchQuery is one docket lookup.
type SearchQuery struct {
	RegionID string
	CourtID  string
	Year     string
	Number   string
}

// Client drives the search protocol over one session Manager. Not safe
// for concurrent use; the origin's server-side form state forbids
// interleaving queries within a session anyway.
type Client struct {
	mgr    *session.Manager
	pacing time.Duration
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	caps    *FormCapabilities
	version int
}

// NewClient builds a Client. pacing is the fixed courtesy delay between
// protocol steps, distinct from retry backoff.
func NewClient(mgr *session.Manager, pacing time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		mgr:    mgr,
		pacing: pacing,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// InvalidateCapabilities drops the cached form record. Must be called
// after every re-authentication.
func (c *Client) InvalidateCapabilities() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps = nil
}

// Capabilities returns the current form record, or nil before the first
// prepared search.
func (c *Client) Capabilities() *FormCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Search runs one full query: fetch the form for a fresh token, select
// the region, post the query as a partial update, then fetch the
// rendered results page.
func (c *Client) Search(ctx context.Context, q SearchQuery) (string, error) {
	token, caps, err := c.prepareForm(ctx)
	if err != nil {
		return "", fmt.Errorf("prepare search form: %w", err)
	}

	if err := c.selectRegion(ctx, token, caps, q.RegionID); err != nil {
		return "", fmt.Errorf("select region: %w", err)
	}
	if err := c.sleep(ctx, c.pacing); err != nil {
		return "", err
	}

	if err := c.postQuery(ctx, token, caps, q); err != nil {
		return "", fmt.Errorf("post query: %w", err)
	}
	// The origin renders results into server-side state asynchronously.
	if err := c.sleep(ctx, c.pacing); err != nil {
		return "", err
	}

	results, err := c.mgr.Get(ctx, resultsPath)
	if err != nil {
		return "", fmt.Errorf("fetch results: %w", err)
	}
	c.logger.Debug("search executed", zap.String("number", q.Number))
	return results, nil
}

// prepareForm fetches the search form page. The continuation token is
// single-use and extracted fresh every call; the form identifiers are
// scraped once per session and served from the cache afterwards.
func (c *Client) prepareForm(ctx context.Context) (string, FormCapabilities, error) {
	page, err := c.mgr.Get(ctx, searchFormPath)
	if err != nil {
		return "", FormCapabilities{}, err
	}
	token := session.ExtractToken(page)
	if token == "" {
		return "", FormCapabilities{}, fmt.Errorf("continuation token missing from search form")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caps == nil {
		c.version++
		caps := scrapeFormCapabilities(page)
		caps.Version = c.version
		caps.ScrapedAt = time.Now()
		c.caps = &caps
		c.logger.Debug("form capabilities scraped",
			zap.String("form_base", caps.FormBase),
			zap.Int("version", caps.Version),
		)
	}
	return token, *c.caps, nil
}

func (c *Client) selectRegion(ctx context.Context, token string, caps FormCapabilities, regionID string) error {
	base := caps.FormBase
	form := url.Values{
		base:                           {base},
		base + ":edit-district":        {regionID},
		base + ":edit-district-hide":   {""},
		base + ":edit-court":           {""},
		base + ":edit-year":            {""},
		base + ":edit-iin":             {""},
		base + ":edit-num":             {""},
		base + ":edit-fio":             {""},
		"javax.faces.ViewState":        {token},
		"javax.faces.source":           {base + ":edit-district"},
		"javax.faces.partial.event":    {"change"},
		"javax.faces.partial.execute":  {base + ":edit-district @component"},
		"javax.faces.partial.render":   {"@component"},
		"javax.faces.behavior.event":   {"change"},
		"org.richfaces.ajax.component": {base + ":edit-district"},
		"rfExt":                        {"null"},
		"AJAX:EVENTS_COUNT":            {"1"},
		"javax.faces.partial.ajax":     {"true"},
	}
	_, err := c.mgr.PostForm(ctx, searchPath, form, true)
	return err
}

func (c *Client) postQuery(ctx context.Context, token string, caps FormCapabilities, q SearchQuery) error {
	base := caps.FormBase
	button := base + ":" + searchButtonSuffix
	form := url.Values{
		base:                           {base},
		base + ":edit-district":        {q.RegionID},
		base + ":edit-district-hide":   {q.RegionID},
		base + ":edit-court":           {q.CourtID},
		base + ":edit-year":            {q.Year},
		base + ":edit-iin":             {""},
		base + ":edit-num":             {q.Number},
		base + ":edit-fio":             {""},
		"javax.faces.ViewState":        {token},
		"javax.faces.source":           {button},
		"javax.faces.partial.execute":  {button + " @component"},
		"javax.faces.partial.render":   {"@component"},
		"param1":                       {base + ":edit-num"},
		"org.richfaces.ajax.component": {button},
		button:                         {button},
		"rfExt":                        {"null"},
		"AJAX:EVENTS_COUNT":            {"1"},
		"javax.faces.partial.ajax":     {"true"},
	}
	_, err := c.mgr.PostForm(ctx, searchPath, form, true)
	return err
}

// scrapeFormCapabilities extracts the form identifiers from the served
// search page, falling back to the long-stable defaults.
func scrapeFormCapabilities(html string) FormCapabilities {
	caps := FormCapabilities{FormBase: defaultFormBase}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return caps
	}
	if id, ok := doc.Find("form").First().Attr("id"); ok {
		caps.FormID = id
	}
	for _, field := range []string{"edit-district", "edit-court", "edit-year", "edit-num"} {
		sel := doc.Find(fmt.Sprintf(`[id*=%q]`, field)).First()
		if sel.Length() == 0 {
			continue
		}
		name, _ := sel.Attr("name")
		if idx := strings.LastIndex(name, ":"); idx > 0 {
			caps.FormBase = name[:idx]
			break
		}
	}
	return caps
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
