// Package parser turns the origin's rendered results page into docket
// records. Extraction stays deliberately shallow: the orchestration layer
// only needs a reliable found/not-found signal plus the fields the store
// persists.
package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/docket"
)

// noResultsMessages are the origin's empty-result banners, one per locale.
var noResultsMessages = []string{
	"По указанным данным ничего не найдено",
	"Көрсетілген деректер бойына ешнәрсе табылмады",
}

// eventDateLayout is how the origin renders dates, e.g. "15.01.2025".
const eventDateLayout = "02.01.2006"

// Parser extracts records from results pages.
type Parser struct {
	logger *zap.Logger
}

// New builds a Parser.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse extracts all result rows. An empty slice with a nil error means
// the origin explicitly reported no results (or served no table at all);
// a malformed document is an error.
func (p *Parser) Parse(html string) ([]docket.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	if p.isNoResults(doc) {
		return nil, nil
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		p.logger.Warn("results table missing from page")
		return nil, nil
	}

	var records []docket.Record
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		rec, ok := p.parseRow(row)
		if !ok {
			return
		}
		rec.ResultIndex = i
		records = append(records, rec)
	})

	p.logger.Debug("results parsed", zap.Int("records", len(records)))
	return records, nil
}

// isNoResults checks the result pane for the origin's empty banners. A
// missing pane also counts as empty, matching how the origin renders a
// query that produced nothing.
func (p *Parser) isNoResults(doc *goquery.Document) bool {
	content := doc.Find(".tab__inner-content").First()
	if content.Length() == 0 {
		return true
	}
	text := content.Text()
	for _, msg := range noResultsMessages {
		if strings.Contains(text, msg) {
			return true
		}
	}
	return false
}

// parseRow extracts one case from a table row: identifier+date, parties,
// judge, event history, in that cell order.
func (p *Parser) parseRow(row *goquery.Selection) (docket.Record, bool) {
	cells := row.Find("td")
	if cells.Length() < 4 {
		return docket.Record{}, false
	}

	var rec docket.Record

	infoParas := cells.Eq(0).Find("p")
	rec.CaseNumber = clean(infoParas.Eq(0).Text())
	if rec.CaseNumber == "" {
		return docket.Record{}, false
	}
	if infoParas.Length() > 1 {
		if d, err := time.Parse(eventDateLayout, clean(infoParas.Eq(1).Text())); err == nil {
			rec.CaseDate = &d
		}
	}

	partyParas := cells.Eq(1).Find("p")
	if partyParas.Length() >= 2 {
		rec.Plaintiffs = splitParties(clean(partyParas.Eq(0).Text()))
		rec.Defendants = splitParties(clean(partyParas.Eq(1).Text()))
	}

	rec.Judge = clean(cells.Eq(2).Text())

	cells.Eq(3).Find("p").Each(func(_ int, para *goquery.Selection) {
		text := clean(para.Text())
		datePart, typePart, found := strings.Cut(text, " - ")
		if !found {
			return
		}
		d, err := time.Parse(eventDateLayout, clean(datePart))
		if err != nil {
			return
		}
		typ := clean(typePart)
		if typ == "" {
			return
		}
		rec.Events = append(rec.Events, docket.Event{Type: typ, Date: d})
	})

	return rec, true
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func splitParties(s string) []string {
	if s == "" {
		return nil
	}
	var parties []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			parties = append(parties, part)
		}
	}
	return parties
}
