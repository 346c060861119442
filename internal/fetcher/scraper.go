package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/version"
)

// rowLabels maps the table's product labels to terms.
var rowLabels = map[string]rates.Term{
	"30 yr. fixed": rates.Term30,
	"20 yr. fixed": rates.Term20,
	"15 yr. fixed": rates.Term15,
	"10 yr. fixed": rates.Term10,
}

const scrapeDateLayout = "01/02/2006"

var errSectionNotFound = errors.New("provider section not found")

// ScraperOptions parameterise the rates page source.
type ScraperOptions struct {
	URL          string
	ProviderHref string
	UserAgent    string
	Timeout      time.Duration
}

// WebScrapeSource reads the provider's section of a public rates table.
type WebScrapeSource struct {
	opts   ScraperOptions
	logger zerolog.Logger
	client *http.Client
}

// NewWebScrapeSource constructs the scraper source.
func NewWebScrapeSource(opts ScraperOptions, logger zerolog.Logger) *WebScrapeSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebScrapeSource{
		opts:   opts,
		logger: logger.With().Str("component", "scrape_source").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Source.
func (s *WebScrapeSource) Name() string { return SourceScraper }

// Fetch downloads and parses the page.
func (s *WebScrapeSource) Fetch(ctx context.Context) (rates.RateSet, error) {
	if s.opts.URL == "" || s.opts.ProviderHref == "" {
		return nil, &rates.FetchError{Source: SourceScraper, Err: errors.New("scraper url or provider href not configured")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return nil, &rates.FetchError{Source: SourceScraper, Err: err}
	}
	req.Header.Set("Accept", "text/html")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &rates.FetchError{Source: SourceScraper, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &rates.FetchError{Source: SourceScraper, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return ParseRatesPage(resp.Body, s.opts.ProviderHref, s.logger)
}

type parseState int

const (
	stateSeeking parseState = iota
	stateInTargetSection
	stateDone
)

// ParseRatesPage extracts the provider's rows from a rates table. Sections
// start at header rows (rows holding <th> cells); the provider's section is
// the one whose header links to providerHref, and it ends at the next
// header. Rows with unknown labels are skipped with a warning; a malformed
// field fails the page with a ParseError naming the field.
func ParseRatesPage(r io.Reader, providerHref string, logger zerolog.Logger) (rates.RateSet, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, &rates.ParseError{Field: "document", Err: err}
	}

	set := make(rates.RateSet)
	state := stateSeeking
	for _, row := range tableRows(doc) {
		if state == stateDone {
			break
		}

		header := isHeaderRow(row)
		switch state {
		case stateSeeking:
			if header && linksTo(row, providerHref) {
				state = stateInTargetSection
			}
		case stateInTargetSection:
			if header {
				state = stateDone
				continue
			}
			term, quote, known, err := parseRow(row)
			if err != nil {
				return nil, err
			}
			if !known {
				logger.Warn().Str("label", rowLabel(row)).Msg("skipping unknown rate label")
				continue
			}
			set[term] = quote
		}
	}

	if state == stateSeeking {
		return nil, &rates.ParseError{Field: "section", Value: providerHref, Err: errSectionNotFound}
	}
	return set, nil
}

func tableRows(n *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == atom.Tr {
			rows = append(rows, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return rows
}

func cells(row *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			out = append(out, c)
		}
	}
	return out
}

func isHeaderRow(row *html.Node) bool {
	return len(cells(row, atom.Th)) > 0
}

func linksTo(n *html.Node, href string) bool {
	if n.Type == html.ElementNode && n.DataAtom == atom.A {
		for _, attr := range n.Attr {
			if attr.Key == "href" && strings.TrimSpace(attr.Val) == href {
				return true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if linksTo(c, href) {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func rowLabel(row *html.Node) string {
	tds := cells(row, atom.Td)
	if len(tds) == 0 {
		return ""
	}
	return textOf(tds[0])
}

// parseRow reads label | rate% | points | change | date.
func parseRow(row *html.Node) (rates.Term, rates.Quote, bool, error) {
	tds := cells(row, atom.Td)
	if len(tds) == 0 {
		return 0, rates.Quote{}, false, nil
	}

	term, known := rowLabels[strings.ToLower(textOf(tds[0]))]
	if !known {
		return 0, rates.Quote{}, false, nil
	}
	if len(tds) < 5 {
		return 0, rates.Quote{}, false, &rates.ParseError{
			Field: "row",
			Value: textOf(row),
			Err:   fmt.Errorf("expected 5 cells, got %d", len(tds)),
		}
	}

	rateText := strings.TrimSpace(strings.TrimSuffix(textOf(tds[1]), "%"))
	rate, err := percentToRate("rate", rateText)
	if err != nil {
		return 0, rates.Quote{}, false, err
	}

	quote := rates.Quote{Rate: rate}

	if pointsText := textOf(tds[2]); !isBlank(pointsText) {
		points, err := decimal.NewFromString(pointsText)
		if err != nil {
			return 0, rates.Quote{}, false, &rates.ParseError{Field: "points", Value: pointsText, Err: err}
		}
		quote.Points = &points
	}

	if changeText := textOf(tds[3]); !isBlank(changeText) {
		change, err := percentToRate("change", strings.TrimPrefix(changeText, "+"))
		if err != nil {
			return 0, rates.Quote{}, false, err
		}
		quote.Change = &change
	}

	dateText := textOf(tds[4])
	date, err := time.Parse(scrapeDateLayout, dateText)
	if err != nil {
		return 0, rates.Quote{}, false, &rates.ParseError{Field: "date", Value: dateText, Err: err}
	}
	quote.Date = date

	return term, quote, true, nil
}

func isBlank(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "-", "N/A", "n/a":
		return true
	}
	return false
}

var _ Source = (*WebScrapeSource)(nil)
