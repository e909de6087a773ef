// Package scrape crawls a brokerage website and extracts readable page
// text for ingestion into the "website" folder.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
)

// Config controls the crawl. Zero values get conservative defaults;
// brokerage sites are small and their hosting is often fragile, so the
// defaults stay polite.
type Config struct {
	Parallelism int           // concurrent requests, default 2
	Delay       time.Duration // per-request delay, default 500ms
	Timeout     time.Duration // per-request timeout, default 20s
	MaxDepth    int           // link depth from the start URL, default 3
	MaxPages    int           // page cap per crawl, default 50
	UserAgent   string
}

// Page is one crawled page reduced to readable text.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Crawler fetches a site's readable content. Each Crawl call builds a
// fresh collector, so one Crawler serves concurrent crawls.
type Crawler struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a crawler.
func New(cfg Config, logger *slog.Logger) *Crawler {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "auro-assistant-crawler/1.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{cfg: cfg, logger: logger}
}

// Crawl walks the site starting at startURL, staying on the same host,
// and returns the readable pages. Individual page failures are logged
// and skipped; only a completely empty crawl is an error.
func (c *Crawler) Crawl(ctx context.Context, startURL string) ([]Page, error) {
	start, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("parsing start URL: %w", err)
	}
	if start.Scheme != "http" && start.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", start.Scheme)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(start.Hostname()),
		colly.MaxDepth(c.cfg.MaxDepth),
		colly.UserAgent(c.cfg.UserAgent),
		colly.Async(true),
	)
	collector.SetRequestTimeout(c.cfg.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Parallelism,
		Delay:       c.cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configuring crawl limits: %w", err)
	}

	var (
		mu    sync.Mutex
		pages []Page
	)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		mu.Lock()
		full := len(pages) >= c.cfg.MaxPages
		mu.Unlock()
		if full {
			r.Abort()
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if err := e.Request.Visit(link); err != nil {
			// Already-visited and off-domain links land here; not worth
			// logging.
			_ = err
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		if !strings.Contains(r.Headers.Get("Content-Type"), "text/html") {
			return
		}

		page, err := extract(r.Request.URL, r.Body)
		if err != nil {
			c.logger.Warn("skipping page", "url", r.Request.URL.String(), "error", err)
			return
		}
		if strings.TrimSpace(page.Text) == "" {
			return
		}

		mu.Lock()
		if len(pages) < c.cfg.MaxPages {
			pages = append(pages, page)
		}
		mu.Unlock()
	})

	collector.OnError(func(r *colly.Response, err error) {
		c.logger.Warn("crawl request failed", "url", r.Request.URL.String(), "error", err)
	})

	if err := collector.Visit(startURL); err != nil {
		return nil, fmt.Errorf("starting crawl at %q: %w", startURL, err)
	}
	collector.Wait()

	if len(pages) == 0 {
		return nil, fmt.Errorf("crawl of %q yielded no readable pages", startURL)
	}

	c.logger.Info("crawl complete", "start_url", startURL, "pages", len(pages))
	return pages, nil
}

// extract reduces an HTML page to its readable text. Readability handles
// article-style pages; a plain goquery strip covers everything it
// rejects.
func extract(pageURL *url.URL, body []byte) (Page, error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return Page{
			URL:   pageURL.String(),
			Title: article.Title,
			Text:  normalize(article.TextContent),
		}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parsing HTML: %w", err)
	}
	doc.Find("script, style, nav, header, footer, noscript").Remove()

	return Page{
		URL:   pageURL.String(),
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  normalize(doc.Find("body").Text()),
	}, nil
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// normalize collapses per-line whitespace and runs of blank lines while
// keeping paragraph structure for the chunker.
func normalize(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	out := strings.Join(lines, "\n")
	out = blankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
