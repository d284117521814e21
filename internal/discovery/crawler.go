package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bl4ck0w1/muninn/internal/fetch"
	"github.com/bl4ck0w1/muninn/internal/timing"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxDepth = 3
	DefaultMaxURLs  = 15
	DefaultDelay    = 500 * time.Millisecond
)

type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, headers map[string]string) (*models.Page, error)
}

type CrawlResult struct {
	// URLs lists every visited URL in visit order, fetched or not.
	URLs []string
	// Pages holds only the URLs that were fetched successfully.
	Pages map[string]*models.Page
}

func (r *CrawlResult) Page(u string) (*models.Page, bool) {
	p, ok := r.Pages[u]
	return p, ok
}

type frontierEntry struct {
	url   string
	depth int
}

type Crawler struct {
	fetcher PageFetcher
	delay   time.Duration
	logger  *logrus.Logger
}

func NewCrawler(fetcher PageFetcher, delay time.Duration, logger *logrus.Logger) *Crawler {
	if logger == nil {
		logger = logrus.New()
	}
	if delay < 0 {
		delay = 0
	}
	return &Crawler{
		fetcher: fetcher,
		delay:   delay,
		logger:  logger,
	}
}

// Crawl walks the site breadth-first from startURL, staying inside its
// registrable domain. At most maxURLs URLs are visited; pages at maxDepth
// are not parsed for links. A page whose redirects end outside the domain is
// counted as visited but not fetched. On cancellation the URLs gathered so far are
// returned together with ctx.Err().
func (c *Crawler) Crawl(ctx context.Context, startURL string, maxDepth, maxURLs int) (*CrawlResult, error) {
	seed, err := ParseTarget(startURL)
	if err != nil {
		return nil, err
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	if maxURLs <= 0 {
		maxURLs = DefaultMaxURLs
	}
	scope := RegistrableDomainOfHost(seed.Hostname())

	res := &CrawlResult{
		URLs:  make([]string, 0, maxURLs),
		Pages: make(map[string]*models.Page),
	}
	limiter := timing.NewRateLimiter(c.delay)
	visited := make(map[string]struct{}, maxURLs)
	queued := map[string]struct{}{seed.String(): {}}
	queue := []frontierEntry{{url: seed.String(), depth: 0}}

	for len(queue) > 0 && len(visited) < maxURLs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entry := queue[0]
		queue = queue[1:]

		if _, seen := visited[entry.url]; seen || entry.depth > maxDepth {
			continue
		}
		domain, err := RegistrableDomain(entry.url)
		if err != nil || !strings.EqualFold(domain, scope) {
			continue
		}

		visited[entry.url] = struct{}{}
		res.URLs = append(res.URLs, entry.url)

		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}
		page, err := c.fetcher.Fetch(ctx, entry.url, nil)
		if err != nil {
			if fetch.IsStatusError(err) {
				c.logger.Debugf("crawl: %v", err)
			} else {
				c.logger.Warnf("crawl: fetch %s failed: %v", entry.url, err)
			}
			continue
		}
		if page.FinalURL != "" {
			if d, err := RegistrableDomain(page.FinalURL); err != nil || !strings.EqualFold(d, scope) {
				c.logger.Infof("crawl: %s redirected off-site to %s, not scanning it", entry.url, page.FinalURL)
				continue
			}
		}
		res.Pages[entry.url] = page
		c.logger.Debugf("crawl: fetched %s (depth %d)", entry.url, entry.depth)

		if entry.depth >= maxDepth {
			continue
		}
		base := page.FinalURL
		if base == "" {
			base = entry.url
		}
		links, err := ExtractLinks(base, page.Body)
		if err != nil {
			c.logger.Debugf("crawl: parse %s failed: %v", entry.url, err)
			continue
		}
		for _, link := range links {
			if _, ok := queued[link]; ok {
				continue
			}
			queued[link] = struct{}{}
			queue = append(queue, frontierEntry{url: link, depth: entry.depth + 1})
		}
	}

	stats := limiter.Stats()
	c.logger.WithFields(logrus.Fields{
		"requests": stats.Requests,
		"waited":   stats.Waited.Round(time.Millisecond),
	}).Infof("crawl of %s finished: %d visited, %d fetched", seed, len(res.URLs), len(res.Pages))
	return res, nil
}

// ExtractLinks resolves every <a href> in body against baseURL. Fragment-only,
// javascript: and non-http(s) links are dropped, as are fragments.
func ExtractLinks(baseURL, body string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		abs.RawFragment = ""
		if (abs.Scheme != "http" && abs.Scheme != "https") || abs.Hostname() == "" {
			return
		}
		u := abs.String()
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		links = append(links, u)
	})
	return links, nil
}
