package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	arxivQueryURL   = "http://export.arxiv.org/api/query"
	arxivThrottle   = 3 * time.Second
	arxivMaxResults = 8
)

// FeedProvider fetches RSS and Atom feeds plus the arXiv listing API.
type FeedProvider struct {
	client   *Client
	arxivURL string
	tracer   trace.Tracer
}

func NewFeedProvider(client *Client, tracer trace.Tracer) *FeedProvider {
	return &FeedProvider{client: client, arxivURL: arxivQueryURL, tracer: tracer}
}

// FetchFeed returns up to maxItems entries from an RSS or Atom feed.
func (p *FeedProvider) FetchFeed(ctx context.Context, feedURL string, maxItems int) ([]domain.NewsItem, error) {
	_, span := p.tracer.Start(ctx, "feeds.fetch-feed")
	defer span.End()

	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	if maxItems <= 0 {
		maxItems = 5
	}

	body, err := p.client.Get(ctx, feedURL, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml, text/xml",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	items, err := parseRSS(body, feedURL, maxItems)
	if err == nil && len(items) > 0 {
		return items, nil
	}
	items, aerr := parseAtom(body, feedURL, maxItems)
	if aerr == nil && len(items) > 0 {
		return items, nil
	}
	return nil, &Error{Kind: ErrParse, Message: "feed decoded to zero items: " + feedURL}
}

func parseRSS(body []byte, feedURL string, maxItems int) ([]domain.NewsItem, error) {
	var rss struct {
		Channel struct {
			Title string `xml:"title"`
			Items []struct {
				Title   string `xml:"title"`
				Link    string `xml:"link"`
				PubDate string `xml:"pubDate"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, err
	}
	items := make([]domain.NewsItem, 0, maxItems)
	for i, row := range rss.Channel.Items {
		if i >= maxItems {
			break
		}
		title := collapseSpaces(row.Title)
		if title == "" {
			continue
		}
		items = append(items, domain.NewsItem{
			Title:     title,
			URL:       strings.TrimSpace(row.Link),
			Source:    feedHost(feedURL),
			Published: parseFeedDate(row.PubDate),
		})
	}
	return items, nil
}

func parseAtom(body []byte, feedURL string, maxItems int) ([]domain.NewsItem, error) {
	var atom struct {
		Entries []struct {
			Title string `xml:"title"`
			Links []struct {
				Href string `xml:"href,attr"`
				Rel  string `xml:"rel,attr"`
			} `xml:"link"`
			Published string `xml:"published"`
			Updated   string `xml:"updated"`
		} `xml:"entry"`
	}
	if err := xml.Unmarshal(body, &atom); err != nil {
		return nil, err
	}
	items := make([]domain.NewsItem, 0, maxItems)
	for i, entry := range atom.Entries {
		if i >= maxItems {
			break
		}
		title := collapseSpaces(entry.Title)
		if title == "" {
			continue
		}
		link := ""
		for _, l := range entry.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}
		items = append(items, domain.NewsItem{
			Title:     title,
			URL:       link,
			Source:    feedHost(feedURL),
			Published: parseFeedDate(published),
		})
	}
	return items, nil
}

// FetchArxiv queries recent ML/AI submissions. The listing API asks clients
// to keep at least three seconds between calls.
func (p *FeedProvider) FetchArxiv(ctx context.Context) ([]domain.NewsItem, error) {
	_, span := p.tracer.Start(ctx, "feeds.fetch-arxiv")
	defer span.End()

	query := url.Values{}
	query.Set("search_query", "cat:cs.LG OR cat:cs.AI")
	query.Set("sortBy", "submittedDate")
	query.Set("sortOrder", "descending")
	query.Set("max_results", fmt.Sprintf("%d", arxivMaxResults))

	body, err := p.client.Get(ctx, p.arxivURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv query: %w", err)
	}
	items, err := parseAtom(body, p.arxivURL, arxivMaxResults)
	if err != nil {
		return nil, &Error{Kind: ErrParse, Message: "arxiv: bad atom payload", Err: err}
	}
	for i := range items {
		items[i].Source = "arxiv"
	}
	_ = p.client.Throttle().Sleep(ctx, arxivThrottle)
	return items, nil
}

func parseFeedDate(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	layouts := []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Format("2006-01-02")
		}
	}
	return v
}

func feedHost(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return strings.TrimPrefix(u.Host, "www.")
}
