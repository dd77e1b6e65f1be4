package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shukku-list-backend/internal/cache"
	"shukku-list-backend/internal/metrics"
	"shukku-list-backend/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

const (
	metadataUserAgent = "Mozilla/5.0"
	maxPageSize       = 5 << 20
)

// MetadataFetcher scrapes product previews from web pages
type MetadataFetcher struct {
	client   *http.Client
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewMetadataFetcher creates a fetcher. A nil cache disables caching.
func NewMetadataFetcher(client *http.Client, c cache.Cache, cacheTTL time.Duration) *MetadataFetcher {
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	return &MetadataFetcher{
		client:   client,
		cache:    c,
		cacheTTL: cacheTTL,
	}
}

// ParseItemURL returns the normalized URL if text is an http(s) link
func ParseItemURL(text string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(text))
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// Fetch retrieves the page and extracts its preview
func (f *MetadataFetcher) Fetch(ctx context.Context, rawURL string) (*models.Metadata, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("url is required: %w", ErrInvalidInput)
	}

	u, ok := ParseItemURL(rawURL)
	if !ok {
		metrics.Previews.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("not an http url %q: %w", rawURL, ErrPreviewUnavailable)
	}

	if meta, ok := f.cached(ctx, rawURL); ok {
		metrics.Previews.WithLabelValues("cached").Inc()
		return meta, nil
	}

	meta, err := f.fetch(ctx, rawURL, u)
	if err != nil {
		metrics.Previews.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("url", rawURL).Msg("Failed to fetch metadata")
		return nil, fmt.Errorf("%w: %w", ErrPreviewUnavailable, err)
	}
	metrics.Previews.WithLabelValues("fetched").Inc()

	f.store(ctx, rawURL, meta)
	return meta, nil
}

func (f *MetadataFetcher) fetch(ctx context.Context, rawURL string, u *url.URL) (*models.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", metadataUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	return extractMetadata(doc, rawURL, u.Hostname()), nil
}

func extractMetadata(doc *goquery.Document, rawURL, host string) *models.Metadata {
	title := metaProperty(doc, "og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	site := metaProperty(doc, "og:site_name")
	if site == "" {
		site = host
	}

	return &models.Metadata{
		Title: title,
		Image: metaProperty(doc, "og:image"),
		Price: metaProperty(doc, "product:price:amount"),
		Site:  site,
		URL:   rawURL,
	}
}

func metaProperty(doc *goquery.Document, property string) string {
	content, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
	return strings.TrimSpace(content)
}

func (f *MetadataFetcher) cached(ctx context.Context, key string) (*models.Metadata, bool) {
	if f.cache == nil {
		return nil, false
	}

	data, err := f.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Err(err).Msg("Preview cache read failed")
		}
		return nil, false
	}

	var meta models.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, false
	}
	return &meta, true
}

func (f *MetadataFetcher) store(ctx context.Context, key string, meta *models.Metadata) {
	if f.cache == nil || f.cacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := f.cache.Set(ctx, key, data, f.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("Preview cache write failed")
	}
}
