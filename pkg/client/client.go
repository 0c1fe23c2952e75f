package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/matst80/slask-browse/pkg/cache"
	"github.com/matst80/slask-browse/pkg/types"
	"github.com/ohler55/ojg/jp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slaskbrowse_api_requests_total",
		Help: "The total number of catalog api requests",
	}, []string{"endpoint", "status"})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slaskbrowse_api_request_seconds",
		Help:    "Catalog api request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slaskbrowse_metadata_cache_hits_total",
		Help: "The total number of metadata responses served from cache",
	}, []string{"endpoint"})
)

type Config struct {
	BaseUrl        string
	CategoriesPath string
	FacetsPath     string
	ListingPath    string
	// ItemsPath is a JSONPath selecting the listing rows, the parts page
	// answers with $.parts and the cars page with $.cars.
	ItemsPath   string
	MetadataTTL time.Duration
	Timeout     time.Duration
}

func DefaultConfig(baseUrl string) Config {
	return Config{
		BaseUrl:        baseUrl,
		CategoriesPath: "/api/parts/categories",
		FacetsPath:     "/api/parts/specs-meta",
		ListingPath:    "/api/parts/",
		ItemsPath:      "$.parts",
		MetadataTTL:    5 * time.Minute,
		Timeout:        10 * time.Second,
	}
}

// MetadataCache stores category trees and facet descriptors, listing pages
// are never cached.
type MetadataCache interface {
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

func WithCache(cache MetadataCache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTokenSource sends an Authorization header on every request.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

type Client struct {
	cfg    Config
	base   *url.URL
	items  jp.Expr
	http   *http.Client
	cache  MetadataCache
	tokens oauth2.TokenSource
	logger *zap.Logger
}

func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseUrl, err)
	}
	if cfg.ItemsPath == "" {
		cfg.ItemsPath = "$.items"
	}
	items, err := jp.ParseString(cfg.ItemsPath)
	if err != nil {
		return nil, fmt.Errorf("invalid items path '%s': %w", cfg.ItemsPath, err)
	}
	c := &Client{
		cfg:    cfg,
		base:   base,
		items:  items,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens != nil {
		transport := c.http.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		authed := *c.http
		authed.Transport = &oauth2.Transport{Source: c.tokens, Base: transport}
		c.http = &authed
	}
	return c, nil
}

func (c *Client) endpoint(path string, params types.Params) string {
	ref := &url.URL{Path: path, RawQuery: params.Encode()}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) get(ctx context.Context, name, path string, params types.Params) ([]byte, error) {
	target := c.endpoint(path, params)
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &types.NetworkError{Op: "GET", Url: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		requests.WithLabelValues(name, "error").Inc()
		return nil, &types.NetworkError{Op: "GET", Url: target, Err: err}
	}
	defer resp.Body.Close()
	requests.WithLabelValues(name, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &types.NetworkError{Op: "GET", Url: target, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.NetworkError{Op: "GET", Url: target, Err: err}
	}
	c.logger.Debug("api response", zap.String("url", target), zap.Int("bytes", len(data)), zap.Duration("took", time.Since(start)))
	return data, nil
}

func (c *Client) cached(ctx context.Context, name, key string, out any) bool {
	if c.cache == nil {
		return false
	}
	if err := c.cache.Get(ctx, key, out); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			// unreadable entry, most likely written by an older response shape
			c.logger.Warn("dropping cached metadata", zap.String("key", key), zap.Error(err))
			if err = c.cache.Invalidate(ctx, key); err != nil {
				c.logger.Warn("failed to invalidate metadata", zap.String("key", key), zap.Error(err))
			}
		}
		return false
	}
	cacheHits.WithLabelValues(name).Inc()
	return true
}

func (c *Client) store(ctx context.Context, key string, value any) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, value, c.cfg.MetadataTTL); err != nil {
		c.logger.Warn("failed to cache metadata", zap.String("key", key), zap.Error(err))
	}
}

func (c *Client) FetchCategories(ctx context.Context) ([]types.CategoryNode, error) {
	key := "categories:" + c.endpoint(c.cfg.CategoriesPath, nil)
	var categories []types.CategoryNode
	if c.cached(ctx, "categories", key, &categories) {
		return categories, nil
	}
	data, err := c.get(ctx, "categories", c.cfg.CategoriesPath, nil)
	if err != nil {
		return nil, err
	}
	resp := types.CategoryResponse{}
	if err = sonic.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	c.store(ctx, key, resp.Categories)
	return resp.Categories, nil
}

func (c *Client) FetchFacets(ctx context.Context, id types.CategoryId) (map[string]types.FacetDescriptor, error) {
	params := types.Params{{Key: "category_id", Value: strconv.FormatInt(int64(id), 10)}}
	key := "facets:" + c.endpoint(c.cfg.FacetsPath, params)
	var filters map[string]types.FacetDescriptor
	if c.cached(ctx, "facets", key, &filters) {
		return filters, nil
	}
	data, err := c.get(ctx, "facets", c.cfg.FacetsPath, params)
	if err != nil {
		return nil, err
	}
	resp := types.FacetResponse{}
	if err = sonic.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode facets: %w", err)
	}
	if resp.Filters == nil {
		resp.Filters = map[string]types.FacetDescriptor{}
	}
	c.store(ctx, key, resp.Filters)
	return resp.Filters, nil
}

func (c *Client) FetchPage(ctx context.Context, params types.Params) (*types.Page, error) {
	data, err := c.get(ctx, "listing", c.cfg.ListingPath, params)
	if err != nil {
		return nil, err
	}
	var doc any
	if err = sonic.Unmarshal(data, &doc); err != nil {
		return nil, &types.NetworkError{Op: "GET", Url: c.endpoint(c.cfg.ListingPath, params), Err: fmt.Errorf("decode listing: %w", err)}
	}
	page := &types.Page{Items: c.extractItems(doc)}
	if root, ok := doc.(map[string]any); ok {
		page.HasMore, _ = root["has_more"].(bool)
	}
	return page, nil
}

func (c *Client) extractItems(doc any) []types.Item {
	results := c.items.Get(doc)
	if len(results) == 1 {
		if arr, ok := results[0].([]any); ok {
			results = arr
		}
	}
	items := make([]types.Item, 0, len(results))
	for _, r := range results {
		if obj, ok := r.(map[string]any); ok {
			items = append(items, types.Item(obj))
		}
	}
	return items
}
