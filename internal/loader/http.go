package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/resilience"
)

var _ Loader = (*HTTPLoader)(nil)

type Options struct {
	Timeout       time.Duration
	MinDelay      time.Duration
	CacheSize     int
	FreshFor      time.Duration
	UserAgent     string
	RetryAttempts int
	Metrics       *metrics.Metrics
	// Client replaces the default client, mostly for tests.
	Client *http.Client
}

func OptionsFromConfig(cfg config.LoaderConfig) Options {
	return Options{
		Timeout:       cfg.Timeout,
		MinDelay:      cfg.MinDelay,
		CacheSize:     cfg.CacheSize,
		FreshFor:      cfg.FreshFor,
		UserAgent:     cfg.UserAgent,
		RetryAttempts: cfg.RetryAttempts,
	}
}

type entry struct {
	resp    Response
	fetched time.Time
}

// HTTPLoader fetches over HTTP, keeps parsed documents in an LRU cache and
// spaces network loads at least MinDelay apart.
type HTTPLoader struct {
	opts    Options
	client  *http.Client
	cache   *lru.Cache[uint64, entry]
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	now     func() time.Time
	logger  *slog.Logger
}

func NewHTTPLoader(opts Options) (*HTTPLoader, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.FreshFor <= 0 {
		opts.FreshFor = 24 * time.Hour
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "search-segment/1.0"
	}
	cache, err := lru.New[uint64, entry](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating loader cache: %w", err)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.MinDelay > 0 {
		limit = rate.Every(opts.MinDelay)
	}
	l := &HTTPLoader{
		opts:    opts,
		client:  client,
		cache:   cache,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		logger:  slog.Default().With("component", "loader"),
	}
	l.breaker = resilience.NewCircuitBreaker("loader", resilience.CircuitBreakerConfig{
		OnStateChange: l.breakerChanged,
		IsFailure: func(err error) bool {
			return !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrParseFailure)
		},
	})
	return l, nil
}

func (l *HTTPLoader) breakerChanged(name string, to resilience.State) {
	if l.opts.Metrics != nil {
		l.opts.Metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
}

func cacheKey(normal string) uint64 {
	return xxhash.Sum64String(normal)
}

func (l *HTTPLoader) Load(ctx context.Context, req Request) (*Response, error) {
	if req.URL == nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "loader", "load", nil)
	}
	key := cacheKey(req.URL.Normal())
	if e, ok := l.cache.Get(key); ok && l.usable(e, req) {
		l.count("cache")
		resp := e.resp
		resp.Cached = true
		return &resp, nil
	}
	if req.Strategy == CacheOnly {
		l.count("miss")
		return nil, apperrors.New(apperrors.ErrNotFound, "loader", "load",
			fmt.Errorf("%s not cached", req.URL.Normal()))
	}

	var resp *Response
	err := resilience.Retry(ctx, "load", resilience.RetryConfig{MaxAttempts: l.opts.RetryAttempts}, func() error {
		return l.breaker.Execute(func() error {
			var err error
			resp, err = l.fetch(ctx, req)
			return err
		})
	})
	if err != nil {
		l.count("error")
		return nil, err
	}
	l.cache.Add(key, entry{resp: *resp, fetched: l.now()})
	l.count("network")
	return resp, nil
}

func (l *HTTPLoader) usable(e entry, req Request) bool {
	switch req.Strategy {
	case IfFresh:
		return !req.ForceReload && l.now().Sub(e.fetched) < l.opts.FreshFor
	case IfExist, CacheOnly:
		return true
	default:
		return false
	}
}

func (l *HTTPLoader) fetch(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, resilience.Permanent(err)
	}
	u := req.URL
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.Normal(), nil)
	if err != nil {
		return nil, resilience.Permanent(apperrors.New(apperrors.ErrInvalidInput, "loader", "fetch", err))
	}
	httpReq.Header.Set("User-Agent", l.opts.UserAgent)

	res, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u.Normal(), err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return nil, resilience.Permanent(apperrors.New(apperrors.ErrNotFound, "loader", "fetch",
			fmt.Errorf("HTTP %d for %s", res.StatusCode, u.Normal())))
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return nil, resilience.Permanent(fmt.Errorf("HTTP %d for %s", res.StatusCode, u.Normal()))
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d for %s", res.StatusCode, u.Normal())
	}

	var body io.Reader = res.Body
	if req.MaxSize > 0 {
		body = io.LimitReader(res.Body, req.MaxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u.Normal(), err)
	}
	if req.MaxSize > 0 && int64(len(data)) > req.MaxSize {
		return nil, resilience.Permanent(apperrors.New(apperrors.ErrParseFailure, "loader", "fetch",
			fmt.Errorf("%s exceeds %d bytes", u.Normal(), req.MaxSize)))
	}

	contentType := res.Header.Get("Content-Type")
	doc, err := Parse(u, contentType, data)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	header := &document.ResponseHeader{Status: res.StatusCode, ContentType: contentType}
	if lm, err := http.ParseTime(res.Header.Get("Last-Modified")); err == nil {
		header.LastModified = lm
	}
	return &Response{Header: header, Document: doc}, nil
}

func (l *HTTPLoader) count(result string) {
	if l.opts.Metrics != nil {
		l.opts.Metrics.LoaderFetchesTotal.WithLabelValues(result).Inc()
	}
}
