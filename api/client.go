package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/cache"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/logger"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/resilience"
)

// Request is the mutable outgoing request handed to request interceptors
// before send.
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Headers  http.Header
	Body     any
	// NoCache disables response caching for this request even when the
	// client has a cache configured.
	NoCache bool
}

// Response is the envelope returned for every call.
type Response struct {
	Data     json.RawMessage
	Status   int
	Headers  http.Header
	Cached   bool
	Duration time.Duration
}

// RequestInterceptor may transform the outgoing request before it is sent.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor may transform the response envelope before it reaches
// the caller.
type ResponseInterceptor func(ctx context.Context, resp *Response) error

type clientConfig struct {
	token      string
	timeout    time.Duration
	headers    http.Header
	httpClient *http.Client
	log        logger.Logger
	cache      cache.Cache
	cacheTTL   time.Duration
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithToken sets the bearer token sent in the Authorization header.
func WithToken(token string) ClientOption {
	return func(c *clientConfig) { c.token = token }
}

// WithTimeout sets the per-request timeout. Defaults to 10 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithHeader adds a default header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(c *clientConfig) { c.headers.Set(key, value) }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithLogger sets the logger. Defaults to a console logger.
func WithLogger(log logger.Logger) ClientOption {
	return func(c *clientConfig) { c.log = log }
}

// WithCache enables GET response caching with the given TTL. Successful GET
// bodies are stored keyed by endpoint plus normalized query parameters.
func WithCache(c cache.Cache, ttl time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.cache = c
		cfg.cacheTTL = ttl
	}
}

// WithRetry sets the retry policy applied to every network attempt.
func WithRetry(rc resilience.RetryConfig) ClientOption {
	return func(c *clientConfig) { c.retry = rc }
}

// WithCircuitBreaker routes every call through a circuit breaker so a
// hard-down CMS fails fast instead of burning the whole retry budget per
// request.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) ClientOption {
	return func(c *clientConfig) { c.breaker = resilience.NewCircuitBreaker(cfg) }
}

// Client is the HTTP client for the remote content API. It resolves
// endpoints against a configured base URL, authenticates with a bearer
// token, caches GET responses, and routes every network attempt through the
// retry executor.
type Client struct {
	baseURL          *url.URL
	cfg              clientConfig
	reqInterceptors  []RequestInterceptor
	respInterceptors []ResponseInterceptor
}

// New creates a Client for the given base URL. An unparsable base URL or one
// without a scheme and host returns ErrInvalidBaseURL: this is a startup
// configuration failure, never a per-request one.
func New(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidBaseURL, "%q: %v", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Wrapf(ErrInvalidBaseURL, "%q", baseURL)
	}
	cfg := clientConfig{
		timeout: 10 * time.Second,
		headers: make(http.Header),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{}
	}
	if cfg.log == nil {
		cfg.log = logger.NewConsoleLogger()
	}
	cfg.log.Debug("content api client for %s (token %s)", baseURL, maskToken(cfg.token))
	return &Client{baseURL: u, cfg: cfg}, nil
}

// maskToken keeps the first half of a secret readable for correlation and
// hides the rest.
func maskToken(s string) string {
	if s == "" {
		return "<none>"
	}
	if len(s) == 1 {
		return "*"
	}
	h := len(s) / 2
	return s[:h] + strings.Repeat("*", len(s)-h)
}

// UseRequest appends a request interceptor. Interceptors run in
// registration order.
func (c *Client) UseRequest(i RequestInterceptor) {
	c.reqInterceptors = append(c.reqInterceptors, i)
}

// UseResponse appends a response interceptor. Interceptors run in
// registration order.
func (c *Client) UseResponse(i ResponseInterceptor) {
	c.respInterceptors = append(c.respInterceptors, i)
}

// Get performs a GET request. Cached responses are returned without network
// access and flagged Cached.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Endpoint: endpoint, Query: query})
}

// Post performs a POST request with a JSON body. Never cached.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Endpoint: endpoint, Body: body})
}

// Put performs a PUT request with a JSON body. Never cached.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Endpoint: endpoint, Body: body})
}

// Delete performs a DELETE request. Never cached.
func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Endpoint: endpoint})
}

// Do executes an arbitrary request through the interceptor chains, the
// cache, and the retry executor.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	for _, interceptor := range c.reqInterceptors {
		if err := interceptor(ctx, req); err != nil {
			return nil, err
		}
	}

	cacheable := req.Method == http.MethodGet && c.cfg.cache != nil && !req.NoCache
	cacheKey := c.cacheKey(req)
	if cacheable {
		found, data, err := cache.Get[[]byte](ctx, c.cfg.cache, cacheKey)
		if err != nil {
			c.cfg.log.Warn("cache lookup for %s failed: %v", cacheKey, err)
		} else if found {
			c.cfg.log.Trace("cache hit for %s", cacheKey)
			resp := &Response{
				Data:     json.RawMessage(data),
				Status:   http.StatusOK,
				Cached:   true,
				Duration: time.Since(start),
			}
			return c.applyResponseInterceptors(ctx, resp)
		}
	}

	requestID := uuid.New().String()
	ec := errorContext{endpoint: req.Endpoint, method: req.Method, requestID: requestID}

	var resp *Response
	attempt := 0
	fetch := func() error {
		attempt++
		ec.attempt = attempt
		var err error
		resp, err = c.fetch(ctx, req, requestID, ec)
		return err
	}

	retryCfg := c.cfg.retry
	retryCfg.Operation = req.Method + " " + req.Endpoint
	retryCfg.Logger = c.cfg.log
	if retryCfg.RetryableErrors == nil {
		retryCfg.RetryableErrors = IsRetryable
	}

	run := fetch
	if c.cfg.breaker != nil {
		run = func() error {
			return c.cfg.breaker.Execute(ctx, fetch)
		}
	}

	if err := resilience.Retry(ctx, retryCfg, run); err != nil {
		return nil, err
	}

	if cacheable && resp.Status < 400 {
		if err := c.cfg.cache.Set(ctx, cacheKey, []byte(resp.Data), c.cfg.cacheTTL); err != nil {
			c.cfg.log.Warn("caching response for %s failed: %v", cacheKey, err)
		}
	}

	resp.Duration = time.Since(start)
	return c.applyResponseInterceptors(ctx, resp)
}

// fetch performs one network attempt and classifies any failure.
func (c *Client) fetch(ctx context.Context, req *Request, requestID string, ec errorContext) (*Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, newError(KindValidation, 0, errors.Wrap(err, "marshalling payload"), ec)
		}
		bodyReader = bytes.NewReader(payload)
	}

	reqCtx := ctx
	if c.cfg.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.cfg.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, c.resolveURL(req), bodyReader)
	if err != nil {
		return nil, newError(KindUnknown, 0, errors.Wrap(err, "creating request"), ec)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, vals := range c.cfg.headers {
		for _, v := range vals {
			httpReq.Header.Add(key, v)
		}
	}
	for key, vals := range req.Headers {
		for _, v := range vals {
			httpReq.Header.Add(key, v)
		}
	}
	if c.cfg.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.token)
	}

	c.cfg.log.Trace("sending request: %s %s", req.Method, httpReq.URL)
	httpResp, err := c.cfg.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(err, ec)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classify(err, ec)
	}

	if httpResp.StatusCode >= 400 {
		kind := classifyStatus(httpResp.StatusCode)
		return nil, newError(kind, httpResp.StatusCode, errors.Newf("request failed with status %s", httpResp.Status), ec)
	}

	return &Response{
		Data:    json.RawMessage(body),
		Status:  httpResp.StatusCode,
		Headers: httpResp.Header,
	}, nil
}

func (c *Client) applyResponseInterceptors(ctx context.Context, resp *Response) (*Response, error) {
	for _, interceptor := range c.respInterceptors {
		if err := interceptor(ctx, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// resolveURL joins the endpoint onto the base URL, trimming exactly one
// slash at the join point.
func (c *Client) resolveURL(req *Request) string {
	u := *c.baseURL
	base := strings.TrimSuffix(u.Path, "/")
	endpoint := strings.TrimPrefix(req.Endpoint, "/")
	u.Path = base + "/" + endpoint
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String()
}

// cacheKey derives the cache key for a GET request: the endpoint plus a
// sorted-key serialization of query parameters so that parameter order does
// not fragment the cache.
func (c *Client) cacheKey(req *Request) string {
	key := strings.TrimPrefix(req.Endpoint, "/")
	if len(req.Query) == 0 {
		return key
	}
	names := make([]string, 0, len(req.Query))
	for name := range req.Query {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	sb.WriteString(key)
	sb.WriteByte('?')
	for i, name := range names {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(req.Query[name], ","))
	}
	return sb.String()
}
