package petcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	log "github.com/go-pkgz/lgr"
)

// defaults for client configuration
const (
	DefaultURL             = "http://localhost:7379/v2"
	defaultConnectionLimit = 10
	defaultRetries         = 1
	defaultRetryDelay      = 100 * time.Millisecond
)

// Config is the effective client configuration, fixed at construction. Config values are comparable with ==.
type Config struct {
	URL             string
	ConnectionLimit int
	FollowRedirects bool
	Retries         int
	Timeout         time.Duration // per request, not applied to long-polls
	RetryDelay      time.Duration // initial backoff between retries
}

// Client is an etcd v2 keys API client. All methods are safe for concurrent use.
type Client struct {
	cfg     Config
	exec    *executor
	cluster *clusterView

	etcdIndex atomic.Uint64

	mu       sync.Mutex
	watchers map[weak.Pointer[Watcher]]struct{} // weak, a dropped watcher is collected without Close
}

// clientConfig holds configuration options during client construction.
type clientConfig struct {
	Config
	members    []string
	user       string
	password   string
	httpClient *http.Client
	transport  Transport
	logger     log.L
	metrics    *Metrics
}

// Option is a functional option for configuring the client.
type Option func(*clientConfig)

// WithConnectionLimit sets the max number of simultaneous requests, extra requests wait for a free slot.
func WithConnectionLimit(limit int) Option {
	return func(cfg *clientConfig) {
		cfg.ConnectionLimit = limit
	}
}

// WithFollowRedirects enables or disables following 3xx responses to other members.
func WithFollowRedirects(follow bool) Option {
	return func(cfg *clientConfig) {
		cfg.FollowRedirects = follow
	}
}

// WithRetries sets how many times a transiently failed request is retried. 0 means a single attempt.
func WithRetries(retries int) Option {
	return func(cfg *clientConfig) {
		cfg.Retries = retries
	}
}

// WithRetryDelay sets the initial delay between retries, growing exponentially. 0 retries immediately.
func WithRetryDelay(delay time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.RetryDelay = delay
	}
}

// WithTimeout sets the timeout of each physical request except long-polls.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.Timeout = timeout
	}
}

// WithMembers adds known cluster members used for failover, in addition to the base URL.
func WithMembers(urls ...string) Option {
	return func(cfg *clientConfig) {
		cfg.members = append(cfg.members, urls...)
	}
}

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(user, password string) Option {
	return func(cfg *clientConfig) {
		cfg.user = user
		cfg.password = password
	}
}

// WithHTTPClient sets a custom http.Client for the default transport.
// Its CheckRedirect is replaced, redirects are always handled by the client itself.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = client
	}
}

// WithTransport replaces the default HTTP transport. WithHTTPClient, WithBasicAuth
// and WithConnectionLimit have no effect on a custom transport.
func WithTransport(t Transport) Option {
	return func(cfg *clientConfig) {
		cfg.transport = t
	}
}

// WithLogger sets the logger for request attempts, retries and redirects.
func WithLogger(l log.L) Option {
	return func(cfg *clientConfig) {
		cfg.logger = l
	}
}

// WithMetrics sets prometheus collectors, see NewMetrics.
func WithMetrics(m *Metrics) Option {
	return func(cfg *clientConfig) {
		cfg.metrics = m
	}
}

// New creates a new client for the cluster at baseURL, e.g. http://localhost:7379/v2.
// Empty baseURL means DefaultURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	cfg := &clientConfig{
		Config: Config{
			ConnectionLimit: defaultConnectionLimit,
			FollowRedirects: true,
			Retries:         defaultRetries,
			RetryDelay:      defaultRetryDelay,
		},
		logger: log.NoOp,
	}

	// apply options
	for _, opt := range opts {
		opt(cfg)
	}

	u, err := normalizeURL(baseURL)
	if err != nil {
		return nil, err
	}
	cfg.URL = u

	members := []string{cfg.URL}
	for _, m := range cfg.members {
		mu, err := normalizeURL(m)
		if err != nil {
			return nil, fmt.Errorf("member: %w", err)
		}
		members = append(members, mu)
	}

	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.ConnectionLimit <= 0 {
		return nil, fmt.Errorf("connection limit must be > 0, got %d", cfg.ConnectionLimit)
	}

	transport := cfg.transport
	if transport == nil {
		transport = newHTTPTransport(cfg)
	}

	cluster := newClusterView(members...)
	return &Client{
		cfg:     cfg.Config,
		cluster: cluster,
		exec: &executor{
			transport:       transport,
			cluster:         cluster,
			followRedirects: cfg.FollowRedirects,
			retries:         cfg.Retries,
			retryDelay:      cfg.RetryDelay,
			timeout:         cfg.Timeout,
			logger:          cfg.logger,
			metrics:         cfg.metrics,
		},
		watchers: map[weak.Pointer[Watcher]]struct{}{},
	}, nil
}

// normalizeURL checks the URL is an absolute http(s) endpoint and removes trailing slashes.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("URL %q must be an absolute http(s) endpoint", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// EtcdIndex returns the highest X-Etcd-Index seen in responses so far.
func (c *Client) EtcdIndex() uint64 {
	return c.etcdIndex.Load()
}

// Members returns known cluster member URLs.
func (c *Client) Members() []string {
	members, _ := c.cluster.snapshot()
	return members
}

// Leader returns the member URL currently believed to be the leader.
func (c *Client) Leader() string {
	_, leader := c.cluster.snapshot()
	return leader
}

// Get reads a key. With opts.Wait it blocks until the next change at or under the key.
func (c *Client) Get(ctx context.Context, key string, opts *GetOptions) (*Response, error) {
	if opts == nil {
		opts = &GetOptions{}
	}
	key, err := validateKey(key)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("quorum", strconv.FormatBool(opts.Quorum))
	q.Set("recursive", strconv.FormatBool(opts.Recursive))
	q.Set("sorted", strconv.FormatBool(opts.Sorted))
	q.Set("wait", strconv.FormatBool(opts.Wait))
	if opts.WaitIndex != nil {
		q.Set("wait_index", strconv.FormatUint(*opts.WaitIndex, 10))
	}

	return c.send(ctx, &request{method: http.MethodGet, path: keyPath(key), query: q, longPoll: opts.Wait})
}

// Set creates or updates a key. Any of PrevExist, PrevIndex and PrevValue makes it a compare-and-swap,
// failing with ErrComparisonFailed if the precondition does not hold. A failed PrevIndex or PrevValue
// compare returns *Error with Current set to the node as it is now.
// Retried on transient failures even when unconditional, so a retried set may be applied twice.
func (c *Client) Set(ctx context.Context, key, value string, opts *SetOptions) (*Response, error) {
	if opts == nil {
		opts = &SetOptions{}
	}
	key, err := validateKey(key)
	if err != nil {
		return nil, err
	}
	if opts.TTL != nil && *opts.TTL <= 0 {
		return nil, invalidArgument("ttl must be a positive number of seconds, got %d", *opts.TTL)
	}

	form := url.Values{}
	form.Set("value", value)
	form.Set("append", strconv.FormatBool(opts.Append))
	form.Set("directory", strconv.FormatBool(opts.Dir))
	if opts.PrevExist != nil {
		form.Set("previous_exists", strconv.FormatBool(*opts.PrevExist))
	}
	if opts.PrevIndex != nil {
		form.Set("previous_index", strconv.FormatUint(*opts.PrevIndex, 10))
	}
	if opts.PrevValue != nil {
		form.Set("previous_value", *opts.PrevValue)
	}
	if opts.TTL != nil {
		form.Set("ttl", strconv.FormatInt(*opts.TTL, 10))
	}

	resp, err := c.send(ctx, &request{method: http.MethodPut, path: keyPath(key), form: form})
	if err != nil {
		return nil, c.withCurrent(ctx, key, err)
	}
	return resp, nil
}

// Delete removes a key. PrevIndex and PrevValue make it a compare-and-delete,
// a failed compare reports the current node the same way as Set.
// A non-empty directory is removed only with Recursive.
func (c *Client) Delete(ctx context.Context, key string, opts *DeleteOptions) (*Response, error) {
	if opts == nil {
		opts = &DeleteOptions{}
	}
	key, err := validateKey(key)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("directory", strconv.FormatBool(opts.Dir))
	if opts.PrevIndex != nil {
		q.Set("previous_index", strconv.FormatUint(*opts.PrevIndex, 10))
	}
	if opts.PrevValue != nil {
		q.Set("previous_value", *opts.PrevValue)
	}
	q.Set("recursive", strconv.FormatBool(opts.Recursive))

	resp, err := c.send(ctx, &request{method: http.MethodDelete, path: keyPath(key), query: q})
	if err != nil {
		return nil, c.withCurrent(ctx, key, err)
	}
	return resp, nil
}

// withCurrent sets Current of a failed compare from a quorum read of the key.
// A failed read leaves Current nil, err is returned as is.
func (c *Client) withCurrent(ctx context.Context, key string, err error) error {
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != ErrComparisonFailed {
		return err
	}
	resp, gerr := c.Get(ctx, key, &GetOptions{Quorum: true})
	if gerr != nil {
		c.exec.logger.Logf("[DEBUG] petcd: can't read %s after failed compare: %v", key, gerr)
		return err
	}
	perr.Current = resp.Node
	return err
}

// Mkdir creates a directory, failing with ErrNodeExists if the key is present.
func (c *Client) Mkdir(ctx context.Context, key string, opts *MkdirOptions) (*Response, error) {
	if opts == nil {
		opts = &MkdirOptions{}
	}
	return c.Set(ctx, key, "", &SetOptions{Dir: true, PrevExist: Ptr(false), TTL: opts.TTL})
}

// Ls lists a directory.
func (c *Client) Ls(ctx context.Context, key string, opts *LsOptions) (*Response, error) {
	if opts == nil {
		opts = &LsOptions{}
	}
	return c.Get(ctx, key, &GetOptions{Recursive: opts.Recursive, Sorted: opts.Sorted})
}

// First returns the first child of a listing, nil if the directory is empty.
func (c *Client) First(ctx context.Context, key string, opts *LsOptions) (*Node, error) {
	resp, err := c.Ls(ctx, key, opts)
	if err != nil {
		return nil, err
	}
	if len(resp.Node.Nodes) == 0 {
		return nil, nil //nolint:nilnil // empty directory is not an error
	}
	return resp.Node.Nodes[0], nil
}

// Close cancels all watchers created by the client.
func (c *Client) Close() {
	c.mu.Lock()
	watchers := make([]*Watcher, 0, len(c.watchers))
	for wp := range c.watchers {
		if w := wp.Value(); w != nil {
			watchers = append(watchers, w)
		}
	}
	clear(c.watchers)
	c.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}
}

// send runs the request through the executor and decodes the response.
func (c *Client) send(ctx context.Context, req *request) (*Response, error) {
	raw, err := c.exec.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.decode(raw)
}

// errEmptyBody is reported as ErrProtocol; a long-poll may end with an empty body when the store times it out.
var errEmptyBody = errors.New("empty response body")

// decode converts a non-redirect, non-5xx response into a Response or a typed error.
func (c *Client) decode(raw *RawResponse) (*Response, error) {
	etcdIndex := headerUint(raw.Header, "X-Etcd-Index")
	c.observeIndex(etcdIndex)

	if raw.StatusCode < 200 || raw.StatusCode > 299 {
		var body errorBody
		if err := json.Unmarshal(raw.Body, &body); err != nil || (body.ErrorCode == 0 && body.Message == "") {
			return nil, protocolError(fmt.Errorf("unexpected HTTP %d response: %q", raw.StatusCode, truncate(raw.Body)))
		}
		return nil, body.toError(raw.StatusCode)
	}

	if len(strings.TrimSpace(string(raw.Body))) == 0 {
		return nil, protocolError(errEmptyBody)
	}

	var resp Response
	if err := json.Unmarshal(raw.Body, &resp); err != nil {
		return nil, protocolError(fmt.Errorf("failed to decode response: %w", err))
	}
	if !resp.Action.valid() || resp.Node == nil {
		return nil, protocolError(fmt.Errorf("unrecognized response: %q", truncate(raw.Body)))
	}

	resp.EtcdIndex = etcdIndex
	resp.RaftIndex = headerUint(raw.Header, "X-Raft-Index")
	resp.RaftTerm = headerUint(raw.Header, "X-Raft-Term")
	return &resp, nil
}

// observeIndex keeps the highest etcd index seen.
func (c *Client) observeIndex(idx uint64) {
	for {
		cur := c.etcdIndex.Load()
		if idx <= cur || c.etcdIndex.CompareAndSwap(cur, idx) {
			return
		}
	}
}

func (c *Client) register(w *Watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for wp := range c.watchers {
		if wp.Value() == nil {
			delete(c.watchers, wp)
		}
	}
	c.watchers[weak.Make(w)] = struct{}{}
}

func (c *Client) unregister(w *Watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watchers, weak.Make(w))
}

func headerUint(h http.Header, name string) uint64 {
	v, err := strconv.ParseUint(h.Get(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func truncate(b []byte) string {
	const maxLen = 256
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}
