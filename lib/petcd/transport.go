package petcd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-pkgz/requester"
	"github.com/go-pkgz/requester/middleware"
)

// RawRequest is a single physical request. URL is absolute, Form is sent as
// application/x-www-form-urlencoded body when not nil.
type RawRequest struct {
	Method string
	URL    string
	Query  url.Values
	Form   url.Values
	Header http.Header
}

// RawResponse is the status, headers and full body of a physical response.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs physical requests. Implementations must be safe for concurrent use
// and must not follow redirects on their own.
type Transport interface {
	Do(ctx context.Context, req *RawRequest) (*RawResponse, error)
}

// TransportFunc is an adapter to use a function as Transport.
type TransportFunc func(ctx context.Context, req *RawRequest) (*RawResponse, error)

// Do calls f(ctx, req).
func (f TransportFunc) Do(ctx context.Context, req *RawRequest) (*RawResponse, error) {
	return f(ctx, req)
}

// httpTransport is the default Transport, requests beyond the connection limit wait for a free slot
// until their context ends.
type httpTransport struct {
	requester *requester.Requester
	slots     chan struct{}
}

func newHTTPTransport(cfg *clientConfig) *httpTransport {
	httpClient := http.Client{}
	if cfg.httpClient != nil {
		httpClient = *cfg.httpClient
	}
	// redirects are handled by the executor to keep the cluster view up to date
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	middlewares := []middleware.RoundTripperHandler{
		middleware.Header("User-Agent", "petcd"),
	}
	if cfg.user != "" {
		middlewares = append(middlewares, middleware.BasicAuth(cfg.user, cfg.password))
	}

	return &httpTransport{
		requester: requester.New(httpClient, middlewares...),
		slots:     make(chan struct{}, cfg.ConnectionLimit),
	}
}

// Do sends the request and reads the whole response body. The slot is held until the body is read.
func (t *httpTransport) Do(ctx context.Context, r *RawRequest) (*RawResponse, error) {
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for a free connection: %w", ctx.Err())
	}
	defer func() { <-t.slots }()

	u := r.URL
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	var body io.Reader = http.NoBody
	if r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vv := range r.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if r.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := t.requester.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &RawResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
