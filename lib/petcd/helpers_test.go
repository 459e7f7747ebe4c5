package petcd

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedTransport records requests and answers with fn, n is the 1-based attempt number.
type scriptedTransport struct {
	mu       sync.Mutex
	requests []*RawRequest
	fn       func(n int, req *RawRequest) (*RawResponse, error)
}

func (s *scriptedTransport) Do(ctx context.Context, req *RawRequest) (*RawResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fn(n, req)
}

func (s *scriptedTransport) calls() []*RawRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*RawRequest(nil), s.requests...)
}

// respond builds a response with the given status, body and header pairs.
func respond(status int, body string, headers ...string) *RawResponse {
	h := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		h.Set(headers[i], headers[i+1])
	}
	return &RawResponse{StatusCode: status, Header: h, Body: []byte(body)}
}

const fooBody = `{"action":"set","node":{"key":"/foo","value":"bar","modifiedIndex":7,"createdIndex":7}}`

func newTestClient(t *testing.T, tr Transport, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithTransport(tr), WithRetries(0), WithRetryDelay(0)}, opts...)
	c, err := New("http://localhost:7379/v2", opts...)
	require.NoError(t, err)
	return c
}
