package petcd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
)

// maxRedirects bounds redirect hops of a single operation to break redirect loops.
const maxRedirects = 5

// request is a template of one logical operation, path is relative to the member URL.
type request struct {
	method   string
	path     string
	query    url.Values
	form     url.Values
	longPoll bool // no per-request timeout, may block until the store has a change
}

// executor turns one logical request into physical attempts against cluster members,
// following redirects and retrying transient failures.
type executor struct {
	transport       Transport
	cluster         *clusterView
	followRedirects bool
	retries         int
	retryDelay      time.Duration
	timeout         time.Duration
	logger          log.L
	metrics         *Metrics
}

// do returns the first response which is neither a redirect nor a transient failure.
// Redirects don't consume the retry budget, transport errors and 5xx do.
func (e *executor) do(ctx context.Context, req *request) (*RawResponse, error) {
	reqID := uuid.NewString()
	member := e.cluster.target()
	bo := e.backoff()

	failures, redirects := 0, 0
	for {
		resp, err := e.attempt(ctx, req, member, reqID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch {
		case err != nil:
			e.metrics.attempt(req.method, outcomeTransient)
			e.logger.Logf("[DEBUG] petcd %s: %s %s on %s failed: %v", reqID, req.method, req.path, member, err)

		case isRedirect(resp.StatusCode):
			e.metrics.attempt(req.method, outcomeRedirect)
			location := resp.Header.Get("Location")
			if !e.followRedirects {
				return nil, &Error{Kind: ErrClusterUnavailable, Err: fmt.Errorf("%w to %q", ErrRedirected, location)}
			}
			if redirects++; redirects > maxRedirects {
				e.metrics.unavailable(req.method)
				return nil, &Error{Kind: ErrClusterUnavailable, Err: fmt.Errorf("more than %d redirects, last to %q", maxRedirects, location)}
			}
			next, lerr := memberFromLocation(location, member)
			if lerr != nil {
				return nil, protocolError(lerr)
			}
			e.logger.Logf("[DEBUG] petcd %s: %s redirected from %s to %s", reqID, req.path, member, next)
			e.cluster.promote(next)
			e.metrics.redirect()
			member = next
			continue

		case resp.StatusCode >= http.StatusInternalServerError:
			e.metrics.attempt(req.method, outcomeTransient)
			err = fmt.Errorf("member %s responded with HTTP %d", member, resp.StatusCode)
			e.logger.Logf("[DEBUG] petcd %s: %s %s: %v", reqID, req.method, req.path, err)

		default:
			e.metrics.attempt(req.method, outcomeOK)
			e.cluster.promote(member)
			return resp, nil
		}

		if failures++; failures > e.retries {
			e.metrics.unavailable(req.method)
			e.logger.Logf("[WARN] petcd %s: %s %s failed after %d attempts: %v", reqID, req.method, req.path, failures, err)
			return nil, &Error{Kind: ErrClusterUnavailable, Err: err}
		}

		member = e.cluster.next(member)
		e.metrics.retry(req.method)
		if err := sleep(ctx, bo.NextBackOff()); err != nil {
			return nil, err
		}
	}
}

// attempt sends one physical request to the member.
func (e *executor) attempt(ctx context.Context, req *request, member, reqID string) (*RawResponse, error) {
	if e.timeout > 0 && !req.longPoll {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	header := http.Header{}
	header.Set("X-Request-ID", reqID)
	raw := &RawRequest{
		Method: req.method,
		URL:    member + req.path,
		Query:  req.query,
		Form:   req.form,
		Header: header,
	}
	return e.transport.Do(ctx, raw)
}

// backoff returns the delay policy between retries of one operation.
func (e *executor) backoff() backoff.BackOff {
	if e.retryDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryDelay
	bo.MaxInterval = 10 * e.retryDelay
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
