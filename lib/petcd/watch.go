package petcd

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// WatchEvent is an element of Watcher.Events. A non-nil Err is the last element.
type WatchEvent struct {
	Response *Response
	Err      error
}

// Watcher delivers changes at or under a key, one per Next call, in index order.
// Each change is fetched with a long-poll Get starting at the index after the last delivered one,
// so nothing is delivered twice and nothing is skipped while the store keeps the history.
type Watcher struct {
	client    *Client
	key       string
	recursive bool

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex // serializes Next, guards waitIndex and err
	waitIndex *uint64
	err       error

	eventsOnce sync.Once
	events     chan WatchEvent
	closeOnce  sync.Once
	closed     chan struct{}
}

// Watch creates a watcher for the key. Nothing is sent until the first Next.
// The watcher lives until Close, a terminal error, client Close or cancellation of ctx.
// The client doesn't keep an unreferenced watcher alive, it is released by the garbage collector.
func (c *Client) Watch(ctx context.Context, key string, opts *WatchOptions) (*Watcher, error) {
	if opts == nil {
		opts = &WatchOptions{}
	}
	key, err := validateKey(key)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{client: c, key: key, recursive: opts.Recursive, ctx: ctx, cancel: cancel, closed: make(chan struct{})}
	if opts.WaitIndex != nil {
		w.waitIndex = Ptr(*opts.WaitIndex)
	}
	runtime.AddCleanup(w, func(cancel context.CancelFunc) { cancel() }, cancel)
	c.register(w)
	return w, nil
}

// Next blocks until the next change and returns it. After a terminal error or Close every call
// returns the same error. Cancellation of ctx aborts only this call, the watcher can be resumed.
func (w *Watcher) Next(ctx context.Context) (*Response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return nil, w.err
	}
	if w.ctx.Err() != nil {
		w.fail(ErrWatcherClosed)
		return nil, w.err
	}

	for {
		resp, err := w.poll(ctx)
		switch {
		case err == nil:
			w.waitIndex = Ptr(resp.Node.ModifiedIndex + 1)
			return resp, nil
		case w.ctx.Err() != nil:
			w.fail(ErrWatcherClosed)
			return nil, w.err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, errEmptyBody):
			continue // long-poll ended without a change, poll again from the same index
		default:
			w.fail(err)
			return nil, err
		}
	}
}

// poll issues one long-poll bound to both the caller and the watcher lifetime.
func (w *Watcher) poll(ctx context.Context) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	return w.client.Get(ctx, w.key, &GetOptions{Recursive: w.recursive, Wait: true, WaitIndex: w.waitIndex})
}

// WaitIndex returns the index the next long-poll starts from, nil if no event was delivered
// and no start index was given.
func (w *Watcher) WaitIndex() *uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.waitIndex == nil {
		return nil
	}
	return Ptr(*w.waitIndex)
}

// Key returns the watched key.
func (w *Watcher) Key() string {
	return w.key
}

// Events starts delivering changes to the returned channel. The channel is closed after
// a terminal error, which is sent as the last element, or after Close. Don't mix with Next.
// A reader leaving before the channel is closed should Close the watcher.
func (w *Watcher) Events() <-chan WatchEvent {
	w.eventsOnce.Do(func() {
		w.events = make(chan WatchEvent)
		go w.pump()
	})
	return w.events
}

func (w *Watcher) pump() {
	defer close(w.events)
	for {
		resp, err := w.Next(w.ctx)
		if errors.Is(err, ErrWatcherClosed) {
			return
		}
		select {
		case w.events <- WatchEvent{Response: resp, Err: err}:
		case <-w.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// Close cancels the in-flight long-poll, if any, and stops the watcher.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() { close(w.closed) })
	w.cancel()
	w.client.unregister(w)
}

// fail makes err terminal, caller holds w.mu.
func (w *Watcher) fail(err error) {
	w.err = err
	w.cancel()
	w.client.unregister(w)
}
