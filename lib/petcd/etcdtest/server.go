// Package etcdtest provides an in-memory fake of the etcd v2 keys API for tests.
// It keeps everything in process memory, has no replication and no persistence.
package etcdtest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/petcd/lib/petcd"
)

// defaultHistoryLimit is the number of events kept for long-polls with wait_index, same as etcd.
const defaultHistoryLimit = 1000

// Server is a fake etcd v2 server listening on a local address.
type Server struct {
	URL string // base URL of the keys API, e.g. http://127.0.0.1:34567/v2

	httpServer *httptest.Server
	store      *store
	done       chan struct{}
}

// Option is a functional option for configuring the server.
type Option func(*config)

type config struct {
	historyLimit int
	now          func() time.Time
}

// WithHistoryLimit sets the number of events kept for wait_index requests.
func WithHistoryLimit(limit int) Option {
	return func(cfg *config) {
		cfg.historyLimit = limit
	}
}

// WithClock sets the time source used for ttl expiration.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}

// NewServer starts a server, caller should Close it when done.
func NewServer(opts ...Option) *Server {
	s := NewUnstartedServer(opts...)
	s.Start()
	return s
}

// NewUnstartedServer creates a server without starting it, see Handler for mounting it elsewhere.
func NewUnstartedServer(opts ...Option) *Server {
	cfg := &config{historyLimit: defaultHistoryLimit, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	s := &Server{store: newStore(cfg.historyLimit, cfg.now), done: make(chan struct{})}
	s.httpServer = httptest.NewUnstartedServer(s.Handler())
	return s
}

// Start starts the listener and sets URL.
func (s *Server) Start() {
	s.httpServer.Start()
	s.URL = s.httpServer.URL + "/v2"
}

// Close interrupts pending long-polls and shuts the server down.
func (s *Server) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.httpServer.Close()
}

// Index returns the index of the last change.
func (s *Server) Index() uint64 {
	return s.store.currentIndex()
}

// Handler returns the keys API handler, routes are under /v2/keys.
func (s *Server) Handler() http.Handler {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(log.Default()), rest.Trace)

	router.Mount("/v2").Route(func(keys *routegroup.Bundle) {
		keys.HandleFunc("GET /keys/{key...}", s.handleGet)
		keys.HandleFunc("PUT /keys/{key...}", s.handlePut)
		keys.HandleFunc("DELETE /keys/{key...}", s.handleDelete)
	})
	return router
}

// GET /v2/keys/{key...}?recursive=&sorted=&wait=&wait_index=
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := petcd.NormalizeKey(r.PathValue("key"))
	q := r.URL.Query()

	recursive, err1 := parseBool(q.Get("recursive"))
	sorted, err2 := parseBool(q.Get("sorted"))
	wait, err3 := parseBool(q.Get("wait"))
	if err := errors.Join(err1, err2, err3); err != nil {
		s.sendError(w, s.store.fail(codeInvalidField, err.Error()), s.store.currentIndex())
		return
	}

	if !wait {
		resp, idx, err := s.store.get(key, recursive, sorted)
		s.send(w, resp, http.StatusOK, idx, err)
		return
	}

	var waitIndex *uint64
	if v := q.Get("wait_index"); v != "" {
		idx, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.sendError(w, s.store.fail(codeIndexNaN, v), s.store.currentIndex())
			return
		}
		waitIndex = &idx
	}

	resp, idx, err := s.store.wait(r.Context(), s.done, key, recursive, waitIndex)
	if errors.Is(err, errClosed) || errors.Is(err, context.Canceled) {
		// long-poll ends without a change, like a timed out etcd watch
		w.WriteHeader(http.StatusOK)
		return
	}
	s.send(w, resp, http.StatusOK, idx, err)
}

// PUT /v2/keys/{key...} with form value, append, directory, previous_exists, previous_index, previous_value, ttl
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.sendError(w, s.store.fail(codeInvalidField, err.Error()), s.store.currentIndex())
		return
	}
	f := r.PostForm

	req := setRequest{key: petcd.NormalizeKey(r.PathValue("key")), value: f.Get("value")}
	var errs []error
	var err error
	if req.append, err = parseBool(f.Get("append")); err != nil {
		errs = append(errs, err)
	}
	if req.dir, err = parseBool(f.Get("directory")); err != nil {
		errs = append(errs, err)
	}
	if f.Has("previous_exists") {
		v, err := strconv.ParseBool(f.Get("previous_exists"))
		if err != nil {
			errs = append(errs, err)
		}
		req.prevExist = &v
	}
	if len(errs) > 0 {
		s.sendError(w, s.store.fail(codeInvalidField, errors.Join(errs...).Error()), s.store.currentIndex())
		return
	}

	if f.Has("previous_index") {
		v, err := strconv.ParseUint(f.Get("previous_index"), 10, 64)
		if err != nil {
			s.sendError(w, s.store.fail(codeIndexNaN, f.Get("previous_index")), s.store.currentIndex())
			return
		}
		req.prevIndex = &v
	}
	if f.Has("previous_value") {
		req.prevValue = petcd.Ptr(f.Get("previous_value"))
	}
	if f.Has("ttl") {
		v, err := strconv.ParseInt(f.Get("ttl"), 10, 64)
		if err != nil {
			s.sendError(w, s.store.fail(codeTTLNaN, f.Get("ttl")), s.store.currentIndex())
			return
		}
		if v <= 0 {
			s.sendError(w, s.store.fail(codeInvalidField, "ttl must be positive"), s.store.currentIndex())
			return
		}
		req.ttl = &v
	}

	resp, status, idx, err := s.store.set(req)
	s.send(w, resp, status, idx, err)
}

// DELETE /v2/keys/{key...}?directory=&recursive=&previous_index=&previous_value=
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := deleteRequest{key: petcd.NormalizeKey(r.PathValue("key"))}

	var err1, err2 error
	req.dir, err1 = parseBool(q.Get("directory"))
	req.recursive, err2 = parseBool(q.Get("recursive"))
	if err := errors.Join(err1, err2); err != nil {
		s.sendError(w, s.store.fail(codeInvalidField, err.Error()), s.store.currentIndex())
		return
	}
	if q.Has("previous_index") {
		v, err := strconv.ParseUint(q.Get("previous_index"), 10, 64)
		if err != nil {
			s.sendError(w, s.store.fail(codeIndexNaN, q.Get("previous_index")), s.store.currentIndex())
			return
		}
		req.prevIndex = &v
	}
	if q.Has("previous_value") {
		req.prevValue = petcd.Ptr(q.Get("previous_value"))
	}

	resp, idx, err := s.store.delete(req)
	s.send(w, resp, http.StatusOK, idx, err)
}

// send writes either the response or the protocol error.
func (s *Server) send(w http.ResponseWriter, resp *petcd.Response, status int, idx uint64, err error) {
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = &Error{Code: 300, Message: "Raft Internal Error", Cause: err.Error(), Index: idx}
			s.writeJSON(w, http.StatusInternalServerError, idx, e)
			return
		}
		s.sendError(w, e, idx)
		return
	}
	s.writeJSON(w, status, idx, resp)
}

func (s *Server) sendError(w http.ResponseWriter, e *Error, idx uint64) {
	log.Printf("[DEBUG] etcdtest: %v", e)
	s.writeJSON(w, e.status(), idx, e)
}

// writeJSON sets index headers and writes the body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, idx uint64, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Etcd-Index", strconv.FormatUint(idx, 10))
	w.Header().Set("X-Raft-Index", strconv.FormatUint(idx, 10))
	w.Header().Set("X-Raft-Term", "1")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] etcdtest: failed to write response: %v", err)
	}
}

// parseBool treats empty as false.
func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
