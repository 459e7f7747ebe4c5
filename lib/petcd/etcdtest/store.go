package etcdtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/umputun/petcd/lib/petcd"
)

// protocol error codes
const (
	codeKeyNotFound       = 100
	codeTestFailed        = 101
	codeNotFile           = 102
	codeNotDir            = 104
	codeNodeExist         = 105
	codeRootReadOnly      = 107
	codeDirNotEmpty       = 108
	codeTTLNaN            = 202
	codeIndexNaN          = 203
	codeInvalidField      = 209
	codeEventIndexCleared = 401
)

var errorMessages = map[int]string{
	codeKeyNotFound:       "Key not found",
	codeTestFailed:        "Compare failed",
	codeNotFile:           "Not a file",
	codeNotDir:            "Not a directory",
	codeNodeExist:         "Key already exists",
	codeRootReadOnly:      "Root is read only",
	codeDirNotEmpty:       "Directory not empty",
	codeTTLNaN:            "The given TTL in POST form is not a number",
	codeIndexNaN:          "The given index in POST form is not a number",
	codeInvalidField:      "Invalid field",
	codeEventIndexCleared: "The event in requested index is outdated and cleared",
}

var errorStatuses = map[int]int{
	codeKeyNotFound:       http.StatusNotFound,
	codeTestFailed:        http.StatusPreconditionFailed,
	codeNotFile:           http.StatusForbidden,
	codeNotDir:            http.StatusForbidden,
	codeNodeExist:         http.StatusPreconditionFailed,
	codeRootReadOnly:      http.StatusForbidden,
	codeDirNotEmpty:       http.StatusForbidden,
	codeTTLNaN:            http.StatusBadRequest,
	codeIndexNaN:          http.StatusBadRequest,
	codeInvalidField:      http.StatusBadRequest,
	codeEventIndexCleared: http.StatusBadRequest,
}

// Error is the protocol error body.
type Error struct {
	Code    int    `json:"errorCode"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
	Index   uint64 `json:"index"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s (%s) [%d]", e.Code, e.Message, e.Cause, e.Index)
}

func (e *Error) status() int {
	if st, ok := errorStatuses[e.Code]; ok {
		return st
	}
	return http.StatusBadRequest
}

// errClosed is returned by a long-poll interrupted by server shutdown.
var errClosed = errors.New("server closed")

// entry is a node of the in-memory tree.
type entry struct {
	key        string
	value      string
	dir        bool
	created    uint64
	modified   uint64
	expiration *time.Time
	children   map[string]*entry
}

// event is a recorded change, kept for long-polls with wait_index.
type event struct {
	index  uint64
	action petcd.Action
	node   *petcd.Node
	prev   *petcd.Node
}

type setRequest struct {
	key       string
	value     string
	append    bool
	dir       bool
	prevExist *bool
	prevIndex *uint64
	prevValue *string
	ttl       *int64
}

type deleteRequest struct {
	key       string
	dir       bool
	recursive bool
	prevIndex *uint64
	prevValue *string
}

// store is an in-memory key space with a bounded event history.
type store struct {
	mu           sync.Mutex
	root         *entry
	index        uint64
	history      []event
	historyLimit int
	cleared      uint64        // highest index dropped from history
	changed      chan struct{} // closed and replaced on every change
	now          func() time.Time
}

func newStore(historyLimit int, now func() time.Time) *store {
	return &store{
		root:         &entry{key: "/", dir: true, children: map[string]*entry{}},
		historyLimit: historyLimit,
		changed:      make(chan struct{}),
		now:          now,
	}
}

// currentIndex returns the index of the last change.
func (s *store) currentIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *store) get(key string, recursive, sorted bool) (*petcd.Response, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()

	e, err := s.lookup(key)
	if err != nil {
		return nil, s.index, err
	}
	return &petcd.Response{Action: petcd.ActionGet, Node: s.render(e, true, recursive, sorted)}, s.index, nil
}

// wait blocks until a change at or under key with index >= waitIndex, or the next change if waitIndex is nil.
func (s *store) wait(ctx context.Context, done <-chan struct{}, key string, recursive bool,
	waitIndex *uint64) (*petcd.Response, uint64, error) {
	s.mu.Lock()
	s.expire()
	since := s.index + 1
	if waitIndex != nil {
		since = *waitIndex
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		ev, err := s.findEvent(key, recursive, since)
		idx, changed := s.index, s.changed
		s.mu.Unlock()

		if err != nil {
			return nil, idx, err
		}
		if ev != nil {
			return &petcd.Response{Action: ev.action, Node: ev.node, PrevNode: ev.prev}, idx, nil
		}

		select {
		case <-changed:
			since = max(since, idx+1)
		case <-ctx.Done():
			return nil, idx, ctx.Err()
		case <-done:
			return nil, idx, errClosed
		}
	}
}

// findEvent returns the first event matching key with index >= since, nil if there is none yet.
func (s *store) findEvent(key string, recursive bool, since uint64) (*event, error) {
	if s.cleared > 0 && since <= s.cleared {
		return nil, s.fail(codeEventIndexCleared, fmt.Sprintf("the requested history has been cleared [%d/%d]", s.cleared+1, since))
	}
	for i := range s.history {
		ev := &s.history[i]
		if ev.index >= since && eventMatches(ev, key, recursive) {
			return ev, nil
		}
	}
	return nil, nil
}

// eventMatches checks if the event concerns the watched key. Removal of a directory
// is reported to watchers of keys under it as well.
func eventMatches(ev *event, key string, recursive bool) bool {
	evKey := ev.node.Key
	switch {
	case evKey == key:
		return true
	case recursive && (key == "/" || strings.HasPrefix(evKey, key+"/")):
		return true
	case ev.node.Dir && (ev.action == petcd.ActionDelete || ev.action == petcd.ActionExpire):
		return strings.HasPrefix(key, evKey+"/")
	}
	return false
}

func (s *store) set(req setRequest) (*petcd.Response, int, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()

	if req.key == "/" {
		return nil, 0, s.index, s.fail(codeRootReadOnly, "/")
	}

	if req.append {
		parent, err := s.ensureDir(req.key)
		if err != nil {
			return nil, 0, s.index, err
		}
		s.index++
		e := s.newEntry(path.Join(req.key, fmt.Sprintf("%020d", s.index)), req)
		parent.children[path.Base(e.key)] = e
		node := s.render(e, false, false, false)
		s.record(petcd.ActionCreate, node, nil)
		return &petcd.Response{Action: petcd.ActionCreate, Node: node}, http.StatusCreated, s.index, nil
	}

	existing, err := s.lookup(req.key)
	if err != nil && !isCode(err, codeKeyNotFound) {
		return nil, 0, s.index, err
	}

	if req.prevExist != nil {
		if *req.prevExist && existing == nil {
			return nil, 0, s.index, s.fail(codeKeyNotFound, req.key)
		}
		if !*req.prevExist && existing != nil {
			return nil, 0, s.index, s.fail(codeNodeExist, req.key)
		}
	}

	cas := req.prevIndex != nil || req.prevValue != nil
	if cas {
		if existing == nil {
			return nil, 0, s.index, s.fail(codeKeyNotFound, req.key)
		}
		if err := s.compare(existing, req.prevIndex, req.prevValue); err != nil {
			return nil, 0, s.index, err
		}
	}
	if existing != nil && existing.dir {
		return nil, 0, s.index, s.fail(codeNotFile, req.key)
	}

	parent, err := s.ensureDir(path.Dir(req.key))
	if err != nil {
		return nil, 0, s.index, err
	}

	action := petcd.ActionSet
	switch {
	case cas:
		action = petcd.ActionCompareAndSwap
	case req.prevExist != nil && *req.prevExist:
		action = petcd.ActionUpdate
	case req.prevExist != nil:
		action = petcd.ActionCreate
	}

	s.index++
	e := s.newEntry(req.key, req)
	var prev *petcd.Node
	status := http.StatusCreated
	if existing != nil {
		prev = s.render(existing, false, false, false)
		status = http.StatusOK
		if action != petcd.ActionSet {
			e.created = existing.created
		}
	}
	parent.children[path.Base(req.key)] = e

	node := s.render(e, false, false, false)
	s.record(action, node, prev)
	return &petcd.Response{Action: action, Node: node, PrevNode: prev}, status, s.index, nil
}

func (s *store) delete(req deleteRequest) (*petcd.Response, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()

	if req.key == "/" {
		return nil, s.index, s.fail(codeRootReadOnly, "/")
	}

	existing, err := s.lookup(req.key)
	if err != nil {
		return nil, s.index, err
	}

	cad := req.prevIndex != nil || req.prevValue != nil
	if existing.dir {
		if cad || (!req.dir && !req.recursive) {
			return nil, s.index, s.fail(codeNotFile, req.key)
		}
		if len(existing.children) > 0 && !req.recursive {
			return nil, s.index, s.fail(codeDirNotEmpty, req.key)
		}
	}
	if cad {
		if err := s.compare(existing, req.prevIndex, req.prevValue); err != nil {
			return nil, s.index, err
		}
	}

	action := petcd.ActionDelete
	if cad {
		action = petcd.ActionCompareAndDelete
	}
	node, prev := s.remove(existing)
	s.record(action, node, prev)
	return &petcd.Response{Action: action, Node: node, PrevNode: prev}, s.index, nil
}

// remove detaches the entry from its parent and bumps the index, caller holds the lock.
func (s *store) remove(e *entry) (node, prev *petcd.Node) {
	parent, _ := s.lookup(path.Dir(e.key))
	delete(parent.children, path.Base(e.key))
	s.index++
	prev = s.render(e, false, false, false)
	node = &petcd.Node{Key: e.key, Dir: e.dir, CreatedIndex: e.created, ModifiedIndex: s.index}
	return node, prev
}

// expire removes entries with passed expiration, each removal is an expire event.
func (s *store) expire() {
	now := s.now()
	var expired []*entry
	var walk func(e *entry)
	walk = func(e *entry) {
		for _, child := range e.children {
			if child.expiration != nil && !child.expiration.After(now) {
				expired = append(expired, child)
				continue
			}
			walk(child)
		}
	}
	walk(s.root)

	sort.Slice(expired, func(i, j int) bool { return expired[i].key < expired[j].key })
	for _, e := range expired {
		node, prev := s.remove(e)
		s.record(petcd.ActionExpire, node, prev)
	}
}

func (s *store) compare(e *entry, prevIndex *uint64, prevValue *string) error {
	if e.dir {
		return s.fail(codeNotFile, e.key)
	}
	var causes []string
	if prevValue != nil && *prevValue != e.value {
		causes = append(causes, fmt.Sprintf("%s != %s", *prevValue, e.value))
	}
	if prevIndex != nil && *prevIndex != e.modified {
		causes = append(causes, fmt.Sprintf("%d != %d", *prevIndex, e.modified))
	}
	if len(causes) > 0 {
		return s.fail(codeTestFailed, "["+strings.Join(causes, "] [")+"]")
	}
	return nil
}

// lookup finds the entry for a normalized key.
func (s *store) lookup(key string) (*entry, error) {
	e := s.root
	for _, seg := range segments(key) {
		if !e.dir {
			return nil, s.fail(codeNotDir, e.key)
		}
		child, ok := e.children[seg]
		if !ok {
			return nil, s.fail(codeKeyNotFound, key)
		}
		e = child
	}
	return e, nil
}

// ensureDir returns the directory for key, creating missing ones along the path.
func (s *store) ensureDir(key string) (*entry, error) {
	e := s.root
	for _, seg := range segments(key) {
		child, ok := e.children[seg]
		if !ok {
			s.index++
			child = &entry{key: path.Join(e.key, seg), dir: true, created: s.index, modified: s.index,
				children: map[string]*entry{}}
			e.children[seg] = child
			s.record(petcd.ActionCreate, s.render(child, false, false, false), nil)
		}
		if !child.dir {
			return nil, s.fail(codeNotDir, child.key)
		}
		e = child
	}
	return e, nil
}

// newEntry makes an entry at the current index, caller bumps the index first.
func (s *store) newEntry(key string, req setRequest) *entry {
	e := &entry{key: key, created: s.index, modified: s.index}
	if req.dir {
		e.dir = true
		e.children = map[string]*entry{}
	} else {
		e.value = req.value
	}
	if req.ttl != nil {
		exp := s.now().Add(time.Duration(*req.ttl) * time.Second)
		e.expiration = &exp
	}
	return e
}

// render converts an entry to the protocol node; children are included for the top directory
// and, with recursive, for all directories below.
func (s *store) render(e *entry, children, recursive, sorted bool) *petcd.Node {
	n := &petcd.Node{Key: e.key, Dir: e.dir, CreatedIndex: e.created, ModifiedIndex: e.modified}
	if !e.dir {
		n.Value = petcd.Ptr(e.value)
	}
	if e.expiration != nil {
		exp := *e.expiration
		n.Expiration = &exp
		n.TTL = petcd.Ptr(int64(math.Ceil(exp.Sub(s.now()).Seconds())))
	}
	if !e.dir || !children {
		return n
	}

	list := make([]*entry, 0, len(e.children))
	for _, child := range e.children {
		list = append(list, child)
	}
	sort.Slice(list, func(i, j int) bool {
		if sorted {
			return list[i].key < list[j].key
		}
		return list[i].created < list[j].created
	})
	for _, child := range list {
		n.Nodes = append(n.Nodes, s.render(child, recursive, recursive, sorted))
	}
	return n
}

// record appends an event, trims the history and wakes up waiters.
func (s *store) record(action petcd.Action, node, prev *petcd.Node) {
	s.history = append(s.history, event{index: s.index, action: action, node: node, prev: prev})
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.cleared = s.history[over-1].index
		s.history = append([]event(nil), s.history[over:]...)
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *store) fail(code int, cause string) *Error {
	return &Error{Code: code, Message: errorMessages[code], Cause: cause, Index: s.index}
}

func isCode(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func segments(key string) []string {
	var res []string
	for _, seg := range strings.Split(key, "/") {
		if seg != "" {
			res = append(res, seg)
		}
	}
	return res
}
