package petcd

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// clusterView keeps known member URLs and the member believed to be the leader.
// Updates are last-writer-wins, a stale view costs one more redirect at most.
type clusterView struct {
	mu      sync.Mutex
	members []string
	leader  string
}

func newClusterView(members ...string) *clusterView {
	cv := &clusterView{}
	for _, m := range members {
		cv.add(m)
	}
	if len(cv.members) > 0 {
		cv.leader = cv.members[0]
	}
	return cv
}

// target returns the member to send the first attempt to.
func (cv *clusterView) target() string {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.leader
}

// next returns the member after the given one, round-robin.
func (cv *clusterView) next(after string) string {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	for i, m := range cv.members {
		if m == after {
			return cv.members[(i+1)%len(cv.members)]
		}
	}
	return cv.members[0]
}

// promote records the member as the believed leader, adding it if unknown.
func (cv *clusterView) promote(member string) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	cv.add(member)
	cv.leader = member
}

// snapshot returns a copy of members and the current leader.
func (cv *clusterView) snapshot() (members []string, leader string) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return append([]string(nil), cv.members...), cv.leader
}

// add appends the member if not known yet, caller holds the lock or owns cv exclusively.
func (cv *clusterView) add(member string) {
	for _, m := range cv.members {
		if m == member {
			return
		}
	}
	cv.members = append(cv.members, member)
}

// memberFromLocation derives the member base URL from a redirect location.
// The location may be relative; the base path of the redirected member is kept.
func memberFromLocation(location, from string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("redirect without location")
	}
	base, err := url.Parse(from)
	if err != nil {
		return "", fmt.Errorf("parse member %q: %w", from, err)
	}
	loc, err := base.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", location, err)
	}
	if loc.Scheme != "http" && loc.Scheme != "https" {
		return "", fmt.Errorf("unsupported redirect location %q", location)
	}
	return loc.Scheme + "://" + loc.Host + strings.TrimSuffix(base.Path, "/"), nil
}
