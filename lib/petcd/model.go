package petcd

import "time"

// Action is the kind of operation reported by the store.
type Action string

// actions reported by the store
const (
	ActionGet              Action = "get"
	ActionSet              Action = "set"
	ActionCreate           Action = "create"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionExpire           Action = "expire"
	ActionCompareAndSwap   Action = "compareAndSwap"
	ActionCompareAndDelete Action = "compareAndDelete"
)

func (a Action) valid() bool {
	switch a {
	case ActionGet, ActionSet, ActionCreate, ActionUpdate, ActionDelete, ActionExpire,
		ActionCompareAndSwap, ActionCompareAndDelete:
		return true
	}
	return false
}

// Node is a single node of the key space. Value is nil for directories,
// Nodes is filled for directory listings only.
type Node struct {
	Key           string     `json:"key"`
	Value         *string    `json:"value,omitempty"`
	Dir           bool       `json:"dir,omitempty"`
	Expiration    *time.Time `json:"expiration,omitempty"`
	TTL           *int64     `json:"ttl,omitempty"`
	Nodes         []*Node    `json:"nodes,omitempty"`
	CreatedIndex  uint64     `json:"createdIndex"`
	ModifiedIndex uint64     `json:"modifiedIndex"`
}

// String returns the node value or an empty string for directories.
func (n *Node) String() string {
	if n == nil || n.Value == nil {
		return ""
	}
	return *n.Value
}

// Response is the outcome of an operation. EtcdIndex, RaftIndex and RaftTerm
// come from response headers, zero if the store did not send them.
type Response struct {
	Action    Action `json:"action"`
	Node      *Node  `json:"node"`
	PrevNode  *Node  `json:"prevNode,omitempty"`
	EtcdIndex uint64 `json:"-"`
	RaftIndex uint64 `json:"-"`
	RaftTerm  uint64 `json:"-"`
}

// GetOptions controls Get. Wait makes the call a long-poll for the next change
// at or under the key with index >= WaitIndex (or the next change at all if WaitIndex is nil).
type GetOptions struct {
	Quorum    bool
	Recursive bool
	Sorted    bool
	Wait      bool
	WaitIndex *uint64
}

// SetOptions controls Set. Any of PrevExist, PrevIndex and PrevValue turns the call into compare-and-swap.
// TTL is in seconds and must be positive, nil means no expiration.
type SetOptions struct {
	Append    bool
	Dir       bool
	PrevExist *bool
	PrevIndex *uint64
	PrevValue *string
	TTL       *int64
}

// DeleteOptions controls Delete. PrevIndex and PrevValue turn the call into compare-and-delete.
type DeleteOptions struct {
	Dir       bool
	PrevIndex *uint64
	PrevValue *string
	Recursive bool
}

// MkdirOptions controls Mkdir.
type MkdirOptions struct {
	TTL *int64
}

// LsOptions controls Ls and First.
type LsOptions struct {
	Recursive bool
	Sorted    bool
}

// WatchOptions controls Watch. WaitIndex is the first index to deliver, nil to start from the next change.
type WatchOptions struct {
	Recursive bool
	WaitIndex *uint64
}

// Ptr returns a pointer to v, handy for optional fields of the option structs.
func Ptr[T any](v T) *T {
	return &v
}
