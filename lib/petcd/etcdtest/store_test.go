package etcdtest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/petcd/lib/petcd"
)

func TestStore_Set(t *testing.T) {
	s := newStore(defaultHistoryLimit, time.Now)

	resp, status, idx, err := s.set(setRequest{key: "/a/b", value: "1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, uint64(2), idx, "parent dir takes its own index")
	assert.Equal(t, petcd.ActionSet, resp.Action)
	assert.Equal(t, uint64(2), resp.Node.ModifiedIndex)

	resp, status, _, err = s.set(setRequest{key: "/a/b", value: "2"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", resp.PrevNode.String())
	assert.Equal(t, uint64(3), resp.Node.CreatedIndex, "plain set replaces the node")

	_, _, _, err = s.set(setRequest{key: "/", value: "x"})
	assert.True(t, isCode(err, codeRootReadOnly))

	_, _, _, err = s.set(setRequest{key: "/a/b/c", value: "x"})
	assert.True(t, isCode(err, codeNotDir))

	_, _, _, err = s.set(setRequest{key: "/a", value: "x"})
	assert.True(t, isCode(err, codeNotFile))
}

func TestStore_Append(t *testing.T) {
	s := newStore(defaultHistoryLimit, time.Now)

	r1, _, _, err := s.set(setRequest{key: "/q", value: "a", append: true})
	require.NoError(t, err)
	r2, _, _, err := s.set(setRequest{key: "/q", value: "b", append: true})
	require.NoError(t, err)
	assert.Equal(t, "/q/00000000000000000002", r1.Node.Key)
	assert.Equal(t, "/q/00000000000000000003", r2.Node.Key)

	resp, _, err := s.get("/q", false, true)
	require.NoError(t, err)
	require.Len(t, resp.Node.Nodes, 2)
	assert.Equal(t, "a", resp.Node.Nodes[0].String())
}

func TestStore_Delete(t *testing.T) {
	s := newStore(defaultHistoryLimit, time.Now)
	_, _, _, err := s.set(setRequest{key: "/d/x", value: "1"})
	require.NoError(t, err)

	_, _, err = s.delete(deleteRequest{key: "/missing"})
	assert.True(t, isCode(err, codeKeyNotFound))

	_, _, err = s.delete(deleteRequest{key: "/d", dir: true})
	assert.True(t, isCode(err, codeDirNotEmpty))

	_, _, err = s.delete(deleteRequest{key: "/d/x", prevValue: petcd.Ptr("2")})
	assert.True(t, isCode(err, codeTestFailed))

	resp, idx, err := s.delete(deleteRequest{key: "/d/x", prevValue: petcd.Ptr("1")})
	require.NoError(t, err)
	assert.Equal(t, petcd.ActionCompareAndDelete, resp.Action)
	assert.Equal(t, idx, resp.Node.ModifiedIndex)
	assert.Nil(t, resp.Node.Value)

	resp, _, err = s.delete(deleteRequest{key: "/d", dir: true})
	require.NoError(t, err)
	assert.True(t, resp.Node.Dir)
}

func TestStore_Expire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStore(defaultHistoryLimit, func() time.Time { return now })

	_, _, _, err := s.set(setRequest{key: "/tmp/session", value: "x", ttl: petcd.Ptr(int64(5))})
	require.NoError(t, err)

	resp, _, err := s.get("/tmp/session", false, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), *resp.Node.TTL)

	now = now.Add(3 * time.Second)
	resp, _, err = s.get("/tmp/session", false, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), *resp.Node.TTL)

	now = now.Add(3 * time.Second)
	_, idx, err := s.get("/tmp/session", false, false)
	assert.True(t, isCode(err, codeKeyNotFound))

	ev, err := s.findEvent("/tmp/session", false, idx)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, petcd.ActionExpire, ev.action)
	assert.Equal(t, "x", ev.prev.String())
}

func TestStore_Wait(t *testing.T) {
	s := newStore(defaultHistoryLimit, time.Now)
	ctx := context.Background()
	done := make(chan struct{})

	_, _, _, err := s.set(setRequest{key: "/w", value: "1"})
	require.NoError(t, err)

	t.Run("from history", func(t *testing.T) {
		resp, _, err := s.wait(ctx, done, "/w", false, petcd.Ptr(uint64(1)))
		require.NoError(t, err)
		assert.Equal(t, "1", resp.Node.String())
	})

	t.Run("wait index zero", func(t *testing.T) {
		resp, _, err := s.wait(ctx, done, "/w", false, petcd.Ptr(uint64(0)))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), resp.Node.ModifiedIndex)
	})

	t.Run("next change", func(t *testing.T) {
		res := make(chan *petcd.Response, 1)
		go func() {
			resp, _, err := s.wait(ctx, done, "/w", false, nil)
			assert.NoError(t, err)
			res <- resp
		}()
		time.Sleep(20 * time.Millisecond)
		_, _, _, err := s.set(setRequest{key: "/other", value: "x"})
		require.NoError(t, err)
		_, _, _, err = s.set(setRequest{key: "/w", value: "2"})
		require.NoError(t, err)

		select {
		case resp := <-res:
			assert.Equal(t, "2", resp.Node.String())
		case <-time.After(5 * time.Second):
			t.Fatal("wait did not return")
		}
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, _, err := s.wait(cctx, done, "/w", false, nil)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("closed", func(t *testing.T) {
		closed := make(chan struct{})
		close(closed)
		_, _, err := s.wait(ctx, closed, "/w", false, nil)
		require.ErrorIs(t, err, errClosed)
	})
}

func TestEventMatches(t *testing.T) {
	tests := []struct {
		name      string
		ev        event
		key       string
		recursive bool
		want      bool
	}{
		{name: "same key", ev: event{action: petcd.ActionSet, node: &petcd.Node{Key: "/a"}}, key: "/a", want: true},
		{name: "child not recursive", ev: event{action: petcd.ActionSet, node: &petcd.Node{Key: "/a/b"}}, key: "/a"},
		{name: "child recursive", ev: event{action: petcd.ActionSet, node: &petcd.Node{Key: "/a/b"}}, key: "/a",
			recursive: true, want: true},
		{name: "sibling prefix", ev: event{action: petcd.ActionSet, node: &petcd.Node{Key: "/ab"}}, key: "/a",
			recursive: true},
		{name: "root recursive", ev: event{action: petcd.ActionSet, node: &petcd.Node{Key: "/x/y"}}, key: "/",
			recursive: true, want: true},
		{name: "parent dir deleted", ev: event{action: petcd.ActionDelete, node: &petcd.Node{Key: "/a", Dir: true}},
			key: "/a/b", want: true},
		{name: "parent dir created", ev: event{action: petcd.ActionCreate, node: &petcd.Node{Key: "/a", Dir: true}},
			key: "/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventMatches(&tt.ev, tt.key, tt.recursive))
		})
	}
}

func TestStore_HistoryLimit(t *testing.T) {
	s := newStore(3, time.Now)
	for range 5 {
		_, _, _, err := s.set(setRequest{key: "/k", value: "v"})
		require.NoError(t, err)
	}
	assert.Len(t, s.history, 3)
	assert.Equal(t, uint64(2), s.cleared)

	_, err := s.findEvent("/k", false, 2)
	assert.True(t, isCode(err, codeEventIndexCleared))
	ev, err := s.findEvent("/k", false, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ev.index)
}
