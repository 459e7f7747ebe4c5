package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-pkgz/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/petcd/lib/petcd"
	"github.com/umputun/petcd/lib/petcd/etcdtest"
)

func TestRun(t *testing.T) {
	srv := etcdtest.NewServer()
	defer srv.Close()
	ctx := context.Background()

	exec := func(args ...string) (string, error) {
		var err error
		out := testutils.CaptureStdout(t, func() {
			err = run(ctx, append([]string{"--url", srv.URL, "--retries", "0"}, args...))
		})
		return out, err
	}

	out, err := exec("set", "/app/name", "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo\n", out)

	out, err = exec("get", "/app/name")
	require.NoError(t, err)
	assert.Equal(t, "demo\n", out)

	_, err = exec("set", "--ttl", "60", "--prev-exist", "false", "/app/lock", "owner")
	require.NoError(t, err)
	_, err = exec("set", "--prev-exist", "false", "/app/lock", "owner")
	require.ErrorIs(t, err, petcd.ErrNodeExists)

	_, err = exec("mkdir", "/app/empty")
	require.NoError(t, err)

	out, err = exec("ls", "--sort", "/app")
	require.NoError(t, err)
	assert.Equal(t, "/app/empty/\n/app/lock\n/app/name\n", out)

	out, err = exec("export", "-f", "json", "/app")
	require.NoError(t, err)
	assert.JSONEq(t, `{"empty": {}, "lock": "owner", "name": "demo"}`, out)

	file := filepath.Join(t.TempDir(), "cfg.yml")
	require.NoError(t, os.WriteFile(file, []byte("db:\n  host: localhost\n"), 0o600))
	_, err = exec("import", "--prefix", "/imported", file)
	require.NoError(t, err)
	out, err = exec("get", "/imported/db/host")
	require.NoError(t, err)
	assert.Equal(t, "localhost\n", out)

	_, err = exec("rm", "-r", "/app")
	require.NoError(t, err)
	_, err = exec("get", "/app/name")
	require.ErrorIs(t, err, petcd.ErrKeyNotFound)

	_, err = exec("--help")
	require.NoError(t, err)

	_, err = exec("unknown-command")
	require.Error(t, err)
}

func TestRun_Watch(t *testing.T) {
	srv := etcdtest.NewServer()
	defer srv.Close()

	c, err := petcd.New(srv.URL)
	require.NoError(t, err)
	resp, err := c.Set(context.Background(), "/k", "v1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := testutils.CaptureStdout(t, func() {
		err = run(ctx, []string{"--url", srv.URL, "watch", "--index", "1", "/k"})
	})
	require.NoError(t, err)
	assert.Equal(t, "[set] /k v1\n", out)
	assert.Equal(t, uint64(1), resp.Node.ModifiedIndex)
}

func TestMakeClient(t *testing.T) {
	c, err := makeClient(options{URL: "http://10.0.0.1:2379/v2/", Members: []string{"http://10.0.0.2:2379/v2"},
		Retries: 3, RetryDelay: time.Second, NoRedirects: true, ConnLimit: 5, Timeout: time.Minute,
		User: "user", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, petcd.Config{URL: "http://10.0.0.1:2379/v2", ConnectionLimit: 5, FollowRedirects: false,
		Retries: 3, Timeout: time.Minute, RetryDelay: time.Second}, c.Config())
	assert.Equal(t, []string{"http://10.0.0.1:2379/v2", "http://10.0.0.2:2379/v2"}, c.Members())

	_, err = makeClient(options{URL: "not a url", ConnLimit: 1})
	require.Error(t, err)
}

func TestRedacted(t *testing.T) {
	res := redacted(options{URL: "http://localhost/v2", User: "user", Password: "secret"})
	assert.Equal(t, "*****", res["password"])
	assert.Equal(t, "user", res["user"])

	res = redacted(options{URL: "http://localhost/v2"})
	assert.NotContains(t, res, "password")
}
