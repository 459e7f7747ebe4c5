package etcdtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_Protocol(t *testing.T) {
	srv := NewServer()
	defer srv.Close()

	put := func(key string, form url.Values) *http.Response {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/keys"+key, strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}
	decode := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var res map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		return res
	}

	t.Run("set", func(t *testing.T) {
		resp := put("/foo", url.Values{"value": {"bar"}, "append": {"false"}, "directory": {"false"}})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "1", resp.Header.Get("X-Etcd-Index"))
		assert.Equal(t, "1", resp.Header.Get("X-Raft-Index"))
		assert.Equal(t, "1", resp.Header.Get("X-Raft-Term"))
		body := decode(resp)
		assert.Equal(t, "set", body["action"])
		node := body["node"].(map[string]any)
		assert.Equal(t, "/foo", node["key"])
		assert.Equal(t, "bar", node["value"])
		assert.InDelta(t, 1, node["modifiedIndex"], 0.001)
		assert.Equal(t, uint64(1), srv.Index())
	})

	t.Run("get", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/keys/foo?quorum=false&recursive=false&sorted=false&wait=false")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode(resp)
		assert.Equal(t, "get", body["action"])
	})

	t.Run("error body", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/keys/nope")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		body := decode(resp)
		assert.InDelta(t, 100, body["errorCode"], 0.001)
		assert.Equal(t, "Key not found", body["message"])
		assert.Equal(t, "/nope", body["cause"])
		assert.InDelta(t, 1, body["index"], 0.001)
	})

	t.Run("bad form values", func(t *testing.T) {
		tests := []struct {
			form url.Values
			code float64
		}{
			{form: url.Values{"value": {"x"}, "ttl": {"abc"}}, code: codeTTLNaN},
			{form: url.Values{"value": {"x"}, "ttl": {"0"}}, code: codeInvalidField},
			{form: url.Values{"value": {"x"}, "previous_index": {"-1"}}, code: codeIndexNaN},
			{form: url.Values{"value": {"x"}, "append": {"maybe"}}, code: codeInvalidField},
		}
		for _, tt := range tests {
			resp := put("/foo", tt.form)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tt.form.Encode())
			assert.InDelta(t, tt.code, decode(resp)["errorCode"], 0.001, tt.form.Encode())
		}
	})

	t.Run("delete", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/keys/foo?directory=false&recursive=false&previous_value=bar", http.NoBody)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "compareAndDelete", decode(resp)["action"])
	})
}

func TestServer_LongPoll(t *testing.T) {
	srv := NewServer()

	type result struct {
		status int
		body   string
	}
	res := make(chan result, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/keys/idle?wait=true")
		if !assert.NoError(t, err) {
			res <- result{}
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		res <- result{status: resp.StatusCode, body: string(b)}
	}()

	time.Sleep(50 * time.Millisecond)
	srv.Close()

	select {
	case r := <-res:
		assert.Equal(t, http.StatusOK, r.status)
		assert.Empty(t, r.body, "pending long-poll ends with an empty body on close")
	case <-time.After(5 * time.Second):
		t.Fatal("long-poll not released by Close")
	}
}

func TestServer_Handler(t *testing.T) {
	srv := NewUnstartedServer()
	defer srv.Close()
	assert.Empty(t, srv.URL)

	srv.Start()
	assert.True(t, strings.HasSuffix(srv.URL, "/v2"))

	resp, err := http.Get(strings.TrimSuffix(srv.URL, "/v2") + "/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
