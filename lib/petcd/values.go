package petcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GetValue returns the value of a key. Directories fail with ErrNotAFile.
func (c *Client) GetValue(ctx context.Context, key string) (string, error) {
	resp, err := c.Get(ctx, key, nil)
	if err != nil {
		return "", err
	}
	if resp.Node.Dir {
		return "", &Error{Kind: ErrNotAFile, Message: fmt.Sprintf("%s is a directory", resp.Node.Key)}
	}
	return resp.Node.String(), nil
}

// GetJSON decodes the JSON value of a key into v.
func (c *Client) GetJSON(ctx context.Context, key string, v any) error {
	val, err := c.GetValue(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), v); err != nil {
		return fmt.Errorf("failed to decode value of %s: %w", key, err)
	}
	return nil
}

// GetMap returns all values under a directory, keyed by path relative to the directory.
func (c *Client) GetMap(ctx context.Context, key string) (map[string]string, error) {
	resp, err := c.Get(ctx, key, &GetOptions{Recursive: true})
	if err != nil {
		return nil, err
	}
	res := map[string]string{}
	prefix := strings.TrimSuffix(resp.Node.Key, "/") + "/"
	Walk(resp.Node, func(n *Node) {
		if !n.Dir {
			res[strings.TrimPrefix(n.Key, prefix)] = n.String()
		}
	})
	return res, nil
}

// GetList returns values of the direct children of a directory, sorted by key.
// Subdirectories are skipped.
func (c *Client) GetList(ctx context.Context, key string) ([]string, error) {
	resp, err := c.Get(ctx, key, &GetOptions{Sorted: true})
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(resp.Node.Nodes))
	for _, n := range resp.Node.Nodes {
		if !n.Dir {
			res = append(res, n.String())
		}
	}
	return res, nil
}

// Walk calls fn for the node and all its descendants, depth-first in listing order.
func Walk(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Nodes {
		Walk(child, fn)
	}
}
