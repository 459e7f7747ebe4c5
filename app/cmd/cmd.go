// Package cmd implements petcd CLI commands. Each command is a go-flags command struct,
// the client and context are injected with Setup before Execute.
package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/umputun/petcd/lib/petcd"
)

// KV is the part of petcd.Client used by commands.
type KV interface {
	Get(ctx context.Context, key string, opts *petcd.GetOptions) (*petcd.Response, error)
	Set(ctx context.Context, key, value string, opts *petcd.SetOptions) (*petcd.Response, error)
	Delete(ctx context.Context, key string, opts *petcd.DeleteOptions) (*petcd.Response, error)
	Mkdir(ctx context.Context, key string, opts *petcd.MkdirOptions) (*petcd.Response, error)
	Ls(ctx context.Context, key string, opts *petcd.LsOptions) (*petcd.Response, error)
	Watch(ctx context.Context, key string, opts *petcd.WatchOptions) (*petcd.Watcher, error)
}

// Commander is a command accepting the client before execution.
type Commander interface {
	Setup(ctx context.Context, kv KV)
	Execute(args []string) error
}

// Base is embedded by all commands.
type Base struct {
	ctx context.Context
	kv  KV
}

// Setup sets the context and the client.
func (b *Base) Setup(ctx context.Context, kv KV) {
	b.ctx = ctx
	b.kv = kv
}

func (b *Base) context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// optionalBool parses "true"/"false" flag values, empty means not set.
func optionalBool(name, v string) (*bool, error) {
	if v == "" {
		return nil, nil //nolint:nilnil // flag not set
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	return &b, nil
}
