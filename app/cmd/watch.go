package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/umputun/petcd/lib/petcd"
)

// WatchCmd prints changes of a key, one line per change: [action] key value.
type WatchCmd struct {
	Base
	Recursive bool    `short:"r" long:"recursive" description:"watch everything under the key"`
	Index     *uint64 `long:"index" description:"deliver changes starting from this index"`
	Forever   bool    `long:"forever" description:"keep watching until interrupted"`

	Args struct {
		Key string `positional-arg-name:"KEY" required:"true"`
	} `positional-args:"yes"`
}

// Execute runs the command.
func (c *WatchCmd) Execute([]string) error {
	ctx := c.context()
	w, err := c.kv.Watch(ctx, c.Args.Key, &petcd.WatchOptions{Recursive: c.Recursive, WaitIndex: c.Index})
	if err != nil {
		return fmt.Errorf("watch %s: %w", c.Args.Key, err)
	}
	defer w.Close()

	for {
		resp, err := w.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, petcd.ErrWatcherClosed) {
				return nil
			}
			return fmt.Errorf("watch %s: %w", c.Args.Key, err)
		}
		fmt.Printf("[%s] %s %s\n", resp.Action, resp.Node.Key, resp.Node.String())
		if !c.Forever {
			return nil
		}
	}
}
