package cmd

import (
	"fmt"

	"github.com/umputun/petcd/lib/petcd"
)

// SetCmd sets a value, as compare-and-swap when any of --prev-* is given.
type SetCmd struct {
	Base
	TTL       *int64  `long:"ttl" description:"time to live in seconds"`
	PrevValue *string `long:"prev-value" description:"set only if the current value matches"`
	PrevIndex *uint64 `long:"prev-index" description:"set only if the current modified index matches"`
	PrevExist string  `long:"prev-exist" choice:"true" choice:"false" description:"set only if the key exists (true) or not (false)"`
	Append    bool    `long:"append" description:"create an in-order key under KEY, prints the created key"`

	Args struct {
		Key   string `positional-arg-name:"KEY" required:"true"`
		Value string `positional-arg-name:"VALUE" required:"true"`
	} `positional-args:"yes"`
}

// Execute runs the command.
func (c *SetCmd) Execute([]string) error {
	prevExist, err := optionalBool("prev-exist", c.PrevExist)
	if err != nil {
		return err
	}
	opts := &petcd.SetOptions{Append: c.Append, PrevExist: prevExist, PrevIndex: c.PrevIndex,
		PrevValue: c.PrevValue, TTL: c.TTL}

	resp, err := c.kv.Set(c.context(), c.Args.Key, c.Args.Value, opts)
	if err != nil {
		return fmt.Errorf("set %s: %w", c.Args.Key, err)
	}
	if c.Append {
		fmt.Println(resp.Node.Key)
		return nil
	}
	fmt.Println(resp.Node.String())
	return nil
}

// MkdirCmd creates a directory.
type MkdirCmd struct {
	Base
	TTL *int64 `long:"ttl" description:"time to live in seconds"`

	Args struct {
		Key string `positional-arg-name:"KEY" required:"true"`
	} `positional-args:"yes"`
}

// Execute runs the command.
func (c *MkdirCmd) Execute([]string) error {
	if _, err := c.kv.Mkdir(c.context(), c.Args.Key, &petcd.MkdirOptions{TTL: c.TTL}); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.Args.Key, err)
	}
	return nil
}

// RmCmd removes a key or a directory.
type RmCmd struct {
	Base
	Dir       bool    `long:"dir" description:"remove an empty directory"`
	Recursive bool    `short:"r" long:"recursive" description:"remove a directory with everything under it"`
	PrevValue *string `long:"prev-value" description:"remove only if the current value matches"`
	PrevIndex *uint64 `long:"prev-index" description:"remove only if the current modified index matches"`

	Args struct {
		Key string `positional-arg-name:"KEY" required:"true"`
	} `positional-args:"yes"`
}

// Execute runs the command.
func (c *RmCmd) Execute([]string) error {
	opts := &petcd.DeleteOptions{Dir: c.Dir, Recursive: c.Recursive, PrevValue: c.PrevValue, PrevIndex: c.PrevIndex}
	resp, err := c.kv.Delete(c.context(), c.Args.Key, opts)
	if err != nil {
		return fmt.Errorf("rm %s: %w", c.Args.Key, err)
	}
	if resp.PrevNode != nil && !resp.PrevNode.Dir {
		fmt.Printf("PrevNode.Value: %s\n", resp.PrevNode.String())
	}
	return nil
}
