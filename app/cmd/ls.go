package cmd

import (
	"fmt"

	"github.com/umputun/petcd/lib/petcd"
)

// LsCmd lists a directory, directories are printed with a trailing slash.
type LsCmd struct {
	Base
	Recursive bool `short:"r" long:"recursive" description:"list everything under the directory"`
	Sort      bool `short:"s" long:"sort" description:"sort by key instead of creation order"`

	Args struct {
		Key string `positional-arg-name:"KEY"`
	} `positional-args:"yes"`
}

// Execute runs the command.
func (c *LsCmd) Execute([]string) error {
	key := c.Args.Key
	if key == "" {
		key = "/"
	}
	resp, err := c.kv.Ls(c.context(), key, &petcd.LsOptions{Recursive: c.Recursive, Sorted: c.Sort})
	if err != nil {
		return fmt.Errorf("ls %s: %w", key, err)
	}
	if !resp.Node.Dir {
		fmt.Println(resp.Node.Key)
		return nil
	}
	for _, child := range resp.Node.Nodes {
		petcd.Walk(child, func(n *petcd.Node) {
			if n.Dir {
				fmt.Println(n.Key + "/")
				return
			}
			fmt.Println(n.Key)
		})
	}
	return nil
}
