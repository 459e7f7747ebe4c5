package cmd

import (
	"fmt"

	"github.com/umputun/petcd/app/format"
	"github.com/umputun/petcd/lib/petcd"
)

// ExportCmd prints a subtree as a nested document.
type ExportCmd struct {
	Base
	Format string `short:"f" long:"format" choice:"json" choice:"yaml" choice:"toml" choice:"ini" default:"json" description:"document format"`
	Color  bool   `long:"color" description:"highlight output"`

	Args struct {
		Key string `positional-arg-name:"KEY"`
	} `positional-args:"yes"`
}

// Execute runs the command.
func (c *ExportCmd) Execute([]string) error {
	key := c.Args.Key
	if key == "" {
		key = "/"
	}
	f, err := format.Parse(c.Format)
	if err != nil {
		return err
	}
	resp, err := c.kv.Get(c.context(), key, &petcd.GetOptions{Recursive: true, Sorted: true})
	if err != nil {
		return fmt.Errorf("export %s: %w", key, err)
	}
	data, err := format.Encode(format.Tree(resp.Node), f)
	if err != nil {
		return fmt.Errorf("export %s: %w", key, err)
	}
	return printDocument(data, f, c.Color)
}
