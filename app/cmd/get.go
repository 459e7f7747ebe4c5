package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/umputun/petcd/app/format"
	"github.com/umputun/petcd/lib/petcd"
)

// GetCmd prints the value of a key, or the whole node with --format json|yaml.
type GetCmd struct {
	Base
	Quorum bool   `long:"quorum" description:"read through the leader"`
	Format string `short:"f" long:"format" choice:"text" choice:"json" choice:"yaml" default:"text" description:"output format"`
	Color  bool   `long:"color" description:"highlight json and yaml output"`

	Args struct {
		Key string `positional-arg-name:"KEY" required:"true"`
	} `positional-args:"yes"`
}

// Execute runs the command.
func (c *GetCmd) Execute([]string) error {
	resp, err := c.kv.Get(c.context(), c.Args.Key, &petcd.GetOptions{Quorum: c.Quorum})
	if err != nil {
		return fmt.Errorf("get %s: %w", c.Args.Key, err)
	}

	if c.Format == "text" {
		if resp.Node.Dir {
			return fmt.Errorf("get %s: %w, use ls", c.Args.Key, petcd.ErrNotAFile)
		}
		fmt.Println(resp.Node.String())
		return nil
	}

	f, err := format.Parse(c.Format)
	if err != nil {
		return err
	}
	data, err := nodeDocument(resp.Node, f)
	if err != nil {
		return err
	}
	return printDocument(data, f, c.Color)
}

// nodeDocument renders node metadata with the wire field names.
func nodeDocument(n *petcd.Node, f format.Format) ([]byte, error) {
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode node: %w", err)
	}
	if f == format.JSON {
		return append(data, '\n'), nil
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to convert node: %w", err)
	}
	if data, err = yaml.Marshal(doc); err != nil {
		return nil, fmt.Errorf("failed to encode node: %w", err)
	}
	return data, nil
}

func printDocument(data []byte, f format.Format, color bool) error {
	if color {
		return format.Highlight(os.Stdout, data, f)
	}
	_, err := os.Stdout.Write(data)
	return err
}
