package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/go-pkgz/lgr"

	"github.com/umputun/petcd/app/format"
)

// ImportCmd sets every leaf of a document as a key under the prefix.
// With --watch the document is imported again on each change until interrupted.
type ImportCmd struct {
	Base
	Prefix string `short:"p" long:"prefix" default:"/" description:"key to import under"`
	Format string `short:"f" long:"format" choice:"json" choice:"yaml" choice:"toml" choice:"ini" description:"document format, by file extension if not set"`
	Watch  bool   `long:"watch" description:"import again when the file changes"`

	Args struct {
		File string `positional-arg-name:"FILE" required:"true"`
	} `positional-args:"yes"`

	debounce time.Duration
}

// Execute runs the command.
func (c *ImportCmd) Execute([]string) error {
	ctx := c.context()
	if _, err := c.load(ctx); err != nil {
		return err
	}
	if !c.Watch {
		return nil
	}
	return c.watch(ctx)
}

// load imports the file and returns the number of keys set.
func (c *ImportCmd) load(ctx context.Context) (int, error) {
	f, err := c.format()
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(c.Args.File) //nolint:gosec // path is from CLI argument
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", c.Args.File, err)
	}
	values, err := format.Decode(data, f)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", c.Args.File, err)
	}

	for _, k := range format.SortedKeys(values) {
		key := path.Join(c.Prefix, k)
		if _, err := c.kv.Set(ctx, key, values[k], nil); err != nil {
			return 0, fmt.Errorf("import %s: %w", key, err)
		}
	}
	log.Printf("[INFO] imported %d keys from %s to %s", len(values), c.Args.File, c.Prefix)
	return len(values), nil
}

func (c *ImportCmd) format() (format.Format, error) {
	if c.Format != "" {
		return format.Parse(c.Format)
	}
	return format.FromPath(c.Args.File)
}

// watch re-imports the file on write, create and rename events until ctx is canceled.
// The directory is watched, not the file, to catch atomic renames done by editors.
func (c *ImportCmd) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir, filename := filepath.Dir(c.Args.File), filepath.Base(c.Args.File)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	log.Printf("[INFO] watching %s for changes", c.Args.File)

	debounceDelay := c.debounce
	if debounceDelay == 0 {
		debounceDelay = 100 * time.Millisecond
	}
	reload := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] stopped watching %s", c.Args.File)
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if _, err := c.load(ctx); err != nil {
				log.Printf("[WARN] failed to import %s: %v", c.Args.File, err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] file watcher error: %v", err)
		}
	}
}
