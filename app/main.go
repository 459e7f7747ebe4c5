package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/petcd/app/cmd"
	"github.com/umputun/petcd/lib/petcd"
)

// options with all cli commands and flags
type options struct {
	URL         string        `short:"u" long:"url" env:"PETCD_URL" default:"http://localhost:7379/v2" description:"cluster member URL"`
	Members     []string      `short:"m" long:"member" env:"PETCD_MEMBERS" env-delim:"," description:"other cluster member URLs"`
	Retries     int           `long:"retries" env:"PETCD_RETRIES" default:"1" description:"retries of failed requests"`
	RetryDelay  time.Duration `long:"retry-delay" env:"PETCD_RETRY_DELAY" default:"100ms" description:"initial delay between retries"`
	NoRedirects bool          `long:"no-redirects" env:"PETCD_NO_REDIRECTS" description:"don't follow redirects to the leader"`
	ConnLimit   int           `long:"conn-limit" env:"PETCD_CONN_LIMIT" default:"10" description:"max simultaneous requests"`
	Timeout     time.Duration `long:"timeout" env:"PETCD_TIMEOUT" default:"5s" description:"request timeout, not applied to watch"`
	User        string        `long:"user" env:"PETCD_USER" description:"basic auth user"`
	Password    string        `long:"password" env:"PETCD_PASSWORD" description:"basic auth password"`
	Dbg         bool          `long:"dbg" env:"DEBUG" description:"debug mode"`

	Get    cmd.GetCmd    `command:"get" description:"print value of a key"`
	Set    cmd.SetCmd    `command:"set" description:"set value of a key"`
	Mkdir  cmd.MkdirCmd  `command:"mkdir" description:"create a directory"`
	Rm     cmd.RmCmd     `command:"rm" description:"remove a key or a directory"`
	Ls     cmd.LsCmd     `command:"ls" description:"list a directory"`
	Watch  cmd.WatchCmd  `command:"watch" description:"watch a key for changes"`
	Export cmd.ExportCmd `command:"export" description:"print a subtree as json, yaml, toml or ini"`
	Import cmd.ImportCmd `command:"import" description:"set keys from a json, yaml, toml or ini file"`
}

var revision = "unknown"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := run(ctx, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// run parses args and executes the command, errors are printed by the parser.
func run(ctx context.Context, args []string) error {
	var opts options
	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		setupLog(opts.Dbg)
		log.Printf("[DEBUG] petcd %s, options: %+v", revision, redacted(opts))

		client, err := makeClient(opts)
		if err != nil {
			return fmt.Errorf("failed to make client: %w", err)
		}
		defer client.Close()

		if c, ok := command.(cmd.Commander); ok {
			c.Setup(ctx, client)
		}
		return command.Execute(args)
	}

	if _, err := p.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	return nil
}

func makeClient(opts options) (*petcd.Client, error) {
	clientOpts := []petcd.Option{
		petcd.WithMembers(opts.Members...),
		petcd.WithRetries(opts.Retries),
		petcd.WithRetryDelay(opts.RetryDelay),
		petcd.WithFollowRedirects(!opts.NoRedirects),
		petcd.WithConnectionLimit(opts.ConnLimit),
		petcd.WithTimeout(opts.Timeout),
		petcd.WithLogger(log.Default()),
	}
	if opts.User != "" {
		clientOpts = append(clientOpts, petcd.WithBasicAuth(opts.User, opts.Password))
	}
	return petcd.New(opts.URL, clientOpts...)
}

// redacted returns global options safe for logging.
func redacted(opts options) map[string]any {
	res := map[string]any{"url": opts.URL, "members": opts.Members, "retries": opts.Retries,
		"no_redirects": opts.NoRedirects, "conn_limit": opts.ConnLimit, "timeout": opts.Timeout, "user": opts.User}
	if opts.Password != "" {
		res["password"] = "*****"
	}
	return res
}

func setupLog(dbg bool) {
	logOpts := []log.Option{log.Out(os.Stderr), log.Err(os.Stderr), log.Msec, log.LevelBraces}
	if dbg {
		logOpts = append(logOpts, log.Debug, log.CallerFile, log.CallerFunc)
	}
	log.SetupStdLogger(logOpts...)
	log.Setup(logOpts...)
}
